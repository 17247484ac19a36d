package g233spi

import "unsafe"

// Bus is the 32-bit register access boundary between the driver and the
// platform. Implementations must perform the access with 32-bit width and
// must not cache reads: the status and data registers change under hardware
// control.
type Bus interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// OpenMMIO returns a Bus performing raw memory-mapped accesses relative to
// base, which is the SPI controller's physical base address as mapped into
// the address space (0x10018000 on the stock G233 memory map). Only for use
// on targets where the registers are identity-mapped and uncached.
func OpenMMIO(base uintptr) Bus {
	return &mmioBus{base: base}
}

type mmioBus struct {
	base uintptr
}

func (b *mmioBus) Read32(offset uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(b.base + uintptr(offset)))
}

func (b *mmioBus) Write32(offset uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(b.base + uintptr(offset))) = value
}
