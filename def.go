// Package g233spi implements the SPI master controller of the Gevico G233
// SoC and the SPI-NOR flash command protocol layered on top of it. The
// controller block exposes five 32-bit registers; transfers are driven either
// by polling the status register or by the controller's interrupt line, in
// which case the platform must route the SPI interrupt to
// (*Controller).ServiceInterrupt.
package g233spi

import (
	"errors"

	"golang.org/x/exp/constraints"
)

// Register byte offsets from the SPI controller base address.
// All registers are accessed with 32-bit width.
const (
	RegControl1   = 0x00 // CR1: master select, baud rate, slave management, enable.
	RegControl2   = 0x04 // CR2: interrupt enables.
	RegStatus     = 0x08 // SR: transfer and error flags.
	RegData       = 0x0C // DR: read received byte, write byte to transmit.
	RegChipSelect = 0x10 // CSCTRL: per-line enable and active bits.
)

// Control register 1 bits.
const (
	cr1ClockPhase    = 1 << 0
	cr1ClockPolarity = 1 << 1
	cr1MasterSelect  = 1 << 2
	cr1BaudShift     = 3 // BR[2:0], divisor = fPCLK/2^(BR+1).
	cr1Enable        = 1 << 6
	cr1LSBFirst      = 1 << 7
	cr1InternalSS    = 1 << 8
	cr1SlaveMgmt     = 1 << 9
)

// Control2 is the CR2 register value: interrupt enable bits.
type Control2 uint32

const (
	cr2ErrorIE   Control2 = 1 << 5
	cr2RxneIE    Control2 = 1 << 6
	cr2TxeIE     Control2 = 1 << 7
	cr2AllIE              = cr2ErrorIE | cr2RxneIE | cr2TxeIE
	cr2DataIE             = cr2RxneIE | cr2TxeIE
)

// TxEmptyEnabled reports whether the transmit-empty interrupt is enabled.
func (c Control2) TxEmptyEnabled() bool { return c&cr2TxeIE != 0 }

// RxNotEmptyEnabled reports whether the receive-not-empty interrupt is enabled.
func (c Control2) RxNotEmptyEnabled() bool { return c&cr2RxneIE != 0 }

// ErrorEnabled reports whether the error interrupt is enabled.
func (c Control2) ErrorEnabled() bool { return c&cr2ErrorIE != 0 }

// Status is the SR register value.
type Status uint32

const (
	srRxNotEmpty Status = 1 << 0
	srTxEmpty    Status = 1 << 1
	srUnderrun   Status = 1 << 3
	srOverrun    Status = 1 << 6
	srBusy       Status = 1 << 7
)

// RxNotEmpty reports whether a received byte is waiting in DR.
func (s Status) RxNotEmpty() bool { return s&srRxNotEmpty != 0 }

// TxEmpty reports whether the transmit buffer can accept a byte.
func (s Status) TxEmpty() bool { return s&srTxEmpty != 0 }

// Underrun reports whether transmit data was not supplied in time.
func (s Status) Underrun() bool { return s&srUnderrun != 0 }

// Overrun reports whether received data was lost before being read.
func (s Status) Overrun() bool { return s&srOverrun != 0 }

// Busy reports whether a transfer is in progress on the wire.
func (s Status) Busy() bool { return s&srBusy != 0 }

// AnyError reports whether an unrecoverable bus error flag is set.
func (s Status) AnyError() bool { return s&(srUnderrun|srOverrun) != 0 }

func (s Status) String() (str string) {
	if s == 0 {
		return "no status"
	}
	if s.RxNotEmpty() {
		str += "rxne "
	}
	if s.TxEmpty() {
		str += "txe "
	}
	if s.Underrun() {
		str += "underrun "
	}
	if s.Overrun() {
		str += "overrun "
	}
	if s.Busy() {
		str += "busy "
	}
	return str
}

// ChipSelect identifies one of the controller's chip-select lines.
// Each line owns an enable bit (bit line) and an active bit (bit 4+line)
// in CSCTRL.
type ChipSelect uint8

const (
	CS0 ChipSelect = iota
	CS1
	CS2
	CS3

	numChipSelects = 4
)

// IsValid reports whether the line exists on this controller.
func (cs ChipSelect) IsValid() bool { return cs < numChipSelects }

// ctrlBits returns the CSCTRL value that enables and activates the line.
func (cs ChipSelect) ctrlBits() uint32 {
	return 1<<cs | 1<<(4+cs)
}

func (cs ChipSelect) String() string {
	switch cs {
	case CS0:
		return "cs0"
	case CS1:
		return "cs1"
	case CS2:
		return "cs2"
	case CS3:
		return "cs3"
	default:
		return "unknown"
	}
}

// SPI-NOR command set understood by the W25X family.
const (
	cmdPageProgram = 0x02
	cmdReadData    = 0x03
	cmdReadStatus  = 0x05
	cmdWriteEnable = 0x06
	cmdSectorErase = 0x20
	cmdReadJEDECID = 0x9F
)

// Errors surfaced by the transfer engine and protocol layer.
var (
	ErrTimeout          = errors.New("transfer wait bound exceeded")
	ErrHardware         = errors.New("overrun or underrun reported by hardware")
	ErrTransferInFlight = errors.New("transfer context already armed")
	ErrChipSelectBusy   = errors.New("another chip-select line is active")
	ErrBadChipSelect    = errors.New("no such chip-select line")
	ErrLengthMismatch   = errors.New("tx and rx buffer lengths differ")
	ErrPageSize         = errors.New("payload exceeds flash page size")
	ErrAddressRange     = errors.New("address beyond flash capacity")
	ErrFlashBusy        = errors.New("flash busy past retry bound")
)

// errjoin returns an error wrapping all non-nil errs, or nil.
func errjoin(errs ...error) error {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	e := &joinError{errs: make([]error, 0, n)}
	for _, err := range errs {
		if err != nil {
			e.errs = append(e.errs, err)
		}
	}
	return e
}

type joinError struct {
	errs []error
}

func (e *joinError) Error() string {
	var b []byte
	for i, err := range e.errs {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, err.Error()...)
	}
	return string(b)
}

func (e *joinError) Unwrap() []error { return e.errs }

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// aligndown rounds `val` down to nearest multiple of `align`. `align` must be a power of 2.
func aligndown[T constraints.Unsigned](val, align T) T {
	return val &^ (align - 1)
}
