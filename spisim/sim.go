// Package spisim simulates the G233 SPI controller block and its attached
// W25X flash chips at register level. The simulator implements the driver's
// 32-bit register boundary; interrupt delivery is synchronous, from inside
// the register access that raised the condition, which makes tests
// deterministic while preserving the handler's view of hardware: status and
// data registers change between invocations exactly as they would under a
// real interrupt line.
package spisim

// Register byte offsets, mirroring the hardware map.
const (
	regControl1   = 0x00
	regControl2   = 0x04
	regStatus     = 0x08
	regData       = 0x0C
	regChipSelect = 0x10
)

// Bit assignments, mirroring the hardware.
const (
	cr1Enable = 1 << 6

	cr2ErrorIE = 1 << 5
	cr2RxneIE  = 1 << 6
	cr2TxeIE   = 1 << 7

	srRxNotEmpty = 1 << 0
	srTxEmpty    = 1 << 1
	srUnderrun   = 1 << 3
	srOverrun    = 1 << 6
)

// pumpLimit bounds synchronous interrupt delivery per register access so a
// handler that never clears its condition cannot hang a test.
const pumpLimit = 10_000

// Config parametrizes a Simulator.
type Config struct {
	// Chips attaches a flash model per chip-select line. Nil entries
	// read as an open bus (0xFF).
	Chips [4]*NORFlash
}

// Simulator models the SPI controller registers. The byte shift is
// instantaneous: a data register write exchanges one byte with the selected
// chip and latches the response immediately, so TXE is always set while the
// block is enabled.
type Simulator struct {
	irq     func()
	chips   [4]*NORFlash
	cr1     uint32
	cr2     uint32
	csctrl  uint32
	dr      byte
	drFull  bool
	ovr     bool
	udr     bool
	pumping bool
}

// New returns a simulator with the given chips attached. Wire the interrupt
// line with SetIRQ before enabling interrupts.
func New(cfg Config) *Simulator {
	return &Simulator{chips: cfg.Chips}
}

// SetIRQ connects the controller's interrupt entry point. The function is
// invoked synchronously while an enabled interrupt condition is pending.
func (s *Simulator) SetIRQ(fn func()) { s.irq = fn }

// Chip returns the flash model on line, or nil.
func (s *Simulator) Chip(line int) *NORFlash {
	if line < 0 || line >= len(s.chips) {
		return nil
	}
	return s.chips[line]
}

// ActiveLines returns the chip-select lines whose enable and active bits are
// both set, in line order.
func (s *Simulator) ActiveLines() []int {
	var lines []int
	for i := 0; i < 4; i++ {
		if s.csctrl&(1<<i) != 0 && s.csctrl&(1<<(4+i)) != 0 {
			lines = append(lines, i)
		}
	}
	return lines
}

func (s *Simulator) Read32(offset uint32) uint32 {
	switch offset {
	case regControl1:
		return s.cr1
	case regControl2:
		return s.cr2
	case regStatus:
		return s.statusBits()
	case regData:
		v := uint32(s.dr)
		s.drFull = false
		// Reading DR acknowledges any pending error condition.
		s.ovr = false
		s.udr = false
		return v
	case regChipSelect:
		return s.csctrl
	}
	return 0
}

func (s *Simulator) Write32(offset uint32, value uint32) {
	switch offset {
	case regControl1:
		s.cr1 = value
	case regControl2:
		s.cr2 = value
		s.pump()
	case regData:
		s.writeData(byte(value))
		s.pump()
	case regChipSelect:
		s.writeChipSelect(value)
	}
}

func (s *Simulator) statusBits() uint32 {
	var sr uint32
	if s.cr1&cr1Enable != 0 {
		sr |= srTxEmpty
	}
	if s.drFull {
		sr |= srRxNotEmpty
	}
	if s.ovr {
		sr |= srOverrun
	}
	if s.udr {
		sr |= srUnderrun
	}
	return sr
}

// writeData shifts one byte out to the selected chip. Writing while the
// previous response has not been read loses that response and raises
// overrun.
func (s *Simulator) writeData(b byte) {
	if s.cr1&cr1Enable == 0 {
		return
	}
	if s.drFull {
		s.ovr = true
		return
	}
	s.dr = s.exchange(b)
	s.drFull = true
}

func (s *Simulator) exchange(b byte) byte {
	chip := s.selectedChip()
	if chip == nil {
		return 0xFF
	}
	return chip.io(b)
}

// selectedChip returns the attached chip on the single active line, or nil
// when zero or multiple lines are driven (contention reads as open bus).
func (s *Simulator) selectedChip() *NORFlash {
	lines := s.ActiveLines()
	if len(lines) != 1 {
		return nil
	}
	return s.chips[lines[0]]
}

// writeChipSelect updates CSCTRL and delivers select/deselect edges to the
// chip models. A chip's command session is delimited by those edges.
func (s *Simulator) writeChipSelect(value uint32) {
	prev := s.selectedChip()
	s.csctrl = value
	next := s.selectedChip()
	if prev == next {
		return
	}
	if prev != nil {
		prev.deselect()
	}
	if next != nil {
		next.selectChip()
	}
}

// pending reports whether an enabled interrupt condition is asserted.
func (s *Simulator) pending() bool {
	sr := s.statusBits()
	switch {
	case s.cr2&cr2ErrorIE != 0 && sr&(srOverrun|srUnderrun) != 0:
		return true
	case s.cr2&cr2RxneIE != 0 && sr&srRxNotEmpty != 0:
		return true
	case s.cr2&cr2TxeIE != 0 && sr&srTxEmpty != 0:
		return true
	}
	return false
}

// pump delivers interrupts until no enabled condition remains. Reentrant
// calls from inside the handler's own register accesses are collapsed into
// the outer loop.
func (s *Simulator) pump() {
	if s.pumping || s.irq == nil {
		return
	}
	s.pumping = true
	defer func() { s.pumping = false }()
	for i := 0; i < pumpLimit && s.pending(); i++ {
		s.irq()
	}
}
