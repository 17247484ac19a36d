package g233spi

import (
	"context"
	"errors"

	"log/slog"
)

// Mode selects how the transfer engine moves bytes.
type Mode uint8

const (
	// ModePolling busy-waits on the status register for every byte.
	ModePolling Mode = iota
	// ModeInterrupt arms the transfer context and lets ServiceInterrupt
	// pump bytes; main-line code only polls the completion token.
	ModeInterrupt
)

func (m Mode) String() string {
	switch m {
	case ModePolling:
		return "polling"
	case ModeInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Config parametrizes a Controller. The zero value selects polling mode
// with the reference retry bounds.
type Config struct {
	Logger *slog.Logger
	Mode   Mode
	// BaudDiv is the CR1 BR[2:0] divisor field. SPI clock is
	// fPCLK/2^(BaudDiv+1). The default of 3 yields fPCLK/16.
	BaudDiv uint8
	// SettleCycles is the busy-loop iteration count run after chip-select
	// assert and before deassert to satisfy the flash's setup/hold timing.
	// Tune per target; it is a timing knob, not a synchronization primitive.
	SettleCycles int
	// ByteRetries bounds the per-byte TXE/RXNE busy-wait in polling mode.
	// Exhausting it is a soft warning; the transfer proceeds.
	ByteRetries int
	// WaitSpins bounds the completion wait in interrupt mode. Exhausting
	// it fails the transfer with ErrTimeout.
	WaitSpins int
}

const (
	defaultBaudDiv      = 3
	defaultSettleCycles = 1000
	defaultByteRetries  = 1000
	defaultWaitSpins    = 100_000
	// Inner delay iterations per completion-wait spin.
	waitSpinDelay = 100
)

// Controller drives the G233 SPI master block: master configuration, the
// chip-select arbiter and the byte transfer engine. A Controller owns the
// register block exclusively; at most one transfer is in flight at a time.
type Controller struct {
	bus          Bus
	logger       *slog.Logger
	traceenabled bool
	mode         Mode
	baudDiv      uint8
	settle       int
	byteRetries  int
	waitSpins    int
	selected     ChipSelect
	csActive     bool
	xfer         transferContext
	stats        TransferStats
}

// TransferStats holds diagnostics of the most recent transfer.
type TransferStats struct {
	// Interrupts taken while the transfer was armed. Zero in polling mode.
	Interrupts int
	// SoftTimeouts counts polling-mode byte waits that exhausted their
	// retry bound and proceeded anyway.
	SoftTimeouts int
}

// NewController returns a Controller over bus. Call Init before use.
func NewController(bus Bus, cfg Config) *Controller {
	if cfg.BaudDiv == 0 {
		cfg.BaudDiv = defaultBaudDiv
	}
	if cfg.SettleCycles == 0 {
		cfg.SettleCycles = defaultSettleCycles
	}
	if cfg.ByteRetries == 0 {
		cfg.ByteRetries = defaultByteRetries
	}
	if cfg.WaitSpins == 0 {
		cfg.WaitSpins = defaultWaitSpins
	}
	c := &Controller{
		bus:         bus,
		logger:      cfg.Logger,
		mode:        cfg.Mode,
		baudDiv:     cfg.BaudDiv & 0x7,
		settle:      cfg.SettleCycles,
		byteRetries: cfg.ByteRetries,
		waitSpins:   cfg.WaitSpins,
	}
	c.traceenabled = c.logger != nil && c.logger.Handler().Enabled(context.Background(), levelTrace)
	return c
}

// Init resets the block and configures it as an 8-bit MSB-first master with
// software slave management. Interrupts start disabled.
func (c *Controller) Init() error {
	c.bus.Write32(RegControl1, 0)
	c.bus.Write32(RegControl2, 0)
	cr1 := uint32(cr1MasterSelect) |
		uint32(c.baudDiv)<<cr1BaudShift |
		uint32(cr1SlaveMgmt) |
		uint32(cr1InternalSS) |
		uint32(cr1Enable)
	c.bus.Write32(RegControl1, cr1)
	got := c.bus.Read32(RegControl1)
	if got != cr1 {
		return errjoin(ErrHardware, errors.New("cr1 readback failed: wrote "+hex32(cr1)+" got "+hex32(got)))
	}
	c.info("spi init",
		slog.String("mode", c.mode.String()),
		slog.Uint64("cr1", uint64(cr1)),
	)
	return nil
}

// Select enables and activates one chip-select line. It fails with
// ErrChipSelectBusy while any line is active: callers must Deselect between
// transactions, even to the same device.
func (c *Controller) Select(line ChipSelect) error {
	if !line.IsValid() {
		return ErrBadChipSelect
	}
	if c.csActive {
		return ErrChipSelectBusy
	}
	c.bus.Write32(RegChipSelect, line.ctrlBits())
	c.selected = line
	c.csActive = true
	c.settleDelay()
	return nil
}

// Deselect clears all chip-select state. It is a no-op when no line is
// active.
func (c *Controller) Deselect() {
	if !c.csActive {
		return
	}
	c.settleDelay()
	c.bus.Write32(RegChipSelect, 0)
	c.csActive = false
}

// Selected returns the active line, if any.
func (c *Controller) Selected() (ChipSelect, bool) {
	return c.selected, c.csActive
}

// Transfer clocks len(tx) bytes out while capturing the same number of
// received bytes into rx. The target device's chip-select must already be
// asserted via Select; Transfer never touches chip-select state, on success
// or on failure. On ErrHardware or ErrTimeout the rx contents are
// unspecified.
func (c *Controller) Transfer(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return ErrLengthMismatch
	}
	c.stats = TransferStats{}
	if len(tx) == 0 {
		return nil
	}
	if c.mode == ModeInterrupt {
		return c.transferInterrupt(tx, rx)
	}
	return c.transferPolling(tx, rx)
}

// LastTransferStats returns diagnostics of the most recent Transfer call.
func (c *Controller) LastTransferStats() TransferStats { return c.stats }

// transferPolling moves one byte at a time, busy-waiting on TXE then RXNE
// with a bounded retry count. A wait bound exhausted is a soft warning and
// the transfer proceeds; an overrun/underrun flag is fatal.
func (c *Controller) transferPolling(tx, rx []byte) error {
	for i := range tx {
		if !c.waitStatus(srTxEmpty) {
			c.stats.SoftTimeouts++
			c.warn("txe wait timeout", slog.Int("byte", i))
		}
		c.bus.Write32(RegData, uint32(tx[i]))
		if !c.waitStatus(srRxNotEmpty) {
			c.stats.SoftTimeouts++
			c.warn("rxne wait timeout", slog.Int("byte", i))
		}
		sr := Status(c.bus.Read32(RegStatus))
		if sr.AnyError() {
			c.logerr("polling transfer error",
				slog.Int("byte", i),
				slog.String("sr", sr.String()),
			)
			return ErrHardware
		}
		rx[i] = byte(c.bus.Read32(RegData))
		c.trace("xfer byte",
			slog.Int("i", i),
			slog.Uint64("tx", uint64(tx[i])),
			slog.Uint64("rx", uint64(rx[i])),
		)
	}
	return nil
}

// waitStatus busy-waits until bit is set in SR, bounded by the configured
// per-byte retry count. Reports whether the bit was observed.
func (c *Controller) waitStatus(bit Status) bool {
	for i := 0; i < c.byteRetries; i++ {
		if Status(c.bus.Read32(RegStatus))&bit != 0 {
			return true
		}
	}
	return false
}

// settleSink defeats dead-loop elimination of the settle delay.
var settleSink uint32

func (c *Controller) settleDelay() {
	for i := 0; i < c.settle; i++ {
		settleSink++
	}
}

func spinDelay(n int) {
	for i := 0; i < n; i++ {
		settleSink++
	}
}

// Transport returns a flash transport that wraps every transaction of the
// protocol layer in a Select/Deselect pair on line.
func (c *Controller) Transport(line ChipSelect) Transport {
	return busTransport{c: c, line: line}
}

type busTransport struct {
	c    *Controller
	line ChipSelect
}

func (t busTransport) Tx(tx, rx []byte) error {
	if err := t.c.Select(t.line); err != nil {
		return err
	}
	defer t.c.Deselect()
	return t.c.Transfer(tx, rx)
}
