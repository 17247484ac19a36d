package g233spi

import (
	"sync/atomic"

	"log/slog"
)

// transferState is the ownership token of the transfer context. Main-line
// code owns the context while Idle; storing Armed is the hand-off edge to
// the interrupt handler, which owns cursors and buffers until it stores a
// terminal state. Complete and Error are terminal: the handler never touches
// the context again after either.
type transferState uint32

const (
	stateIdle transferState = iota
	stateArmed
	stateComplete
	stateError
)

// transferContext carries one in-flight interrupt-driven transaction. It is
// reset at the start of every transfer and must not be reused across
// transactions without rearming.
type transferContext struct {
	state atomic.Uint32
	tx    []byte
	rx    []byte
	// Cursors belong to the interrupt handler while the state is Armed.
	// Main-line code must not read them for decision-making until a
	// terminal state is observed.
	txIndex int
	rxIndex int
	total   int
	// interrupts is a diagnostic count of handler invocations.
	interrupts int
}

func (x *transferContext) loadState() transferState {
	return transferState(x.state.Load())
}

// arm initializes the context and publishes ownership to the interrupt
// handler. Must be called before the register write enabling interrupts;
// the atomic store is the only synchronization edge.
func (x *transferContext) arm(tx, rx []byte) bool {
	if x.loadState() != stateIdle {
		return false
	}
	x.tx = tx
	x.rx = rx
	x.txIndex = 0
	x.rxIndex = 0
	x.total = len(tx)
	x.interrupts = 0
	x.state.Store(uint32(stateArmed))
	return true
}

// disarm returns the context to main-line ownership.
func (x *transferContext) disarm() {
	x.tx = nil
	x.rx = nil
	x.state.Store(uint32(stateIdle))
}

// transferInterrupt arms the transfer context, enables the TXE, RXNE and
// error interrupts in a single CR2 write, and busy-waits on the completion
// token with a bounded spin count. Interrupts are unconditionally disabled
// on exit, whether the transfer completed, errored or timed out. After a
// timeout the hardware is in an indeterminate mid-transfer state; the next
// Transfer rearms from scratch.
func (c *Controller) transferInterrupt(tx, rx []byte) error {
	if !c.xfer.arm(tx, rx) {
		return ErrTransferInFlight
	}
	c.debug("interrupt transfer start", slog.Int("len", len(tx)))
	c.bus.Write32(RegControl2, uint32(cr2AllIE))

	st := stateArmed
	for spins := 0; spins < c.waitSpins; spins++ {
		st = c.xfer.loadState()
		if st == stateComplete || st == stateError {
			break
		}
		spinDelay(waitSpinDelay)
	}

	c.bus.Write32(RegControl2, 0)
	c.stats.Interrupts = c.xfer.interrupts
	c.xfer.disarm()

	switch st {
	case stateError:
		c.logerr("transfer failed on hardware error")
		return ErrHardware
	case stateComplete:
		c.debug("interrupt transfer done", slog.Int("interrupts", c.stats.Interrupts))
		return nil
	default:
		c.warn("transfer timeout", slog.Int("spins", c.waitSpins))
		return ErrTimeout
	}
}
