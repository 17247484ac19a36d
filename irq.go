package g233spi

// ServiceInterrupt is the SPI interrupt entry point. The platform must
// invoke it whenever the controller's interrupt line fires; it may run at
// any instruction boundary of main-line code while a transfer is armed.
//
// The order of checks is a correctness requirement: errors are handled
// before any byte movement so that a byte which was never cleanly received
// cannot advance the cursors.
func (c *Controller) ServiceInterrupt() {
	sr := Status(c.bus.Read32(RegStatus))
	cr2 := Control2(c.bus.Read32(RegControl2))
	x := &c.xfer

	if x.loadState() != stateArmed {
		// Spurious: nothing armed. Drain DR so a stale byte cannot
		// stall the next transaction.
		if sr.RxNotEmpty() {
			c.bus.Read32(RegData)
		}
		return
	}
	x.interrupts++

	if cr2.ErrorEnabled() && sr.AnyError() {
		c.logerr("irq error: " + sr.String())
		x.state.Store(uint32(stateError))
		return
	}

	if cr2.RxNotEmptyEnabled() && sr.RxNotEmpty() {
		// Reading DR is what clears RXNE on this hardware; bytes past
		// the transaction length are drained and discarded.
		b := byte(c.bus.Read32(RegData))
		if x.rxIndex < x.total {
			x.rx[x.rxIndex] = b
			x.rxIndex++
		}
	}

	if cr2.TxEmptyEnabled() && sr.TxEmpty() {
		switch {
		case x.txIndex < x.total:
			c.bus.Write32(RegData, uint32(x.tx[x.txIndex]))
			x.txIndex++
		case x.rxIndex < x.total:
			// All bytes sent but reception lags: keep the clock
			// running with dummy bytes.
			c.bus.Write32(RegData, 0x00)
		default:
			// Both cursors done. Disable the data interrupts here so
			// the engine's own disable on exit is a no-op.
			x.state.Store(uint32(stateComplete))
			c.bus.Write32(RegControl2, uint32(cr2&^cr2DataIE))
		}
	}
}
