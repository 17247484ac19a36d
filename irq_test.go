package g233spi

import (
	"errors"
	"testing"
)

// scriptBus is a hand-driven register file for stepping the interrupt
// handler through exact hardware states.
type scriptBus struct {
	sr  uint32
	cr2 uint32
	dr  uint32

	drReads   int
	drWrites  []byte
	cr2Writes []uint32
}

func (b *scriptBus) Read32(offset uint32) uint32 {
	switch offset {
	case RegStatus:
		return b.sr
	case RegControl2:
		return b.cr2
	case RegData:
		b.drReads++
		return b.dr
	}
	return 0
}

func (b *scriptBus) Write32(offset uint32, value uint32) {
	switch offset {
	case RegData:
		b.drWrites = append(b.drWrites, byte(value))
	case RegControl2:
		b.cr2 = value
		b.cr2Writes = append(b.cr2Writes, value)
	}
}

func armedController(t *testing.T, bus *scriptBus, n int) (*Controller, []byte, []byte) {
	t.Helper()
	c := NewController(bus, Config{Mode: ModeInterrupt})
	tx := make([]byte, n)
	rx := make([]byte, n)
	for i := range tx {
		tx[i] = byte(0x10 + i)
	}
	if !c.xfer.arm(tx, rx) {
		t.Fatal("arm failed on idle context")
	}
	return c, tx, rx
}

func TestServiceInterruptErrorBeforeData(t *testing.T) {
	// Overrun and a waiting byte assert together. The handler must latch
	// the error without touching DR or the cursors: that byte was never
	// cleanly received.
	bus := &scriptBus{
		sr:  uint32(srOverrun | srRxNotEmpty | srTxEmpty),
		cr2: uint32(cr2AllIE),
		dr:  0xAA,
	}
	c, _, _ := armedController(t, bus, 4)
	c.ServiceInterrupt()

	if st := c.xfer.loadState(); st != stateError {
		t.Fatalf("state: got %d, want error", st)
	}
	if bus.drReads != 0 {
		t.Errorf("handler read DR %d times on the error path", bus.drReads)
	}
	if len(bus.drWrites) != 0 {
		t.Errorf("handler wrote DR on the error path: % x", bus.drWrites)
	}
	if c.xfer.rxIndex != 0 || c.xfer.txIndex != 0 {
		t.Errorf("cursors moved on the error path: rx=%d tx=%d", c.xfer.rxIndex, c.xfer.txIndex)
	}
}

func TestServiceInterruptSpuriousDrain(t *testing.T) {
	bus := &scriptBus{sr: uint32(srRxNotEmpty), cr2: uint32(cr2AllIE)}
	c := NewController(bus, Config{Mode: ModeInterrupt})

	c.ServiceInterrupt()
	if bus.drReads != 1 {
		t.Errorf("stale byte not drained: %d DR reads", bus.drReads)
	}

	bus.sr = 0
	c.ServiceInterrupt()
	if bus.drReads != 1 {
		t.Errorf("DR read with nothing pending: %d DR reads", bus.drReads)
	}
}

func TestServiceInterruptPumpsTransfer(t *testing.T) {
	bus := &scriptBus{cr2: uint32(cr2AllIE)}
	c, tx, rx := armedController(t, bus, 2)

	// TXE alone: prime the first byte.
	bus.sr = uint32(srTxEmpty)
	c.ServiceInterrupt()
	// Response to byte 0 arrives, byte 1 goes out.
	bus.sr = uint32(srTxEmpty | srRxNotEmpty)
	bus.dr = 0x51
	c.ServiceInterrupt()
	// Response to byte 1 arrives; both cursors finish.
	bus.dr = 0x52
	c.ServiceInterrupt()

	if st := c.xfer.loadState(); st != stateComplete {
		t.Fatalf("state: got %d, want complete", st)
	}
	if string(bus.drWrites) != string(tx) {
		t.Errorf("bytes sent: got % x, want % x", bus.drWrites, tx)
	}
	if rx[0] != 0x51 || rx[1] != 0x52 {
		t.Errorf("bytes received: got % x, want 51 52", rx)
	}
	// Completion disables the data interrupts but leaves the error
	// interrupt armed.
	last := Control2(bus.cr2Writes[len(bus.cr2Writes)-1])
	if last.TxEmptyEnabled() || last.RxNotEmptyEnabled() {
		t.Errorf("data interrupts still enabled after completion: %#x", uint32(last))
	}
	if !last.ErrorEnabled() {
		t.Errorf("error interrupt disabled by the handler: %#x", uint32(last))
	}
}

func TestTransferRejectsReentry(t *testing.T) {
	bus := &scriptBus{cr2: uint32(cr2AllIE)}
	c, _, _ := armedController(t, bus, 2)

	err := c.Transfer(make([]byte, 1), make([]byte, 1))
	if !errors.Is(err, ErrTransferInFlight) {
		t.Fatalf("got %v, want ErrTransferInFlight", err)
	}
	c.xfer.disarm()
}

func TestAlignHelpers(t *testing.T) {
	if got := alignup(uint32(4097), 4096); got != 8192 {
		t.Errorf("alignup: got %d", got)
	}
	if got := alignup(uint32(8192), 4096); got != 8192 {
		t.Errorf("alignup exact: got %d", got)
	}
	if got := aligndown(uint32(4097), 4096); got != 4096 {
		t.Errorf("aligndown: got %d", got)
	}
}
