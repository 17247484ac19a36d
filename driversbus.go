package g233spi

import "tinygo.org/x/drivers"

// DriverTransport drives a flash chip over a TinyGo drivers.SPI bus, for
// targets where the part hangs off a machine.SPI instead of the G233
// controller. CS receives the select pin level: false (low) for the
// duration of the transaction.
type DriverTransport struct {
	Bus drivers.SPI
	CS  func(level bool)
}

func (t DriverTransport) Tx(tx, rx []byte) error {
	if t.CS != nil {
		t.CS(false)
		defer t.CS(true)
	}
	return t.Bus.Tx(tx, rx)
}
