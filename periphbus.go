package g233spi

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// PeriphTransport drives a flash chip behind a periph.io SPI port, for host
// machines talking to the part through spidev or an FTDI bridge. CS is
// optional: leave it nil when the port's own chip-select is wired to the
// chip, set it when a spare GPIO acts as the select line (active low).
type PeriphTransport struct {
	Conn spi.Conn
	CS   gpio.PinIO
}

func (t PeriphTransport) Tx(tx, rx []byte) (err error) {
	if t.CS != nil {
		if err = t.CS.Out(gpio.Low); err != nil {
			return err
		}
		defer func() {
			if csErr := t.CS.Out(gpio.High); csErr != nil && err == nil {
				err = csErr
			}
		}()
	}
	err = t.Conn.Tx(tx, rx)
	return err
}
