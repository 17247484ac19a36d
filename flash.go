package g233spi

import (
	"errors"

	"log/slog"
)

// Transport clocks one full flash transaction: chip-select assertion, settle
// time, the byte exchange and deassertion. Controller.Transport is the
// canonical implementation; PeriphTransport and DriverTransport adapt
// host-side and TinyGo SPI buses.
type Transport interface {
	Tx(tx, rx []byte) error
}

// BusyPolicy decides what happens when the flash stays busy past the erase/
// program retry bound.
type BusyPolicy uint8

const (
	// BusyPolicyWarn logs the exhausted bound and continues. This mirrors
	// the bench behavior the stack was validated against: later integrity
	// checks catch genuine failures.
	BusyPolicyWarn BusyPolicy = iota
	// BusyPolicyFail surfaces ErrFlashBusy instead.
	BusyPolicyFail
)

// W25X geometry.
const (
	PageSize   = 256
	SectorSize = 4 * 1024
)

// Capacities of the two parts populated on the reference board.
const (
	CapacityW25X16 = 2 * 1024 * 1024
	CapacityW25X32 = 4 * 1024 * 1024
)

// JEDECID is the 3-byte manufacturer/device identifier.
type JEDECID uint32

const (
	IDW25X16 JEDECID = 0xEF3015
	IDW25X32 JEDECID = 0xEF3016
)

// Manufacturer returns the JEDEC manufacturer byte (0xEF for Winbond).
func (id JEDECID) Manufacturer() uint8 { return uint8(id >> 16) }

// Device returns the two device bytes.
func (id JEDECID) Device() uint16 { return uint16(id) }

func (id JEDECID) String() string {
	switch id {
	case IDW25X16:
		return "W25X16"
	case IDW25X32:
		return "W25X32"
	default:
		return "jedec " + hex32(uint32(id))
	}
}

// FlashStatus is the flash's status register byte.
type FlashStatus uint8

// Busy reports whether a program or erase cycle is in progress.
func (s FlashStatus) Busy() bool { return s&(1<<0) != 0 }

// WriteEnabled reports whether the write-enable latch is set.
func (s FlashStatus) WriteEnabled() bool { return s&(1<<1) != 0 }

// FlashConfig parametrizes a Flash. The zero value assumes a W25X16 and the
// reference busy-wait bound with the continue-past-timeout policy.
type FlashConfig struct {
	Logger *slog.Logger
	// Capacity in bytes of the attached part; bounds all addresses.
	Capacity uint32
	Policy   BusyPolicy
	// BusyRetries bounds the status poll after erase and program.
	BusyRetries int
}

const defaultBusyRetries = 10_000

// Flash implements the SPI-NOR command protocol over a Transport. Each
// operation is one or more whole transactions; the transport owns chip
// select for their duration.
type Flash struct {
	tr          Transport
	logger      *slog.Logger
	capacity    uint32
	policy      BusyPolicy
	busyRetries int
	// Scratch buffers sized for the largest transaction
	// (command + address + one page) to keep operations allocation-free.
	txbuf [4 + PageSize]byte
	rxbuf [4 + PageSize]byte
}

// NewFlash returns a Flash speaking through tr.
func NewFlash(tr Transport, cfg FlashConfig) *Flash {
	if cfg.Capacity == 0 {
		cfg.Capacity = CapacityW25X16
	}
	if cfg.BusyRetries == 0 {
		cfg.BusyRetries = defaultBusyRetries
	}
	return &Flash{
		tr:          tr,
		logger:      cfg.Logger,
		capacity:    cfg.Capacity,
		policy:      cfg.Policy,
		busyRetries: cfg.BusyRetries,
	}
}

// Capacity returns the configured device capacity in bytes.
func (f *Flash) Capacity() uint32 { return f.capacity }

// ReadStatus reads the flash status register. A pure status read has no
// side effects on the device.
func (f *Flash) ReadStatus() (FlashStatus, error) {
	tx := [2]byte{cmdReadStatus, 0}
	var rx [2]byte
	if err := f.tr.Tx(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return FlashStatus(rx[1]), nil
}

// WriteEnable sets the write-enable latch. Erase and program commands are
// ignored by the device unless the latch is set.
func (f *Flash) WriteEnable() error {
	tx := [1]byte{cmdWriteEnable}
	var rx [1]byte
	return f.tr.Tx(tx[:], rx[:])
}

// ReadJEDECID reads the 3-byte manufacturer/device ID. The first received
// byte lines up with the command slot and is discarded.
func (f *Flash) ReadJEDECID() (JEDECID, error) {
	tx := [4]byte{cmdReadJEDECID, 0, 0, 0}
	var rx [4]byte
	if err := f.tr.Tx(tx[:], rx[:]); err != nil {
		return 0, err
	}
	id := JEDECID(rx[1])<<16 | JEDECID(rx[2])<<8 | JEDECID(rx[3])
	f.debug("jedec id", slog.String("id", id.String()))
	return id, nil
}

// Identify reads the JEDEC ID, validates it against the known parts and
// adopts the matching capacity.
func (f *Flash) Identify() (JEDECID, error) {
	id, err := f.ReadJEDECID()
	if err != nil {
		return id, err
	}
	switch id {
	case IDW25X16:
		f.capacity = CapacityW25X16
	case IDW25X32:
		f.capacity = CapacityW25X32
	default:
		return id, errors.New("unrecognized flash: " + id.String())
	}
	f.info("flash identified",
		slog.String("chip", id.String()),
		slog.Uint64("capacity", uint64(f.capacity)),
	)
	return id, nil
}

// SectorErase erases the 4 KiB sector containing addr. It issues
// write-enable, the erase command and then busy-waits per the configured
// policy. If the erase transfer itself fails the write-enable latch is left
// set on the device: the next write-enable/command pair supersedes it, and a
// cleanup transfer on an errored bus would be no more reliable.
func (f *Flash) SectorErase(addr uint32) error {
	if addr >= f.capacity {
		return ErrAddressRange
	}
	sector := aligndown(addr, uint32(SectorSize))
	f.info("sector erase", slog.Uint64("sector", uint64(sector)))
	if err := f.WriteEnable(); err != nil {
		return err
	}
	var tx, rx [4]byte
	tx[0] = cmdSectorErase
	putAddr(tx[1:], addr)
	if err := f.tr.Tx(tx[:], rx[:]); err != nil {
		return err
	}
	return f.waitBusy()
}

// PageProgram writes data at addr. len(data) must not exceed the 256-byte
// page size; programming across a page boundary wraps inside the device, as
// on real silicon, and is the caller's responsibility to avoid. Only erased
// (0xFF) bytes program cleanly. The write-enable latch caveat of SectorErase
// applies here too.
func (f *Flash) PageProgram(addr uint32, data []byte) error {
	if len(data) > PageSize {
		return ErrPageSize
	}
	if len(data) == 0 {
		return nil
	}
	if addr >= f.capacity || uint32(len(data)) > f.capacity-addr {
		return ErrAddressRange
	}
	f.info("page program",
		slog.Uint64("addr", uint64(addr)),
		slog.Int("len", len(data)),
	)
	if err := f.WriteEnable(); err != nil {
		return err
	}
	n := 4 + len(data)
	tx := f.txbuf[:n]
	tx[0] = cmdPageProgram
	putAddr(tx[1:], addr)
	copy(tx[4:], data)
	if err := f.tr.Tx(tx, f.rxbuf[:n]); err != nil {
		return err
	}
	return f.waitBusy()
}

// ReadData reads len(dst) bytes starting at addr. The four bytes received
// during the command/address phase are discarded.
func (f *Flash) ReadData(addr uint32, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if addr >= f.capacity || uint32(len(dst)) > f.capacity-addr {
		return ErrAddressRange
	}
	n := 4 + len(dst)
	tx, rx := f.txbuf[:], f.rxbuf[:]
	if n > len(tx) {
		tx = make([]byte, n)
		rx = make([]byte, n)
	}
	tx = tx[:n]
	rx = rx[:n]
	for i := range tx {
		tx[i] = 0
	}
	tx[0] = cmdReadData
	putAddr(tx[1:], addr)
	if err := f.tr.Tx(tx, rx); err != nil {
		return err
	}
	copy(dst, rx[4:n])
	return nil
}

// waitBusy polls the status register until the busy bit clears, bounded by
// the configured retry count. Exhausting the bound is resolved per the
// BusyPolicy; a failed status transfer always aborts.
func (f *Flash) waitBusy() error {
	for i := 0; i < f.busyRetries; i++ {
		st, err := f.ReadStatus()
		if err != nil {
			return err
		}
		if !st.Busy() {
			return nil
		}
	}
	if f.policy == BusyPolicyFail {
		return ErrFlashBusy
	}
	f.warn("flash busy past retry bound", slog.Int("retries", f.busyRetries))
	return nil
}

// putAddr encodes a 24-bit big-endian flash address.
func putAddr(b []byte, addr uint32) {
	_ = b[2]
	b[0] = byte(addr >> 16)
	b[1] = byte(addr >> 8)
	b[2] = byte(addr)
}
