package spisim

// W25X command bytes understood by the model.
const (
	flashCmdPageProgram = 0x02
	flashCmdReadData    = 0x03
	flashCmdReadStatus  = 0x05
	flashCmdWriteEnable = 0x06
	flashCmdSectorErase = 0x20
	flashCmdReadJEDECID = 0x9F
)

// Flash status register bits.
const (
	statusWIP = 1 << 0 // write in progress
	statusWEL = 1 << 1 // write enable latch
)

const (
	flashPageSize   = 256
	flashSectorSize = 4 * 1024
	// Status reads a fresh erase/program cycle stays busy for.
	defaultBusyReads = 3
)

// NORFlash models one W25X-family chip: a command session delimited by
// chip-select edges, a write-enable latch, AND-semantics page programming
// and a busy window after erase and program that is observed through status
// reads.
type NORFlash struct {
	name      string
	jedec     [3]byte
	mem       []byte
	status    byte
	busyReads int
	busyLeft  int

	// Command session state, valid while selected.
	selected bool
	hasCmd   bool
	cmd      byte
	argc     int
	addr     uint32
	payload  []byte
}

// NewW25X16 returns a blank (all 0xFF) 2 MiB W25X16 model.
func NewW25X16() *NORFlash {
	return newNOR("W25X16", [3]byte{0xEF, 0x30, 0x15}, 2*1024*1024)
}

// NewW25X32 returns a blank (all 0xFF) 4 MiB W25X32 model.
func NewW25X32() *NORFlash {
	return newNOR("W25X32", [3]byte{0xEF, 0x30, 0x16}, 4*1024*1024)
}

func newNOR(name string, jedec [3]byte, capacity int) *NORFlash {
	mem := make([]byte, capacity)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &NORFlash{
		name:      name,
		jedec:     jedec,
		mem:       mem,
		busyReads: defaultBusyReads,
	}
}

// Name returns the modeled part name.
func (f *NORFlash) Name() string { return f.name }

// Capacity returns the modeled capacity in bytes.
func (f *NORFlash) Capacity() int { return len(f.mem) }

// Mem exposes the backing array for test assertions.
func (f *NORFlash) Mem() []byte { return f.mem }

// SetBusyReads tunes how many status reads an erase/program cycle stays
// busy for. Zero makes operations complete instantly.
func (f *NORFlash) SetBusyReads(n int) { f.busyReads = n }

func (f *NORFlash) selectChip() {
	f.selected = true
	f.hasCmd = false
	f.argc = 0
	f.addr = 0
	f.payload = f.payload[:0]
}

// deselect latches the pending command, mirroring real parts which act on
// the chip-select rising edge.
func (f *NORFlash) deselect() {
	if f.selected && f.hasCmd {
		f.commit()
	}
	f.selected = false
	f.hasCmd = false
}

// io exchanges one byte with the chip and returns what it drives on MISO.
func (f *NORFlash) io(b byte) byte {
	if !f.selected {
		return 0xFF
	}
	if !f.hasCmd {
		f.cmd = b
		f.hasCmd = true
		f.argc = 0
		return 0x00
	}
	busy := f.status&statusWIP != 0
	switch f.cmd {
	case flashCmdReadStatus:
		v := f.status
		f.tickBusy()
		return v
	case flashCmdReadJEDECID:
		var v byte
		if f.argc < 3 {
			v = f.jedec[f.argc]
		}
		f.argc++
		return v
	case flashCmdReadData:
		if busy {
			return 0x00
		}
		if f.argc < 3 {
			f.addr = f.addr<<8 | uint32(b)
			f.argc++
			if f.argc == 3 {
				f.addr &= 0xFF_FFFF
			}
			return 0x00
		}
		v := f.mem[int(f.addr)%len(f.mem)]
		f.addr++
		return v
	case flashCmdPageProgram:
		if f.argc < 3 {
			f.addr = f.addr<<8 | uint32(b)
			f.argc++
			return 0x00
		}
		f.payload = append(f.payload, b)
		return 0x00
	default:
		// Address collection for erase; other commands carry no reply.
		if f.argc < 3 {
			f.addr = f.addr<<8 | uint32(b)
			f.argc++
		}
		return 0x00
	}
}

// commit applies the latched command at the chip-select rising edge.
func (f *NORFlash) commit() {
	busy := f.status&statusWIP != 0
	switch f.cmd {
	case flashCmdWriteEnable:
		if !busy {
			f.status |= statusWEL
		}
	case flashCmdSectorErase:
		if busy || f.status&statusWEL == 0 || f.argc != 3 {
			return
		}
		f.eraseSector(f.addr & 0xFF_FFFF)
		f.finishWrite()
	case flashCmdPageProgram:
		if busy || f.status&statusWEL == 0 || f.argc != 3 || len(f.payload) == 0 {
			return
		}
		f.program(f.addr&0xFF_FFFF, f.payload)
		f.finishWrite()
	}
}

func (f *NORFlash) finishWrite() {
	f.status &^= statusWEL
	f.status |= statusWIP
	f.busyLeft = f.busyReads
	if f.busyLeft == 0 {
		f.status &^= statusWIP
	}
}

func (f *NORFlash) tickBusy() {
	if f.status&statusWIP == 0 {
		return
	}
	f.busyLeft--
	if f.busyLeft <= 0 {
		f.status &^= statusWIP
	}
}

func (f *NORFlash) eraseSector(addr uint32) {
	base := int(addr) &^ (flashSectorSize - 1)
	if base >= len(f.mem) {
		return
	}
	end := base + flashSectorSize
	if end > len(f.mem) {
		end = len(f.mem)
	}
	for i := base; i < end; i++ {
		f.mem[i] = 0xFF
	}
}

// program ANDs payload into memory. The address wraps within the 256-byte
// page, as on real silicon.
func (f *NORFlash) program(addr uint32, payload []byte) {
	if int(addr) >= len(f.mem) {
		return
	}
	page := addr &^ (flashPageSize - 1)
	off := addr & (flashPageSize - 1)
	for i, b := range payload {
		idx := int(page) + int((off+uint32(i))&(flashPageSize-1))
		if idx < len(f.mem) {
			f.mem[idx] &= b
		}
	}
}
