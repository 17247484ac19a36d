package g233spi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gevico/g233spi"
	"github.com/gevico/g233spi/spisim"
)

func newFlashRig(t *testing.T, mode g233spi.Mode, line g233spi.ChipSelect) (*g233spi.Flash, *spisim.Simulator) {
	t.Helper()
	ctrl, sim := newRig(t, mode)
	fl := g233spi.NewFlash(ctrl.Transport(line), g233spi.FlashConfig{})
	return fl, sim
}

func TestIdentify(t *testing.T) {
	for _, tc := range []struct {
		line     g233spi.ChipSelect
		id       g233spi.JEDECID
		capacity uint32
	}{
		{g233spi.CS0, g233spi.IDW25X16, g233spi.CapacityW25X16},
		{g233spi.CS1, g233spi.IDW25X32, g233spi.CapacityW25X32},
	} {
		fl, _ := newFlashRig(t, g233spi.ModeInterrupt, tc.line)
		id, err := fl.Identify()
		if err != nil {
			t.Fatalf("%s: identify: %v", tc.line.String(), err)
		}
		if id != tc.id {
			t.Errorf("%s: id: got %s, want %s", tc.line.String(), id.String(), tc.id.String())
		}
		if fl.Capacity() != tc.capacity {
			t.Errorf("%s: capacity: got %d, want %d", tc.line.String(), fl.Capacity(), tc.capacity)
		}
	}
}

func TestIdentifyUnknownChip(t *testing.T) {
	// Nothing attached to CS2: the ID reads as all ones.
	fl, _ := newFlashRig(t, g233spi.ModePolling, g233spi.CS2)
	if _, err := fl.Identify(); err == nil {
		t.Fatal("identify on an open line succeeded")
	}
}

func TestWriteEnableLatch(t *testing.T) {
	fl, _ := newFlashRig(t, g233spi.ModePolling, g233spi.CS0)
	st, err := fl.ReadStatus()
	if err != nil {
		t.Fatal("status:", err)
	}
	if st.WriteEnabled() || st.Busy() {
		t.Fatalf("fresh chip status %#02x, want idle with WEL clear", uint8(st))
	}
	if err := fl.WriteEnable(); err != nil {
		t.Fatal("write enable:", err)
	}
	st, err = fl.ReadStatus()
	if err != nil {
		t.Fatal("status:", err)
	}
	if !st.WriteEnabled() {
		t.Error("WEL clear after write enable")
	}
}

func TestEraseProgramRead(t *testing.T) {
	for _, mode := range []g233spi.Mode{g233spi.ModePolling, g233spi.ModeInterrupt} {
		t.Run(mode.String(), func(t *testing.T) {
			fl, sim := newFlashRig(t, mode, g233spi.CS0)
			const addr = 3 * g233spi.SectorSize
			pattern := make([]byte, g233spi.PageSize)
			for i := range pattern {
				pattern[i] = byte(i*7 + 1)
			}
			if err := fl.SectorErase(addr); err != nil {
				t.Fatal("erase:", err)
			}
			if err := fl.PageProgram(addr, pattern); err != nil {
				t.Fatal("program:", err)
			}
			got := make([]byte, len(pattern))
			if err := fl.ReadData(addr, got); err != nil {
				t.Fatal("read:", err)
			}
			if !bytes.Equal(got, pattern) {
				t.Error("readback does not match programmed pattern")
			}
			// Bytes beyond the page stay erased.
			if b := sim.Chip(0).Mem()[addr+g233spi.PageSize]; b != 0xFF {
				t.Errorf("byte past page: got %#02x, want 0xFF", b)
			}
			st, err := fl.ReadStatus()
			if err != nil {
				t.Fatal("status:", err)
			}
			if st.Busy() || st.WriteEnabled() {
				t.Errorf("status after program %#02x, want idle with WEL clear", uint8(st))
			}
		})
	}
}

func TestEraseRestoresBlank(t *testing.T) {
	fl, sim := newFlashRig(t, g233spi.ModePolling, g233spi.CS0)
	const addr = g233spi.SectorSize
	if err := fl.SectorErase(addr); err != nil {
		t.Fatal("erase:", err)
	}
	if err := fl.PageProgram(addr+40, []byte{0x00, 0x12, 0x34}); err != nil {
		t.Fatal("program:", err)
	}
	if err := fl.SectorErase(addr + 17); err != nil {
		t.Fatal("re-erase:", err)
	}
	mem := sim.Chip(0).Mem()
	for i := addr; i < addr+2*g233spi.PageSize; i++ {
		if mem[i] != 0xFF {
			t.Fatalf("byte %#x not erased: %#02x", i, mem[i])
		}
	}
}

func TestDualChipIsolation(t *testing.T) {
	ctrl, sim := newRig(t, g233spi.ModeInterrupt)
	fl0 := g233spi.NewFlash(ctrl.Transport(g233spi.CS0), g233spi.FlashConfig{})
	fl1 := g233spi.NewFlash(ctrl.Transport(g233spi.CS1), g233spi.FlashConfig{
		Capacity: g233spi.CapacityW25X32,
	})
	const addr = 5 * g233spi.SectorSize
	a := bytes.Repeat([]byte{0xA5}, 64)
	b := bytes.Repeat([]byte{0x3C}, 64)

	// Interleave operations across the two lines.
	if err := fl0.SectorErase(addr); err != nil {
		t.Fatal("erase cs0:", err)
	}
	if err := fl1.SectorErase(addr); err != nil {
		t.Fatal("erase cs1:", err)
	}
	if err := fl0.PageProgram(addr, a); err != nil {
		t.Fatal("program cs0:", err)
	}
	if err := fl1.PageProgram(addr, b); err != nil {
		t.Fatal("program cs1:", err)
	}

	got := make([]byte, 64)
	if err := fl0.ReadData(addr, got); err != nil {
		t.Fatal("read cs0:", err)
	}
	if !bytes.Equal(got, a) {
		t.Error("cs0 readback does not match its pattern")
	}
	if err := fl1.ReadData(addr, got); err != nil {
		t.Fatal("read cs1:", err)
	}
	if !bytes.Equal(got, b) {
		t.Error("cs1 readback does not match its pattern")
	}
	if lines := sim.ActiveLines(); len(lines) != 0 {
		t.Errorf("lines left active: %v", lines)
	}
}

func TestPageProgramBounds(t *testing.T) {
	fl, _ := newFlashRig(t, g233spi.ModePolling, g233spi.CS0)
	if err := fl.PageProgram(0, make([]byte, g233spi.PageSize+1)); !errors.Is(err, g233spi.ErrPageSize) {
		t.Errorf("oversize payload: got %v, want ErrPageSize", err)
	}
	if err := fl.PageProgram(g233spi.CapacityW25X16, []byte{1}); !errors.Is(err, g233spi.ErrAddressRange) {
		t.Errorf("address at capacity: got %v, want ErrAddressRange", err)
	}
	if err := fl.PageProgram(g233spi.CapacityW25X16-1, []byte{1, 2}); !errors.Is(err, g233spi.ErrAddressRange) {
		t.Errorf("payload past capacity: got %v, want ErrAddressRange", err)
	}
	if err := fl.PageProgram(0, nil); err != nil {
		t.Errorf("empty payload: got %v, want nil", err)
	}
}

func TestReadDataBounds(t *testing.T) {
	fl, _ := newFlashRig(t, g233spi.ModePolling, g233spi.CS0)
	if err := fl.ReadData(g233spi.CapacityW25X16, make([]byte, 1)); !errors.Is(err, g233spi.ErrAddressRange) {
		t.Errorf("address at capacity: got %v, want ErrAddressRange", err)
	}
	if err := fl.ReadData(0, nil); err != nil {
		t.Errorf("empty read: got %v, want nil", err)
	}
	// A read longer than the protocol scratch buffer still works.
	big := make([]byte, 2*g233spi.PageSize)
	if err := fl.ReadData(0, big); err != nil {
		t.Fatal("long read:", err)
	}
	for i, b := range big {
		if b != 0xFF {
			t.Fatalf("blank chip byte %d: got %#02x, want 0xFF", i, b)
		}
	}
}

func TestSectorEraseBounds(t *testing.T) {
	fl, _ := newFlashRig(t, g233spi.ModePolling, g233spi.CS0)
	if err := fl.SectorErase(g233spi.CapacityW25X16); !errors.Is(err, g233spi.ErrAddressRange) {
		t.Errorf("got %v, want ErrAddressRange", err)
	}
}

func TestBusyPolicy(t *testing.T) {
	ctrl, sim := newRig(t, g233spi.ModePolling)
	sim.Chip(0).SetBusyReads(50)

	strict := g233spi.NewFlash(ctrl.Transport(g233spi.CS0), g233spi.FlashConfig{
		Policy:      g233spi.BusyPolicyFail,
		BusyRetries: 5,
	})
	if err := strict.SectorErase(0); !errors.Is(err, g233spi.ErrFlashBusy) {
		t.Fatalf("strict policy: got %v, want ErrFlashBusy", err)
	}

	// The default policy logs the exhausted bound and reports success;
	// callers are expected to verify integrity separately.
	lenient := g233spi.NewFlash(ctrl.Transport(g233spi.CS0), g233spi.FlashConfig{
		BusyRetries: 5,
	})
	if err := lenient.SectorErase(g233spi.SectorSize); err != nil {
		t.Fatalf("lenient policy: %v", err)
	}
}
