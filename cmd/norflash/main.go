// Command norflash talks the W25X command protocol to a flash chip behind a
// host SPI port (spidev, FTDI bridge). It identifies, dumps, erases and
// programs the part.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"log/slog"

	"github.com/gevico/g233spi"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `norflash - W25X flash operations over a host SPI port.
Usage:
  norflash [flags] id
  norflash [flags] status
  norflash [flags] dump <addr> <len> [outfile]
  norflash [flags] erase <addr>
  norflash [flags] program <addr> <infile>
Flags:
`)
		flag.PrintDefaults()
	}
	dev := flag.String("dev", "", "SPI port name, empty for the first available port.")
	csName := flag.String("cs", "", "GPIO name for a software chip-select line, empty when the port drives CS itself.")
	hz := flag.Int("hz", 1_000_000, "SPI clock frequency.")
	strict := flag.Bool("strict", false, "Fail instead of warning when the chip stays busy past the retry bound.")
	verbose := flag.Bool("v", false, "Debug logging.")
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *dev, *csName, *hz, *strict, flag.Args()); err != nil {
		logger.Error("norflash failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, dev, csName string, hz int, strict bool, args []string) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return err
	}
	defer port.Close()
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return err
	}
	var cs gpio.PinIO
	if csName != "" {
		cs = gpioreg.ByName(csName)
		if cs == nil {
			return fmt.Errorf("no GPIO named %q", csName)
		}
	}

	policy := g233spi.BusyPolicyWarn
	if strict {
		policy = g233spi.BusyPolicyFail
	}
	fl := g233spi.NewFlash(g233spi.PeriphTransport{Conn: conn, CS: cs}, g233spi.FlashConfig{
		Logger: logger,
		Policy: policy,
	})

	switch cmd := args[0]; cmd {
	case "id":
		id, err := fl.Identify()
		if err != nil {
			return err
		}
		fmt.Printf("%s (%#06x, %d bytes)\n", id.String(), uint32(id), fl.Capacity())
		return nil

	case "status":
		st, err := fl.ReadStatus()
		if err != nil {
			return err
		}
		fmt.Printf("status=%#02x busy=%t wel=%t\n", uint8(st), st.Busy(), st.WriteEnabled())
		return nil

	case "dump":
		if len(args) < 3 {
			return fmt.Errorf("usage: dump <addr> <len> [outfile]")
		}
		addr, err := parseNum(args[1])
		if err != nil {
			return err
		}
		n, err := parseNum(args[2])
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if err := fl.ReadData(addr, buf); err != nil {
			return err
		}
		if len(args) > 3 {
			return os.WriteFile(args[3], buf, 0o644)
		}
		hexdump(addr, buf)
		return nil

	case "erase":
		if len(args) < 2 {
			return fmt.Errorf("usage: erase <addr>")
		}
		addr, err := parseNum(args[1])
		if err != nil {
			return err
		}
		return fl.SectorErase(addr)

	case "program":
		if len(args) < 3 {
			return fmt.Errorf("usage: program <addr> <infile>")
		}
		addr, err := parseNum(args[1])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		return program(fl, addr, data)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// program erases the touched sectors then writes data page by page. The
// first and last pages may be partial; sector erases happen once per sector
// before the first page that lands in it.
func program(fl *g233spi.Flash, addr uint32, data []byte) error {
	erased := uint32(0)
	hasErased := false
	for off := uint32(0); off < uint32(len(data)); {
		cur := addr + off
		sector := cur &^ (g233spi.SectorSize - 1)
		if !hasErased || sector != erased {
			if err := fl.SectorErase(sector); err != nil {
				return err
			}
			erased = sector
			hasErased = true
		}
		// Stop at whichever comes first: page end, sector end, data end.
		n := g233spi.PageSize - int(cur%g233spi.PageSize)
		if rem := int(uint32(len(data)) - off); n > rem {
			n = rem
		}
		if err := fl.PageProgram(cur, data[off:off+uint32(n)]); err != nil {
			return err
		}
		off += uint32(n)
	}
	return nil
}

func hexdump(addr uint32, b []byte) {
	for i := 0; i < len(b); i += 16 {
		end := i + 16
		if end > len(b) {
			end = len(b)
		}
		fmt.Printf("%08x  % x\n", addr+uint32(i), b[i:end])
	}
}

// parseNum accepts decimal and 0x-prefixed hex.
func parseNum(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return uint32(v), nil
}
