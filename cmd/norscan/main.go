// Command norscan processes binary Saleae digital capture files of SPI-NOR
// bus traffic and prints the decoded flash command transactions.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"log/slog"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/exp/constraints"
)

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "norscan - Process binary Saleae digital data files corresponding to SPI-NOR flash transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: SPI MOSI data.")
	miso := flag.String("f-miso", "", "Input filename: SPI MISO data. Defaults to the MOSI file (half-duplex capture).")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of decoded flash command transactions.")
	maxData := flag.Int("max-data", 32, "Truncate printed payloads to this many bytes. 0 prints everything.")
	flag.Parse()
	if *miso == "" {
		*miso = *mosi
	}
	start := time.Now()
	dec := decoder{maxData: *maxData}
	if err := dec.run(*mosi, *miso, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

type decoder struct {
	maxData int
}

func (dec *decoder) run(fmosi, fmiso, fenable, fclk, output string) error {
	txs, err := dec.processSpiFiles(fmosi, fmiso, fclk, fenable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	for i, tx := range txs {
		cmd := dec.decode(tx)
		_, err = fmt.Fprintf(fp, "t=%f #%-4d %s\n", tx.StartTime(), i, cmd.String())
		if err != nil {
			return err
		}
	}
	slog.Info("decoded transactions", slog.Int("count", len(txs)))
	return nil
}

func (dec *decoder) processSpiFiles(fmosi, fmiso, fclk, fenable string) ([]analyzers.TxSPI, error) {
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso := mosi
	if fmiso != fmosi {
		miso, err = opendigital(fmiso)
		if err != nil {
			return nil, err
		}
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, miso, mosi)
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

// norCmd is one decoded flash transaction.
type norCmd struct {
	Name    string
	Op      byte
	Addr    uint32
	HasAddr bool
	// Data is the interesting payload: programmed bytes for page-program,
	// returned bytes for reads, the status byte for status reads.
	Data []byte
}

func (c *norCmd) String() string {
	s := fmt.Sprintf("op=%#02x %-12s", c.Op, c.Name)
	if c.HasAddr {
		s += fmt.Sprintf(" addr=%#06x", c.Addr)
	}
	if len(c.Data) > 0 {
		s += fmt.Sprintf(" len=%-4d data=%#x", len(c.Data), c.Data)
	}
	return s
}

// decode classifies one chip-select-delimited transaction by its command
// byte. MOSI carries command, address and programmed data; MISO carries
// status, ID and read data.
func (dec *decoder) decode(tx analyzers.TxSPI) (cmd norCmd) {
	out, in := tx.SDO, tx.SDI
	if len(out) == 0 {
		cmd.Name = "empty"
		return cmd
	}
	cmd.Op = out[0]
	switch cmd.Op {
	case 0x06:
		cmd.Name = "write-enable"
	case 0x05:
		cmd.Name = "read-status"
		if len(in) > 1 {
			cmd.Data = in[1:2]
		}
	case 0x9F:
		cmd.Name = "read-jedec-id"
		cmd.Data = dec.trim(slice(in, 1, 4))
	case 0x20:
		cmd.Name = "sector-erase"
		cmd.Addr, cmd.HasAddr = addr24(out)
	case 0x02:
		cmd.Name = "page-program"
		cmd.Addr, cmd.HasAddr = addr24(out)
		cmd.Data = dec.trim(slice(out, 4, len(out)))
	case 0x03:
		cmd.Name = "read-data"
		cmd.Addr, cmd.HasAddr = addr24(out)
		cmd.Data = dec.trim(slice(in, 4, len(in)))
	default:
		cmd.Name = "unknown"
		cmd.Data = dec.trim(slice(out, 1, len(out)))
	}
	return cmd
}

func (dec *decoder) trim(b []byte) []byte {
	if dec.maxData <= 0 {
		return b
	}
	return b[:min(len(b), dec.maxData)]
}

func addr24(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

func slice(b []byte, lo, hi int) []byte {
	lo = min(lo, len(b))
	hi = min(hi, len(b))
	return b[lo:hi]
}

func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
