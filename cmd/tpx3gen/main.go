// Command tpx3gen generates a synthetic raw TPX3 stream for exercising
// the ingest pipeline end-to-end without real detector hardware,
// grounded in the teacher's cmd/gen_tone synthetic-signal generator
// used to exercise its demodulator without a real radio.
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/psi-detectors/tpx3stream/internal/bits"
	"github.com/spf13/pflag"
)

func main() {
	var chips = pflag.IntP("chips", "n", 1, "Number of chips to multiplex.")
	var periods = pflag.IntP("periods", "p", 4, "Number of TDC periods to emit per chip.")
	var interval = pflag.Int64P("interval", "i", 640000, "Clock ticks per period (1.5625ns units; 640000 = 1ms).")
	var hitsPerPeriod = pflag.IntP("hits", "k", 10, "Pixel hits to emit per period per chip, spread uniformly.")
	var withPacketID = pflag.BoolP("packet-id", "P", true, "Emit the packet-id framing word (server protocol >= 3.2.0).")
	var dialAddr = pflag.StringP("connect", "c", "", "Dial this TCP address and write the stream there instead of stdout.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - synthetic Timepix3 raw-stream generator.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: tpx3gen [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	var out io.Writer = os.Stdout
	if *dialAddr != "" {
		conn, err := net.Dial("tcp", *dialAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tpx3gen: dial %q: %v\n", *dialAddr, err)
			os.Exit(1)
		}
		defer conn.Close()
		out = conn
	}

	var w = bufio.NewWriter(out)
	if err := generate(w, *chips, *periods, *interval, *hitsPerPeriod, *withPacketID); err != nil {
		fmt.Fprintf(os.Stderr, "tpx3gen: %v\n", err)
		os.Exit(1)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "tpx3gen: flush: %v\n", err)
		os.Exit(1)
	}
}

// generate writes numChips chunks, one per chip, each containing
// numPeriods+1 TDC pulses spaced interval ticks apart (numPeriods
// periods plus a closing TDC) with hitsPerPeriod pixel hits uniformly
// spread within every inter-TDC gap.
func generate(w io.Writer, numChips int, numPeriods int, interval int64, hitsPerPeriod int, withPacketID bool) error {
	var packetID uint64
	for chip := 0; chip < numChips; chip++ {
		var words []uint64
		for period := 0; period < numPeriods; period++ {
			var t = int64(period) * interval
			words = append(words, encodeTDC(t))
			for h := 0; h < hitsPerPeriod; h++ {
				var frac = int64(h+1) * interval / int64(hitsPerPeriod+1)
				words = append(words, encodeHit(t+frac, 100))
			}
		}
		words = append(words, encodeTDC(int64(numPeriods)*interval))

		if err := writeChunk(w, uint(chip), packetID, words, withPacketID); err != nil {
			return fmt.Errorf("chip %d: %w", chip, err)
		}
		packetID++
	}
	return nil
}

func writeChunk(w io.Writer, chip uint, packetID uint64, words []uint64, withPacketID bool) error {
	var chunkSizeBytes = uint(len(words) * 8)
	if err := writeWord(w, uint64(chunkSizeBytes)<<48|uint64(chip)<<32|uint64(bits.ChunkHeaderTag)); err != nil {
		return err
	}
	if withPacketID {
		if err := writeWord(w, uint64(bits.BytePacketID)<<56|(packetID&0xFFFFFFFFFFFF)); err != nil {
			return err
		}
	}
	for _, word := range words {
		if err := writeWord(w, word); err != nil {
			return err
		}
	}
	return nil
}

func writeWord(w io.Writer, word uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], word)
	_, err := w.Write(b[:])
	return err
}

// encodeTDC builds a raw TDC word whose decoded clock equals tdcClock
// (tdcClock must be even), via a fractional field of 1 so the
// fractional correction term is zero.
func encodeTDC(tdcClock int64) uint64 {
	var coarse = uint64(tdcClock) >> 1
	const fract = uint64(1)
	return uint64(bits.NibbleTDC)<<60 | coarse<<9 | fract<<5
}

// encodeHit builds a raw pixel-hit word at pixel (0,0) whose decoded TOA
// clock equals toaClock and TOT clock equals totClock.
func encodeHit(toaClock int64, totClock uint64) uint64 {
	var ftoa = uint64((16 - ((toaClock % 16) + 16) % 16) % 16)
	var combined = (uint64(toaClock) + ftoa) / 16
	var toa = combined & 0x3FFF
	var coarse = combined >> 14
	return uint64(bits.NibblePixelHit)<<60 | toa<<30 | totClock<<20 | ftoa<<16 | coarse
}
