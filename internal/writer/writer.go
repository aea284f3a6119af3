// Package writer delivers a completed period's merged histogram to its
// final destination: a local file, one per period, or a TCP peer fed a
// JSON object per period.
//
// Purpose: the histogram aggregator only knows how to merge per-chip
// spectra into one; where that result goes is a separate concern,
// selected at startup by a single destination URI.
package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/psi-detectors/tpx3stream/internal/histogram"
)

// FromURI builds a histogram.Writer from a destination URI of the form
// "file:<base>" or "tcp:<host>:<port>". base may contain strftime
// placeholders (e.g. "%Y%m%d"), expanded against the current time on
// every write so a long-running measurement can roll its output files
// over a day boundary. npoints and troiN describe the fixed spectra
// shape (energy points × time-of-arrival bins) every period shares.
func FromURI(uri string, npoints int, troiN int64) (histogram.Writer, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, fmt.Errorf("writer: %q: missing scheme", uri)
	}

	switch scheme {
	case "file":
		return NewFileWriter(rest, npoints, troiN)
	case "tcp":
		return NewTCPWriter(rest)
	default:
		return nil, fmt.Errorf("writer: %q: unsupported scheme %q", uri, scheme)
	}
}

// FileWriter writes each period to its own "<base>-<period>.xes" file:
// npoints rows (one per energy point), troiN space-separated columns
// (one per time-of-arrival bin) each.
type FileWriter struct {
	basePathPattern string
	npoints         int
	troiN           int64
}

// NewFileWriter holds basePathPattern as a strftime pattern, expanded
// fresh on every Write. A pattern with no placeholders behaves as a
// fixed path.
func NewFileWriter(basePathPattern string, npoints int, troiN int64) (*FileWriter, error) {
	if _, err := strftime.Format(basePathPattern, time.Now()); err != nil {
		return nil, fmt.Errorf("writer: base path %q: %w", basePathPattern, err)
	}
	return &FileWriter{basePathPattern: basePathPattern, npoints: npoints, troiN: troiN}, nil
}

// Write truncates (or creates) "<base>-<period>.xes" and writes the
// spectrum as npoints rows of troiN space-separated integer counts,
// rounding each accumulated weight to the nearest whole count (the
// original's own storage type is a plain int histogram).
func (w *FileWriter) Write(period int64, data *histogram.Data) error {
	base, err := strftime.Format(w.basePathPattern, time.Now())
	if err != nil {
		return fmt.Errorf("writer: base path %q: %w", w.basePathPattern, err)
	}
	path := fmt.Sprintf("%s-%d.xes", base, period)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writer: create %q: %w", path, err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	for ep := 0; ep < w.npoints; ep++ {
		for tp := int64(0); tp < w.troiN; tp++ {
			var v = data.Spectra[tp*int64(w.npoints)+int64(ep)]
			buf.WriteString(strconv.FormatInt(int64(math.Round(v)), 10))
			buf.WriteByte(' ')
		}
		buf.WriteByte('\n')
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("writer: write %q: %w", path, err)
	}
	return nil
}

// TCPWriter sends each period as one JSON object over a persistent
// connection: {"Period":<p>,"TDSpectra":[v0,v1,...]}.
type TCPWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewTCPWriter dials address ("<host>:<port>") and returns a TCPWriter
// over the connection.
func NewTCPWriter(address string) (*TCPWriter, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("writer: dial %q: %w", address, err)
	}
	return &TCPWriter{conn: conn}, nil
}

type tcpPayload struct {
	Period    int64     `json:"Period"`
	TDSpectra []float64 `json:"TDSpectra"`
}

// Write sends one period's spectrum, flushing the underlying socket
// write immediately.
func (w *TCPWriter) Write(period int64, data *histogram.Data) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := json.NewEncoder(w.conn).Encode(tcpPayload{Period: period, TDSpectra: data.Spectra}); err != nil {
		return fmt.Errorf("writer: send period %d: %w", period, err)
	}
	return nil
}

// Close closes the underlying connection.
func (w *TCPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}
