// Package streamreader reads the detector's raw TCP stream, framed as
// repeating chunk-header + (optional packet-id) + payload records, and
// distributes payload bytes into per-chip buffer pools for the
// analyser goroutines to consume in order.
package streamreader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/psi-detectors/tpx3stream/internal/bits"
	"github.com/psi-detectors/tpx3stream/internal/control"
	"github.com/psi-detectors/tpx3stream/internal/iobuf"
)

// ErrStopped is returned by Run when the shared Signal was already
// stopped (typically by an analyser's fatal error) before the stream
// itself reached end of file or a protocol error.
var ErrStopped = errors.New("streamreader: stopped")

// Reader drains one TCP connection into per-chip buffer pools.
type Reader struct {
	conn         io.Reader
	pools        []*iobuf.Pool // indexed by chip
	withPacketID bool          // packet-id framing, server protocol >= 3.2.0
	sig          *control.Signal
}

// New creates a Reader over conn. pools[chip] receives that chip's
// payload bytes; withPacketID selects whether the 8-byte packet-id
// record follows each chunk header. sig is polled between chunks so a
// fatal error on any chip's analyser stops the reader even while the
// detector connection itself stays open; sig may be nil in tests that
// don't need cross-component shutdown.
func New(conn io.Reader, pools []*iobuf.Pool, withPacketID bool, sig *control.Signal) *Reader {
	return &Reader{conn: conn, pools: pools, withPacketID: withPacketID, sig: sig}
}

// Run reads chunks until end of stream, a protocol error, or a read
// error, calling Finish on every chip pool before returning. A clean
// end of stream (EOF before any bytes of a new chunk header) returns
// nil; anything else returns a descriptive error.
func (r *Reader) Run() error {
	err := r.runLoop()
	for _, p := range r.pools {
		if p != nil {
			p.Finish()
		}
	}
	return err
}

func (r *Reader) runLoop() error {
	var headerBuf, idBuf [8]byte

	for {
		if r.sig != nil && r.sig.Stopped() {
			return ErrStopped
		}

		if _, err := r.readFull(headerBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("streamreader: read chunk header: %w", err)
		}

		var header = binary.LittleEndian.Uint64(headerBuf[:])
		if !bits.IsChunkHeader(header) {
			return fmt.Errorf("streamreader: chunk header tag mismatch (word=%#x)", header)
		}
		var fields = bits.DecodeChunkHeader(header)

		var packetID uint64
		if r.withPacketID {
			if _, err := r.readFull(idBuf[:]); err != nil {
				return fmt.Errorf("streamreader: read packet id: %w", err)
			}
			var idWord = binary.LittleEndian.Uint64(idBuf[:])
			if !bits.MatchesByte(idWord, bits.BytePacketID) {
				return fmt.Errorf("streamreader: packet id tag mismatch (word=%#x)", idWord)
			}
			packetID = bits.DecodePacketID(idWord)
		}

		if int(fields.Chip) >= len(r.pools) || r.pools[fields.Chip] == nil {
			return fmt.Errorf("streamreader: chip index %d out of range", fields.Chip)
		}
		var pool = r.pools[fields.Chip]

		if err := r.readChunk(pool, packetID, int(fields.ChunkSizeBytes)); err != nil {
			return err
		}
	}
}

func (r *Reader) readChunk(pool *iobuf.Pool, packetID uint64, chunkSize int) error {
	var totalRead = 0
	for totalRead < chunkSize {
		var buf = pool.AcquireEmpty()

		var remaining = chunkSize - totalRead
		var toRead = len(buf.Content)
		if remaining < toRead {
			toRead = remaining
		}

		if _, err := r.readFull(buf.Content[:toRead]); err != nil {
			pool.Release(buf)
			return fmt.Errorf("streamreader: read chunk payload: %w", err)
		}

		buf.ContentSize = toRead
		buf.ContentOffset = totalRead
		buf.ChunkSize = chunkSize
		pool.SubmitFilled(packetID, buf)
		totalRead += toRead
	}
	return nil
}

// readFull reads exactly len(p) bytes, transparently retrying on a
// transient network timeout. A non-timeout error, including EOF,
// propagates to the caller unchanged.
func (r *Reader) readFull(p []byte) (int, error) {
	var got = 0
	for got < len(p) {
		n, err := io.ReadFull(r.conn, p[got:])
		got += n
		if err != nil {
			if isTimeout(err) {
				if r.sig != nil && r.sig.Stopped() {
					return got, ErrStopped
				}
				continue
			}
			return got, err
		}
	}
	return got, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
