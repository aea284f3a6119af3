package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/psi-detectors/tpx3stream/internal/bits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_generate_emitsOneValidChunkPerChip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generate(&buf, 2, 2, 100, 3, true))

	var readWord = func() uint64 {
		var b [8]byte
		_, err := buf.Read(b[:])
		require.NoError(t, err)
		return binary.LittleEndian.Uint64(b[:])
	}

	for chip := uint(0); chip < 2; chip++ {
		header := readWord()
		require.True(t, bits.IsChunkHeader(header))
		fields := bits.DecodeChunkHeader(header)
		assert.Equal(t, chip, fields.Chip)

		packetIDWord := readWord()
		assert.True(t, bits.MatchesByte(packetIDWord, bits.BytePacketID))

		var wordsInChunk = int(fields.ChunkSizeBytes) / 8
		var tdcCount, hitCount int
		for i := 0; i < wordsInChunk; i++ {
			word := readWord()
			switch {
			case bits.MatchesNibble(word, bits.NibbleTDC):
				tdcCount++
				_, err := bits.TdcClock(word)
				assert.NoError(t, err)
			case bits.MatchesNibble(word, bits.NibblePixelHit):
				hitCount++
			default:
				t.Fatalf("unexpected word %#x", word)
			}
		}
		assert.Equal(t, 3, tdcCount) // numPeriods + 1 closing TDC
		assert.Equal(t, 6, hitCount) // hitsPerPeriod * numPeriods
	}
	assert.Zero(t, buf.Len())
}

func Test_generate_withoutPacketIDFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generate(&buf, 1, 1, 100, 1, false))

	var b [8]byte
	_, err := buf.Read(b[:])
	require.NoError(t, err)
	assert.True(t, bits.IsChunkHeader(binary.LittleEndian.Uint64(b[:])))

	_, err = buf.Read(b[:])
	require.NoError(t, err)
	assert.True(t, bits.MatchesNibble(binary.LittleEndian.Uint64(b[:]), bits.NibbleTDC))
}
