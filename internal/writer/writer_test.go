package writer

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psi-detectors/tpx3stream/internal/histogram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FileWriter_writesRowsOfColumns(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "run")

	var w, err = NewFileWriter(base, 2, 3)
	require.NoError(t, err)

	// Spectra is indexed [timePoint*npoints + energyPoint].
	var data = &histogram.Data{Spectra: []float64{
		1, 4, // time point 0, energy points 0..1
		2, 5, // time point 1, energy points 0..1
		3, 6, // time point 2, energy points 0..1
	}}
	require.NoError(t, w.Write(7, data))

	var content, rerr = os.ReadFile(base + "-7.xes")
	require.NoError(t, rerr)

	var lines = strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1 2 3", strings.TrimSpace(lines[0]))
	assert.Equal(t, "4 5 6", strings.TrimSpace(lines[1]))
}

func Test_FileWriter_roundsFractionalWeightsToIntegerCounts(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "run")

	var w, err = NewFileWriter(base, 1, 3)
	require.NoError(t, err)

	var data = &histogram.Data{Spectra: []float64{1.2, 2.5, 2.6}}
	require.NoError(t, w.Write(1, data))

	var content, rerr = os.ReadFile(base + "-1.xes")
	require.NoError(t, rerr)
	assert.Equal(t, "1 3 3", strings.TrimSpace(string(content)))
}

func Test_FileWriter_expandsStrftimePlaceholder(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "run-%Y")

	var w, err = NewFileWriter(base, 1, 1)
	require.NoError(t, err)

	require.NoError(t, w.Write(1, &histogram.Data{Spectra: []float64{0}}))

	var expected = filepath.Join(dir, "run-"+time.Now().Format("2006")+"-1.xes")
	_, statErr := os.Stat(expected)
	assert.NoError(t, statErr)
}

func Test_TCPWriter_sendsJSONPerPeriod(t *testing.T) {
	var ln, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type received struct {
		Period    int64
		TDSpectra []float64
	}
	var got = make(chan received, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr != nil {
			return
		}
		defer conn.Close()
		var payload received
		if derr := json.NewDecoder(conn).Decode(&payload); derr == nil {
			got <- payload
		}
	}()

	var w, werr = NewTCPWriter(ln.Addr().String())
	require.NoError(t, werr)
	defer w.Close()

	require.NoError(t, w.Write(42, &histogram.Data{Spectra: []float64{1.5, 2.5}}))

	select {
	case payload := <-got:
		assert.Equal(t, int64(42), payload.Period)
		assert.Equal(t, []float64{1.5, 2.5}, payload.TDSpectra)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive payload")
	}
}

func Test_FromURI_dispatchesOnScheme(t *testing.T) {
	var dir = t.TempDir()

	fw, err := FromURI("file:"+filepath.Join(dir, "out"), 1, 1)
	require.NoError(t, err)
	assert.IsType(t, &FileWriter{}, fw)

	var ln, lerr = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, lerr)
	defer ln.Close()
	go func() {
		conn, aerr := ln.Accept()
		if aerr == nil {
			conn.Close()
		}
	}()

	tw, terr := FromURI("tcp:"+ln.Addr().String(), 1, 1)
	require.NoError(t, terr)
	assert.IsType(t, &TCPWriter{}, tw)

	_, uerr := FromURI("ftp:example.com", 1, 1)
	assert.Error(t, uerr)
}

func Test_FileWriter_overwritesPreviousContentForSamePeriod(t *testing.T) {
	var dir = t.TempDir()
	var base = filepath.Join(dir, "run")

	w, err := NewFileWriter(base, 1, 1)
	require.NoError(t, err)

	require.NoError(t, w.Write(1, &histogram.Data{Spectra: []float64{9}}))
	require.NoError(t, w.Write(1, &histogram.Data{Spectra: []float64{1}}))

	f, rerr := os.Open(base + "-1.xes")
	require.NoError(t, rerr)
	defer f.Close()
	var scanner = bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Equal(t, "1", strings.TrimSpace(scanner.Text()))
}
