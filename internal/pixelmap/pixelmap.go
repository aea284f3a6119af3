// Package pixelmap loads the per-chip, per-pixel mapping from a raw
// detector pixel to the energy points its hits contribute to.
//
// Purpose: a flat pixel can feed zero, one, or several energy-resolving
// bins with different weights (e.g. a diffraction spot spread across
// neighbouring pixels). The map is loaded once at startup, from either
// a plain-text or a JSON description, and both forms must produce
// byte-for-byte the same in-memory structure.
package pixelmap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ChipSize is the detector's per-chip pixel grid edge length.
const ChipSize = 256

// PixelsPerChip is the number of flat pixel indices per chip.
const PixelsPerChip = ChipSize * ChipSize

// Part is one (energy point, weight) contribution of a pixel.
type Part struct {
	EnergyPoint uint32
	Weight      float32
}

// Map is the per-chip, per-flat-pixel mapping to energy-point parts.
type Map struct {
	Chips   [][][]Part // Chips[chip][flatPixel] -> parts, possibly empty
	NPoints uint32
}

// New allocates an empty Map for numChips chips, each with
// PixelsPerChip unmapped (nil-part) pixel slots.
func New(numChips int) *Map {
	chips := make([][][]Part, numChips)
	for i := range chips {
		chips[i] = make([][]Part, PixelsPerChip)
	}
	return &Map{Chips: chips}
}

// Parts returns the energy-point parts for (chip, flatPixel), or an
// error if either index is out of range.
func (m *Map) Parts(chip, flatPixel int) ([]Part, error) {
	if chip < 0 || chip >= len(m.Chips) {
		return nil, fmt.Errorf("pixelmap: chip %d out of range (have %d chips)", chip, len(m.Chips))
	}
	if flatPixel < 0 || flatPixel >= PixelsPerChip {
		return nil, fmt.Errorf("pixelmap: flat pixel %d out of range", flatPixel)
	}
	return m.Chips[chip][flatPixel], nil
}

func (m *Map) set(chip, flatPixel int, parts []Part) error {
	if chip < 0 || chip >= len(m.Chips) {
		return fmt.Errorf("pixelmap: chip %d out of range (have %d chips)", chip, len(m.Chips))
	}
	if flatPixel < 0 || flatPixel >= PixelsPerChip {
		return fmt.Errorf("pixelmap: flat pixel %d out of range", flatPixel)
	}
	m.Chips[chip][flatPixel] = parts
	for _, p := range parts {
		if p.EnergyPoint+1 > m.NPoints {
			m.NPoints = p.EnergyPoint + 1
		}
	}
	return nil
}

// LoadText parses the comma-separated text form: one line per mapped
// pixel, "chip,flat_pixel,ep_0,...,ep_{k-1},w_0,...,w_{k-1}" with k>=1.
// numChips bounds the accepted chip index.
func LoadText(r io.Reader, numChips int) (*Map, error) {
	m := New(numChips)

	var scanner = bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024), 1024)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields = strings.Split(line, ",")
		if len(fields) < 4 {
			return nil, fmt.Errorf("pixelmap: line %d: field count %d < 4", lineNo, len(fields))
		}
		if len(fields)%2 != 0 {
			return nil, fmt.Errorf("pixelmap: line %d: field count %d is odd", lineNo, len(fields))
		}

		chip, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("pixelmap: line %d: invalid chip: %w", lineNo, err)
		}
		flatPixel, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("pixelmap: line %d: invalid flat pixel: %w", lineNo, err)
		}

		var numParts = (len(fields) - 2) / 2
		var parts = make([]Part, numParts)
		for i := 0; i < numParts; i++ {
			var ep, err = strconv.ParseUint(fields[2+i], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("pixelmap: line %d: invalid energy point: %w", lineNo, err)
			}
			parts[i].EnergyPoint = uint32(ep)
		}
		for i := 0; i < numParts; i++ {
			var w, err = strconv.ParseFloat(fields[2+numParts+i], 32)
			if err != nil {
				return nil, fmt.Errorf("pixelmap: line %d: invalid weight: %w", lineNo, err)
			}
			parts[i].Weight = float32(w)
		}

		if err := m.set(chip, flatPixel, parts); err != nil {
			return nil, fmt.Errorf("pixelmap: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pixelmap: %w", err)
	}
	return m, nil
}

// WriteText serializes m back into the comma-separated text form,
// emitting one line per mapped (non-empty) pixel.
func WriteText(w io.Writer, m *Map) error {
	var buf strings.Builder
	for chip, pixels := range m.Chips {
		for flatPixel, parts := range pixels {
			if len(parts) == 0 {
				continue
			}
			buf.Reset()
			fmt.Fprintf(&buf, "%d,%d", chip, flatPixel)
			for _, p := range parts {
				fmt.Fprintf(&buf, ",%d", p.EnergyPoint)
			}
			for _, p := range parts {
				fmt.Fprintf(&buf, ",%s", strconv.FormatFloat(float64(p.Weight), 'g', -1, 32))
			}
			buf.WriteByte('\n')
			if _, err := io.WriteString(w, buf.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

type jsonEntry struct {
	I int       `json:"i"`
	P []uint32  `json:"p"`
	F []float32 `json:"f"`
}

type jsonDoc struct {
	Type  string        `json:"type,omitempty"`
	Chips [][]jsonEntry `json:"chips"`
}

// LoadJSON parses the JSON form: {"chips": [ [ {"i":flat,"p":[ep...],"f":[w...]}, ... ], ... ]}.
// The chip count (outer array length) must equal numChips.
func LoadJSON(r io.Reader, numChips int) (*Map, error) {
	var doc jsonDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("pixelmap: %w", err)
	}
	if len(doc.Chips) != numChips {
		return nil, fmt.Errorf("pixelmap: chip count %d does not match detector chip count %d", len(doc.Chips), numChips)
	}

	m := New(numChips)
	for chip, entries := range doc.Chips {
		for _, e := range entries {
			if len(e.P) != len(e.F) {
				return nil, fmt.Errorf("pixelmap: chip %d pixel %d: mismatched p/f array lengths", chip, e.I)
			}
			var parts = make([]Part, len(e.P))
			for i := range e.P {
				parts[i] = Part{EnergyPoint: e.P[i], Weight: e.F[i]}
			}
			if err := m.set(chip, e.I, parts); err != nil {
				return nil, fmt.Errorf("pixelmap: %w", err)
			}
		}
	}
	return m, nil
}

// WriteJSON serializes m into the JSON form.
func WriteJSON(w io.Writer, m *Map) error {
	var doc = jsonDoc{Type: "PixelMap", Chips: make([][]jsonEntry, len(m.Chips))}
	for chip, pixels := range m.Chips {
		var entries []jsonEntry
		for flatPixel, parts := range pixels {
			if len(parts) == 0 {
				continue
			}
			var e = jsonEntry{I: flatPixel, P: make([]uint32, len(parts)), F: make([]float32, len(parts))}
			for i, p := range parts {
				e.P[i] = p.EnergyPoint
				e.F[i] = p.Weight
			}
			entries = append(entries, e)
		}
		doc.Chips[chip] = entries
	}
	return json.NewEncoder(w).Encode(doc)
}
