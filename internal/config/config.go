// Package config loads the detector layout and service tuning knobs that
// a deployable pipeline needs: number of chips, buffer sizing, dispute
// threshold, retained period-queue depth, and the pixel-map and output
// destination paths.
//
// This is new ambient configuration surface, not a reimplementation of
// the original's INI file (config_file.h, Processing.ini): INI loading
// stays out of scope, so this is YAML via gopkg.in/yaml.v3 instead.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ROI mirrors the time/energy-point binning window a histogram.ROI is
// built from, kept here as plain fields so it round-trips through YAML.
type ROI struct {
	TOTRoiStart uint16 `yaml:"totRoiStart"`
	TOTRoiEnd   uint16 `yaml:"totRoiEnd"`
	TRoiStart   int64  `yaml:"tRoiStart"`
	TRoiStep    int64  `yaml:"tRoiStep"`
	TRoiN       int64  `yaml:"tRoiN"`
}

// Layout describes one detector deployment: its chip count and the
// pipeline tuning knobs derived from it.
type Layout struct {
	NumChips          int    `yaml:"numChips"`
	BufferSize        int    `yaml:"bufferSize"`
	DisputeThreshold  float64 `yaml:"disputeThreshold"`
	MaxPeriodQueues   int    `yaml:"maxPeriodQueues"`
	InitialPeriod     int64  `yaml:"initialPeriod"`
	HistogramSlots    int    `yaml:"histogramSlots"`
	PixelMapPath      string `yaml:"pixelMapPath"`
	PixelMapFormat    string `yaml:"pixelMapFormat"` // "text" or "json"
	OutputURI         string `yaml:"outputURI"`
	ListenAddress     string `yaml:"listenAddress"`
	WithPacketID      bool   `yaml:"withPacketID"`
	ReceiveBufferSize int    `yaml:"receiveBufferSize"`
	ROI               ROI    `yaml:"roi"`
}

// Default values applied by Load when the corresponding YAML field is
// zero, matching the original's compiled-in defaults (retained period
// queues of 2, threshold 0.1) where spec.md §4.5/§4.9 names one.
const (
	DefaultDisputeThreshold = 0.1
	DefaultMaxPeriodQueues  = 2
	DefaultBufferSize       = 1 << 16
)

// Load reads and validates a detector layout from path.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	l.applyDefaults()
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return &l, nil
}

func (l *Layout) applyDefaults() {
	if l.DisputeThreshold == 0 {
		l.DisputeThreshold = DefaultDisputeThreshold
	}
	if l.MaxPeriodQueues == 0 {
		l.MaxPeriodQueues = DefaultMaxPeriodQueues
	}
	if l.BufferSize == 0 {
		l.BufferSize = DefaultBufferSize
	}
	if l.HistogramSlots == 0 {
		l.HistogramSlots = 2*l.MaxPeriodQueues + l.NumChips
	}
	if l.PixelMapFormat == "" {
		l.PixelMapFormat = "text"
	}
}

func (l *Layout) validate() error {
	if l.NumChips <= 0 {
		return fmt.Errorf("numChips must be positive, got %d", l.NumChips)
	}
	if l.DisputeThreshold <= 0 || l.DisputeThreshold >= 0.5 {
		return fmt.Errorf("disputeThreshold must be in (0, 0.5), got %g", l.DisputeThreshold)
	}
	if l.PixelMapFormat != "text" && l.PixelMapFormat != "json" {
		return fmt.Errorf("pixelMapFormat must be \"text\" or \"json\", got %q", l.PixelMapFormat)
	}
	if l.OutputURI == "" {
		return fmt.Errorf("outputURI is required")
	}
	if l.ListenAddress == "" {
		return fmt.Errorf("listenAddress is required")
	}
	return nil
}
