package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DetectorClient is a thin HTTP client for the upstream detector
// controller's REST API: one Go method per endpoint, no retry policy,
// no business logic beyond building the request and decoding the
// response — everything that a control-plane implementation would add
// is out of scope.
type DetectorClient struct {
	baseURL string
	http    *http.Client
}

// NewDetectorClient returns a client against baseURL (e.g.
// "http://detector-host:8081").
func NewDetectorClient(baseURL string) *DetectorClient {
	return &DetectorClient{baseURL: baseURL, http: &http.Client{}}
}

// Dashboard is the decoded response of GET /dashboard.
type Dashboard struct {
	Raw json.RawMessage
}

// Dashboard fetches GET /dashboard.
func (c *DetectorClient) Dashboard() (*Dashboard, error) {
	var raw json.RawMessage
	if err := c.get("/dashboard", &raw); err != nil {
		return nil, err
	}
	return &Dashboard{Raw: raw}, nil
}

// DetectorConfig is the subset of PUT /detector/config's body that the
// pipeline cares about (spec.md §6).
type DetectorConfig struct {
	NTriggers     int     `json:"nTriggers"`
	TriggerMode   string  `json:"TriggerMode"`
	TriggerPeriod float64 `json:"TriggerPeriod"`
	ExposureTime  float64 `json:"ExposureTime"`
}

// AutoTrigStartTimerStop is the only TriggerMode value spec.md §6 names.
const AutoTrigStartTimerStop = "AUTOTRIGSTART_TIMERSTOP"

// GetDetectorConfig fetches GET /detector/config.
func (c *DetectorClient) GetDetectorConfig() (*DetectorConfig, error) {
	var cfg DetectorConfig
	if err := c.get("/detector/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDetectorConfig issues PUT /detector/config with cfg as the JSON
// body.
func (c *DetectorClient) SetDetectorConfig(cfg DetectorConfig) error {
	return c.put("/detector/config", cfg, nil)
}

// DetectorInfo is the decoded response of GET /detector/info.
type DetectorInfo struct {
	NumberOfChips int `json:"NumberOfChips"`
}

// DetectorInfo fetches GET /detector/info.
func (c *DetectorClient) DetectorInfo() (*DetectorInfo, error) {
	var info DetectorInfo
	if err := c.get("/detector/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DetectorLayout is the decoded response of GET /detector/layout.
type DetectorLayout struct {
	Raw json.RawMessage
}

// DetectorLayout fetches GET /detector/layout.
func (c *DetectorClient) DetectorLayout() (*DetectorLayout, error) {
	var raw json.RawMessage
	if err := c.get("/detector/layout", &raw); err != nil {
		return nil, err
	}
	return &DetectorLayout{Raw: raw}, nil
}

// ConfigFormat selects the kind of file GET /config/load loads.
type ConfigFormat string

const (
	ConfigFormatPixelConfig ConfigFormat = "pixelconfig"
	ConfigFormatDACs        ConfigFormat = "dacs"
)

// LoadConfig fetches GET /config/load?format=<format>&file=<file>.
func (c *DetectorClient) LoadConfig(format ConfigFormat, file string) error {
	var q = url.Values{"format": {string(format)}, "file": {file}}
	return c.get("/config/load?"+q.Encode(), nil)
}

// destinationRaw mirrors spec.md §6's PUT /server/destination body:
// {"Raw":[{"Base":"tcp://connect@<host>:<port>"}]}.
type destinationRaw struct {
	Base string `json:"Base"`
}
type destinationBody struct {
	Raw []destinationRaw `json:"Raw"`
}

// SetDestination issues PUT /server/destination pointing the detector's
// raw stream at base (e.g. "tcp://connect@10.0.0.5:8192").
func (c *DetectorClient) SetDestination(base string) error {
	return c.put("/server/destination", destinationBody{Raw: []destinationRaw{{Base: base}}}, nil)
}

// StartMeasurement fetches GET /measurement/start.
func (c *DetectorClient) StartMeasurement() error {
	return c.get("/measurement/start", nil)
}

func (c *DetectorClient) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("control: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control: GET %s: status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("control: GET %s: decode response: %w", path, err)
	}
	return nil
}

func (c *DetectorClient) put(path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("control: PUT %s: encode body: %w", path, err)
	}

	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("control: PUT %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control: PUT %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control: PUT %s: status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("control: PUT %s: decode response: %w", path, err)
	}
	return nil
}
