// Package upstream talks to the installation's telemetry source (the device
// simulator) when the service acts as a puller rather than a receiver.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks a telemetry source that could not be reached. The
// caller may retry; no state was mutated.
var ErrUnavailable = errors.New("telemetry source unavailable")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SampleDTO is the simulator's reading as it arrives on the wire. Required
// numeric fields are pointers so a missing field is distinguishable from a
// zero reading.
type SampleDTO struct {
	InstallationID string            `json:"device_ID"`
	BatteryLevel   *float64          `json:"battery_level"`
	SolarOutput    *float64          `json:"solar_output"`
	Devices        map[string]string `json:"devices"`
}

// FetchSample pulls one reading from the simulator.
func (c *Client) FetchSample(ctx context.Context) (*SampleDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_simulated_data", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: simulator returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var dto SampleDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("decode simulator payload: %w", err)
	}
	return &dto, nil
}

// ControlRequest forwards a manual device action to the simulator.
type ControlRequest struct {
	InstallationID string `json:"device_ID"`
	DeviceName     string `json:"device_name"`
	ControlAction  string `json:"control_action"`
}

// ControlDevice proxies one control action and returns the simulator's
// response body and status verbatim.
func (c *Client) ControlDevice(ctx context.Context, cr ControlRequest) (json.RawMessage, int, error) {
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/control_device", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return out, resp.StatusCode, nil
}
