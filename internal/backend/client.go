package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wattwise/wattsync/internal/device"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; event streams stay open.
	streamClient *http.Client
}

// NewClient creates a client for baseURL. A zero timeout leaves requests
// bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// ToggleResult is the backend's answer to a toggle command.
type ToggleResult struct {
	Message string
	// Device is the server's view after the toggle, when it sent one.
	Device *device.Device
}

type toggleResponse struct {
	Message string         `json:"message"`
	Device  *device.Record `json:"device,omitempty"`
}

// ListDevices fetches every device in a house, normalized, in server order.
func (c *Client) ListDevices(ctx context.Context, token string, houseID int) ([]device.Device, error) {
	body, err := c.doRequest(ctx, token, http.MethodGet, "/api/devices/house/"+strconv.Itoa(houseID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing devices for house %d: %w", houseID, err)
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []device.Device{}, nil
	}

	records, err := device.DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return device.DevicesFromRecords(records), nil
}

// ToggleDevice asks the backend to flip a device's power state.
func (c *Client) ToggleDevice(ctx context.Context, token string, deviceID int) (ToggleResult, error) {
	body, err := c.doRequest(ctx, token, http.MethodPost, "/api/devices/"+strconv.Itoa(deviceID)+"/toggle", nil)
	if err != nil {
		return ToggleResult{}, fmt.Errorf("toggling device %d: %w", deviceID, err)
	}

	var resp toggleResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return ToggleResult{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
	}

	result := ToggleResult{Message: resp.Message}
	if resp.Device != nil && resp.Device.Validate() == nil {
		d := resp.Device.Device()
		result.Device = &d
	}
	return result, nil
}

// CreateDevice adds a device and returns the stored record.
func (c *Client) CreateDevice(ctx context.Context, token string, in device.Input) (device.Device, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return device.Device{}, fmt.Errorf("marshaling device: %w", err)
	}
	body, err := c.doRequest(ctx, token, http.MethodPost, "/api/devices", payload)
	if err != nil {
		return device.Device{}, fmt.Errorf("creating device: %w", err)
	}
	return decodeDevice(body)
}

// UpdateDevice replaces a device's descriptive fields.
func (c *Client) UpdateDevice(ctx context.Context, token string, deviceID int, in device.Input) (device.Device, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return device.Device{}, fmt.Errorf("marshaling device: %w", err)
	}
	body, err := c.doRequest(ctx, token, http.MethodPut, "/api/devices/"+strconv.Itoa(deviceID), payload)
	if err != nil {
		return device.Device{}, fmt.Errorf("updating device %d: %w", deviceID, err)
	}
	return decodeDevice(body)
}

// DeleteDevice removes a device.
func (c *Client) DeleteDevice(ctx context.Context, token string, deviceID int) error {
	if _, err := c.doRequest(ctx, token, http.MethodDelete, "/api/devices/"+strconv.Itoa(deviceID), nil); err != nil {
		return fmt.Errorf("deleting device %d: %w", deviceID, err)
	}
	return nil
}

// StreamURL returns the event-stream URL for a house. The result embeds
// the credential and must not be logged.
func (c *Client) StreamURL(token string, houseID int) string {
	q := url.Values{}
	q.Set("token", token)
	return c.baseURL + "/api/devices/stream/" + strconv.Itoa(houseID) + "?" + q.Encode()
}

func decodeDevice(body []byte) (device.Device, error) {
	var rec device.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return device.Device{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if err := rec.Validate(); err != nil {
		return device.Device{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return rec.Device(), nil
}

func (c *Client) doRequest(ctx context.Context, token, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiErrorFrom(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return respBody, nil
}

// apiErrorFrom builds an APIError, preferring a {message} or {error} field
// in the body over the bare status text.
func apiErrorFrom(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return apiErr
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
			return apiErr
		case payload.Error != "":
			apiErr.Message = payload.Error
			return apiErr
		}
	}

	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
	}
	return apiErr
}
