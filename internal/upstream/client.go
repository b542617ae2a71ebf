package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fleetboard-backend/internal/metrics"
)

const maxResponseSize = 16 * 1024 * 1024

// SessionCookie builds the opaque credential forwarded to the telemetry API.
// The token is a pass-through session id; an empty token means no credential.
func SessionCookie(token string) string {
	if token == "" {
		return ""
	}
	return "JSESSIONID=" + token
}

// get performs a GET with retry and returns the response body normalized to
// a JSON array, along with the upstream status code. Transport failures and
// 5xx-after-retries come back as errors; 4xx statuses do not (resource
// criticality is the caller's policy, not the client's).
func (c *Client) get(parentCtx context.Context, path string, auth string, params url.Values) ([]byte, int, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	doOnce := func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("upstream: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Cookie", auth)
		httpReq.Header.Set("Accept", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, doOnce)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		metrics.UpstreamLatencySeconds.WithLabelValues(path, "error").Observe(time.Since(start).Seconds())
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: read response: %w", err)
	}

	metrics.UpstreamLatencySeconds.
		WithLabelValues(path, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	c.logger.Debug("upstream request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	// error bodies are passed through verbatim for diagnostics
	if resp.StatusCode >= 400 {
		return body, resp.StatusCode, nil
	}
	return normalizeArray(body), resp.StatusCode, nil
}

// send performs a write (POST/PUT) with a single attempt; writes are not
// retried to avoid duplicating upstream state.
func (c *Client) send(parentCtx context.Context, method, path string, auth string, payload any) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Cookie", auth)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// Probe issues the configured test request with the given credential, used by
// login to validate a session without consuming any real resource.
func (c *Client) Probe(ctx context.Context, auth, path string) (int, json.RawMessage, error) {
	params := url.Values{}
	params.Set("all", "true")
	body, status, err := c.get(ctx, path, auth, params)
	return status, body, err
}

// Devices returns the device list as a normalized JSON array.
func (c *Client) Devices(ctx context.Context, auth string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("all", "true")
	return c.get(ctx, "/devices", auth, params)
}

// Groups returns the group list as a normalized JSON array.
func (c *Client) Groups(ctx context.Context, auth string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("all", "true")
	return c.get(ctx, "/groups", auth, params)
}

// Notifications returns the notification definitions as a normalized JSON array.
func (c *Client) Notifications(ctx context.Context, auth string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("all", "true")
	return c.get(ctx, "/notifications", auth, params)
}

// Geofences returns the geofence list as a normalized JSON array.
func (c *Client) Geofences(ctx context.Context, auth string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("all", "true")
	return c.get(ctx, "/geofences", auth, params)
}

// Trips returns the trip report for one device over a window.
func (c *Client) Trips(ctx context.Context, auth string, deviceID int64, from, to string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("deviceId", strconv.FormatInt(deviceID, 10))
	params.Set("from", from)
	params.Set("to", to)
	return c.get(ctx, "/reports/trips", auth, params)
}

// Events returns the event report for one device over a window.
func (c *Client) Events(ctx context.Context, auth string, deviceID int64, from, to string) ([]byte, int, error) {
	params := url.Values{}
	params.Set("deviceId", strconv.FormatInt(deviceID, 10))
	params.Set("from", from)
	params.Set("to", to)
	return c.get(ctx, "/reports/events", auth, params)
}

// Maintenance returns the maintenance records for one device.
func (c *Client) Maintenance(ctx context.Context, auth string, deviceID int64) ([]byte, int, error) {
	params := url.Values{}
	params.Set("deviceId", strconv.FormatInt(deviceID, 10))
	return c.get(ctx, "/maintenance", auth, params)
}

// ComputedAttributes lists the generic key/value store entries.
func (c *Client) ComputedAttributes(ctx context.Context, auth string) ([]ComputedAttribute, error) {
	params := url.Values{}
	params.Set("all", "true")
	body, status, err := c.get(ctx, "/attributes/computed", auth, params)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("upstream: list computed attributes: status %d", status)
	}
	var attrs []ComputedAttribute
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, fmt.Errorf("upstream: decode computed attributes: %w", err)
	}
	return attrs, nil
}

// CreateComputedAttribute creates a key/value store entry and returns it with
// its upstream-assigned id.
func (c *Client) CreateComputedAttribute(ctx context.Context, auth string, attr ComputedAttribute) (ComputedAttribute, error) {
	body, status, err := c.send(ctx, http.MethodPost, "/attributes/computed", auth, attr)
	if err != nil {
		return ComputedAttribute{}, err
	}
	if status >= 400 {
		return ComputedAttribute{}, fmt.Errorf("upstream: create computed attribute: status %d", status)
	}
	var created ComputedAttribute
	if err := json.Unmarshal(body, &created); err != nil {
		return ComputedAttribute{}, fmt.Errorf("upstream: decode computed attribute: %w", err)
	}
	return created, nil
}

// UpdateComputedAttribute replaces the expression of an existing entry.
func (c *Client) UpdateComputedAttribute(ctx context.Context, auth string, id int64, expression string) error {
	payload := map[string]any{"id": id, "expression": expression}
	_, status, err := c.send(ctx, http.MethodPut, "/attributes/computed/"+strconv.FormatInt(id, 10), auth, payload)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("upstream: update computed attribute %d: status %d", id, status)
	}
	return nil
}

// normalizeArray shapes an upstream body into always-an-array JSON:
// null/empty becomes [], a bare object becomes a one-element array, and an
// array passes through unchanged.
func normalizeArray(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("[]")
	}
	if trimmed[0] == '[' {
		return trimmed
	}
	out := make([]byte, 0, len(trimmed)+2)
	out = append(out, '[')
	out = append(out, trimmed...)
	out = append(out, ']')
	return out
}
