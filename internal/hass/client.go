package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

// ErrNotFound is returned when Home Assistant does not know the entity.
var ErrNotFound = errors.New("entity not found")

const maxBody = 8 << 20

// Client handles communication with the Home Assistant REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new Home Assistant API client. token is a long-lived
// access token.
func NewClient(baseURL, token string, httpClient *http.Client, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetState fetches the current state of one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*sensors.Observation, error) {
	body, err := c.makeRequest(ctx, "/api/states/"+url.PathEscape(entityID))
	if err != nil {
		return nil, err
	}
	var obs sensors.Observation
	if err := json.Unmarshal(body, &obs); err != nil {
		return nil, fmt.Errorf("failed to parse state of %s: %w", entityID, err)
	}
	return &obs, nil
}

// GetStates fetches all states in one request and returns those in ids.
// Entities Home Assistant does not report are missing from the result.
func (c *Client) GetStates(ctx context.Context, ids []string) (map[string]*sensors.Observation, error) {
	body, err := c.makeRequest(ctx, "/api/states")
	if err != nil {
		return nil, err
	}
	var all []sensors.Observation
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("failed to parse states: %w", err)
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[string]*sensors.Observation, len(ids))
	for i := range all {
		if _, ok := want[all[i].EntityID]; ok {
			out[all[i].EntityID] = &all[i]
		}
	}

	c.logger.WithFields(logrus.Fields{
		"requested": len(ids),
		"found":     len(out),
	}).Debug("Fetched Home Assistant states")
	return out, nil
}

// IsHealthy checks if the Home Assistant API is responding
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.makeRequest(ctx, "/api/")
	return err == nil
}

// makeRequest performs an authenticated GET against the API.
func (c *Client) makeRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"path":          path,
		"status_code":   resp.StatusCode,
		"response_size": len(body),
	}).Debug("Received API response")

	return body, nil
}
