// Package compat asks the mod service whether a mod version works with the
// installed host version.
package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
)

// CheckPath is the compatibility endpoint relative to the server URL.
const CheckPath = "/api/v1/mod/v2/check"

// Rejection codes returned by the service.
const (
	CodeHostOutdated = "YANDEX_VERSION_OUTDATED"
	CodeHostTooNew   = "YANDEX_VERSION_TOO_NEW"
)

// Result is the service's verdict.
type Result struct {
	Compatible         bool   `json:"success"`
	Message            string `json:"message,omitempty"`
	Code               string `json:"code,omitempty"`
	URL                string `json:"url,omitempty"`
	RequiredVersion    string `json:"requiredVersion,omitempty"`
	RecommendedVersion string `json:"recommendedVersion,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Checker checks mod compatibility.
type Checker interface {
	Check(ctx context.Context, modVersion, hostVersion string) (*Result, error)
}

// Client is the HTTP Checker.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    logging.Logger
}

// NewClient returns a Client for the service at baseURL.
func NewClient(baseURL, userAgent string, logger logging.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logging.OrNop(logger),
	}
}

// Check implements Checker. Transport errors are returned as errors; a
// reachable service that rejects the pair yields a Result with Compatible
// false.
func (c *Client) Check(ctx context.Context, modVersion, hostVersion string) (*Result, error) {
	q := url.Values{}
	q.Set("yandexVersion", hostVersion)
	q.Set("modVersion", modVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+CheckPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compatibility check: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read compatibility response: %w", err)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("compatibility check: status %d: invalid response: %w", resp.StatusCode, err)
	}
	if res.Error != "" {
		res.Compatible = false
		if res.Message == "" {
			res.Message = res.Error
		}
	}
	if res.RecommendedVersion == "" {
		res.RecommendedVersion = modVersion
	}

	c.logger.Debug("compatibility check", "mod", modVersion, "host", hostVersion, "compatible", res.Compatible, "code", res.Code)
	return &res, nil
}
