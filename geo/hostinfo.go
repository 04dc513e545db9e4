package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrLookupFailed means the API answered but could not describe the host.
	ErrLookupFailed = errors.New("host info lookup failed")
	// ErrUnexpectedResponse means the API answered with something that is not
	// the expected JSON document.
	ErrUnexpectedResponse = errors.New("unexpected host info response")
)

// DefaultBaseURL is the public ip-api.com endpoint.
const DefaultBaseURL = "http://ip-api.com"

const lookupFields = "status,message,country,regionName,city,lat,lon,org"

// HostInfo describes where a host lives and who operates it.
type HostInfo struct {
	Country      string  `json:"country"`
	Region       string  `json:"regionName"`
	City         string  `json:"city"`
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	Organization string  `json:"org"`
}

// Lookup resolves host metadata for an IP address.
type Lookup interface {
	Lookup(ctx context.Context, ip string) (*HostInfo, error)
}

// Client queries the ip-api.com JSON endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	HostInfo
}

// Lookup fetches country, region, city, coordinates and organization for ip.
func (c *Client) Lookup(ctx context.Context, ip string) (*HostInfo, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=%s", c.baseURL, url.PathEscape(ip), lookupFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build host info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("host info request for %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrLookupFailed, ip, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	switch body.Status {
	case "success":
	case "fail":
		msg := body.Message
		if msg == "" {
			msg = "no reason given"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrLookupFailed, ip, msg)
	default:
		return nil, fmt.Errorf("%w: status %q", ErrUnexpectedResponse, body.Status)
	}

	info := body.HostInfo
	return &info, nil
}
