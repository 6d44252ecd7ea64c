// Package ghl provides a client for the GoHighLevel (LeadConnector) REST API.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the current LeadConnector API host.
	DefaultBaseURL = "https://services.leadconnectorhq.com"
	// DefaultFallbackBaseURL is the legacy GoHighLevel REST host.
	DefaultFallbackBaseURL = "https://rest.gohighlevel.com"
	// DefaultVersion is sent in the Version header.
	DefaultVersion = "2021-07-28"
	// TokenPrefix starts every private integration token.
	TokenPrefix = "pit"

	maxResponseBytes = 1 << 20
)

// Client defines the GoHighLevel operations used for lead delivery and
// credential diagnosis.
type Client interface {
	// CreateContact posts a contact to the primary base. A non-2xx answer
	// returns the response together with a *StatusError.
	CreateContact(ctx context.Context, contact Contact) (*Response, error)
	// ListLocations issues GET /v1/locations against base without a
	// Location-Id header. Only transport failures return an error.
	ListLocations(ctx context.Context, base string) (*Response, error)
	// ListContacts issues GET /v1/contacts/?limit=1 against base with the
	// Location-Id header when configured. Only transport failures return an
	// error.
	ListContacts(ctx context.Context, base string) (*Response, error)

	BaseURL() string
	FallbackBaseURL() string
}

// Contact is the create-contact request body.
type Contact struct {
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone"`
	Address1     string        `json:"address1"`
	Tags         []string      `json:"tags"`
	CustomFields []CustomField `json:"customFields"`
}

// CustomField is a key/value pair attached to a contact.
type CustomField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the raw outcome of one API call.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Host returns the host part of the request URL.
func (r *Response) Host() string {
	return HostOf(r.URL)
}

// ContactID extracts contact.id from a create-contact response body, or ""
// when the body is not the expected JSON.
func (r *Response) ContactID() string {
	var out struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return ""
	}
	return out.Contact.ID
}

// StatusError is returned for a non-2xx answer to a write.
type StatusError struct {
	Host   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ghl: %s returned status %d: %s", e.Host, e.Status, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// LooksLikeToken reports whether s has the private integration token prefix.
// A location id that does is almost certainly a pasted API key.
func LooksLikeToken(s string) bool {
	return strings.HasPrefix(s, TokenPrefix)
}

// HostOf returns the host of rawURL, or rawURL itself when it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// LocationsURL is the locations probe URL for base.
func LocationsURL(base string) string {
	return strings.TrimRight(base, "/") + "/v1/locations"
}

// ContactsProbeURL is the single-contact list URL for base.
func ContactsProbeURL(base string) string {
	return strings.TrimRight(base, "/") + "/v1/contacts/?limit=1"
}

// Option configures the GoHighLevel client.
type Option func(*httpClient)

// WithBaseURL sets the primary API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithFallbackBaseURL sets the fallback base URL probed by diagnosis. An
// empty value disables fallback probes.
func WithFallbackBaseURL(u string) Option {
	return func(c *httpClient) {
		c.fallbackBaseURL = strings.TrimRight(u, "/")
	}
}

// WithVersion overrides the Version header.
func WithVersion(v string) Option {
	return func(c *httpClient) {
		if v != "" {
			c.version = v
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey          string
	locationID      string
	baseURL         string
	fallbackBaseURL string
	version         string
	http            *http.Client
	limiter         *rate.Limiter
}

// NewClient creates a GoHighLevel client for the given API key and optional
// location id.
func NewClient(apiKey, locationID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:          apiKey,
		locationID:      locationID,
		baseURL:         DefaultBaseURL,
		fallbackBaseURL: DefaultFallbackBaseURL,
		version:         DefaultVersion,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) BaseURL() string         { return c.baseURL }
func (c *httpClient) FallbackBaseURL() string { return c.fallbackBaseURL }

func (c *httpClient) CreateContact(ctx context.Context, contact Contact) (*Response, error) {
	payload, err := json.Marshal(contact)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: marshal contact")
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/contacts/", payload, true)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: create contact")
	}
	if !resp.OK() {
		return resp, &StatusError{Host: resp.Host(), Status: resp.Status, Body: string(resp.Body)}
	}
	return resp, nil
}

func (c *httpClient) ListLocations(ctx context.Context, base string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, LocationsURL(base), nil, false)
	return resp, eris.Wrap(err, "ghl: list locations")
}

func (c *httpClient) ListContacts(ctx context.Context, base string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, ContactsProbeURL(base), nil, true)
	return resp, eris.Wrap(err, "ghl: list contacts")
}

// do sends one request and reads the whole body. Only transport and read
// failures are errors; the status is left to the caller.
func (c *httpClient) do(ctx context.Context, method, reqURL string, body []byte, withLocation bool) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", c.version)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if withLocation && c.locationID != "" {
		req.Header.Set("Location-Id", c.locationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}
	return &Response{URL: reqURL, Status: resp.StatusCode, Body: data}, nil
}
