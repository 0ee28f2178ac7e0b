// Package openweather fetches current weather from the OpenWeatherMap API.
package openweather

import (
	"context"
	stdErrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
	"github.com/mirkobrombin/warp-weather/v1/weather"
)

const (
	// DefaultBaseURL is the OpenWeatherMap current weather endpoint.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"
	DefaultTimeout = 10 * time.Second
	DefaultUnits   = "metric"

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 1 << 20
	// maxErrorBody bounds how much of an error response ends up in the error.
	maxErrorBody = 512
)

const op = "openweather.Fetch"

// Client fetches weather for a city. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	units      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, e.g. for a proxy or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUnits selects "standard", "metric" or "imperial".
func WithUnits(units string) Option {
	return func(c *Client) {
		if units != "" {
			c.units = units
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient returns a Client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, warperrors.Config("openweather.NewClient", "api key must not be blank")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		units:      DefaultUnits,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return nil, warperrors.Config("openweather.NewClient", "invalid base url: "+err.Error())
	}
	return c, nil
}

// Fetch returns the current weather for city.
//
// Transport failures are KindNetwork, non-200 responses KindRemote with the
// status attached, and undecodable bodies KindParse.
func (c *Client) Fetch(ctx context.Context, city string) (weather.Data, error) {
	params := url.Values{
		"q":     {city},
		"appid": {c.apiKey},
		"units": {c.units},
	}
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return weather.Data{}, warperrors.Network(op, city, redact(err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return weather.Data{}, warperrors.Network(op, city, warperrors.ErrTimeout)
		}
		return weather.Data{}, warperrors.Network(op, city, redact(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return weather.Data{}, warperrors.Network(op, city, redact(err))
	}
	if resp.StatusCode != http.StatusOK {
		return weather.Data{}, warperrors.Remote(op, city, resp.StatusCode, truncate(string(body), maxErrorBody))
	}
	return weather.Decode(city, body)
}

// redact strips the query string from URL errors so the API key never
// reaches logs.
func redact(err error) error {
	var uerr *url.Error
	if stdErrors.As(err, &uerr) {
		u := uerr.URL
		if i := strings.IndexByte(u, '?'); i >= 0 {
			u = u[:i]
		}
		return &url.Error{Op: uerr.Op, URL: u, Err: uerr.Err}
	}
	return err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
