package asg

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/types"
)

// Config holds remote service endpoints and timeouts
type Config struct {
	// BaseURL is the default service root
	BaseURL string

	// EnvironmentURLs override BaseURL per environment
	EnvironmentURLs map[string]string

	// ConnectTimeout bounds dialing; Timeout bounds the whole exchange
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Client drives the remote ASG management service. The service signals
// success on mutating calls with a 302 whose Location identifies the created
// resource or the task performing the work, so the client never follows
// redirects and never turns a non-2xx into a transport error; operations
// inspect status and headers themselves.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log.WithComponent("asg"),
	}
}

// baseFor returns the service root for an environment
func (c *Client) baseFor(environment string) string {
	if u, ok := c.cfg.EnvironmentURLs[environment]; ok {
		return strings.TrimRight(u, "/")
	}
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

// response carries status, headers and body back to the operation layer
type response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Location returns the redirect target, "" when absent
func (r *response) Location() string {
	return r.Headers.Get("Location")
}

func (c *Client) get(ctx context.Context, rawURL string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrHTTP, err, "failed to build request for %s", rawURL)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.WrapError(types.ErrHTTP, err, "failed to build request for %s", rawURL)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.WrapError(types.ErrHTTP, err, "failed to reach %s", req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapError(types.ErrHTTP, err, "failed to read response from %s", req.URL)
	}

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).
		Int("status", resp.StatusCode).Msg("Remote call")

	return &response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// snippet truncates a body for diagnostic messages
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
