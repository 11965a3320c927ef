package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/intake"
	"github.com/gantryhq/gantry/pkg/types"
)

// Client talks to a Gantry server over its HTTP API.
type Client struct {
	base string
	http *http.Client

	// stream carries no client timeout; /events connections stay open until
	// the caller's context ends
	stream *http.Client
}

// Status is the server's identity document.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// New creates a client for the server at baseURL, e.g. "http://gantry:8080".
func New(baseURL string) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{},
	}
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapError(types.ErrHTTP, err, "failed to reach %s", c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}
	return nil
}

// Status returns the server's name, version and health.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.get(ctx, "/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Deploy submits a deployment request and returns the new deployment's id.
// The application field of the request selects the URL; refusals come back
// as typed errors carrying the server's error kind.
func (c *Client) Deploy(ctx context.Context, req intake.Request) (string, error) {
	if strings.TrimSpace(req.Application) == "" {
		return "", types.NewError(types.ErrValidation, "missing required fields: application")
	}
	var accepted struct {
		ID string `json:"id"`
	}
	path := "/" + url.PathEscape(req.Application) + "/deploy"
	if err := c.post(ctx, path, req, &accepted); err != nil {
		return "", err
	}
	return accepted.ID, nil
}

// Deployment fetches one deployment document by id.
func (c *Client) Deployment(ctx context.Context, id string) (*types.Deployment, error) {
	var d types.Deployment
	if err := c.get(ctx, "/deployments/"+url.PathEscape(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Deployments lists every stored deployment, newest first.
func (c *Client) Deployments(ctx context.Context) ([]*types.Deployment, error) {
	return c.listDeployments(ctx, nil)
}

// DeploymentsByApplication lists the stored deployments of one application.
func (c *Client) DeploymentsByApplication(ctx context.Context, application string) ([]*types.Deployment, error) {
	return c.listDeployments(ctx, url.Values{"application": {application}})
}

// IncompleteDeployments lists deployments that still have unfinished tasks.
func (c *Client) IncompleteDeployments(ctx context.Context) ([]*types.Deployment, error) {
	return c.listDeployments(ctx, url.Values{"filter": {"incomplete"}})
}

// BrokenDeployments lists incomplete deployments no worker is driving.
func (c *Client) BrokenDeployments(ctx context.Context) ([]*types.Deployment, error) {
	return c.listDeployments(ctx, url.Values{"filter": {"broken"}})
}

func (c *Client) listDeployments(ctx context.Context, query url.Values) ([]*types.Deployment, error) {
	path := "/deployments"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var list []*types.Deployment
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RequestPause asks the server to pause the target's running deployment at
// its next task boundary. False means a pause was already requested.
func (c *Client) RequestPause(ctx context.Context, application, environment, region string) (bool, error) {
	return c.requestVerb(ctx, application, environment, region, "pause")
}

// RequestCancel asks the server to cancel the target's running deployment at
// its next task boundary. False means a cancel was already requested.
func (c *Client) RequestCancel(ctx context.Context, application, environment, region string) (bool, error) {
	return c.requestVerb(ctx, application, environment, region, "cancel")
}

func (c *Client) requestVerb(ctx context.Context, application, environment, region, verb string) (bool, error) {
	path := fmt.Sprintf("/%s/%s/%s/%s",
		url.PathEscape(application), url.PathEscape(environment), url.PathEscape(region), verb)
	var requested struct {
		Requested bool `json:"requested"`
	}
	if err := c.post(ctx, path, nil, &requested); err != nil {
		return false, err
	}
	return requested.Requested, nil
}

// RequestResume asks the server to restart the target's paused deployment
// from its first incomplete task.
func (c *Client) RequestResume(ctx context.Context, application, environment, region string) error {
	path := fmt.Sprintf("/%s/%s/%s/resume",
		url.PathEscape(application), url.PathEscape(environment), url.PathEscape(region))
	return c.post(ctx, path, nil, nil)
}

// Locked reports whether the global deployment lock is held.
func (c *Client) Locked(ctx context.Context) (bool, error) {
	var lock struct {
		Locked bool `json:"locked"`
	}
	if err := c.get(ctx, "/lock", &lock); err != nil {
		return false, err
	}
	return lock.Locked, nil
}

// Lock takes the global deployment lock; new deployments are refused until
// it is released.
func (c *Client) Lock(ctx context.Context) error {
	return c.post(ctx, "/lock", nil, nil)
}

// Unlock releases the global deployment lock.
func (c *Client) Unlock(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/lock", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapError(types.ErrHTTP, err, "failed to reach %s", c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp)
	}
	return nil
}

// Watch subscribes to the server's event stream and invokes fn for every
// event until ctx ends or the server closes the stream. Cancelling ctx is
// the normal way to stop watching and returns nil.
func (c *Client) Watch(ctx context.Context, fn func(*events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return types.WrapError(types.ErrHTTP, err, "failed to open event stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		// heartbeats arrive as comment lines, payloads as data lines
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return types.WrapError(types.ErrUnexpectedResponse, err, "malformed event on stream")
		}
		fn(&event)
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return types.WrapError(types.ErrHTTP, err, "event stream interrupted")
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapError(types.ErrHTTP, err, "failed to reach %s", c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.WrapError(types.ErrUnexpectedResponse, err, "failed to decode response from %s", req.URL.Path)
	}
	return nil
}

// decodeError rebuilds the server's typed error so callers can switch on
// the kind exactly as server-side code does. Refusals without a kind stay
// plain errors; only transport failures look transient to types.Transient.
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var failure struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(body, &failure); err == nil && failure.Error != "" {
		if failure.Kind != "" {
			return types.NewError(types.ErrorKind(failure.Kind), "%s", failure.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, failure.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
