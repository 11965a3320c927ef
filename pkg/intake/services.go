package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gantryhq/gantry/pkg/types"
)

// Properties is what the property service knows about an application in an
// environment: the configuration hash recorded for change tracking and the
// deployment parameters registered for it
type Properties struct {
	Hash       string           `json:"hash"`
	Parameters types.Parameters `json:"parameters"`
}

// ImageService resolves an AMI to its image name
type ImageService interface {
	ImageName(ctx context.Context, ami string) (string, error)
}

// PropertiesService supplies the registered deployment properties of an
// application
type PropertiesService interface {
	Properties(ctx context.Context, application, environment string) (*Properties, error)
}

// HTTPImageService queries an image registry over HTTP
type HTTPImageService struct {
	base   string
	client *http.Client
}

// NewHTTPImageService creates a client for the registry at base
func NewHTTPImageService(base string, timeout time.Duration) *HTTPImageService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPImageService{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// ImageName returns the name the registry holds for an AMI
func (s *HTTPImageService) ImageName(ctx context.Context, ami string) (string, error) {
	var doc struct {
		Image struct {
			Name string `json:"name"`
		} `json:"image"`
	}
	status, err := getJSON(ctx, s.client, fmt.Sprintf("%s/images/%s", s.base, url.PathEscape(ami)), &doc)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusNotFound:
		return "", types.NewError(types.ErrValidation, "image %s not found", ami)
	case status != http.StatusOK:
		return "", types.NewError(types.ErrHTTP, "image service answered %d for %s", status, ami)
	case doc.Image.Name == "":
		return "", types.NewError(types.ErrUnexpectedResponse, "image document for %s names no image", ami)
	}
	return doc.Image.Name, nil
}

// HTTPPropertiesService queries an application property service over HTTP
type HTTPPropertiesService struct {
	base   string
	client *http.Client
}

// NewHTTPPropertiesService creates a client for the property service at base
func NewHTTPPropertiesService(base string, timeout time.Duration) *HTTPPropertiesService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPPropertiesService{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Properties fetches the hash and parameters registered for an application.
// Applications with nothing registered deploy with none.
func (s *HTTPPropertiesService) Properties(ctx context.Context, application, environment string) (*Properties, error) {
	var doc Properties
	status, err := getJSON(ctx, s.client, fmt.Sprintf("%s/applications/%s/%s", s.base, url.PathEscape(application), url.PathEscape(environment)), &doc)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return &Properties{Parameters: types.Parameters{}}, nil
	case status != http.StatusOK:
		return nil, types.NewError(types.ErrHTTP, "property service answered %d for %s %s", status, application, environment)
	}
	if doc.Parameters == nil {
		doc.Parameters = types.Parameters{}
	}
	return &doc, nil
}

// getJSON fetches a JSON document, decoding only 200 responses. Other
// statuses are returned to the caller undecoded.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, types.WrapError(types.ErrHTTP, err, "failed to build request for %s", rawURL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, types.WrapError(types.ErrHTTP, err, "request to %s failed", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, types.WrapError(types.ErrUnexpectedResponse, err, "failed to parse response from %s", rawURL)
	}
	return resp.StatusCode, nil
}
