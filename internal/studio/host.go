// Package studio talks to the hosted AI studio environment's capability
// surface. The host owns API-key selection; this process only queries
// selection state and asks the host to open its selection UI.
package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable is returned when no host environment is configured or
// reachable. Callers fall back to the process-configured credential.
var ErrUnavailable = errors.New("studio host environment not available")

// Host is the injected credential-selection capability.
type Host interface {
	// HasSelectedKey reports whether the user has selected an API key in
	// the host environment.
	HasSelectedKey(ctx context.Context) (bool, error)
	// OpenSelectKey asks the host to open its key-selection UI. The host
	// gives no synchronous confirmation that a key was actually selected.
	OpenSelectKey(ctx context.Context) error
}

// New returns an HTTP-backed host when baseURL is set, otherwise the
// Unavailable placeholder.
func New(baseURL string) Host {
	if baseURL == "" {
		return Unavailable{}
	}
	return NewHTTPHost(baseURL)
}

// Unavailable is the Host used when no studio environment is present.
type Unavailable struct{}

func (Unavailable) HasSelectedKey(context.Context) (bool, error) {
	return false, ErrUnavailable
}

func (Unavailable) OpenSelectKey(context.Context) error {
	return ErrUnavailable
}

// HTTPHost reaches the studio environment's local control endpoint.
type HTTPHost struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPHost creates a host client for the given control endpoint base URL.
func NewHTTPHost(baseURL string) *HTTPHost {
	return &HTTPHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type selectedResponse struct {
	Selected bool `json:"selected"`
}

func (h *HTTPHost) HasSelectedKey(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/keys/selected", nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sel selectedResponse
	if err := json.NewDecoder(resp.Body).Decode(&sel); err != nil {
		return false, fmt.Errorf("decoding selection state: %w", err)
	}
	return sel.Selected, nil
}

func (h *HTTPHost) OpenSelectKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/keys/select", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("opening key selection: status %d", resp.StatusCode)
	}
	return nil
}
