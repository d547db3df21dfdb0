package plugin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"simmgate-aigateway/internal/httpclient"
)

const maxArtifactSize = 64 << 20 // 64MB per generated image/audio

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Body)
}

// HTTPBackend is a small JSON-over-HTTP client for self-hosted generation servers.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPBackend(baseURL string, client *http.Client) HTTPBackend {
	if client == nil {
		client = httpclient.New(httpclient.Pool{})
	}
	return HTTPBackend{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// PostJSON sends body as JSON and decodes a 200 answer into out.
func (b HTTPBackend) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.doJSON(req, out)
}

// GetJSON decodes a 200 answer into out.
func (b HTTPBackend) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build HTTP request: %w", err)
	}
	return b.doJSON(req, out)
}

// GetBytes downloads a generated artifact.
func (b HTTPBackend) GetBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build HTTP request: %w", err)
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("artifact larger than %d bytes", maxArtifactSize)
	}
	return data, nil
}

func (b HTTPBackend) doJSON(req *http.Request, out any) error {
	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyCallError turns a transport error into a Timeout or BackendError result.
// what names the provider in the message, e.g. "Flux API".
func ClassifyCallError(what string, err error) *Error {
	if IsTimeout(err) {
		return TimeoutError("%s timeout", what)
	}
	var se *StatusError
	if errors.As(err, &se) {
		return BackendError(TypeAPIError, "%s error: %d", what, se.StatusCode)
	}
	return BackendError(TypeAPIError, "%s error: %v", what, err)
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// DataURL renders an artifact the way clients embed it.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
