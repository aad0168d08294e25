// Package transport moves a prepared session pair to the session service.
// Two transports exist: a single multipart request for ordinary sizes, and
// a sequential chunked protocol for large files. Callers pick one; both
// return the same result shape.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
)

// Header names shared with the session service.
const (
	HeaderCSRFToken = "X-CSRF-Token"
	HeaderDevUser   = "X-Dev-User"
)

// Config carries the endpoint and the transfer limits.
type Config struct {
	BaseURL         string
	ChunkSize       int64
	StandardTimeout time.Duration
	ChunkTimeout    time.Duration
	CSRFToken       string
	DevUser         string
	HTTPClient      *http.Client
}

// DefaultConfig returns the shipped transfer limits for the given endpoint.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:         baseURL,
		ChunkSize:       5 * 1024 * 1024,
		StandardTimeout: time.Hour,
		ChunkTimeout:    10 * time.Minute,
	}
}

func (c *Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Config) sessionURL(sessionID, action string) string {
	return fmt.Sprintf("%s/api/v1/sessions/%s/%s", strings.TrimRight(c.BaseURL, "/"), sessionID, action)
}

// Upload is one file of the pair, prepared for sending.
type Upload struct {
	Role          models.FileRole
	Source        models.FileSource
	SanitizedName string
	Fingerprint   models.ContentFingerprint
	Validation    *validate.Result
}

// Pair groups the two files of one session upload.
type Pair struct {
	SessionID string
	CAR       Upload
	Receipt   Upload
}

// uploads returns the pair in wire order.
func (p Pair) uploads() []Upload {
	return []Upload{p.CAR, p.Receipt}
}

// ProgressFunc receives per-file upload fractions in [0,1].
type ProgressFunc func(role models.FileRole, fraction float64)

// Transport sends a prepared pair and returns the service's answer.
type Transport interface {
	Send(ctx context.Context, pair Pair, opts models.ProcessingOptions, progress ProgressFunc) (*models.UploadResult, error)
}

// newRequest builds a request carrying the shared headers.
func newRequest(ctx context.Context, cfg *Config, url, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if cfg.CSRFToken != "" {
		req.Header.Set(HeaderCSRFToken, cfg.CSRFToken)
	}
	if cfg.DevUser != "" {
		req.Header.Set(HeaderDevUser, cfg.DevUser)
	}
	return req, nil
}

// classifySendError distinguishes timeouts and aborts from plain transport
// failures; all of them are network-category.
func classifySendError(err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Network("request timed out", err).WithTimeout(timeout)
	case errors.Is(err, context.Canceled):
		return errs.Network("request aborted", err)
	default:
		return errs.Network("request failed", err)
	}
}

// decodeResult turns a response into an UploadResult. Rejections and
// unreadable bodies are upload-category errors carrying the HTTP status.
func decodeResult(resp *http.Response) (*models.UploadResult, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.Upload(
			fmt.Sprintf("server rejected the upload: %s", strings.TrimSpace(string(snippet))), nil,
		).WithStatus(resp.StatusCode)
	}

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Upload("unreadable server response", err).WithStatus(resp.StatusCode)
	}
	return &result, nil
}
