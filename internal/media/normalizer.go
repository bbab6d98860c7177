// Package media turns inbound image references into data URIs a vision model can read.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds a single image fetch.
	DefaultTimeout = 12 * time.Second
	// DefaultMaxBytes is the largest image accepted, declared or actual.
	DefaultMaxBytes = 6 * 1024 * 1024
)

// Opts configures a Normalizer.
type Opts struct {
	Timeout  time.Duration
	MaxBytes int64
	// BasicAuthUser and BasicAuthPass are sent with every fetch when set
	// (Twilio media URLs require the account SID and auth token).
	BasicAuthUser string
	BasicAuthPass string
}

// Option configures a Normalizer.
type Option func(*Opts)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// WithBasicAuth sets credentials for protected media URLs.
func WithBasicAuth(user, pass string) Option {
	return func(o *Opts) {
		o.BasicAuthUser = user
		o.BasicAuthPass = pass
	}
}

// Normalizer fetches images and encodes them as data URIs.
type Normalizer struct {
	http     *resty.Client
	maxBytes int64
}

// NewNormalizer creates a Normalizer. No retries are configured: a failed fetch
// degrades the message to text-only.
func NewNormalizer(opts ...Option) *Normalizer {
	cfg := Opts{Timeout: DefaultTimeout, MaxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "image/*")
	if cfg.BasicAuthUser != "" {
		client.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass)
	}
	return &Normalizer{http: client, maxBytes: cfg.MaxBytes}
}

// Normalize returns a data URI for the image at url, or "" when the image
// cannot be fetched, is not an image, or exceeds the size ceiling. Existing
// data: URIs are returned unchanged when they are within the ceiling.
func (n *Normalizer) Normalize(ctx context.Context, url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if strings.HasPrefix(url, "data:") {
		return n.checkDataURI(url)
	}
	uri, err := n.fetch(ctx, url)
	if err != nil {
		slog.Warn("Normalizer.Normalize: image dropped", "error", err)
		return ""
	}
	return uri
}

func (n *Normalizer) fetch(ctx context.Context, url string) (string, error) {
	resp, err := n.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if declared := resp.RawResponse.ContentLength; declared > n.maxBytes {
		return "", fmt.Errorf("declared size %d exceeds limit %d", declared, n.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(body, n.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if int64(len(data)) > n.maxBytes {
		return "", fmt.Errorf("body exceeds limit %d", n.maxBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty body")
	}

	contentType := mediaType(resp.Header().Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mediaType(http.DetectContentType(data))
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("not an image: %s", contentType)
	}

	slog.Debug("Normalizer.fetch: image encoded", "contentType", contentType, "bytes", len(data))
	return EncodeDataURI(contentType, data), nil
}

// checkDataURI applies the size ceiling to an inline data URI.
func (n *Normalizer) checkDataURI(uri string) string {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 || !strings.HasSuffix(uri[:comma], ";base64") {
		slog.Warn("Normalizer.checkDataURI: malformed data URI")
		return ""
	}
	payload := uri[comma+1:]
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > n.maxBytes+2 {
		slog.Warn("Normalizer.checkDataURI: inline image too large", "encodedBytes", len(payload))
		return ""
	}
	return uri
}

// EncodeDataURI encodes data as a base64 data URI with the given content type.
func EncodeDataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
