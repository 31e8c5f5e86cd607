// Package upload sends finished recordings to the transcription server.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/slog"
)

// DefaultTimeout bounds a single upload request.
const DefaultTimeout = 60 * time.Second

// healthTimeout bounds the health probe.
const healthTimeout = 5 * time.Second

// maxErrorBody limits how much of an error response is kept.
const maxErrorBody = 4096

var (
	// ErrEmptyFile is returned when uploading a zero length file.
	ErrEmptyFile = errors.New("audio file is empty")

	// ErrEmptyTranscript is returned when the server answers without a
	// transcript.
	ErrEmptyTranscript = errors.New("server returned no transcript")
)

// ServerError is a non-success answer from the server.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: %d - %s", e.StatusCode, e.Message)
}

// Response is the server's JSON answer to an upload.
type Response struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   *RetryConfig
	Log     slog.Logger
	// HTTPClient overrides the default client. Its timeout is left alone.
	HTTPClient *http.Client
}

// Client talks to the transcription server.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
	log     slog.Logger
}

// NewClient returns a client for the server at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		retry:   retry,
		log:     log,
	}
}

// MIMEFor returns the upload content type for path.
func MIMEFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// Health reports whether the server answers GET /health with 200.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return &ServerError{StatusCode: resp.StatusCode}
	}
	return nil
}

func multipartBody(path, mimeType string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`,
		filepath.Base(path)))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// Upload posts the file at path as the "audio" field of a multipart form to
// /upload and returns the transcript. mimeType may be empty to derive it from
// the extension.
func (c *Client) Upload(ctx context.Context, path, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = MIMEFor(path)
	}
	body, contentType, err := multipartBody(path, mimeType)
	if err != nil {
		return "", err
	}

	c.log.Infof("Uploading %s (%d bytes, %s)", path, len(body), mimeType)
	header := http.Header{"Content-Type": []string{contentType}}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/upload", body, header,
		isRetryableUploadStatus)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		srvErr := &ServerError{StatusCode: resp.StatusCode}
		var r Response
		if json.Unmarshal(raw, &r) == nil && r.Error != "" {
			srvErr.Message = r.Error
		} else {
			srvErr.Message = strings.TrimSpace(string(raw))
		}
		return "", srvErr
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("unable to decode server response: %w", err)
	}
	if r.Transcript == "" {
		return "", ErrEmptyTranscript
	}
	c.log.Debugf("Received %d byte transcript for %s", len(r.Transcript), path)
	return r.Transcript, nil
}
