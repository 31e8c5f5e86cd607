package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"loopmix/internal/testutils"
)

func testClient(t *testing.T, url string) *Client {
	return NewClient(Config{
		BaseURL: url + "/",
		Retry: &RetryConfig{
			MaxRetries:    2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		},
		Log: testutils.TestLoggerSys(t, "UPLD"),
	})
}

func writeAudio(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUpload(t *testing.T) {
	var gotMIME, gotName string
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotData, _ = io.ReadAll(f)
		gotName = hdr.Filename
		gotMIME = hdr.Header.Get("Content-Type")
		json.NewEncoder(w).Encode(Response{Transcript: "olá mundo"})
	}))
	defer srv.Close()

	path := writeAudio(t, "rec.mp3", []byte("ID3fake"))
	transcript, err := testClient(t, srv.URL).Upload(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if transcript != "olá mundo" {
		t.Fatalf("unexpected transcript %q", transcript)
	}
	if gotMIME != "audio/mpeg" || gotName != "rec.mp3" || string(gotData) != "ID3fake" {
		t.Fatalf("unexpected upload %q %q %q", gotMIME, gotName, gotData)
	}
}

func TestUploadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Response{Error: "unsupported format"})
	}))
	defer srv.Close()

	path := writeAudio(t, "rec.wav", []byte("RIFF"))
	_, err := testClient(t, srv.URL).Upload(context.Background(), path, "")
	var srvErr *ServerError
	if !errors.As(err, &srvErr) {
		t.Fatalf("unexpected error %v", err)
	}
	if srvErr.StatusCode != http.StatusBadRequest || srvErr.Message != "unsupported format" {
		t.Fatalf("unexpected server error %+v", srvErr)
	}
}

func TestUploadRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Transcript: "third time"})
	}))
	defer srv.Close()

	path := writeAudio(t, "rec.wav", []byte("RIFF"))
	transcript, err := testClient(t, srv.URL).Upload(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if transcript != "third time" || calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", transcript, calls.Load())
	}
}

func TestUploadRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	path := writeAudio(t, "rec.wav", []byte("RIFF"))
	_, err := testClient(t, srv.URL).Upload(context.Background(), path, "")
	var retryErr *RetryableStatusError
	if !errors.As(err, &retryErr) || retryErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("unexpected number of calls %d", calls.Load())
	}
}

func TestUploadEmptyFile(t *testing.T) {
	path := writeAudio(t, "rec.wav", nil)
	_, err := testClient(t, "http://127.0.0.1:1").Upload(context.Background(), path, "")
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestUploadEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	path := writeAudio(t, "rec.wav", []byte("RIFF"))
	if _, err := testClient(t, srv.URL).Upload(context.Background(), path, ""); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	healthy.Store(false)
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy server error")
	}
}

func TestMIMEFor(t *testing.T) {
	if MIMEFor("a/b.MP3") != "audio/mpeg" || MIMEFor("x.wav") != "audio/wav" || MIMEFor("x") != "audio/wav" {
		t.Fatal("unexpected MIME types")
	}
}

func TestUploadNotRetriedOnInternalError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(Response{Error: "transcription failed"})
	}))
	defer srv.Close()

	path := writeAudio(t, "rec.wav", []byte("RIFF"))
	_, err := testClient(t, srv.URL).Upload(context.Background(), path, "")
	var srvErr *ServerError
	if !errors.As(err, &srvErr) || srvErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected error %v", err)
	}
	if srvErr.Message != "transcription failed" {
		t.Fatalf("unexpected message %q", srvErr.Message)
	}
	if calls.Load() != 1 {
		t.Fatalf("upload sent %d times", calls.Load())
	}
}

func TestRetryableUploadStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadRequest, false},
		{http.StatusOK, false},
	}
	for _, tc := range tests {
		if got := isRetryableUploadStatus(tc.code); got != tc.want {
			t.Errorf("status %d: got %v, want %v", tc.code, got, tc.want)
		}
	}
}
