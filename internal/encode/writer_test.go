package encode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loopmix/internal/audio"
	"loopmix/internal/execx"
	"loopmix/internal/testutils"
	"loopmix/internal/wav"
)

// copyCompressor "compresses" by copying the source file.
type copyCompressor struct {
	available bool
	fail      error
	empty     bool
	calls     int
}

func (c *copyCompressor) Name() string      { return "copy" }
func (c *copyCompressor) Extension() string { return ".mp3" }
func (c *copyCompressor) MIME() string      { return "audio/mpeg" }
func (c *copyCompressor) Available() bool   { return c.available }

func (c *copyCompressor) Transcode(_ context.Context, src, dst string) error {
	c.calls++
	if c.fail != nil {
		// Leave a partial file behind, as a crashing encoder would.
		os.WriteFile(dst, []byte("partial"), 0o644)
		return c.fail
	}
	if c.empty {
		return os.WriteFile(dst, nil, 0o644)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

var _ execx.Compressor = (*copyCompressor)(nil)

func testBuffer(frames int, v float32) *audio.SampleBuffer {
	b := audio.NewSampleBuffer(44100, 2, frames)
	for i := 0; i < frames*2; i++ {
		b.Samples = append(b.Samples, v)
	}
	return b
}

func TestWriteCompressed(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: true}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))

	res, err := w.Write(context.Background(), testBuffer(44100, 0.5), filepath.Join(dir, "rec.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != filepath.Join(dir, "rec.mp3") || res.Format != FormatMP3 || res.MIME != "audio/mpeg" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
	if res.SizeBytes == 0 || res.Duration != time.Second {
		t.Fatalf("unexpected size/duration %d %s", res.SizeBytes, res.Duration)
	}
	if _, err := os.Stat(filepath.Join(dir, "rec.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("intermediate not removed: %v", err)
	}
}

func TestWriteFallbackUnavailable(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: false}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))

	res, err := w.Write(context.Background(), testBuffer(4410, 0.1), filepath.Join(dir, "rec.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != filepath.Join(dir, "rec.wav") || res.Format != FormatWAV || res.MIME != "audio/wav" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != audio.EncodeFallback {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
	if c.calls != 0 {
		t.Fatal("unavailable compressor was invoked")
	}
}

func TestWriteFallbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: true, fail: errors.New("encoder crashed")}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))

	res, err := w.Write(context.Background(), testBuffer(4410, 0.1), filepath.Join(dir, "rec.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Format != FormatWAV || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "rec.mp3")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output not removed: %v", err)
	}
}

func TestWriteWithoutCompressor(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, testutils.TestLoggerSys(t, "ENCD"))
	res, err := w.Write(context.Background(), testBuffer(100, 0.1), filepath.Join(dir, "sub", "rec.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Format != FormatWAV || len(res.Warnings) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestWriteExplicitWAV(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: true}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))
	res, err := w.Write(context.Background(), testBuffer(100, 0.1), filepath.Join(dir, "rec.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Format != FormatWAV || c.calls != 0 || len(res.Warnings) != 0 {
		t.Fatalf("unexpected result %+v (calls %d)", res, c.calls)
	}
}

func TestWriteVerificationFailure(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: true, empty: true}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))
	_, err := w.Write(context.Background(), testBuffer(100, 0.1), filepath.Join(dir, "rec.mp3"))
	if !errors.Is(err, audio.ErrWriteVerificationFailed) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, testutils.TestLoggerSys(t, "ENCD"))

	// Peak of 2 gets normalized down to unity.
	buf := testBuffer(22050, 2)
	res, err := w.Write(context.Background(), buf, filepath.Join(dir, "rt.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Gain != 0.5 {
		t.Fatalf("unexpected gain %v", res.Gain)
	}

	pcm, info, err := wav.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 || info.Frames != 22050 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Duration != 500*time.Millisecond {
		t.Fatalf("unexpected duration %s", info.Duration)
	}
	for i, s := range pcm {
		if s != 32767 {
			t.Fatalf("sample %d: %d", i, s)
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	w := NewWriter(nil, testutils.TestLoggerSys(t, "ENCD"))
	_, err := w.Write(context.Background(), audio.NewSampleBuffer(44100, 2, 0),
		filepath.Join(t.TempDir(), "x.mp3"))
	if !errors.Is(err, audio.ErrNoAudioCaptured) {
		t.Fatalf("unexpected error %v", err)
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteUppercaseWAVKeepsPath(t *testing.T) {
	dir := t.TempDir()
	c := &copyCompressor{available: true}
	w := NewWriter(c, testutils.TestLoggerSys(t, "ENCD"))
	path := filepath.Join(dir, "REC.WAV")
	res, err := w.Write(context.Background(), testBuffer(100, 0.1), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != path || res.Format != FormatWAV || c.calls != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if names := dirEntries(t, dir); len(names) != 1 || names[0] != "REC.WAV" {
		t.Fatalf("unexpected files %v", names)
	}
}

func TestWriteKeepsExistingWAV(t *testing.T) {
	userData := []byte("user recording")
	tests := []struct {
		name     string
		c        execx.Compressor
		wantPath string
	}{
		{"compressed", &copyCompressor{available: true}, "rec.mp3"},
		{"unavailable", &copyCompressor{available: false}, "rec-1.wav"},
		{"failed", &copyCompressor{available: true, fail: errors.New("boom")}, "rec-1.wav"},
		{"no compressor", nil, "rec-1.wav"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			existing := filepath.Join(dir, "rec.wav")
			if err := os.WriteFile(existing, userData, 0o644); err != nil {
				t.Fatal(err)
			}

			w := NewWriter(tc.c, testutils.TestLoggerSys(t, "ENCD"))
			res, err := w.Write(context.Background(), testBuffer(100, 0.1), filepath.Join(dir, "rec.mp3"))
			if err != nil {
				t.Fatal(err)
			}
			if res.Path != filepath.Join(dir, tc.wantPath) {
				t.Fatalf("unexpected path %s, want %s", res.Path, tc.wantPath)
			}
			got, err := os.ReadFile(existing)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(userData) {
				t.Fatal("existing file was overwritten")
			}
			names := dirEntries(t, dir)
			if len(names) != 2 {
				t.Fatalf("unexpected files %v", names)
			}
		})
	}
}

func TestWriteRemovesIntermediate(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(&copyCompressor{available: true}, testutils.TestLoggerSys(t, "ENCD"))
	if _, err := w.Write(context.Background(), testBuffer(100, 0.1), filepath.Join(dir, "rec.mp3")); err != nil {
		t.Fatal(err)
	}
	if names := dirEntries(t, dir); len(names) != 1 || names[0] != "rec.mp3" {
		t.Fatalf("unexpected files %v", names)
	}
}
