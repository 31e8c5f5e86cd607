package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned by compressors whose binary is not installed.
var ErrUnavailable = errors.New("compressor not available")

// Compressor transcodes a WAV file into a compressed format using an
// external encoder binary.
type Compressor interface {
	Name() string
	// Extension is the target file extension, including the dot.
	Extension() string
	// MIME is the content type of the compressed output.
	MIME() string
	// Available reports whether the encoder can be run on this host.
	Available() bool
	Transcode(ctx context.Context, src, dst string) error
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// BuildFFmpegArgs builds arguments for an ffmpeg MP3 transcode.
func BuildFFmpegArgs(src, dst string, bitrateKbps int) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		dst,
	}
}

// BuildLameArgs builds arguments for a lame MP3 transcode.
func BuildLameArgs(src, dst string, bitrateKbps int) []string {
	return []string{"--quiet", "-b", fmt.Sprintf("%d", bitrateKbps), src, dst}
}

// binaryCompressor runs a binary found on PATH.
type binaryCompressor struct {
	name      string
	bin       string
	bitrate   int
	buildArgs func(src, dst string, bitrateKbps int) []string
}

func (c *binaryCompressor) Name() string      { return c.name }
func (c *binaryCompressor) Extension() string { return ".mp3" }
func (c *binaryCompressor) MIME() string      { return "audio/mpeg" }

func (c *binaryCompressor) Available() bool {
	_, err := lookPath(c.bin)
	return err == nil
}

// Transcode runs the encoder. Output it writes to stderr is included in the
// returned error.
func (c *binaryCompressor) Transcode(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source missing: %w", err)
	}
	binPath, err := lookPath(c.bin)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}

	args := c.buildArgs(src, dst, c.bitrate)
	cmd := exec.CommandContext(ctx, binPath, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderrBuf.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", c.name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", c.name, err)
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%s produced no output at %s", c.name, dst)
	}
	return nil
}

// NewFFmpeg returns a compressor that runs ffmpeg.
func NewFFmpeg(bitrateKbps int) Compressor {
	return &binaryCompressor{name: "ffmpeg", bin: "ffmpeg", bitrate: bitrateKbps,
		buildArgs: BuildFFmpegArgs}
}

// NewLame returns a compressor that runs lame.
func NewLame(bitrateKbps int) Compressor {
	return &binaryCompressor{name: "lame", bin: "lame", bitrate: bitrateKbps,
		buildArgs: BuildLameArgs}
}

// unavailable stands in when no encoder was found.
type unavailable struct{ reason string }

// Unavailable returns a compressor that is never available.
func Unavailable(reason string) Compressor { return unavailable{reason: reason} }

func (u unavailable) Name() string      { return "none" }
func (u unavailable) Extension() string { return ".mp3" }
func (u unavailable) MIME() string      { return "audio/mpeg" }
func (u unavailable) Available() bool   { return false }
func (u unavailable) Transcode(context.Context, string, string) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, u.reason)
}

// DefaultBitrateKbps is the MP3 bitrate used when none is configured.
const DefaultBitrateKbps = 128

// Detect returns the compressor for pref, which is one of "auto", "ffmpeg",
// "lame" or "none". auto picks the first installed of ffmpeg and lame. A nil
// Compressor with a nil error means output stays uncompressed by choice.
func Detect(pref string, bitrateKbps int) (Compressor, error) {
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultBitrateKbps
	}
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "", "auto":
		for _, c := range []Compressor{NewFFmpeg(bitrateKbps), NewLame(bitrateKbps)} {
			if c.Available() {
				return c, nil
			}
		}
		return Unavailable("neither ffmpeg nor lame found in PATH"), nil
	case "ffmpeg":
		return NewFFmpeg(bitrateKbps), nil
	case "lame":
		return NewLame(bitrateKbps), nil
	case "none", "wav":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown compressor %q (want auto, ffmpeg, lame or none)", pref)
}
