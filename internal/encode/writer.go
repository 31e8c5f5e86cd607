// Package encode persists mixed sample buffers as audio files.
package encode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/slog"

	"loopmix/internal/audio"
	"loopmix/internal/execx"
	"loopmix/internal/wav"
)

// Format names the container of a written artifact.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

const (
	wavExt  = ".wav"
	wavMIME = "audio/wav"
)

// Result describes a written file.
type Result struct {
	Path      string
	Format    Format
	MIME      string
	SizeBytes int64
	Duration  time.Duration
	Gain      float32
	Warnings  []audio.Warning
}

// Writer normalizes, quantizes and writes buffers, compressing them when a
// compressor is available.
type Writer struct {
	compressor execx.Compressor
	log        slog.Logger
}

// NewWriter returns a writer using c. A nil c writes uncompressed WAV files.
func NewWriter(c execx.Compressor, log slog.Logger) *Writer {
	return &Writer{compressor: c, log: log}
}

// Compressor returns the configured compressor, which may be nil.
func (w *Writer) Compressor() execx.Compressor { return w.compressor }

// Write persists buf at path. buf is normalized in place.
//
// A path ending in .wav (any case) is written as is and never compressed.
// Otherwise the WAV intermediate goes to a temporary file next to path and
// is removed once the compressor succeeds. When the compressor is missing,
// unavailable or fails, the WAV file is kept under path's name with a .wav
// extension, never replacing an existing file, and an EncodeFallback
// warning is attached when a compressor was expected.
func (w *Writer) Write(ctx context.Context, buf *audio.SampleBuffer, path string) (Result, error) {
	if buf.Empty() {
		return Result{}, audio.ErrNoAudioCaptured
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}

	gain := audio.Normalize(buf)
	if gain != 1 {
		w.log.Debugf("Normalized %s with gain %.4f", path, gain)
	}
	pcm := audio.Quantize(buf)

	base := strings.TrimSuffix(path, filepath.Ext(path))
	explicitWAV := strings.EqualFold(filepath.Ext(path), wavExt)
	compress := !explicitWAV && w.compressor != nil && w.compressor.Available()

	var wavPath string
	switch {
	case explicitWAV:
		wavPath = path
	case compress:
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(base)+"-*"+wavExt)
		if err != nil {
			return Result{}, fmt.Errorf("create wav intermediate: %w", err)
		}
		tmp.Close()
		wavPath = tmp.Name()
	default:
		wavPath = freePath(base + wavExt)
	}
	if err := wav.WriteFile(wavPath, pcm, buf.SampleRate, buf.Channels); err != nil {
		os.Remove(wavPath)
		return Result{}, fmt.Errorf("write wav intermediate: %w", err)
	}

	res := Result{
		Path:     wavPath,
		Format:   FormatWAV,
		MIME:     wavMIME,
		Duration: buf.Duration(),
		Gain:     gain,
	}

	switch {
	case explicitWAV || w.compressor == nil:
		// Uncompressed by choice.

	case !compress:
		res.Warnings = append(res.Warnings, audio.Warning{
			Kind:   audio.EncodeFallback,
			Reason: fmt.Sprintf("%s compressor unavailable; kept uncompressed file", w.compressor.Name()),
		})
		w.log.Warnf("Compressor %s unavailable, keeping %s", w.compressor.Name(), wavPath)

	default:
		dst := path
		if !strings.EqualFold(filepath.Ext(path), w.compressor.Extension()) {
			dst = base + w.compressor.Extension()
		}
		err := w.compressor.Transcode(ctx, wavPath, dst)
		if err != nil {
			os.Remove(dst)
			keep := freePath(base + wavExt)
			if rerr := os.Rename(wavPath, keep); rerr != nil {
				os.Remove(wavPath)
				return Result{}, fmt.Errorf("keep wav intermediate after %v: %w", err, rerr)
			}
			res.Path = keep
			res.Warnings = append(res.Warnings, audio.Warning{
				Kind:   audio.EncodeFallback,
				Reason: err.Error(),
			})
			w.log.Warnf("Compression to %s failed, keeping uncompressed %s: %v", dst, keep, err)
			break
		}
		if err := os.Remove(wavPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.log.Warnf("Unable to remove intermediate %s: %v", wavPath, err)
		}
		res.Path = dst
		res.Format = Format(strings.TrimPrefix(w.compressor.Extension(), "."))
		res.MIME = w.compressor.MIME()
	}

	size, err := verify(res.Path)
	if err != nil {
		return Result{}, err
	}
	res.SizeBytes = size
	w.log.Infof("Wrote %s (%s, %d bytes, %s)", res.Path, res.Format, res.SizeBytes,
		res.Duration.Round(time.Millisecond))
	return res, nil
}

// freePath returns p, or p with a numeric suffix when p already exists.
func freePath(p string) string {
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(cand); errors.Is(err, os.ErrNotExist) {
			return cand
		}
	}
}

// verify checks path exists and is not empty.
func verify(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audio.ErrWriteVerificationFailed, err)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", audio.ErrWriteVerificationFailed, path)
	}
	return fi.Size(), nil
}
