package wav

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitsPerSample is the only sample depth written.
const BitsPerSample = 16

// pcmFormat is the WAVE format tag for integer PCM.
const pcmFormat = 1

// Writer writes a 16 bit PCM WAV file. Call Close to finalize the RIFF
// header sizes.
type Writer struct {
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	scratch []int
	frames  int
	closed  bool
}

// NewWriter creates path and prepares it for PCM S16LE frames.
func NewWriter(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format %d Hz / %d channels", sampleRate, channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, BitsPerSample, channels, pcmFormat),
		format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}, nil
}

// WriteSamples appends interleaved samples to the file.
func (w *Writer) WriteSamples(pcm []int16) error {
	if w.closed {
		return os.ErrClosed
	}
	if cap(w.scratch) < len(pcm) {
		w.scratch = make([]int, len(pcm))
	}
	data := w.scratch[:len(pcm)]
	for i, s := range pcm {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         w.format,
		Data:           data,
		SourceBitDepth: BitsPerSample,
	}
	if err := w.enc.Write(buf); err != nil {
		return err
	}
	w.frames += len(pcm) / w.format.NumChannels
	return nil
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int { return w.frames }

// Close updates the RIFF header sizes and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// writeChunkFrames bounds the conversion buffer used by WriteFile.
const writeChunkFrames = 1 << 16

// WriteFile writes pcm as a complete WAV file at path.
func WriteFile(path string, pcm []int16, sampleRate, channels int) error {
	w, err := NewWriter(path, sampleRate, channels)
	if err != nil {
		return err
	}
	chunk := writeChunkFrames * channels
	for len(pcm) > 0 {
		n := min(chunk, len(pcm))
		if err := w.WriteSamples(pcm[:n]); err != nil {
			w.Close()
			return err
		}
		pcm = pcm[n:]
	}
	return w.Close()
}

// ErrInvalidFile is returned for files that are not PCM WAV.
var ErrInvalidFile = errors.New("not a valid wav file")
