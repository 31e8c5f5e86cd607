package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SampleBuffer holds interleaved float32 frames at a fixed rate and layout.
type SampleBuffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// NewSampleBuffer returns an empty buffer with room for capFrames frames.
func NewSampleBuffer(sampleRate, channels, capFrames int) *SampleBuffer {
	return &SampleBuffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]float32, 0, capFrames*channels),
	}
}

// Frames returns the number of complete frames in the buffer.
func (b *SampleBuffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Empty reports whether the buffer holds no frames. A nil buffer is empty.
func (b *SampleBuffer) Empty() bool {
	return b.Frames() == 0
}

// Duration returns the buffer's playback length.
func (b *SampleBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Clone returns a deep copy of the buffer.
func (b *SampleBuffer) Clone() *SampleBuffer {
	if b == nil {
		return nil
	}
	return &SampleBuffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Samples:    append([]float32(nil), b.Samples...),
	}
}

// rawSampleSize is the byte size of one FormatF32 sample.
const rawSampleSize = 4

// decodeF32LE decodes little endian float32 samples from src into dst
// without allocating. It returns the number of samples written.
func decodeF32LE(src []byte, dst []float32) int {
	n := len(src) / rawSampleSize
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*rawSampleSize:]))
	}
	return n
}
