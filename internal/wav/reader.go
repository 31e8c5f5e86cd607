package wav

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a WAV file's format and length.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Frames        int
	Duration      time.Duration
}

func decoderInfo(d *wav.Decoder) (Info, error) {
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Info{}, err
	}
	if !d.IsValidFile() {
		return Info{}, ErrInvalidFile
	}
	info := Info{
		SampleRate:    int(d.SampleRate),
		Channels:      int(d.NumChans),
		BitsPerSample: int(d.BitDepth),
	}
	if info.Channels == 0 || info.BitsPerSample == 0 || info.SampleRate == 0 {
		return Info{}, ErrInvalidFile
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, err
	}
	bytesPerFrame := info.Channels * info.BitsPerSample / 8
	info.Frames = int(d.PCMLen()) / bytesPerFrame
	info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	return info, nil
}

// ReadInfo returns the format and length of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	info, err := decoderInfo(wav.NewDecoder(f))
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}

// ReadFile decodes the 16 bit WAV file at path into interleaved samples.
func ReadFile(path string) ([]int16, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	info, err := decoderInfo(d)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%s: %w", path, err)
	}
	if info.BitsPerSample != BitsPerSample {
		return nil, Info{}, fmt.Errorf("%s: only 16-bit PCM supported, got %d",
			path, info.BitsPerSample)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Info{}, fmt.Errorf("%s: %w", path, err)
	}
	pcm := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		pcm[i] = int16(s)
	}
	return pcm, info, nil
}
