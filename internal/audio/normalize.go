package audio

import "math"

// Peak returns the largest absolute sample value in b.
func Peak(b *SampleBuffer) float32 {
	if b == nil {
		return 0
	}
	var peak float32
	for _, s := range b.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Normalize scales b in place so its peak magnitude is exactly 1 when that
// peak exceeds 1. Buffers already within unity, including silent ones, are
// left untouched. It returns the applied gain.
func Normalize(b *SampleBuffer) float32 {
	peak := Peak(b)
	if peak <= 1 {
		return 1
	}
	gain := 1 / peak
	for i, s := range b.Samples {
		switch {
		case s == peak:
			b.Samples[i] = 1
		case s == -peak:
			b.Samples[i] = -1
		default:
			b.Samples[i] = s * gain
		}
	}
	return gain
}

// Quantize converts samples to signed 16 bit PCM using round(s * 32767).
// Out of range input is clamped.
func Quantize(b *SampleBuffer) []int16 {
	if b == nil {
		return nil
	}
	res := make([]int16, len(b.Samples))
	for i, s := range b.Samples {
		v := math.Round(float64(s) * math.MaxInt16)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < -math.MaxInt16:
			v = -math.MaxInt16
		}
		res[i] = int16(v)
	}
	return res
}
