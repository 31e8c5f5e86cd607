package audio

import (
	"fmt"
	"math"
)

// ValidateMixRatio returns ErrInvalidMixRatio unless ratio is within [0, 1].
func ValidateMixRatio(ratio float64) error {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidMixRatio, ratio)
	}
	return nil
}

// Mix combines the session buffers according to mode. ratio weights the
// system source; the microphone gets 1-ratio. In Both mode an empty source is
// dropped and reported as a PartialSourceDegraded warning, and the result is
// truncated to the shorter of the two sources.
//
// Mix doesn't modify its inputs.
func Mix(mode Mode, system, mic *SampleBuffer, ratio float64) (*SampleBuffer, []Warning, error) {
	if err := ValidateMixRatio(ratio); err != nil {
		return nil, nil, err
	}

	switch mode {
	case SystemOnly:
		if system.Empty() {
			return nil, nil, ErrNoAudioCaptured
		}
		return system, nil, nil

	case MicrophoneOnly:
		if mic.Empty() {
			return nil, nil, ErrNoAudioCaptured
		}
		return mic, nil, nil

	case Both:
	default:
		return nil, nil, fmt.Errorf("unknown recording mode %d", mode)
	}

	switch {
	case system.Empty() && mic.Empty():
		return nil, nil, ErrNoAudioCaptured
	case system.Empty():
		return mic, []Warning{{
			Kind:   PartialSourceDegraded,
			Source: "system",
			Reason: "system source captured no audio; using microphone only",
		}}, nil
	case mic.Empty():
		return system, []Warning{{
			Kind:   PartialSourceDegraded,
			Source: "mic",
			Reason: "microphone captured no audio; using system only",
		}}, nil
	}

	if system.Channels != mic.Channels {
		return nil, nil, &ChannelMismatchError{System: system.Channels, Mic: mic.Channels}
	}
	if system.SampleRate != mic.SampleRate {
		return nil, nil, fmt.Errorf("%w: system %d Hz, mic %d Hz", ErrSampleRateMismatch,
			system.SampleRate, mic.SampleRate)
	}

	frames := system.Frames()
	if mf := mic.Frames(); mf < frames {
		frames = mf
	}
	n := frames * system.Channels

	sr, mr := float32(ratio), float32(1-ratio)
	out := &SampleBuffer{
		SampleRate: system.SampleRate,
		Channels:   system.Channels,
		Samples:    make([]float32, n),
	}
	s, m := system.Samples[:n], mic.Samples[:n]
	for i := range out.Samples {
		out.Samples[i] = s[i]*sr + m[i]*mr
	}
	return out, nil, nil
}
