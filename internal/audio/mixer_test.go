package audio

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func constBuffer(frames, channels int, v float32) *SampleBuffer {
	b := NewSampleBuffer(44100, channels, frames)
	for i := 0; i < frames*channels; i++ {
		b.Samples = append(b.Samples, v)
	}
	return b
}

func randBuffer(rng *rand.Rand, frames, channels int) *SampleBuffer {
	b := NewSampleBuffer(44100, channels, frames)
	for i := 0; i < frames*channels; i++ {
		b.Samples = append(b.Samples, rng.Float32()*2-1)
	}
	return b
}

func TestMixFormula(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, r := range []float64{0, 0.1, 0.25, 0.5, 0.7, 0.99, 1} {
		s, m := randBuffer(rng, 512, 2), randBuffer(rng, 512, 2)
		out, warns, err := Mix(Both, s, m, r)
		if err != nil {
			t.Fatalf("Mix(%v): %v", r, err)
		}
		if len(warns) != 0 {
			t.Fatalf("unexpected warnings %v", warns)
		}
		if len(out.Samples) != len(s.Samples) {
			t.Fatalf("unexpected length %d", len(out.Samples))
		}
		for i := range out.Samples {
			want := s.Samples[i]*float32(r) + m.Samples[i]*float32(1-r)
			if math.Abs(float64(out.Samples[i]-want)) > 1e-6 {
				t.Fatalf("ratio %v sample %d: got %v, want %v", r, i, out.Samples[i], want)
			}
		}
	}
}

func TestMixTruncatesToShorter(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, lens := range [][2]int{{100, 300}, {300, 100}, {1, 2}} {
		s, m := randBuffer(rng, lens[0], 2), randBuffer(rng, lens[1], 2)
		out, _, err := Mix(Both, s, m, 0.5)
		if err != nil {
			t.Fatal(err)
		}
		want := min(lens[0], lens[1])
		if out.Frames() != want {
			t.Fatalf("lens %v: got %d frames, want %d", lens, out.Frames(), want)
		}
	}
}

func TestMixScenario(t *testing.T) {
	s := constBuffer(44100, 2, 0.5)
	m := constBuffer(88200, 2, 0.2)
	out, _, err := Mix(Both, s, m, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if out.Frames() != 44100 {
		t.Fatalf("got %d frames", out.Frames())
	}
	for i, v := range out.Samples {
		if math.Abs(float64(v)-0.41) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.41", i, v)
		}
	}
	if s.Samples[0] != 0.5 || m.Frames() != 88200 {
		t.Fatal("Mix modified its inputs")
	}
}

func TestMixPassthrough(t *testing.T) {
	s, m := constBuffer(10, 2, 0.3), constBuffer(20, 2, 0.1)

	out, warns, err := Mix(SystemOnly, s, m, 0.2)
	if err != nil || out != s || len(warns) != 0 {
		t.Fatalf("system passthrough: %v %v %v", out, warns, err)
	}
	out, warns, err = Mix(MicrophoneOnly, s, m, 0.2)
	if err != nil || out != m || len(warns) != 0 {
		t.Fatalf("mic passthrough: %v %v %v", out, warns, err)
	}
}

func TestMixDegraded(t *testing.T) {
	s := constBuffer(10, 2, 0.3)
	empty := NewSampleBuffer(44100, 2, 0)

	out, warns, err := Mix(Both, s, empty, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if out != s {
		t.Fatal("expected system passthrough")
	}
	if len(warns) != 1 || warns[0].Kind != PartialSourceDegraded || warns[0].Source != "mic" {
		t.Fatalf("unexpected warnings %v", warns)
	}

	out, warns, err = Mix(Both, nil, s, 0.5)
	if err != nil || out != s {
		t.Fatalf("mic passthrough: %v", err)
	}
	if len(warns) != 1 || warns[0].Source != "system" {
		t.Fatalf("unexpected warnings %v", warns)
	}
}

func TestMixNoAudio(t *testing.T) {
	empty := NewSampleBuffer(44100, 2, 0)
	for _, mode := range []Mode{SystemOnly, MicrophoneOnly, Both} {
		_, _, err := Mix(mode, empty, nil, 0.5)
		if !errors.Is(err, ErrNoAudioCaptured) {
			t.Fatalf("%s: unexpected error %v", mode, err)
		}
	}
}

func TestMixErrors(t *testing.T) {
	s := constBuffer(10, 2, 0.3)
	for _, r := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		if _, _, err := Mix(Both, s, s, r); !errors.Is(err, ErrInvalidMixRatio) {
			t.Fatalf("ratio %v: unexpected error %v", r, err)
		}
	}

	mono := constBuffer(10, 1, 0.3)
	var chErr *ChannelMismatchError
	if _, _, err := Mix(Both, s, mono, 0.5); !errors.As(err, &chErr) {
		t.Fatalf("unexpected error %v", err)
	}
	if chErr.System != 2 || chErr.Mic != 1 {
		t.Fatalf("unexpected mismatch %v", chErr)
	}

	other := constBuffer(10, 2, 0.3)
	other.SampleRate = 48000
	if _, _, err := Mix(Both, s, other, 0.5); !errors.Is(err, ErrSampleRateMismatch) {
		t.Fatalf("unexpected error %v", err)
	}
}
