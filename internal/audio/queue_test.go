package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func rawSamples(samples ...float32) []byte {
	raw := make([]byte, len(samples)*rawSampleSize)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*rawSampleSize:], math.Float32bits(v))
	}
	return raw
}

func TestBlockQueueSplitsInput(t *testing.T) {
	q := newBlockQueue(4, 2)
	q.push(rawSamples(1, 2, 3, 4, 5))

	var got []float32
	for len(q.filled) > 0 {
		b := <-q.filled
		got = append(got, b.data[:b.n]...)
		q.release(b)
	}
	want := []float32{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if q.pushed.Load() != 3 || q.dropped.Load() != 0 {
		t.Fatalf("unexpected counters %d/%d", q.pushed.Load(), q.dropped.Load())
	}
}

func TestBlockQueueDropsWhenFull(t *testing.T) {
	q := newBlockQueue(2, 4)
	for i := 0; i < 5; i++ {
		q.push(rawSamples(0.1, 0.2, 0.3, 0.4))
	}
	if q.pushed.Load() != 2 {
		t.Fatalf("unexpected pushed %d", q.pushed.Load())
	}
	if q.dropped.Load() != 3 {
		t.Fatalf("unexpected dropped %d", q.dropped.Load())
	}

	// Releasing a block makes room again.
	q.release(<-q.filled)
	q.push(rawSamples(0.5))
	if q.pushed.Load() != 3 {
		t.Fatalf("unexpected pushed %d", q.pushed.Load())
	}
}

func TestBlockQueuePushDoesNotAllocate(t *testing.T) {
	q := newBlockQueue(8, 256)
	raw := rawSamples(make([]float32, 256)...)
	allocs := testing.AllocsPerRun(100, func() {
		q.push(raw)
		q.release(<-q.filled)
	})
	if allocs != 0 {
		t.Fatalf("push allocated %v times per run", allocs)
	}
}

func TestDecodeF32LEIgnoresPartialSample(t *testing.T) {
	raw := append(rawSamples(0.25, -0.5), 0xff, 0xff)
	dst := make([]float32, 4)
	if n := decodeF32LE(raw, dst); n != 2 {
		t.Fatalf("decoded %d samples", n)
	}
	if dst[0] != 0.25 || dst[1] != -0.5 {
		t.Fatalf("unexpected samples %v", dst[:2])
	}
}
