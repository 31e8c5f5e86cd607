package audio

import "sync/atomic"

// block is one preallocated chunk of interleaved samples.
type block struct {
	data []float32
	n    int
}

// blockQueue hands captured blocks from the audio thread to the drain
// goroutine. All blocks are allocated up front and recycled through free, so
// push never allocates and never blocks: when no free block is available the
// incoming data is dropped and counted as an overrun.
type blockQueue struct {
	free   chan *block
	filled chan *block

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func newBlockQueue(nbBlocks, samplesPerBlock int) *blockQueue {
	q := &blockQueue{
		free:   make(chan *block, nbBlocks),
		filled: make(chan *block, nbBlocks),
	}
	for i := 0; i < nbBlocks; i++ {
		q.free <- &block{data: make([]float32, samplesPerBlock)}
	}
	return q
}

// push copies raw FormatF32 bytes into free blocks and enqueues them. Input
// larger than one block is split across several.
func (q *blockQueue) push(raw []byte) {
	for len(raw) >= rawSampleSize {
		var b *block
		select {
		case b = <-q.free:
		default:
			q.dropped.Add(1)
			return
		}

		b.n = decodeF32LE(raw, b.data)
		raw = raw[b.n*rawSampleSize:]

		select {
		case q.filled <- b:
			q.pushed.Add(1)
		default:
			// Unreachable while free and filled share a capacity.
			q.free <- b
			q.dropped.Add(1)
			return
		}
	}
}

// release returns a drained block to the free list.
func (q *blockQueue) release(b *block) {
	b.n = 0
	select {
	case q.free <- b:
	default:
	}
}
