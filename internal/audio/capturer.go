package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBlockFrames is the frame count of one captured block.
	DefaultBlockFrames = 1024

	// DefaultQueueBlocks is how many blocks the hand-off queue holds.
	DefaultQueueBlocks = 64

	// DefaultStopTimeout bounds how long Stop waits for stream teardown.
	DefaultStopTimeout = 2 * time.Second

	// dropReportInterval rate limits overrun warnings.
	dropReportInterval = time.Second
)

// CaptureConfig configures one capture stream.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	BlockFrames int
	QueueBlocks int
	StopTimeout time.Duration
}

func (cfg CaptureConfig) withDefaults() CaptureConfig {
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = DefaultBlockFrames
	}
	if cfg.QueueBlocks <= 0 {
		cfg.QueueBlocks = DefaultQueueBlocks
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return cfg
}

// CaptureStats summarizes a finished capture.
type CaptureStats struct {
	Blocks   uint64
	Dropped  uint64
	Frames   int
	TimedOut bool
}

// Capturer owns one running input stream and the buffer it fills.
//
// The stream callback only pushes into a preallocated blockQueue. A drain
// goroutine moves blocks into the growable SampleBuffer, so the buffer is only
// ever written by that goroutine.
type Capturer struct {
	source string
	dev    Device
	cfg    CaptureConfig
	log    slog.Logger
	queue  *blockQueue
	stream Stream

	mtx       sync.Mutex
	buf       *SampleBuffer
	abandoned bool

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
	runErr   error
}

// StartCapture opens dev on backend and starts capturing. source names the
// capturer in logs ("system" or "mic"). Failures to open or start the
// device are returned as *DeviceOpenError.
func StartCapture(ctx context.Context, backend Backend, source string, dev Device,
	cfg CaptureConfig, log slog.Logger) (*Capturer, error) {

	cfg = cfg.withDefaults()
	if cfg.Channels <= 0 || cfg.SampleRate <= 0 {
		return nil, &DeviceOpenError{Device: dev,
			Err: fmt.Errorf("invalid stream format %d Hz / %d channels", cfg.SampleRate, cfg.Channels)}
	}

	c := &Capturer{
		source:   source,
		dev:      dev,
		cfg:      cfg,
		log:      log,
		queue:    newBlockQueue(cfg.QueueBlocks, cfg.BlockFrames*cfg.Channels),
		buf:      NewSampleBuffer(cfg.SampleRate, cfg.Channels, cfg.SampleRate*10),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	bytesPerFrame := uint32(cfg.Channels * rawSampleSize)
	onData := func(in []byte, frameCount uint32) {
		if want := int(frameCount * bytesPerFrame); want < len(in) {
			in = in[:want]
		}
		c.queue.push(in)
	}

	streamCfg := StreamConfig{
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
		PeriodFrames: cfg.BlockFrames,
	}
	stream, err := backend.OpenCapture(dev, streamCfg, onData)
	if err != nil {
		return nil, &DeviceOpenError{Device: dev, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Uninit()
		return nil, &DeviceOpenError{Device: dev, Err: fmt.Errorf("start: %w", err)}
	}
	c.stream = stream

	log.Infof("Capturing %s from %s (%d Hz, %d ch, %d frames/block)", source, dev,
		cfg.SampleRate, cfg.Channels, cfg.BlockFrames)

	go c.run(ctx)
	return c, nil
}

func (c *Capturer) run(ctx context.Context) {
	streamDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.streamLoop(gctx, streamDone) })
	g.Go(func() error { return c.drainLoop(streamDone) })
	c.runErr = g.Wait()
	close(c.done)
}

// streamLoop keeps the stream running until a stop is requested, then tears
// it down.
func (c *Capturer) streamLoop(ctx context.Context, streamDone chan struct{}) error {
	defer close(streamDone)

	select {
	case <-c.stopChan:
	case <-ctx.Done():
	}

	err := c.stream.Stop()
	c.stream.Uninit()
	if err != nil {
		return fmt.Errorf("stop %s stream: %w", c.source, err)
	}
	return nil
}

// drainLoop moves filled blocks into the sample buffer until the stream is
// torn down and the queue is empty.
func (c *Capturer) drainLoop(streamDone chan struct{}) error {
	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case b := <-c.queue.filled:
			c.appendBlock(b)

		case <-ticker.C:
			if dropped := c.queue.dropped.Load(); dropped > reported {
				c.log.Warnf("Capture overrun on %s: %d blocks dropped",
					c.source, dropped-reported)
				reported = dropped
			}

		case <-streamDone:
			for {
				select {
				case b := <-c.queue.filled:
					c.appendBlock(b)
				default:
					return nil
				}
			}
		}
	}
}

func (c *Capturer) appendBlock(b *block) {
	c.mtx.Lock()
	if !c.abandoned && c.buf != nil {
		c.buf.Samples = append(c.buf.Samples, b.data[:b.n]...)
	}
	c.mtx.Unlock()
	c.queue.release(b)
}

// Source returns the capturer's source name.
func (c *Capturer) Source() string { return c.source }

// Device returns the device being captured.
func (c *Capturer) Device() Device { return c.dev }

// Frames returns the number of frames accumulated so far.
func (c *Capturer) Frames() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.buf.Frames()
}

// Blocks returns the number of blocks handed off by the stream so far.
func (c *Capturer) Blocks() uint64 { return c.queue.pushed.Load() }

// Stop requests teardown and waits up to the configured timeout for it. It
// returns the accumulated buffer, which the caller then owns exclusively.
// When teardown doesn't complete in time, a snapshot is returned and any
// later blocks are discarded. Calling Stop again returns a nil buffer.
func (c *Capturer) Stop() (*SampleBuffer, CaptureStats) {
	c.stopOnce.Do(func() { close(c.stopChan) })

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()

	var timedOut bool
	select {
	case <-c.done:
		if c.runErr != nil {
			c.log.Warnf("Capture teardown of %s: %v", c.source, c.runErr)
		}
	case <-timer.C:
		timedOut = true
		c.log.Warnf("Capture teardown of %s did not finish within %s",
			c.source, c.cfg.StopTimeout)
	}

	c.mtx.Lock()
	buf := c.buf
	if timedOut {
		c.abandoned = true
		buf = buf.Clone()
	}
	c.buf = nil
	c.mtx.Unlock()

	stats := CaptureStats{
		Blocks:   c.queue.pushed.Load(),
		Dropped:  c.queue.dropped.Load(),
		Frames:   buf.Frames(),
		TimedOut: timedOut,
	}
	c.log.Debugf("Finished capture of %s: %d frames, %d blocks, %d dropped",
		c.source, stats.Frames, stats.Blocks, stats.Dropped)
	return buf, stats
}

// Done is closed once the stream has been torn down and drained.
func (c *Capturer) Done() <-chan struct{} { return c.done }
