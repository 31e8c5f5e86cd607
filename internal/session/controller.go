// Package session implements the recording session controller: the state
// machine that resolves devices, runs capturers, and mixes and writes their
// output once a session stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"loopmix/internal/audio"
	"loopmix/internal/catalog"
	"loopmix/internal/encode"
	"loopmix/internal/metrics"
)

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Stopping
	// Failed is Idle after a session that ended in an error. A new session
	// may be started from it.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source names used in logs, warnings and metrics.
const (
	SourceSystem = "system"
	SourceMic    = "mic"
)

// fileTimeFormat names default output files.
const fileTimeFormat = "20060102_150405"

// DefaultTeardownTimeout bounds how long Close waits for streams to be torn
// down before releasing the backend.
const DefaultTeardownTimeout = 5 * time.Second

var (
	// ErrTeardownTimeout is returned by Close when a stream was still being
	// torn down after the teardown timeout. The backend is left open.
	ErrTeardownTimeout = errors.New("audio stream teardown did not finish")

	// ErrClosed is returned by StartSession once Close was called.
	ErrClosed = errors.New("session controller closed")
)

// Options are the parameters of one session.
type Options struct {
	Mode     audio.Mode
	MixRatio float64
	// SampleRate and Channels default to the controller's capture config
	// when zero.
	SampleRate int
	Channels   int
	// OutputPath defaults to a timestamped file in the output directory.
	OutputPath string
}

// Artifact is the file produced by a finished session.
type Artifact struct {
	SessionID       string
	Path            string
	Format          encode.Format
	MIME            string
	SizeBytes       int64
	DurationSeconds float64
	Warnings        []audio.Warning
	// RecordingID is the catalog ID, zero when not cataloged.
	RecordingID int64
}

// Empty reports whether a is the zero result of a no-op stop.
func (a Artifact) Empty() bool { return a.Path == "" }

// Store persists finished artifacts.
type Store interface {
	AddRecording(ctx context.Context, r *catalog.Recording) error
}

// Config configures a Controller.
type Config struct {
	Backend    audio.Backend
	Classifier audio.Classifier
	Writer     *encode.Writer
	// Capture holds the default format and the queue/timeout settings of
	// every capturer.
	Capture audio.CaptureConfig
	OutDir  string
	// Store and Stats are optional.
	Store Store
	Stats *metrics.Stats

	Log      slog.Logger
	AudioLog slog.Logger
	MixLog   slog.Logger

	// TeardownTimeout defaults to DefaultTeardownTimeout.
	TeardownTimeout time.Duration

	// Now is replaced in tests.
	Now func() time.Time
}

// Controller owns at most one recording session at a time.
type Controller struct {
	cfg Config

	mtx     sync.Mutex
	state   State
	sess    *recordingSession
	lastErr error
	closed  bool

	// stopDone is closed when the stop or discard in progress finishes.
	// It is nil outside Stopping.
	stopDone chan struct{}

	// lingering are capturers whose stream was still being torn down when
	// their Stop returned.
	lingering []*audio.Capturer
}

// recordingSession is the state of the active session.
type recordingSession struct {
	id         string
	opts       Options
	startedAt  time.Time
	sampleRate int
	channels   int
	system     *audio.Capturer
	mic        *audio.Capturer
	cancel     context.CancelFunc
}

func (s *recordingSession) capturers() []*audio.Capturer {
	var res []*audio.Capturer
	if s.system != nil {
		res = append(res, s.system)
	}
	if s.mic != nil {
		res = append(res, s.mic)
	}
	return res
}

// NewController returns an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Classifier == nil {
		cfg.Classifier = audio.DefaultClassifier()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.AudioLog == nil {
		cfg.AudioLog = cfg.Log
	}
	if cfg.MixLog == nil {
		cfg.MixLog = cfg.Log
	}
	if cfg.Writer == nil {
		cfg.Writer = encode.NewWriter(nil, cfg.Log)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 44100
	}
	if cfg.Capture.Channels <= 0 {
		cfg.Capture.Channels = 2
	}
	return &Controller{cfg: cfg}
}

// failureReason classifies err for metrics.
func failureReason(err error) string {
	var resErr *audio.ResolutionError
	var openErr *audio.DeviceOpenError
	var chErr *audio.ChannelMismatchError
	switch {
	case errors.As(err, &resErr):
		return "device_resolution"
	case errors.As(err, &openErr):
		return "device_open"
	case errors.As(err, &chErr):
		return "channel_mismatch"
	case errors.Is(err, audio.ErrNoAudioCaptured):
		return "no_audio"
	case errors.Is(err, audio.ErrWriteVerificationFailed):
		return "write_verification"
	case errors.Is(err, audio.ErrInvalidMixRatio):
		return "invalid_mix_ratio"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// sourceChannels is the channel count a source captures with.
func sourceChannels(requested int, dev *audio.Device) int {
	if dev.MaxInputChannels > 0 && dev.MaxInputChannels < requested {
		return dev.MaxInputChannels
	}
	return requested
}

// convertsChannels reports whether backend can open a device with more
// channels than it natively has.
func convertsChannels(backend audio.Backend) bool {
	cc, ok := backend.(audio.ChannelConverter)
	return ok && cc.ConvertsChannels()
}

// StartSession resolves devices for opts.Mode and starts capturing. ctx only
// bounds device resolution: once started, capture runs until StopSession,
// Discard or Close. The controller stays idle when it fails.
func (c *Controller) StartSession(ctx context.Context, opts Options) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state == Recording || c.state == Stopping {
		return audio.ErrAlreadyRecording
	}
	err := c.start(ctx, opts)
	if err != nil {
		c.cfg.Stats.SessionFailed(failureReason(err))
		c.cfg.Log.Warnf("Unable to start %s session: %v", opts.Mode, err)
	}
	return err
}

func (c *Controller) start(ctx context.Context, opts Options) error {
	if err := audio.ValidateMixRatio(opts.MixRatio); err != nil {
		return err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = c.cfg.Capture.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = c.cfg.Capture.Channels
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	devices, err := c.cfg.Backend.Devices()
	if err != nil {
		return fmt.Errorf("unable to list audio devices: %w", err)
	}
	sel, err := audio.Resolve(devices, opts.Mode, c.cfg.Classifier)
	if err != nil {
		return err
	}

	sysCfg, micCfg := c.cfg.Capture, c.cfg.Capture
	sysCfg.SampleRate, micCfg.SampleRate = opts.SampleRate, opts.SampleRate
	if sel.Loopback != nil {
		sysCfg.Channels = sourceChannels(opts.Channels, sel.Loopback)
	}
	if sel.Microphone != nil {
		micCfg.Channels = sourceChannels(opts.Channels, sel.Microphone)
	}
	if opts.Mode == audio.Both && convertsChannels(c.cfg.Backend) {
		// A mono mic is upmixed by the backend to match the loopback.
		micCfg.Channels = sysCfg.Channels
	}
	if opts.Mode == audio.Both && sysCfg.Channels != micCfg.Channels {
		return &audio.ChannelMismatchError{System: sysCfg.Channels, Mic: micCfg.Channels}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Capture outlives the caller's context; it ends on stop or discard.
	capCtx, cancel := context.WithCancel(context.Background())
	sess := &recordingSession{
		id:         uuid.NewString(),
		opts:       opts,
		sampleRate: opts.SampleRate,
		cancel:     cancel,
	}

	if sel.Loopback != nil {
		sess.system, err = audio.StartCapture(capCtx, c.cfg.Backend, SourceSystem,
			*sel.Loopback, sysCfg, c.cfg.AudioLog)
		if err != nil {
			cancel()
			return err
		}
		sess.channels = sysCfg.Channels
	}
	if sel.Microphone != nil {
		sess.mic, err = audio.StartCapture(capCtx, c.cfg.Backend, SourceMic,
			*sel.Microphone, micCfg, c.cfg.AudioLog)
		if err != nil {
			if sess.system != nil {
				sess.system.Stop()
				c.trackLingering(sess.system)
			}
			cancel()
			return err
		}
		sess.channels = micCfg.Channels
	}

	sess.startedAt = c.cfg.Now()
	c.sess = sess
	c.state = Recording
	c.lastErr = nil
	c.cfg.Stats.SessionStarted(opts.Mode.String())
	c.cfg.Log.Infof("Started %s session %s (%d Hz, %d ch, mix ratio %.2f)",
		opts.Mode, sess.id, sess.sampleRate, sess.channels, opts.MixRatio)
	return nil
}

// stopped is the outcome of one capturer's Stop.
type stopped struct {
	buf   *audio.SampleBuffer
	stats audio.CaptureStats
}

// stopCapturers stops every capturer of sess concurrently and waits for all
// of them.
func (c *Controller) stopCapturers(sess *recordingSession) (system, mic stopped) {
	var g errgroup.Group
	if sess.system != nil {
		g.Go(func() error {
			system.buf, system.stats = sess.system.Stop()
			return nil
		})
	}
	if sess.mic != nil {
		g.Go(func() error {
			mic.buf, mic.stats = sess.mic.Stop()
			return nil
		})
	}
	g.Wait()
	sess.cancel()

	if sess.system != nil {
		c.cfg.Stats.CaptureFinished(SourceSystem, system.stats.Blocks, system.stats.Dropped)
	}
	if sess.mic != nil {
		c.cfg.Stats.CaptureFinished(SourceMic, mic.stats.Blocks, mic.stats.Dropped)
	}
	return system, mic
}

func captureWarnings(source string, st audio.CaptureStats) []audio.Warning {
	var res []audio.Warning
	if st.Dropped > 0 {
		res = append(res, audio.Warning{
			Kind:   audio.CaptureDegraded,
			Source: source,
			Reason: fmt.Sprintf("%d blocks dropped on overrun", st.Dropped),
		})
	}
	if st.TimedOut {
		res = append(res, audio.Warning{
			Kind:   audio.CaptureDegraded,
			Source: source,
			Reason: "stream teardown timed out",
		})
	}
	return res
}

// beginStop moves the controller to Stopping. c.mtx must be held.
func (c *Controller) beginStop() *recordingSession {
	c.state = Stopping
	c.stopDone = make(chan struct{})
	return c.sess
}

// endStop leaves Stopping for state. c.mtx must be held.
func (c *Controller) endStop(sess *recordingSession, state State) {
	c.trackLingering(sess.capturers()...)
	c.sess = nil
	c.state = state
	close(c.stopDone)
	c.stopDone = nil
}

// trackLingering remembers the stopped capturers whose stream teardown is
// still running. c.mtx must be held.
func (c *Controller) trackLingering(caps ...*audio.Capturer) {
	for _, capt := range caps {
		select {
		case <-capt.Done():
		default:
			c.lingering = append(c.lingering, capt)
		}
	}
}

// StopSession stops capture, mixes the sources and writes the artifact.
// Calling it with no active session returns an empty Artifact and no error.
func (c *Controller) StopSession(ctx context.Context) (Artifact, error) {
	c.mtx.Lock()
	if c.state != Recording {
		c.mtx.Unlock()
		return Artifact{}, nil
	}
	sess := c.beginStop()
	c.mtx.Unlock()

	art, err := c.finish(ctx, sess)

	c.mtx.Lock()
	c.lastErr = err
	if err != nil {
		c.endStop(sess, Failed)
	} else {
		c.endStop(sess, Idle)
	}
	c.mtx.Unlock()
	c.cfg.Stats.SessionEnded()

	if err != nil {
		c.cfg.Stats.SessionFailed(failureReason(err))
		c.cfg.Log.Errorf("Session %s failed: %v", sess.id, err)
	}
	return art, err
}

func (c *Controller) finish(ctx context.Context, sess *recordingSession) (Artifact, error) {
	system, mic := c.stopCapturers(sess)
	finishedAt := c.cfg.Now()

	var warnings []audio.Warning
	warnings = append(warnings, captureWarnings(SourceSystem, system.stats)...)
	warnings = append(warnings, captureWarnings(SourceMic, mic.stats)...)

	mixed, mixWarnings, err := audio.Mix(sess.opts.Mode, system.buf, mic.buf, sess.opts.MixRatio)
	if err != nil {
		return Artifact{}, err
	}
	for _, w := range mixWarnings {
		c.cfg.MixLog.Warnf("Session %s: %s", sess.id, w)
	}
	warnings = append(warnings, mixWarnings...)
	c.cfg.MixLog.Debugf("Mixed session %s: system %d frames, mic %d frames, output %d frames",
		sess.id, system.buf.Frames(), mic.buf.Frames(), mixed.Frames())

	path := sess.opts.OutputPath
	if path == "" {
		name := sess.startedAt.Format(fileTimeFormat) + ".mp3"
		path = filepath.Join(c.cfg.OutDir, name)
	}
	res, err := c.cfg.Writer.Write(ctx, mixed, path)
	if err != nil {
		return Artifact{}, err
	}
	warnings = append(warnings, res.Warnings...)

	art := Artifact{
		SessionID:       sess.id,
		Path:            res.Path,
		Format:          res.Format,
		MIME:            res.MIME,
		SizeBytes:       res.SizeBytes,
		DurationSeconds: res.Duration.Seconds(),
		Warnings:        warnings,
	}
	fallback := false
	for _, w := range res.Warnings {
		fallback = fallback || w.Kind == audio.EncodeFallback
	}
	c.cfg.Stats.ArtifactWritten(art.SizeBytes, art.DurationSeconds, fallback)

	if c.cfg.Store != nil {
		art.RecordingID = c.record(ctx, sess, art, mixed, finishedAt)
	}
	c.cfg.Log.Infof("Session %s finished: %s (%s, %.1fs, %d warnings)", sess.id,
		art.Path, art.Format, art.DurationSeconds, len(art.Warnings))
	return art, nil
}

// record catalogs art. Failing to catalog doesn't fail the session since the
// artifact is already on disk.
func (c *Controller) record(ctx context.Context, sess *recordingSession, art Artifact,
	mixed *audio.SampleBuffer, finishedAt time.Time) int64 {

	ratio := sess.opts.MixRatio
	rec := &catalog.Recording{
		SessionID:       sess.id,
		Filename:        filepath.Base(art.Path),
		FilePath:        art.Path,
		Format:          string(art.Format),
		MIME:            art.MIME,
		FileSize:        art.SizeBytes,
		DurationSeconds: &art.DurationSeconds,
		SampleRate:      mixed.SampleRate,
		Channels:        mixed.Channels,
		Mode:            sess.opts.Mode.String(),
		Source:          catalog.SourceSession,
		StartedAt:       sess.startedAt,
		FinishedAt:      finishedAt,
	}
	if sess.opts.Mode == audio.Both {
		rec.MixRatio = &ratio
	}
	for _, w := range art.Warnings {
		rec.Warnings = append(rec.Warnings, w.String())
	}
	if err := c.cfg.Store.AddRecording(ctx, rec); err != nil {
		c.cfg.Log.Warnf("Unable to catalog %s: %v", art.Path, err)
		return 0
	}
	return rec.ID
}

// Discard aborts the active session without writing anything. It returns
// false when no session was active.
func (c *Controller) Discard() bool {
	c.mtx.Lock()
	if c.state != Recording {
		c.mtx.Unlock()
		return false
	}
	sess := c.beginStop()
	c.mtx.Unlock()

	c.stopCapturers(sess)

	c.mtx.Lock()
	c.endStop(sess, Idle)
	c.mtx.Unlock()
	c.cfg.Stats.SessionEnded()
	c.cfg.Log.Infof("Discarded session %s", sess.id)
	return true
}

// LoopbackPresent reports whether a loopback device is currently
// enumerated.
func (c *Controller) LoopbackPresent() (bool, error) {
	devices, err := c.cfg.Backend.Devices()
	if err != nil {
		return false, err
	}
	for _, d := range audio.Classify(devices, c.cfg.Classifier) {
		if d.Class == audio.ClassLoopback {
			return true, nil
		}
	}
	return false, nil
}

// Close stops an active session, returning its artifact, and releases the
// audio backend. It first waits for a stop or discard in progress in
// another goroutine and for every stream teardown, bounded by
// TeardownTimeout and ctx. When teardown doesn't finish in time the backend
// is left open and ErrTeardownTimeout is returned.
func (c *Controller) Close(ctx context.Context) (Artifact, error) {
	c.mtx.Lock()
	c.closed = true
	c.mtx.Unlock()

	art, err := c.StopSession(ctx)
	if werr := c.waitTeardown(ctx); werr != nil {
		c.cfg.Log.Errorf("Leaving audio backend open: %v", werr)
		return art, errors.Join(err, werr)
	}
	if closeErr := c.cfg.Backend.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return art, err
}

// waitTeardown waits for the in-flight stop, then for lingering stream
// teardowns.
func (c *Controller) waitTeardown(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.TeardownTimeout)
	defer timer.Stop()

	c.mtx.Lock()
	stopDone := c.stopDone
	c.mtx.Unlock()
	if stopDone != nil {
		select {
		case <-stopDone:
		case <-timer.C:
			return fmt.Errorf("%w: session still stopping", ErrTeardownTimeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTeardownTimeout, ctx.Err())
		}
	}

	c.mtx.Lock()
	lingering := c.lingering
	c.lingering = nil
	c.mtx.Unlock()
	for i, capt := range lingering {
		var err error
		select {
		case <-capt.Done():
			continue
		case <-timer.C:
			err = fmt.Errorf("%w: %s stream", ErrTeardownTimeout, capt.Source())
		case <-ctx.Done():
			err = fmt.Errorf("%w: %s stream: %v", ErrTeardownTimeout, capt.Source(), ctx.Err())
		}
		c.mtx.Lock()
		c.lingering = append(c.lingering, lingering[i:]...)
		c.mtx.Unlock()
		return err
	}
	return nil
}
