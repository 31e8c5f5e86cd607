package session

import (
	"time"

	"loopmix/internal/audio"
)

// SourceStatus describes one running capturer.
type SourceStatus struct {
	Source string
	Device string
	Frames int
	Blocks uint64
}

// Status is a snapshot of the controller.
type Status struct {
	State      State
	SessionID  string
	Mode       audio.Mode
	MixRatio   float64
	SampleRate int
	Channels   int
	StartedAt  time.Time
	Elapsed    time.Duration
	Sources    []SourceStatus
	// LastError is the error that ended the previous session, if the
	// controller is Failed.
	LastError error
}

// Recording reports whether a session is capturing.
func (s Status) Recording() bool { return s.State == Recording }

// Status returns the current state and, while a session is active, its
// progress.
func (c *Controller) Status() Status {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	st := Status{State: c.state, LastError: c.lastErr}
	sess := c.sess
	if sess == nil {
		return st
	}
	st.SessionID = sess.id
	st.Mode = sess.opts.Mode
	st.MixRatio = sess.opts.MixRatio
	st.SampleRate = sess.sampleRate
	st.Channels = sess.channels
	st.StartedAt = sess.startedAt
	st.Elapsed = c.cfg.Now().Sub(sess.startedAt)
	for _, capt := range sess.capturers() {
		st.Sources = append(st.Sources, SourceStatus{
			Source: capt.Source(),
			Device: capt.Device().Name,
			Frames: capt.Frames(),
			Blocks: capt.Blocks(),
		})
	}
	return st
}
