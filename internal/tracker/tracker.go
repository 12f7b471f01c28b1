// Package tracker records presence-aware playback engagement on the client
// and ships it to the collector.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/presence"
)

type Config struct {
	CourseID      string
	LessonID      string
	FlushInterval time.Duration
	Presence      presence.Options
	Clock         clock.Clock
}

// Tracker wires a presence detector, a recorder and a dispatcher for one
// playback session.
type Tracker struct {
	recorder   *Recorder
	dispatcher *Dispatcher
	detector   *presence.Detector

	mu      sync.Mutex
	started bool
	stopped chan struct{}
	stop    sync.Once
}

type Status struct {
	Tracking bool               `json:"tracking"`
	Presence presence.Status    `json:"presence"`
	Stats    presence.Stats     `json:"stats"`
	Pending  int                `json:"pending"`
	Error    presence.ErrorCode `json:"error,omitempty"`
}

func New(cam presence.Camera, player Player, sender Sender, cfg Config) *Tracker {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	t := &Tracker{stopped: make(chan struct{})}
	t.dispatcher = NewDispatcher(sender, clk, cfg.FlushInterval)
	t.recorder = NewRecorder(clk, player, t.dispatcher, cfg.CourseID, cfg.LessonID)

	opts := cfg.Presence
	opts.Clock = clk
	opts.OnFaceDetected = t.recorder.FaceDetected
	opts.OnFaceLost = t.recorder.FaceLost
	opts.OnError = t.onDetectorError
	t.detector = presence.NewDetector(cam, opts)

	return t
}

func (t *Tracker) onDetectorError(code presence.ErrorCode) {
	switch code {
	case presence.ErrCodePermissionDenied:
		t.recorder.CameraDenied()
	default:
		log.Printf("tracker: presence detection unavailable (%s), playback continues untracked", code)
	}
}

// Start opens the session. Cancelling ctx tears the session down as if Stop
// had been called.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.recorder.SessionStart()
	t.dispatcher.Start(context.WithoutCancel(ctx))
	t.detector.Start(ctx)

	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.stopped:
		}
	}()
}

// Stop releases the camera, records session_end and beacons the remaining
// queue. Only the first call has any effect.
func (t *Tracker) Stop() {
	t.stop.Do(func() {
		t.detector.Stop()
		t.recorder.SessionEnd()
		t.dispatcher.Close()
		close(t.stopped)
	})
}

// Done is closed once the session has been torn down.
func (t *Tracker) Done() <-chan struct{} { return t.stopped }

// Recorder exposes the playback hooks (PlaybackResumed, PlaybackEnded) to the player integration.
func (t *Tracker) Recorder() *Recorder { return t.recorder }

func (t *Tracker) Flush(ctx context.Context) error { return t.dispatcher.Flush(ctx) }

func (t *Tracker) Status() Status {
	ps := t.detector.Status()
	return Status{
		Tracking: ps.Enabled && ps.CameraActive && ps.ModelReady && ps.Error == presence.ErrCodeNone,
		Presence: ps,
		Stats:    t.detector.Stats(),
		Pending:  len(t.dispatcher.Pending()),
		Error:    ps.Error,
	}
}

var _ EventSink = (*Dispatcher)(nil)
var _ Sender = (*HTTPTransport)(nil)
