// Package presence watches a camera feed and reports debounced face presence.
package presence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"motochefe-engagement/internal/clock"
)

const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultGracePeriod   = 3 * time.Second
	DefaultMinConfidence = 0.5
)

// ErrorCode is the observable failure of a detector session.
type ErrorCode string

const (
	ErrCodeNone             ErrorCode = ""
	ErrCodePermissionDenied ErrorCode = "camera_permission_denied"
	ErrCodeCamera           ErrorCode = "camera_error"
	ErrCodeModelLoad        ErrorCode = "model_load_failed"
)

// ClassifyCameraError separates a refused permission from every other camera failure.
func ClassifyCameraError(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	if errors.Is(err, ErrPermissionDenied) {
		return ErrCodePermissionDenied
	}
	return ErrCodeCamera
}

type Options struct {
	PollInterval  time.Duration
	GracePeriod   time.Duration
	MinConfidence float64
	Constraints   Constraints

	OnFaceDetected func()
	OnFaceLost     func()
	OnError        func(ErrorCode)

	Load   LoadFunc
	Models *ModelCache
	Sink   Sink
	Clock  clock.Clock
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultMinConfidence
	}
	if o.Constraints == (Constraints{}) {
		o.Constraints = DefaultConstraints
	}
	if o.Models == nil {
		o.Models = SharedModels()
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

type Status struct {
	Enabled      bool      `json:"enabled"`
	CameraActive bool      `json:"camera_active"`
	ModelReady   bool      `json:"model_ready"`
	State        State     `json:"state"`
	Error        ErrorCode `json:"error,omitempty"`
}

type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Samples      uint64 `json:"samples"`
	DetectErrors uint64 `json:"detect_errors"`
	DroppedTicks uint64 `json:"dropped_ticks"`
	NotReady     uint64 `json:"not_ready"`
}

// Detector owns one camera stream and one polling loop.
type Detector struct {
	camera Camera
	opts   Options

	mu      sync.Mutex
	status  Status
	stats   Stats
	machine *Machine
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDetector(camera Camera, opts Options) *Detector {
	opts.applyDefaults()
	return &Detector{
		camera:  camera,
		opts:    opts,
		machine: NewMachine(opts.GracePeriod),
	}
}

// Start enables detection. Camera and model acquisition happen in the
// background; failures show up in Status().Error and OnError, never as a
// returned error. Calling Start on a running detector is a no-op.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.machine.Reset()
	d.status = Status{Enabled: true, State: Absent}

	go d.run(runCtx, d.done)
}

// Stop cancels polling and the grace timer and releases the camera before
// returning. Safe to call any number of times.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.status.Enabled = false
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Detector) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	stream, err := d.camera.Open(ctx, d.opts.Constraints)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		code := ClassifyCameraError(err)
		log.Printf("presence: camera acquisition failed (%s): %v", code, err)
		d.fail(code)
		return
	}
	if ctx.Err() != nil {
		stream.Close()
		return
	}

	if d.opts.Sink != nil {
		d.opts.Sink.Attach(stream)
	}
	d.setStatus(func(s *Status) { s.CameraActive = true })
	defer func() {
		if d.opts.Sink != nil {
			d.opts.Sink.Detach()
		}
		stream.Close()
		d.setStatus(func(s *Status) { s.CameraActive = false })
	}()

	if d.opts.Load == nil {
		d.fail(ErrCodeModelLoad)
		return
	}
	model, err := d.opts.Models.Acquire(ctx, d.opts.Load)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("presence: %v", err)
		d.fail(ErrCodeModelLoad)
		return
	}
	defer d.opts.Models.Release()
	d.setStatus(func(s *Status) { s.ModelReady = true })

	d.poll(ctx, stream, model)
}

type sample struct {
	det *Detection
	err error
}

func (d *Detector) poll(ctx context.Context, stream Stream, model Model) {
	clk := d.opts.Clock
	ticker := clk.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	var grace clock.Timer
	var graceC <-chan time.Time
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	// Buffered so an inference finishing after Stop never blocks.
	results := make(chan sample, 1)
	inFlight := false
	inferCtx := context.WithoutCancel(ctx)

	syncGrace := func() {
		deadline, pending := d.machine.Deadline()
		switch {
		case pending && graceC == nil:
			wait := deadline.Sub(clk.Now())
			if grace == nil {
				grace = clk.NewTimer(wait)
			} else {
				grace.Reset(wait)
			}
			graceC = grace.C()
		case !pending && graceC != nil:
			grace.Stop()
			graceC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C():
			d.count(func(s *Stats) { s.Ticks++ })
			if inFlight {
				d.count(func(s *Stats) { s.DroppedTicks++ })
				continue
			}
			frame, ok := stream.Frame()
			if !ok {
				d.count(func(s *Stats) { s.NotReady++ })
				continue
			}
			inFlight = true
			go func() {
				det, err := model.DetectSingleFace(inferCtx, frame)
				results <- sample{det: det, err: err}
			}()

		case s := <-results:
			inFlight = false
			if ctx.Err() != nil {
				return
			}
			if s.err != nil {
				d.count(func(st *Stats) { st.DetectErrors++ })
				continue
			}
			found := s.det != nil && s.det.Score >= d.opts.MinConfidence
			d.count(func(st *Stats) { st.Samples++ })
			tr := d.machine.Observe(found, clk.Now())
			syncGrace()
			d.emit(tr)

		case <-graceC:
			graceC = nil
			tr := d.machine.Expire(clk.Now())
			syncGrace()
			d.emit(tr)
		}
	}
}

func (d *Detector) emit(tr Transition) {
	switch tr {
	case BecamePresent:
		d.setStatus(func(s *Status) { s.State = Present })
		if d.opts.OnFaceDetected != nil {
			d.opts.OnFaceDetected()
		}
	case BecameAbsent:
		d.setStatus(func(s *Status) { s.State = Absent })
		if d.opts.OnFaceLost != nil {
			d.opts.OnFaceLost()
		}
	}
}

func (d *Detector) fail(code ErrorCode) {
	d.setStatus(func(s *Status) { s.Error = code })
	if d.opts.OnError != nil {
		d.opts.OnError(code)
	}
}

func (d *Detector) setStatus(fn func(*Status)) {
	d.mu.Lock()
	fn(&d.status)
	d.mu.Unlock()
}

func (d *Detector) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
