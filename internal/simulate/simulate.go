// Package simulate provides a scripted camera, face model and video player so
// the tracker can run headless against a real collector.
package simulate

import (
	"context"
	"math"
	"sync"
	"time"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/presence"
)

// Step keeps the face in view (or out of it) for a span of time.
type Step struct {
	Face bool
	For  time.Duration
}

// Timeline answers whether a face is in view at a point in time.
type Timeline struct {
	start time.Time
	steps []Step
}

func NewTimeline(start time.Time, steps []Step) *Timeline {
	return &Timeline{start: start, steps: append([]Step(nil), steps...)}
}

// FaceAt reports the scripted presence at t. Outside the script nobody is there.
func (tl *Timeline) FaceAt(t time.Time) bool {
	offset := t.Sub(tl.start)
	if offset < 0 {
		return false
	}
	for _, s := range tl.steps {
		if offset < s.For {
			return s.Face
		}
		offset -= s.For
	}
	return false
}

// End is when the script runs out.
func (tl *Timeline) End() time.Time {
	end := tl.start
	for _, s := range tl.steps {
		end = end.Add(s.For)
	}
	return end
}

// Camera opens a synthetic stream, or fails with Err.
type Camera struct {
	Clock clock.Clock
	Err   error
}

func (c *Camera) Open(ctx context.Context, cons presence.Constraints) (presence.Stream, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stream{clock: c.Clock, width: cons.Width, height: cons.Height}, nil
}

type stream struct {
	clock  clock.Clock
	width  int
	height int

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func (s *stream) Frame() (presence.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return presence.Frame{}, false
	}
	s.seq++
	return presence.Frame{
		Seq:        s.seq,
		Width:      s.width,
		Height:     s.height,
		CapturedAt: s.clock.Now(),
	}, true
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Model "detects" a face whenever the timeline says one is in view at the
// frame's capture time.
type Model struct {
	Timeline *Timeline
	Score    float64
}

func (m *Model) DetectSingleFace(ctx context.Context, f presence.Frame) (*presence.Detection, error) {
	if !m.Timeline.FaceAt(f.CapturedAt) {
		return nil, nil
	}
	score := m.Score
	if score == 0 {
		score = 0.97
	}
	return &presence.Detection{Score: score, X: f.Width / 4, Y: f.Height / 4, W: f.Width / 2, H: f.Height / 2}, nil
}

// Loader adapts a Model to presence.LoadFunc.
func (m *Model) Loader() presence.LoadFunc {
	return func(ctx context.Context) (presence.Model, error) { return m, nil }
}

// Player is a video that advances with the clock while playing.
type Player struct {
	clock  clock.Clock
	length time.Duration

	mu       sync.Mutex
	position time.Duration
	since    time.Time
	paused   bool
	pauses   int
}

// NewPlayer starts playing immediately, as an autoplaying lesson would.
func NewPlayer(clk clock.Clock, length time.Duration) *Player {
	return &Player{clock: clk, length: length, since: clk.Now()}
}

func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.positionLocked()
	return math.Round(pos.Seconds()*1000) / 1000
}

func (p *Player) positionLocked() time.Duration {
	pos := p.position
	if !p.paused {
		pos += p.clock.Now().Sub(p.since)
	}
	if p.length > 0 && pos > p.length {
		pos = p.length
	}
	return pos
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.position = p.positionLocked()
	p.paused = true
	p.pauses++
}

func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	p.since = p.clock.Now()
}

// Ended reports whether playback reached the end of the video.
func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length > 0 && p.positionLocked() >= p.length
}

// Pauses counts every pause, automatic or not.
func (p *Player) Pauses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}
