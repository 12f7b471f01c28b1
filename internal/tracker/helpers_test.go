package tracker

import (
	"context"
	"sync"
	"time"

	"motochefe-engagement/internal/models"
)

const (
	timeout = 2 * time.Second
	tick    = time.Millisecond
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakePlayer struct {
	mu     sync.Mutex
	pos    float64
	paused bool
	pauses int
	plays  int
}

func (p *fakePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.pauses++
	p.mu.Unlock()
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	p.paused = false
	p.plays++
	p.mu.Unlock()
}

func (p *fakePlayer) seek(pos float64) {
	p.mu.Lock()
	p.pos = pos
	p.mu.Unlock()
}

type memorySink struct {
	events []models.EventInput
}

func (s *memorySink) Enqueue(e models.EventInput) { s.events = append(s.events, e) }

func (s *memorySink) types() []models.EventType {
	out := make([]models.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// recordingSender captures every Send and Beacon. sendErr, when set, fails Send.
type recordingSender struct {
	mu      sync.Mutex
	sends   [][]models.EventInput
	beacons [][]models.EventInput
	sendErr error
	gate    chan struct{}
	during  func()
}

func (s *recordingSender) Send(ctx context.Context, events []models.EventInput) error {
	if s.during != nil {
		s.during()
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, events)
	return s.sendErr
}

func (s *recordingSender) Beacon(events []models.EventInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacons = append(s.beacons, events)
}

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *recordingSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *recordingSender) beaconed() [][]models.EventInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]models.EventInput(nil), s.beacons...)
}

func typesOf(events []models.EventInput) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func eventsOf(types ...models.EventType) []models.EventInput {
	out := make([]models.EventInput, len(types))
	for i, t := range types {
		out[i] = models.EventInput{Type: t, CourseID: "course-1", LessonID: "lesson-1"}
	}
	return out
}
