package simulate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/models"
	"motochefe-engagement/internal/presence"
	"motochefe-engagement/internal/tracker"
)

var t0 = time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC)

func TestTimeline_FaceAt(t *testing.T) {
	tl := NewTimeline(t0, []Step{
		{Face: true, For: 10 * time.Second},
		{Face: false, For: 5 * time.Second},
		{Face: true, For: time.Second},
	})

	assert.False(t, tl.FaceAt(t0.Add(-time.Second)))
	assert.True(t, tl.FaceAt(t0))
	assert.True(t, tl.FaceAt(t0.Add(9999*time.Millisecond)))
	assert.False(t, tl.FaceAt(t0.Add(10*time.Second)))
	assert.True(t, tl.FaceAt(t0.Add(15500*time.Millisecond)))
	assert.False(t, tl.FaceAt(t0.Add(16*time.Second)))
	assert.Equal(t, t0.Add(16*time.Second), tl.End())
}

func TestPlayer_AdvancesOnlyWhilePlaying(t *testing.T) {
	clk := clock.NewMock(t0)
	p := NewPlayer(clk, time.Minute)

	clk.Advance(5 * time.Second)
	assert.InDelta(t, 5.0, p.CurrentTime(), 1e-9)

	p.Pause()
	p.Pause()
	clk.Advance(10 * time.Second)
	assert.True(t, p.Paused())
	assert.InDelta(t, 5.0, p.CurrentTime(), 1e-9)
	assert.Equal(t, 1, p.Pauses())

	p.Play()
	clk.Advance(2 * time.Second)
	assert.InDelta(t, 7.0, p.CurrentTime(), 1e-9)
	assert.False(t, p.Ended())

	clk.Advance(time.Hour)
	assert.InDelta(t, 60.0, p.CurrentTime(), 1e-9)
	assert.True(t, p.Ended())
}

func TestCamera_OpenErrors(t *testing.T) {
	cam := &Camera{Clock: clock.NewMock(t0), Err: presence.ErrPermissionDenied}
	_, err := cam.Open(context.Background(), presence.DefaultConstraints)
	assert.ErrorIs(t, err, presence.ErrPermissionDenied)

	cam = &Camera{Clock: clock.NewMock(t0)}
	s, err := cam.Open(context.Background(), presence.DefaultConstraints)
	require.NoError(t, err)

	f, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, 320, f.Width)
	assert.Equal(t, uint64(1), f.Seq)

	require.NoError(t, s.Close())
	_, ok = s.Frame()
	assert.False(t, ok)
}

func TestModel_FollowsTimeline(t *testing.T) {
	m := &Model{Timeline: NewTimeline(t0, []Step{{Face: true, For: time.Second}})}

	det, err := m.DetectSingleFace(context.Background(), presence.Frame{Width: 320, Height: 240, CapturedAt: t0})
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.GreaterOrEqual(t, det.Score, 0.5)

	det, err = m.DetectSingleFace(context.Background(), presence.Frame{CapturedAt: t0.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Nil(t, det)
}

type captureSender struct {
	mu      sync.Mutex
	beacons [][]models.EventInput
}

func (c *captureSender) Send(ctx context.Context, events []models.EventInput) error { return nil }

func (c *captureSender) Beacon(events []models.EventInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beacons = append(c.beacons, events)
}

// A scripted lesson: watch, step away long enough to trigger the auto-pause,
// come back, stop.
func TestScriptedSession(t *testing.T) {
	const poll = 100 * time.Millisecond
	clk := clock.NewMock(t0)
	player := NewPlayer(clk, 10*time.Minute)
	model := &Model{Timeline: NewTimeline(t0, []Step{
		{Face: true, For: 10 * time.Second},
		{Face: false, For: 10 * time.Second},
		{Face: true, For: time.Minute},
	})}
	sender := &captureSender{}

	tr := tracker.New(&Camera{Clock: clk}, player, sender, tracker.Config{
		CourseID:      "course-1",
		LessonID:      "lesson-1",
		FlushInterval: time.Hour,
		Clock:         clk,
		Presence: presence.Options{
			PollInterval: poll,
			GracePeriod:  time.Second,
			Load:         model.Loader(),
			Models:       &presence.ModelCache{},
		},
	})
	defer tr.Stop()
	tr.Start(context.Background())

	samples := func() uint64 { return tr.Status().Stats.Samples }

	// The poll ticker appears shortly after tracking starts; keep nudging until the first sample.
	require.Eventually(t, func() bool {
		if samples() > 0 {
			return true
		}
		clk.Advance(poll)
		return false
	}, 2*time.Second, time.Millisecond)

	stepUntil := func(until time.Time) {
		for clk.Now().Before(until) {
			want := samples() + 1
			clk.Advance(poll)
			require.Eventually(t, func() bool { return samples() >= want }, 2*time.Second, time.Millisecond)
		}
	}

	stepUntil(t0.Add(15 * time.Second))
	require.Eventually(t, player.Paused, 2*time.Second, time.Millisecond)
	assert.InDelta(t, 11.0, player.CurrentTime(), 0.3)

	stepUntil(t0.Add(25 * time.Second))
	require.Eventually(t, func() bool { return !player.Paused() }, 2*time.Second, time.Millisecond)
	assert.InDelta(t, 16.0, player.CurrentTime(), 0.3)

	tr.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.beacons, 1)
	var types []models.EventType
	for _, e := range sender.beacons[0] {
		types = append(types, e.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventSessionStart,
		models.EventFaceDetected,
		models.EventFaceLost,
		models.EventVideoPausedNoFace,
		models.EventFaceDetected,
		models.EventVideoResumedFaceBack,
		models.EventSessionEnd,
	}, types)
}
