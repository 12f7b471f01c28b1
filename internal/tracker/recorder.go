package tracker

import (
	"encoding/json"
	"sync"

	"motochefe-engagement/internal/clock"
	"motochefe-engagement/internal/models"
)

// Player is the host video player. The recorder reads its position and may
// pause or resume it, nothing else.
type Player interface {
	CurrentTime() float64
	Paused() bool
	Pause()
	Play()
}

// EventSink receives recorded events in order.
type EventSink interface {
	Enqueue(e models.EventInput)
}

// Recorder turns presence transitions and playback milestones into engagement events.
type Recorder struct {
	clock    clock.Clock
	player   Player
	sink     EventSink
	courseID string
	lessonID string

	mu         sync.Mutex
	started    bool
	ended      bool
	autoPaused bool
}

func NewRecorder(clk clock.Clock, player Player, sink EventSink, courseID, lessonID string) *Recorder {
	return &Recorder{
		clock:    clk,
		player:   player,
		sink:     sink,
		courseID: courseID,
		lessonID: lessonID,
	}
}

// Record appends one event stamped with the current time and playback position.
func (r *Recorder) Record(t models.EventType, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(t, metadata)
}

func (r *Recorder) record(t models.EventType, metadata map[string]interface{}) {
	pos := r.player.CurrentTime()
	e := models.EventInput{
		Type:      t,
		Timestamp: r.clock.Now().UTC(),
		VideoTime: &pos,
		CourseID:  r.courseID,
		LessonID:  r.lessonID,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
	r.sink.Enqueue(e)
}

// SessionStart records session_start the first time it is called.
func (r *Recorder) SessionStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.record(models.EventSessionStart, nil)
}

// SessionEnd records session_end once, and only after a session_start.
func (r *Recorder) SessionEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.ended {
		return
	}
	r.ended = true
	r.record(models.EventSessionEnd, nil)
}

// FaceLost records the loss and pauses playback. If the learner had already
// paused, no automatic pause is taken.
func (r *Recorder) FaceLost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.record(models.EventFaceLost, nil)
	if r.player.Paused() || r.autoPaused {
		return
	}
	r.record(models.EventVideoPausedNoFace, nil)
	r.autoPaused = true
	r.player.Pause()
}

// FaceDetected records the detection and resumes playback only when the
// current pause was taken by FaceLost.
func (r *Recorder) FaceDetected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.record(models.EventFaceDetected, nil)
	if !r.autoPaused {
		return
	}
	r.record(models.EventVideoResumedFaceBack, nil)
	r.autoPaused = false
	r.player.Play()
}

// PlaybackResumed is called when the learner resumes manually; any automatic
// pause is no longer in effect.
func (r *Recorder) PlaybackResumed() {
	r.mu.Lock()
	r.autoPaused = false
	r.mu.Unlock()
}

func (r *Recorder) PlaybackEnded() {
	r.Record(models.EventVideoCompleted, nil)
}

func (r *Recorder) CameraDenied() {
	r.Record(models.EventCameraPermissionDenied, nil)
}

// AutoPaused reports whether playback is currently held by a face loss.
func (r *Recorder) AutoPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoPaused
}
