package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionStart           EventType = "session_start"
	EventSessionEnd             EventType = "session_end"
	EventFaceDetected           EventType = "face_detected"
	EventFaceLost               EventType = "face_lost"
	EventVideoPausedNoFace      EventType = "video_paused_no_face"
	EventVideoResumedFaceBack   EventType = "video_resumed_face_back"
	EventVideoCompleted         EventType = "video_completed"
	EventCameraPermissionDenied EventType = "camera_permission_denied"
)

var eventTypes = map[EventType]bool{
	EventSessionStart:           true,
	EventSessionEnd:             true,
	EventFaceDetected:           true,
	EventFaceLost:               true,
	EventVideoPausedNoFace:      true,
	EventVideoResumedFaceBack:   true,
	EventVideoCompleted:         true,
	EventCameraPermissionDenied: true,
}

func (t EventType) Valid() bool {
	return eventTypes[t]
}

// EngagementEvent is a persisted row of the append-only engagement log.
type EngagementEvent struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	UserID    uuid.UUID       `json:"userId"`
	CourseID  string          `json:"courseId"`
	LessonID  string          `json:"lessonId"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	VideoTime *float64        `json:"videoTime,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventInput is the wire shape posted by trackers. The user comes from the token.
type EventInput struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	VideoTime *float64        `json:"videoTime,omitempty"`
	CourseID  string          `json:"courseId"`
	LessonID  string          `json:"lessonId"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type BatchRequest struct {
	Events []EventInput `json:"events"`
}

// IngestJob is the unit queued on Redis between the batch endpoint and the ingest pool.
type IngestJob struct {
	ID         uuid.UUID    `json:"id"`
	UserID     uuid.UUID    `json:"user_id"`
	Events     []EventInput `json:"events"`
	Attempts   int          `json:"attempts"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	NotBefore  *time.Time   `json:"not_before,omitempty"`
}

type CourseStats struct {
	TotalWatchTime   int `json:"totalWatchTime"`
	TotalSessionTime int `json:"totalSessionTime"`
	PauseCount       int `json:"pauseCount"`
	PresenceRate     int `json:"presenceRate"`
	FaceDetections   int `json:"faceDetections"`
	FaceLosses       int `json:"faceLosses"`
}

type CourseReport struct {
	Events []EngagementEvent `json:"events"`
	Stats  CourseStats       `json:"stats"`
}

type LessonStats struct {
	PauseCount  int `json:"pauseCount"`
	TotalEvents int `json:"totalEvents"`
}

type LessonReport struct {
	Events []EngagementEvent `json:"events"`
	Stats  LessonStats       `json:"stats"`
}
