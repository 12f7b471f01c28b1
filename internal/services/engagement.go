package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"motochefe-engagement/internal/models"
)

const (
	IngestQueue     = "queue:engagement-events"
	DeadLetterQueue = "queue:engagement-events:dead"
	// RetryQueue is a sorted set of failed jobs scored by the unix millisecond
	// they become due again.
	RetryQueue = "queue:engagement-events:retry"

	// MaxBatchSize caps one batch request. A tracker flushing every 30s stays far below it.
	MaxBatchSize = 500

	maxIDLength = 128
)

// CourseChannel is the pub/sub channel carrying persisted events of one course.
func CourseChannel(courseID string) string {
	return "engagement_updates:course:" + courseID
}

type EngagementStore interface {
	Create(ctx context.Context, e *models.EngagementEvent) error
	CreateBatch(ctx context.Context, events []*models.EngagementEvent) error
	ListByCourse(ctx context.Context, userID uuid.UUID, courseID string) ([]models.EngagementEvent, error)
	ListByLesson(ctx context.Context, userID uuid.UUID, lessonID string) ([]models.EngagementEvent, error)
}

type EngagementService struct {
	repo   EngagementStore
	queue  *redis.Client
	pubsub *redis.Client
	now    func() time.Time
}

func NewEngagementService(repo EngagementStore, queue, pubsub *redis.Client) *EngagementService {
	return &EngagementService{
		repo:   repo,
		queue:  queue,
		pubsub: pubsub,
		now:    time.Now,
	}
}

// Record validates and persists a single event synchronously.
func (s *EngagementService) Record(ctx context.Context, userID uuid.UUID, in models.EventInput) (*models.EngagementEvent, error) {
	if fieldErrors := validateEvent(in, ""); len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	event := toEvent(userID, in)
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store engagement event: %w", err)
	}

	s.Publish(ctx, []*models.EngagementEvent{event})
	return event, nil
}

// EnqueueBatch validates every event and hands the batch to the ingest pool.
// Nothing is queued when any event is invalid.
func (s *EngagementService) EnqueueBatch(ctx context.Context, userID uuid.UUID, events []models.EventInput) (int, error) {
	fieldErrors := make(map[string]string)
	switch {
	case len(events) == 0:
		fieldErrors["events"] = "At least one event is required"
	case len(events) > MaxBatchSize:
		fieldErrors["events"] = fmt.Sprintf("At most %d events per batch", MaxBatchSize)
	}
	for i, in := range events {
		for k, v := range validateEvent(in, fmt.Sprintf("events[%d].", i)) {
			fieldErrors[k] = v
		}
	}
	if len(fieldErrors) > 0 {
		return 0, &ValidationError{Fields: fieldErrors}
	}

	job := models.IngestJob{
		ID:         uuid.New(),
		UserID:     userID,
		Events:     events,
		EnqueuedAt: s.now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ingest job: %w", err)
	}
	if err := s.queue.RPush(ctx, IngestQueue, payload).Err(); err != nil {
		return 0, fmt.Errorf("failed to enqueue ingest job: %w", err)
	}

	return len(events), nil
}

// PersistBatch stores a queued batch in one transaction, then publishes it.
func (s *EngagementService) PersistBatch(ctx context.Context, job models.IngestJob) error {
	events := make([]*models.EngagementEvent, 0, len(job.Events))
	for _, in := range job.Events {
		events = append(events, toEvent(job.UserID, in))
	}
	if err := s.repo.CreateBatch(ctx, events); err != nil {
		return fmt.Errorf("failed to store batch %s: %w", job.ID, err)
	}

	s.Publish(ctx, events)
	return nil
}

// Publish fans persisted events out to live monitors. Failures only log.
func (s *EngagementService) Publish(ctx context.Context, events []*models.EngagementEvent) {
	if s.pubsub == nil {
		return
	}
	for _, e := range events {
		data, err := json.Marshal(models.WSMessage{Type: "engagement_event", Payload: e})
		if err != nil {
			continue
		}
		if err := s.pubsub.Publish(ctx, CourseChannel(e.CourseID), data).Err(); err != nil {
			log.Printf("failed to publish engagement event %s: %v", e.ID, err)
		}
	}
}

func (s *EngagementService) CourseReport(ctx context.Context, userID uuid.UUID, courseID string) (*models.CourseReport, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"courseId": "Course ID is required"}}
	}

	events, err := s.repo.ListByCourse(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course events: %w", err)
	}

	report := BuildCourseReport(events, s.now())
	return &report, nil
}

func (s *EngagementService) LessonReport(ctx context.Context, userID uuid.UUID, lessonID string) (*models.LessonReport, error) {
	if strings.TrimSpace(lessonID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"lessonId": "Lesson ID is required"}}
	}

	events, err := s.repo.ListByLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson events: %w", err)
	}

	report := BuildLessonReport(events)
	return &report, nil
}

func validateEvent(in models.EventInput, prefix string) map[string]string {
	fieldErrors := make(map[string]string)

	if !in.Type.Valid() {
		fieldErrors[prefix+"type"] = fmt.Sprintf("Unknown event type %q", in.Type)
	}
	if in.Timestamp.IsZero() {
		fieldErrors[prefix+"timestamp"] = "Timestamp is required"
	}
	if id := strings.TrimSpace(in.CourseID); id == "" {
		fieldErrors[prefix+"courseId"] = "Course ID is required"
	} else if len(id) > maxIDLength {
		fieldErrors[prefix+"courseId"] = "Course ID is too long"
	}
	if id := strings.TrimSpace(in.LessonID); id == "" {
		fieldErrors[prefix+"lessonId"] = "Lesson ID is required"
	} else if len(id) > maxIDLength {
		fieldErrors[prefix+"lessonId"] = "Lesson ID is too long"
	}
	if in.VideoTime != nil && *in.VideoTime < 0 {
		fieldErrors[prefix+"videoTime"] = "Video time cannot be negative"
	}
	if len(in.Metadata) > 0 && !isJSONObject(in.Metadata) {
		fieldErrors[prefix+"metadata"] = "Metadata must be a JSON object"
	}

	return fieldErrors
}

// isJSONObject also accepts a literal null.
func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}

func toEvent(userID uuid.UUID, in models.EventInput) *models.EngagementEvent {
	var metadata json.RawMessage
	if trimmed := bytes.TrimSpace(in.Metadata); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		metadata = in.Metadata
	}
	return &models.EngagementEvent{
		UserID:    userID,
		CourseID:  strings.TrimSpace(in.CourseID),
		LessonID:  strings.TrimSpace(in.LessonID),
		Type:      in.Type,
		Timestamp: in.Timestamp.UTC(),
		VideoTime: in.VideoTime,
		Metadata:  metadata,
	}
}
