package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motochefe-engagement/internal/models"
)

type stubEngagementRepo struct {
	mu        sync.Mutex
	created   []*models.EngagementEvent
	batches   [][]*models.EngagementEvent
	events    []models.EngagementEvent
	createErr error
	lastUser  uuid.UUID
	lastScope string
}

func (s *stubEngagementRepo) Create(ctx context.Context, e *models.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	e.ID = uuid.New()
	e.Seq = int64(len(s.created) + 1)
	s.created = append(s.created, e)
	return nil
}

func (s *stubEngagementRepo) CreateBatch(ctx context.Context, events []*models.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, e := range events {
		e.ID = uuid.New()
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *stubEngagementRepo) ListByCourse(ctx context.Context, userID uuid.UUID, courseID string) ([]models.EngagementEvent, error) {
	s.lastUser, s.lastScope = userID, courseID
	return s.events, nil
}

func (s *stubEngagementRepo) ListByLesson(ctx context.Context, userID uuid.UUID, lessonID string) ([]models.EngagementEvent, error) {
	s.lastUser, s.lastScope = userID, lessonID
	return s.events, nil
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func validInput(typ models.EventType) models.EventInput {
	vt := 12.5
	return models.EventInput{
		Type:      typ,
		Timestamp: base,
		VideoTime: &vt,
		CourseID:  "course-1",
		LessonID:  "lesson-1",
	}
}

func TestEngagementService_RecordValidates(t *testing.T) {
	repo := &stubEngagementRepo{}
	svc := NewEngagementService(repo, nil, nil)

	neg := -1.0
	_, err := svc.Record(context.Background(), uuid.New(), models.EventInput{
		Type:      "face_wandered",
		VideoTime: &neg,
		Metadata:  json.RawMessage(`[1,2]`),
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "type")
	assert.Contains(t, ve.Fields, "timestamp")
	assert.Contains(t, ve.Fields, "courseId")
	assert.Contains(t, ve.Fields, "lessonId")
	assert.Contains(t, ve.Fields, "videoTime")
	assert.Contains(t, ve.Fields, "metadata")
	assert.Empty(t, repo.created)
}

func TestEngagementService_RecordPersistsAndPublishes(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := &stubEngagementRepo{}
	svc := NewEngagementService(repo, client, client)

	ctx := context.Background()
	sub := client.Subscribe(ctx, CourseChannel("course-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	userID := uuid.New()
	in := validInput(models.EventFaceLost)
	in.Metadata = json.RawMessage(`{"source":"webcam"}`)
	event, err := svc.Record(ctx, userID, in)
	require.NoError(t, err)

	assert.Equal(t, userID, event.UserID)
	assert.Equal(t, models.EventFaceLost, event.Type)
	assert.JSONEq(t, `{"source":"webcam"}`, string(event.Metadata))
	require.Len(t, repo.created, 1)

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	require.NoError(t, err)

	var ws struct {
		Type    string                 `json:"type"`
		Payload models.EngagementEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ws))
	assert.Equal(t, "engagement_event", ws.Type)
	assert.Equal(t, event.ID, ws.Payload.ID)
}

func TestEngagementService_RecordWrapsStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewEngagementService(&stubEngagementRepo{createErr: boom}, nil, nil)

	_, err := svc.Record(context.Background(), uuid.New(), validInput(models.EventSessionStart))
	assert.ErrorIs(t, err, boom)
}

func TestEngagementService_EnqueueBatch(t *testing.T) {
	mr, client := setupTestRedis(t)
	svc := NewEngagementService(&stubEngagementRepo{}, client, client)
	svc.now = func() time.Time { return base }

	userID := uuid.New()
	events := []models.EventInput{
		validInput(models.EventSessionStart),
		validInput(models.EventFaceDetected),
	}
	n, err := svc.EnqueueBatch(context.Background(), userID, events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := mr.List(IngestQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job models.IngestJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, userID, job.UserID)
	assert.Equal(t, 0, job.Attempts)
	assert.True(t, job.EnqueuedAt.Equal(base))
	require.Len(t, job.Events, 2)
	assert.Equal(t, models.EventFaceDetected, job.Events[1].Type)
}

func TestEngagementService_EnqueueBatchRejectsWholeBatch(t *testing.T) {
	mr, client := setupTestRedis(t)
	svc := NewEngagementService(&stubEngagementRepo{}, client, client)

	bad := validInput(models.EventFaceDetected)
	bad.Type = "blink"
	_, err := svc.EnqueueBatch(context.Background(), uuid.New(), []models.EventInput{
		validInput(models.EventSessionStart),
		bad,
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "events[1].type")
	assert.False(t, mr.Exists(IngestQueue))
}

func TestEngagementService_EnqueueBatchRejectsEmptyAndOversized(t *testing.T) {
	_, client := setupTestRedis(t)
	svc := NewEngagementService(&stubEngagementRepo{}, client, client)

	_, err := svc.EnqueueBatch(context.Background(), uuid.New(), nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "events")

	big := make([]models.EventInput, MaxBatchSize+1)
	for i := range big {
		big[i] = validInput(models.EventFaceDetected)
	}
	_, err = svc.EnqueueBatch(context.Background(), uuid.New(), big)
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields["events"], "At most")
}

func TestEngagementService_PersistBatchKeepsOrder(t *testing.T) {
	repo := &stubEngagementRepo{}
	svc := NewEngagementService(repo, nil, nil)

	job := models.IngestJob{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Events: []models.EventInput{
			validInput(models.EventFaceLost),
			validInput(models.EventVideoPausedNoFace),
		},
	}
	require.NoError(t, svc.PersistBatch(context.Background(), job))

	require.Len(t, repo.batches, 1)
	got := repo.batches[0]
	require.Len(t, got, 2)
	assert.Equal(t, models.EventFaceLost, got[0].Type)
	assert.Equal(t, models.EventVideoPausedNoFace, got[1].Type)
	assert.Equal(t, job.UserID, got[1].UserID)
}

func TestEngagementService_CourseReportUsesNow(t *testing.T) {
	repo := &stubEngagementRepo{events: []models.EngagementEvent{
		ev(models.EventSessionStart, 0),
		ev(models.EventFaceDetected, 0),
	}}
	svc := NewEngagementService(repo, nil, nil)
	svc.now = func() time.Time { return base.Add(40 * time.Second) }

	userID := uuid.New()
	report, err := svc.CourseReport(context.Background(), userID, "course-1")
	require.NoError(t, err)

	assert.Equal(t, userID, repo.lastUser)
	assert.Equal(t, "course-1", repo.lastScope)
	assert.Equal(t, 40, report.Stats.TotalSessionTime)
	assert.Equal(t, 100, report.Stats.PresenceRate)
}

func TestEngagementService_LessonReport(t *testing.T) {
	repo := &stubEngagementRepo{events: []models.EngagementEvent{
		ev(models.EventSessionStart, 0),
		ev(models.EventVideoPausedNoFace, 3),
	}}
	svc := NewEngagementService(repo, nil, nil)

	report, err := svc.LessonReport(context.Background(), uuid.New(), "lesson-1")
	require.NoError(t, err)
	assert.Equal(t, models.LessonStats{PauseCount: 1, TotalEvents: 2}, report.Stats)

	_, err = svc.LessonReport(context.Background(), uuid.New(), " ")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}
