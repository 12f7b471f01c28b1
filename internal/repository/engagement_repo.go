package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"motochefe-engagement/internal/models"
)

const insertEventSQL = `
	INSERT INTO engagement_events (user_id, course_id, lesson_id, event_type, event_timestamp, video_time, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, seq, created_at
`

const selectEventColumns = `
	SELECT id, seq, user_id, course_id, lesson_id, event_type, event_timestamp, video_time, metadata, created_at
	FROM engagement_events
`

type EngagementRepo struct {
	pool *pgxpool.Pool
}

func NewEngagementRepo(pool *pgxpool.Pool) *EngagementRepo {
	return &EngagementRepo{pool: pool}
}

func (r *EngagementRepo) Create(ctx context.Context, e *models.EngagementEvent) error {
	return r.pool.QueryRow(ctx, insertEventSQL, insertArgs(e)...).Scan(&e.ID, &e.Seq, &e.CreatedAt)
}

// CreateBatch inserts all events in one transaction, preserving slice order in seq.
func (r *EngagementRepo) CreateBatch(ctx context.Context, events []*models.EngagementEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventSQL, insertArgs(e)...)
	}

	results := tx.SendBatch(ctx, batch)
	for i, e := range events {
		if err := results.QueryRow().Scan(&e.ID, &e.Seq, &e.CreatedAt); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert event %d of batch: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *EngagementRepo) ListByCourse(ctx context.Context, userID uuid.UUID, courseID string) ([]models.EngagementEvent, error) {
	query := selectEventColumns + `
		WHERE user_id = $1 AND course_id = $2
		ORDER BY event_timestamp ASC, seq ASC
	`
	return r.list(ctx, query, userID, courseID)
}

func (r *EngagementRepo) ListByLesson(ctx context.Context, userID uuid.UUID, lessonID string) ([]models.EngagementEvent, error) {
	query := selectEventColumns + `
		WHERE user_id = $1 AND lesson_id = $2
		ORDER BY event_timestamp ASC, seq ASC
	`
	return r.list(ctx, query, userID, lessonID)
}

func (r *EngagementRepo) list(ctx context.Context, query string, args ...any) ([]models.EngagementEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.EngagementEvent{}
	for rows.Next() {
		var e models.EngagementEvent
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.UserID, &e.CourseID, &e.LessonID, &e.Type,
			&e.Timestamp, &e.VideoTime, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func insertArgs(e *models.EngagementEvent) []any {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	return []any{e.UserID, e.CourseID, e.LessonID, string(e.Type), e.Timestamp, e.VideoTime, metadata}
}
