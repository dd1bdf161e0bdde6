package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
)

type pgDeadLetterRepository struct {
	db *pgxpool.Pool
}

// NewPgDeadLetterRepository creates the PostgreSQL-backed dead-letter store.
// Schema: migrations/0001_dead_letter_messages.sql
func NewPgDeadLetterRepository(db *pgxpool.Pool) repository.DeadLetterRepository {
	return &pgDeadLetterRepository{db: db}
}

func (r *pgDeadLetterRepository) Upsert(ctx context.Context, rec *domain.DeadLetterRecord) error {
	payloadJSON, err := json.Marshal(rec.Job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for dead letter %s: %w", rec.Job.JobID, err)
	}

	query := `
		INSERT INTO dead_letter_messages (
			job_id, creator_account_id, recipient_id, payload, priority,
			enqueued_at, attempt_count, last_error, failed_at, final_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			last_error    = EXCLUDED.last_error,
			failed_at     = EXCLUDED.failed_at,
			final_error   = EXCLUDED.final_error
	`
	_, err = r.db.Exec(ctx, query,
		rec.Job.JobID, rec.Job.CreatorAccountID, rec.Job.RecipientID, payloadJSON, rec.Job.Priority,
		rec.Job.EnqueuedAt.UTC(), rec.Job.AttemptCount, rec.Job.LastError, rec.FailedAt.UTC(), rec.FinalError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dead letter %s: %w", rec.Job.JobID, err)
	}
	return nil
}

func (r *pgDeadLetterRepository) GetByJobID(ctx context.Context, jobID string) (*domain.DeadLetterRecord, error) {
	query := `
		SELECT job_id, creator_account_id, recipient_id, payload, priority,
		       enqueued_at, attempt_count, last_error, failed_at, final_error
		FROM dead_letter_messages WHERE job_id = $1
	`
	rec, err := scanDeadLetter(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter %s: %w", jobID, err)
	}
	return rec, nil
}

func (r *pgDeadLetterRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dead_letter_messages WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeadLetterNotFound
	}
	return nil
}

func (r *pgDeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	query := `
		SELECT job_id, creator_account_id, recipient_id, payload, priority,
		       enqueued_at, attempt_count, last_error, failed_at, final_error
		FROM dead_letter_messages
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*domain.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating dead letter rows: %w", err)
	}
	return records, nil
}

func (r *pgDeadLetterRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (*domain.DeadLetterRecord, error) {
	var (
		rec         domain.DeadLetterRecord
		payloadJSON []byte
		enqueuedAt  time.Time
		failedAt    time.Time
	)
	err := row.Scan(
		&rec.Job.JobID, &rec.Job.CreatorAccountID, &rec.Job.RecipientID, &payloadJSON, &rec.Job.Priority,
		&enqueuedAt, &rec.Job.AttemptCount, &rec.Job.LastError, &failedAt, &rec.FinalError,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &rec.Job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for dead letter %s: %w", rec.Job.JobID, err)
	}
	rec.Job.EnqueuedAt = enqueuedAt
	rec.FailedAt = failedAt
	return &rec, nil
}
