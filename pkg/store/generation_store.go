// Package store contains the PostgreSQL repositories for generation
// requests and videos.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stillmind/backend/pkg/database"
	"github.com/stillmind/backend/pkg/models"
)

// ErrNotFound is returned when the requested row does not exist, or when an
// owner-scoped lookup does not match the caller's user id.
var ErrNotFound = errors.New("not found")

const generationColumns = `
	id, user_id, visual_prompt, script_type, script_content, duration_seconds,
	ambient_sound_id, music_track_id, visibility, credits_charged, status,
	progress, error_message, video_id, created_at, updated_at`

// GenerationStore persists generation requests.
type GenerationStore struct {
	db *sql.DB
}

// NewGenerationStore creates a GenerationStore over the given pool.
func NewGenerationStore(db *sql.DB) *GenerationStore {
	if db == nil {
		panic("store.NewGenerationStore: db must not be nil")
	}
	return &GenerationStore{db: db}
}

// CreateTx inserts a new request inside a caller-owned transaction so the
// insert commits together with the credit reservation.
func (s *GenerationStore) CreateTx(ctx context.Context, q database.DBTX, req *models.GenerationRequest) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO generation_requests (
			id, user_id, visual_prompt, script_type, script_content,
			duration_seconds, ambient_sound_id, music_track_id, visibility,
			credits_charged, status, progress
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		req.ID, req.UserID, req.VisualPrompt, string(req.ScriptType), req.ScriptContent,
		req.DurationSeconds, req.AmbientSoundID, req.MusicTrackID, string(req.Visibility),
		req.CreditsCharged, string(req.Status), req.Progress,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create generation request: %w", err)
	}
	return nil
}

// Get fetches a request by id.
func (s *GenerationStore) Get(ctx context.Context, id string) (*models.GenerationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generation_requests WHERE id = $1`, id)
	return scanGeneration(row)
}

// GetOwned fetches a request by id scoped to its owner. A mismatched owner
// is indistinguishable from a missing row.
func (s *GenerationStore) GetOwned(ctx context.Context, id, userID string) (*models.GenerationRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generation_requests WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanGeneration(row)
}

// ListByUser returns one page of the user's requests, newest first, with the
// total row count for pagination. status filters when non-empty.
func (s *GenerationStore) ListByUser(ctx context.Context, userID string, page, limit int, status models.Status) ([]*models.GenerationRequest, int, error) {
	offset := (page - 1) * limit

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generation_requests
		WHERE user_id = $1 AND ($2 = '' OR status = $2)`,
		userID, string(status),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count generation requests: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+generationColumns+` FROM generation_requests
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		userID, string(status), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list generation requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*models.GenerationRequest, 0, limit)
	for rows.Next() {
		req, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

// UpdateProgress moves the request to status and raises progress. Progress
// is monotone: GREATEST keeps a delayed writer from moving it backwards.
func (s *GenerationStore) UpdateProgress(ctx context.Context, id string, status models.Status, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_requests
		SET status = $2, progress = GREATEST(progress, $3), updated_at = NOW()
		WHERE id = $1`,
		id, string(status), progress,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return requireRow(res)
}

// SetScriptContent persists the generated script on the request.
func (s *GenerationStore) SetScriptContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_requests
		SET script_content = $2, updated_at = NOW()
		WHERE id = $1`,
		id, content,
	)
	if err != nil {
		return fmt.Errorf("failed to set script content: %w", err)
	}
	return requireRow(res)
}

// MarkCompleted finishes the request: completed, progress 100, linked video.
func (s *GenerationStore) MarkCompleted(ctx context.Context, id, videoID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_requests
		SET status = $2, progress = 100, video_id = $3, updated_at = NOW()
		WHERE id = $1`,
		id, string(models.StatusCompleted), videoID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request completed: %w", err)
	}
	return requireRow(res)
}

// MarkFailed sets the terminal failed status. Progress stays frozen at its
// last value and video_id stays empty.
func (s *GenerationStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_requests
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`,
		id, string(models.StatusFailed), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	return requireRow(res)
}

// StalePendingIDs returns ids of requests still pending after the grace
// interval. The cleanup sweeper re-enqueues them; enqueue idempotency makes
// double submission harmless.
func (s *GenerationStore) StalePendingIDs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM generation_requests
		WHERE status = $1 AND created_at < NOW() - $2::interval
		ORDER BY created_at
		LIMIT $3`,
		string(models.StatusPending), fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pending requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.GenerationRequest, error) {
	req := &models.GenerationRequest{}
	var (
		scriptType, visibility, status string
		scriptContent, errMsg          sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.VisualPrompt, &scriptType, &scriptContent,
		&req.DurationSeconds, &req.AmbientSoundID, &req.MusicTrackID, &visibility,
		&req.CreditsCharged, &status, &req.Progress, &errMsg, &req.VideoID,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation request: %w", err)
	}
	req.ScriptType = models.ScriptType(scriptType)
	req.Visibility = models.Visibility(visibility)
	req.Status = models.Status(status)
	req.ScriptContent = scriptContent.String
	req.ErrorMessage = errMsg.String
	return req, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
