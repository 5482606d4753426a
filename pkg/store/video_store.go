package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stillmind/backend/pkg/models"
)

// VideoStore persists published videos.
type VideoStore struct {
	db *sql.DB
}

// NewVideoStore creates a VideoStore over the given pool.
func NewVideoStore(db *sql.DB) *VideoStore {
	if db == nil {
		panic("store.NewVideoStore: db must not be nil")
	}
	return &VideoStore{db: db}
}

// Create inserts a new video row. Freshly generated videos always start in
// pending_review visibility with moderation pending; the moderation
// collaborator owns all later mutations.
func (s *VideoStore) Create(ctx context.Context, v *models.Video) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO videos (
			id, user_id, title, storage_key, thumbnail_key, duration_seconds,
			visibility, moderation_status, visual_prompt
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		v.ID, v.UserID, v.Title, v.StorageKey, v.ThumbnailKey, v.DurationSeconds,
		v.Visibility, string(v.ModerationStatus), v.VisualPrompt,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// Get fetches a video by id.
func (s *VideoStore) Get(ctx context.Context, id string) (*models.Video, error) {
	v := &models.Video{}
	var moderation string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, storage_key, thumbnail_key, duration_seconds,
		       visibility, moderation_status, visual_prompt, created_at, updated_at
		FROM videos WHERE id = $1`, id,
	).Scan(
		&v.ID, &v.UserID, &v.Title, &v.StorageKey, &v.ThumbnailKey, &v.DurationSeconds,
		&v.Visibility, &moderation, &v.VisualPrompt, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	v.ModerationStatus = models.ModerationStatus(moderation)
	return v, nil
}
