package models

import "time"

// ModerationStatus is the moderation state of a published video.
type ModerationStatus string

// Moderation statuses. New videos always start pending.
const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// VideoVisibilityPendingReview is the visibility every freshly generated
// video starts with; the moderation collaborator promotes it afterwards.
const VideoVisibilityPendingReview = "pending_review"

// Video is the published artifact created at the tail of a successful
// pipeline run. Only the moderation collaborator mutates it afterwards.
type Video struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Title            string           `json:"title"`
	StorageKey       string           `json:"storage_key"`
	ThumbnailKey     string           `json:"thumbnail_key"`
	DurationSeconds  int              `json:"duration_seconds"`
	Visibility       string           `json:"visibility"`
	ModerationStatus ModerationStatus `json:"moderation_status"`
	VisualPrompt     string           `json:"visual_prompt"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
