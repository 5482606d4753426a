// Package models contains the domain entities shared across services,
// stores and the pipeline.
package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a generation request.
type Status string

// Generation request statuses. Requests move forward through the pipeline
// stages and end in either completed or failed.
const (
	StatusPending          Status = "pending"
	StatusGeneratingScript Status = "generating_script"
	StatusGeneratingVoice  Status = "generating_voice"
	StatusGeneratingVideo  Status = "generating_video"
	StatusCompositing      Status = "compositing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// ParseStatus validates a raw status value. Unknown variants are rejected.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusGeneratingScript, StatusGeneratingVoice,
		StatusGeneratingVideo, StatusCompositing, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ScriptType selects where the meditation script comes from.
type ScriptType string

// Script types.
const (
	ScriptAIGenerated  ScriptType = "ai_generated"
	ScriptUserProvided ScriptType = "user_provided"
	ScriptTemplate     ScriptType = "template"
)

// ParseScriptType validates a raw script type. Unknown variants are rejected.
func ParseScriptType(s string) (ScriptType, error) {
	switch ScriptType(s) {
	case ScriptAIGenerated, ScriptUserProvided, ScriptTemplate:
		return ScriptType(s), nil
	}
	return "", fmt.Errorf("unknown script type %q", s)
}

// RequiresContent reports whether the script type needs user-supplied text
// at submission time.
func (t ScriptType) RequiresContent() bool {
	return t == ScriptUserProvided || t == ScriptTemplate
}

// Visibility controls who can see a generation request's resulting video.
type Visibility string

// Visibilities. Private generations carry a credit surcharge.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility validates a raw visibility, defaulting empty to public.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// ValidDurations are the supported generation lengths in seconds.
var ValidDurations = []int{60, 120, 180, 300}

// ValidDuration reports whether d is a supported duration.
func ValidDuration(d int) bool {
	for _, v := range ValidDurations {
		if d == v {
			return true
		}
	}
	return false
}

// MaxVisualPromptLen caps the visual prompt accepted at submission.
const MaxVisualPromptLen = 1000

// GenerationRequest is one user-submitted intent to produce a meditation
// video. Its ID doubles as the queue message id and the object-storage key
// prefix. credits_charged is set once on creation and never mutated.
type GenerationRequest struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	VisualPrompt    string     `json:"visual_prompt"`
	ScriptType      ScriptType `json:"script_type"`
	ScriptContent   string     `json:"script_content,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	AmbientSoundID  *string    `json:"ambient_sound_id,omitempty"`
	MusicTrackID    *string    `json:"music_track_id,omitempty"`
	Visibility      Visibility `json:"visibility"`
	CreditsCharged  int        `json:"credits_charged"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	VideoID         *string    `json:"video_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
