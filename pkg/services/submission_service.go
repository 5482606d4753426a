package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/stillmind/backend/pkg/database"
	"github.com/stillmind/backend/pkg/models"
)

// creditPrices maps duration in seconds to the credit cost.
var creditPrices = map[int]int64{
	60:  5,
	120: 8,
	180: 12,
	300: 15,
}

// privateSurcharge is added when the generation is private.
const privateSurcharge int64 = 3

// Price returns the credit cost for a duration/visibility pair, or an
// error for unsupported durations.
func Price(durationSeconds int, visibility models.Visibility) (int64, error) {
	price, ok := creditPrices[durationSeconds]
	if !ok {
		return 0, fmt.Errorf("no price for duration %d", durationSeconds)
	}
	if visibility == models.VisibilityPrivate {
		price += privateSurcharge
	}
	return price, nil
}

// creditReserver is the ledger operation submission needs.
type creditReserver interface {
	ReserveTx(ctx context.Context, q database.DBTX, userID string, amount int64, description string) (int64, error)
}

// requestCreator persists the new request and can mark it failed when
// scheduling falls through after commit.
type requestCreator interface {
	CreateTx(ctx context.Context, q database.DBTX, req *models.GenerationRequest) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// jobEnqueuer schedules pipeline work for a committed request.
type jobEnqueuer interface {
	Enqueue(ctx context.Context, requestID string) error
}

// SubmitInput is the validated-on-entry submission payload.
type SubmitInput struct {
	VisualPrompt    string
	ScriptType      string
	ScriptContent   string
	DurationSeconds int
	AmbientSoundID  *string
	MusicTrackID    *string
	Visibility      string
}

// SubmissionService accepts generation requests: it validates input,
// prices the request, reserves credits and inserts the request row in one
// database transaction, then enqueues the pipeline job.
type SubmissionService struct {
	db          *sql.DB
	ledger      creditReserver
	generations requestCreator
	queue       jobEnqueuer
	logger      *slog.Logger
}

// NewSubmissionService creates a SubmissionService.
func NewSubmissionService(db *sql.DB, ledger creditReserver, generations requestCreator, queue jobEnqueuer, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		db:          db,
		ledger:      ledger,
		generations: generations,
		queue:       queue,
		logger:      logger.With("component", "submission"),
	}
}

// Submit processes one submission for the given user. On success the
// returned request is pending with credits already charged.
//
// The credit reservation and the request insert share one transaction:
// either both commit or neither does, so a failed insert can never leak a
// charge and a crashed charge can never leak a free request.
func (s *SubmissionService) Submit(ctx context.Context, userID string, in SubmitInput) (*models.GenerationRequest, error) {
	req, err := s.validate(userID, in)
	if err != nil {
		return nil, err
	}

	price, err := Price(req.DurationSeconds, req.Visibility)
	if err != nil {
		// validate already rejected unsupported durations
		return nil, err
	}
	req.CreditsCharged = int(price)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	description := fmt.Sprintf("generation %s (%ds, %s)", req.ID, req.DurationSeconds, req.Visibility)
	if _, err := s.ledger.ReserveTx(ctx, tx, userID, price, description); err != nil {
		return nil, err
	}
	if err := s.generations.CreateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	// Enqueue after commit: enqueueing a row that might roll back would
	// hand the pipeline a phantom request. If the enqueue itself fails the
	// committed request is marked failed so it does not sit pending forever;
	// the cleanup sweeper additionally re-enqueues stale pending rows.
	if err := s.queue.Enqueue(ctx, req.ID); err != nil {
		s.logger.Error("failed to enqueue request", "request_id", req.ID, "error", err)
		if markErr := s.generations.MarkFailed(ctx, req.ID, "failed to schedule generation"); markErr != nil {
			s.logger.Error("failed to mark unscheduled request failed",
				"request_id", req.ID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to schedule generation: %w", err)
	}

	s.logger.Info("request submitted", "request_id", req.ID,
		"user_id", userID, "duration", req.DurationSeconds, "credits", price)
	return req, nil
}

// validate checks the payload and shapes it into a pending request.
func (s *SubmissionService) validate(userID string, in SubmitInput) (*models.GenerationRequest, error) {
	prompt := strings.TrimSpace(in.VisualPrompt)
	if prompt == "" {
		return nil, NewValidationError("visual_prompt", "must not be empty")
	}
	if len([]rune(prompt)) > models.MaxVisualPromptLen {
		return nil, NewValidationError("visual_prompt",
			fmt.Sprintf("must be at most %d characters", models.MaxVisualPromptLen))
	}

	scriptType, err := models.ParseScriptType(in.ScriptType)
	if err != nil {
		return nil, NewValidationError("script_type", err.Error())
	}
	content := strings.TrimSpace(in.ScriptContent)
	if scriptType.RequiresContent() && content == "" {
		return nil, NewValidationError("script_content",
			fmt.Sprintf("required for script_type %q", scriptType))
	}

	if !models.ValidDuration(in.DurationSeconds) {
		return nil, NewValidationError("duration_seconds",
			fmt.Sprintf("must be one of %v", models.ValidDurations))
	}

	visibility, err := models.ParseVisibility(in.Visibility)
	if err != nil {
		return nil, NewValidationError("visibility", err.Error())
	}

	return &models.GenerationRequest{
		ID:              uuid.NewString(),
		UserID:          userID,
		VisualPrompt:    prompt,
		ScriptType:      scriptType,
		ScriptContent:   content,
		DurationSeconds: in.DurationSeconds,
		AmbientSoundID:  in.AmbientSoundID,
		MusicTrackID:    in.MusicTrackID,
		Visibility:      visibility,
		Status:          models.StatusPending,
		Progress:        0,
	}, nil
}
