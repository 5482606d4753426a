package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stillmind/backend/pkg/models"
	"github.com/stillmind/backend/pkg/store"
)

// Pagination bounds for listing generations.
const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 50
)

// requestReader is the read side of the generation store.
type requestReader interface {
	GetOwned(ctx context.Context, id, userID string) (*models.GenerationRequest, error)
	ListByUser(ctx context.Context, userID string, page, limit int, status models.Status) ([]*models.GenerationRequest, int, error)
}

// ListResult is one page of a user's requests.
type ListResult struct {
	Requests []*models.GenerationRequest `json:"requests"`
	Page     int                         `json:"page"`
	Limit    int                         `json:"limit"`
	Total    int                         `json:"total"`
}

// Progress is the polling view of one request. VideoID is set only once
// the request has completed.
type Progress struct {
	ID       string        `json:"id"`
	Status   models.Status `json:"status"`
	Progress int           `json:"progress"`
	VideoID  *string       `json:"video_id"`
}

// GenerationService answers read queries about a user's own generations.
type GenerationService struct {
	requests requestReader
	logger   *slog.Logger
}

// NewGenerationService creates a GenerationService.
func NewGenerationService(requests requestReader, logger *slog.Logger) *GenerationService {
	return &GenerationService{
		requests: requests,
		logger:   logger.With("component", "generations"),
	}
}

// List returns one page of the user's requests, newest first. Zero page or
// limit selects the defaults; out-of-range values are rejected.
func (s *GenerationService) List(ctx context.Context, userID string, page, limit int, status string) (*ListResult, error) {
	if page == 0 {
		page = defaultPage
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if page < 1 {
		return nil, NewValidationError("page", "must be at least 1")
	}
	if limit < 1 || limit > maxLimit {
		return nil, NewValidationError("limit",
			fmt.Sprintf("must be between 1 and %d", maxLimit))
	}

	var statusFilter models.Status
	if status != "" {
		parsed, err := models.ParseStatus(status)
		if err != nil {
			return nil, NewValidationError("status", err.Error())
		}
		statusFilter = parsed
	}

	requests, total, err := s.requests.ListByUser(ctx, userID, page, limit, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return &ListResult{Requests: requests, Page: page, Limit: limit, Total: total}, nil
}

// GetProgress returns the progress view of a request owned by userID. A
// request owned by someone else is reported as not found, never as
// forbidden, so request ids leak nothing.
func (s *GenerationService) GetProgress(ctx context.Context, userID, requestID string) (*Progress, error) {
	req, err := s.requests.GetOwned(ctx, requestID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return &Progress{
		ID:       req.ID,
		Status:   req.Status,
		Progress: req.Progress,
		VideoID:  req.VideoID,
	}, nil
}
