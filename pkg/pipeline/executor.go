// Package pipeline runs the five-stage generation flow for one claimed
// job: script, voiceover, video, composition, publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stillmind/backend/pkg/composer"
	"github.com/stillmind/backend/pkg/models"
	"github.com/stillmind/backend/pkg/objectstore"
	"github.com/stillmind/backend/pkg/providers"
	"github.com/stillmind/backend/pkg/queue"
	"github.com/stillmind/backend/pkg/store"
)

// Progress checkpoints. Each stage announces its start, then its finish;
// the video stage interpolates between its bounds while polling.
const (
	progressScriptStart = 5
	progressScriptDone  = 15
	progressVoiceStart  = 20
	progressVoiceDone   = 35
	progressVideoStart  = 40
	progressVideoCap    = 75
	progressComposite   = 78
	progressComposed    = 95
	progressDone        = 100
)

// Video provider polling bounds: 48 polls at 10s is the 8 minute budget.
const (
	veoPollInterval = 10 * time.Second
	veoMaxPolls     = 48
)

// maxVideoTitleLen caps the title derived from the visual prompt.
const maxVideoTitleLen = 200

// GenerationStore is the request persistence the executor needs.
type GenerationStore interface {
	Get(ctx context.Context, id string) (*models.GenerationRequest, error)
	UpdateProgress(ctx context.Context, id string, status models.Status, progress int) error
	SetScriptContent(ctx context.Context, id, content string) error
	MarkCompleted(ctx context.Context, id, videoID string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// VideoStore persists the published artifact at the tail of a run.
type VideoStore interface {
	Create(ctx context.Context, v *models.Video) error
}

// Executor implements queue.Handler and queue.FailureHook for generation
// jobs. Any stage error returns to the queue for retry; the request is
// marked failed only through OnJobFailed when attempts are exhausted.
type Executor struct {
	generations GenerationStore
	videos      VideoStore
	script      providers.ScriptPort
	voice       providers.VoicePort
	video       providers.VideoPort
	storage     objectstore.Store
	compose     composer.Composer

	defaultVoiceID string
	logger         *slog.Logger

	// sleep is injected in tests to skip the poll interval.
	sleep func(ctx context.Context, d time.Duration) error
}

// compile-time interface checks
var (
	_ queue.Handler     = (*Executor)(nil)
	_ queue.FailureHook = (*Executor)(nil)
)

// NewExecutor wires the pipeline's collaborators.
func NewExecutor(
	generations GenerationStore,
	videos VideoStore,
	script providers.ScriptPort,
	voice providers.VoicePort,
	video providers.VideoPort,
	storage objectstore.Store,
	compose composer.Composer,
	defaultVoiceID string,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		generations:    generations,
		videos:         videos,
		script:         script,
		voice:          voice,
		video:          video,
		storage:        storage,
		compose:        compose,
		defaultVoiceID: defaultVoiceID,
		logger:         logger.With("component", "pipeline"),
		sleep:          sleepCtx,
	}
}

// Execute runs all stages for one job attempt.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) error {
	req, err := e.generations.Get(ctx, job.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}

	// A redelivered job for a finished request is a no-op.
	if req.Status.Terminal() {
		e.logger.Info("skipping terminal request",
			"request_id", req.ID, "status", req.Status)
		return nil
	}

	log := e.logger.With("request_id", req.ID, "attempt", job.Attempts)

	script, err := e.runScriptStage(ctx, req)
	if err != nil {
		return err
	}
	log.Info("script stage done", "script_words", wordCount(script))

	if err := e.runVoiceStage(ctx, req, script); err != nil {
		return err
	}
	log.Info("voice stage done")

	videoJobID, err := e.runVideoStage(ctx, req)
	if err != nil {
		return err
	}
	log.Info("video stage done", "provider_job_id", videoJobID)

	videoID, err := e.runComposeStage(ctx, req, videoJobID)
	if err != nil {
		return err
	}

	if err := e.generations.MarkCompleted(ctx, req.ID, videoID); err != nil {
		return fmt.Errorf("failed to mark request completed: %w", err)
	}
	log.Info("request completed", "video_id", videoID)
	return nil
}

// OnJobFailed marks the request failed once the queue has exhausted its
// attempts. Progress stays frozen at the last stage value.
func (e *Executor) OnJobFailed(ctx context.Context, requestID string, jobErr error) {
	msg := "generation failed"
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if err := e.generations.MarkFailed(ctx, requestID, msg); err != nil {
		e.logger.Error("failed to mark request failed",
			"request_id", requestID, "error", err)
	}
}

// runScriptStage resolves the script text, generating it when the request
// asked for AI generation or arrived without content.
func (e *Executor) runScriptStage(ctx context.Context, req *models.GenerationRequest) (string, error) {
	if err := e.progress(ctx, req.ID, models.StatusGeneratingScript, progressScriptStart); err != nil {
		return "", err
	}

	script := req.ScriptContent
	if req.ScriptType == models.ScriptAIGenerated || script == "" {
		generated, err := e.script.Generate(ctx, providers.ScriptRequest{
			MeditationType:  req.VisualPrompt,
			DurationSeconds: req.DurationSeconds,
		})
		if err != nil {
			return "", fmt.Errorf("script generation failed: %w", err)
		}
		if err := e.generations.SetScriptContent(ctx, req.ID, generated); err != nil {
			return "", err
		}
		script = generated
	}

	if err := e.progress(ctx, req.ID, models.StatusGeneratingScript, progressScriptDone); err != nil {
		return "", err
	}
	return script, nil
}

// runVoiceStage synthesizes narration and streams it straight into object
// storage.
func (e *Executor) runVoiceStage(ctx context.Context, req *models.GenerationRequest, script string) error {
	if err := e.progress(ctx, req.ID, models.StatusGeneratingVoice, progressVoiceStart); err != nil {
		return err
	}

	audio, err := e.voice.Synthesize(ctx, script, e.defaultVoiceID)
	if err != nil {
		return fmt.Errorf("voice synthesis failed: %w", err)
	}
	defer audio.Close()

	key := objectstore.VoiceoverKey(req.ID)
	if err := e.storage.Upload(ctx, key, objectstore.ContentTypeMP3, audio); err != nil {
		return fmt.Errorf("voiceover upload failed: %w", err)
	}

	return e.progress(ctx, req.ID, models.StatusGeneratingVoice, progressVoiceDone)
}

// runVideoStage starts the provider job and polls it to completion,
// interpolating progress across the poll budget.
func (e *Executor) runVideoStage(ctx context.Context, req *models.GenerationRequest) (string, error) {
	if err := e.progress(ctx, req.ID, models.StatusGeneratingVideo, progressVideoStart); err != nil {
		return "", err
	}

	jobID, err := e.video.Start(ctx, req.VisualPrompt, req.DurationSeconds)
	if err != nil {
		return "", fmt.Errorf("video start failed: %w", err)
	}

	for i := 1; i <= veoMaxPolls; i++ {
		if err := e.sleep(ctx, veoPollInterval); err != nil {
			return "", err
		}

		poll, err := e.video.Poll(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("video poll failed: %w", err)
		}

		switch poll.State {
		case providers.VideoCompleted:
			return jobID, nil
		case providers.VideoFailed:
			return "", fmt.Errorf("video generation failed: %s", poll.Message)
		}

		if err := e.progress(ctx, req.ID, models.StatusGeneratingVideo, videoProgress(i)); err != nil {
			return "", err
		}
	}

	return "", errors.New("Veo generation timed out after 8 minutes")
}

// videoProgress interpolates poll count i over the video stage's range.
func videoProgress(i int) int {
	span := float64(progressVideoCap - progressVideoStart)
	p := progressVideoStart + int(math.Round(float64(i)/veoMaxPolls*span))
	if p > progressVideoCap {
		p = progressVideoCap
	}
	return p
}

// runComposeStage fetches the raw media, mixes the final video, uploads
// the artifacts and records the published video row.
func (e *Executor) runComposeStage(ctx context.Context, req *models.GenerationRequest, videoJobID string) (string, error) {
	if err := e.progress(ctx, req.ID, models.StatusCompositing, progressComposite); err != nil {
		return "", err
	}

	rawVideo, err := e.video.Fetch(ctx, videoJobID)
	if err != nil {
		return "", fmt.Errorf("video fetch failed: %w", err)
	}
	voiceover, err := e.storage.Download(ctx, objectstore.VoiceoverKey(req.ID))
	if err != nil {
		_ = rawVideo.Close()
		return "", fmt.Errorf("voiceover download failed: %w", err)
	}

	inputs := composer.Inputs{Video: rawVideo, Voiceover: voiceover}
	if req.AmbientSoundID != nil {
		ambient, err := e.storage.Download(ctx, objectstore.AmbientSoundKey(*req.AmbientSoundID))
		if err != nil {
			_ = rawVideo.Close()
			_ = voiceover.Close()
			return "", fmt.Errorf("ambient sound download failed: %w", err)
		}
		inputs.Ambient = ambient
	}
	if req.MusicTrackID != nil {
		music, err := e.storage.Download(ctx, objectstore.MusicTrackKey(*req.MusicTrackID))
		if err != nil {
			_ = rawVideo.Close()
			_ = voiceover.Close()
			if c, ok := inputs.Ambient.(io.Closer); ok {
				_ = c.Close()
			}
			return "", fmt.Errorf("music track download failed: %w", err)
		}
		inputs.Music = music
	}

	// The composer spools and closes the input streams.
	result, err := e.compose.Compose(ctx, inputs)
	if err != nil {
		return "", fmt.Errorf("composition failed: %w", err)
	}
	defer result.Cleanup()

	// Composition is done; the remaining uploads happen past the 95 mark.
	if err := e.progress(ctx, req.ID, models.StatusCompositing, progressComposed); err != nil {
		return "", err
	}

	videoKey := objectstore.FinalVideoKey(req.ID)
	thumbKey := objectstore.ThumbnailKey(req.ID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.uploadFile(gctx, videoKey, objectstore.ContentTypeMP4, result.VideoPath)
	})
	g.Go(func() error {
		return e.uploadFile(gctx, thumbKey, objectstore.ContentTypeJPEG, result.ThumbnailPath)
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	video := &models.Video{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Title:            videoTitle(req.VisualPrompt),
		StorageKey:       videoKey,
		ThumbnailKey:     thumbKey,
		DurationSeconds:  result.DurationSeconds,
		Visibility:       models.VideoVisibilityPendingReview,
		ModerationStatus: models.ModerationPending,
		VisualPrompt:     req.VisualPrompt,
	}
	if err := e.videos.Create(ctx, video); err != nil {
		return "", fmt.Errorf("failed to record video: %w", err)
	}
	return video.ID, nil
}

func (e *Executor) uploadFile(ctx context.Context, key, contentType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return e.storage.Upload(ctx, key, contentType, f)
}

// progress advances the request's status/progress; a vanished request row
// is surfaced so the attempt stops early.
func (e *Executor) progress(ctx context.Context, id string, status models.Status, p int) error {
	if err := e.generations.UpdateProgress(ctx, id, status, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("request %s disappeared mid-run: %w", id, err)
		}
		return err
	}
	return nil
}

// videoTitle derives a title from the visual prompt, truncated on rune
// boundaries.
func videoTitle(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= maxVideoTitleLen {
		return prompt
	}
	return string(runes[:maxVideoTitleLen])
}

func wordCount(s string) int {
	n, inWord := 0, false
	for _, r := range s {
		sp := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !sp && !inWord {
			n++
		}
		inWord = !sp
	}
	return n
}

// sleepCtx waits for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
