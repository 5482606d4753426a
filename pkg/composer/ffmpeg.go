package composer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Relative mix levels for the audio layers.
const (
	voiceoverGain = 1.0
	ambientGain   = 0.3
	musicGain     = 0.2
)

// thumbnailOffset is where in the video the thumbnail frame is taken.
const thumbnailOffset = "00:00:02"

// FFmpegComposer implements Composer by shelling out to ffmpeg/ffprobe.
// Streams are spooled to a scratch directory first: ffmpeg needs seekable
// inputs for MP4 containers.
type FFmpegComposer struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewFFmpegComposer creates a composer using ffmpeg and ffprobe from PATH.
func NewFFmpegComposer(logger *slog.Logger) *FFmpegComposer {
	return &FFmpegComposer{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		logger:      logger.With("component", "composer"),
	}
}

// Compose mixes voiceover (and optional ambient/music layers) over the
// video and renders the final MP4 plus a JPEG thumbnail.
func (c *FFmpegComposer) Compose(ctx context.Context, in Inputs) (_ *Result, retErr error) {
	// Spooling consumes and closes each stream in turn; on an early error
	// the untouched streams still hold open response bodies.
	defer func() {
		if retErr != nil {
			closeStreams(in.Video, in.Voiceover, in.Ambient, in.Music)
		}
	}()

	if in.Video == nil || in.Voiceover == nil {
		return nil, fmt.Errorf("compose requires video and voiceover inputs")
	}

	workDir, err := os.MkdirTemp("", "compose-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	videoPath, err := spool(workDir, "input.mp4", in.Video)
	in.Video = nil
	if err != nil {
		cleanup()
		return nil, err
	}
	voicePath, err := spool(workDir, "voiceover.mp3", in.Voiceover)
	in.Voiceover = nil
	if err != nil {
		cleanup()
		return nil, err
	}

	var ambientPath, musicPath string
	if in.Ambient != nil {
		ambientPath, err = spool(workDir, "ambient.mp3", in.Ambient)
		in.Ambient = nil
		if err != nil {
			cleanup()
			return nil, err
		}
	}
	if in.Music != nil {
		musicPath, err = spool(workDir, "music.mp3", in.Music)
		in.Music = nil
		if err != nil {
			cleanup()
			return nil, err
		}
	}

	outPath := filepath.Join(workDir, "final.mp4")
	thumbPath := filepath.Join(workDir, "thumbnail.jpg")

	start := time.Now()
	if err := c.mix(ctx, videoPath, voicePath, ambientPath, musicPath, outPath); err != nil {
		cleanup()
		return nil, err
	}
	if err := c.thumbnail(ctx, outPath, thumbPath); err != nil {
		cleanup()
		return nil, err
	}
	duration, err := c.probeDuration(ctx, outPath)
	if err != nil {
		cleanup()
		return nil, err
	}

	c.logger.Info("composition finished",
		"duration_seconds", duration,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return &Result{
		VideoPath:       outPath,
		ThumbnailPath:   thumbPath,
		DurationSeconds: duration,
		workDir:         workDir,
	}, nil
}

// mix runs the main ffmpeg pass: copy the video track, mix the audio
// layers at their gains, cut output at the shortest stream.
func (c *FFmpegComposer) mix(ctx context.Context, videoPath, voicePath, ambientPath, musicPath, outPath string) error {
	args := []string{"-y", "-i", videoPath, "-i", voicePath}

	// Audio inputs start at ffmpeg index 1 (0 is the video).
	layers := []struct {
		index int
		gain  float64
	}{{1, voiceoverGain}}

	next := 2
	if ambientPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", ambientPath)
		layers = append(layers, struct {
			index int
			gain  float64
		}{next, ambientGain})
		next++
	}
	if musicPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", musicPath)
		layers = append(layers, struct {
			index int
			gain  float64
		}{next, musicGain})
	}

	var filter strings.Builder
	var labels []string
	for i, l := range layers {
		label := fmt.Sprintf("a%d", i)
		fmt.Fprintf(&filter, "[%d:a]volume=%.1f[%s];", l.index, l.gain, label)
		labels = append(labels, "["+label+"]")
	}
	fmt.Fprintf(&filter, "%samix=inputs=%d:duration=first:normalize=0[aout]",
		strings.Join(labels, ""), len(labels))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outPath,
	)

	return c.run(ctx, c.ffmpegPath, args...)
}

func (c *FFmpegComposer) thumbnail(ctx context.Context, videoPath, thumbPath string) error {
	return c.run(ctx, c.ffmpegPath,
		"-y",
		"-ss", thumbnailOffset,
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		thumbPath,
	)
}

func (c *FFmpegComposer) probeDuration(ctx context.Context, videoPath string) (int, error) {
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", out, err)
	}
	return int(math.Round(seconds)), nil
}

func (c *FFmpegComposer) run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(tail))
	}
	return nil
}

// closeStreams closes every closable reader, skipping nils and readers
// already consumed.
func closeStreams(rs ...io.Reader) {
	for _, r := range rs {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// spool copies a stream to disk and closes it if closable.
func spool(dir, name string, r io.Reader) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if rc, ok := r.(io.Closer); ok {
		_ = rc.Close()
	}
	if copyErr != nil {
		return "", fmt.Errorf("failed to spool %s: %w", name, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to flush %s: %w", name, closeErr)
	}
	return path, nil
}
