package composer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedStream is a closable reader that remembers whether it was closed,
// like an HTTP response body would behave.
type trackedStream struct {
	io.Reader
	closed bool
}

func (s *trackedStream) Close() error {
	s.closed = true
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stream reset")
}

func newTestComposer(t *testing.T) *FFmpegComposer {
	t.Helper()
	return NewFFmpegComposer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestComposeMissingVideoClosesStreams(t *testing.T) {
	voice := &trackedStream{Reader: strings.NewReader("mp3")}
	ambient := &trackedStream{Reader: strings.NewReader("mp3")}

	_, err := newTestComposer(t).Compose(context.Background(), Inputs{
		Voiceover: voice,
		Ambient:   ambient,
	})
	require.Error(t, err)

	assert.True(t, voice.closed, "unused voiceover stream is closed on error")
	assert.True(t, ambient.closed, "unused ambient stream is closed on error")
}

func TestComposeSpoolFailureClosesRemainingStreams(t *testing.T) {
	video := &trackedStream{Reader: failingReader{}}
	voice := &trackedStream{Reader: strings.NewReader("mp3")}
	music := &trackedStream{Reader: strings.NewReader("mp3")}

	_, err := newTestComposer(t).Compose(context.Background(), Inputs{
		Video:     video,
		Voiceover: voice,
		Music:     music,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.mp4")

	assert.True(t, video.closed, "the failed stream is closed by spooling")
	assert.True(t, voice.closed, "streams after the failure point are closed too")
	assert.True(t, music.closed)
}
