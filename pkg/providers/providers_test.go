package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindTransient, classifyStatus(429))
	assert.Equal(t, KindTransient, classifyStatus(500))
	assert.Equal(t, KindTransient, classifyStatus(503))
	assert.Equal(t, KindPermanent, classifyStatus(400))
	assert.Equal(t, KindPermanent, classifyStatus(401))
	assert.Equal(t, KindPermanent, classifyStatus(404))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Transient("script.generate", "request failed", inner)
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent("voice.synthesize", "empty script text", nil)))
}

func TestScriptGenerate(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "  breathe in\n"}}},
		})
	}))
	defer srv.Close()

	c := NewOpenAIScriptClient(srv.URL, "key-1", "gpt-test")
	script, err := c.Generate(context.Background(), ScriptRequest{
		MeditationType:  "forest calm",
		DurationSeconds: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, "breathe in", script, "response is trimmed")

	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, "gpt-test", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	// 120s at 130 wpm → 260 word target in the prompt.
	assert.Contains(t, gotBody.Messages[1].Content, "260 words")
	assert.Contains(t, gotBody.Messages[1].Content, "forest calm")
}

func TestScriptGenerateErrorKinds(t *testing.T) {
	for status, wantKind := range map[int]ErrorKind{
		http.StatusTooManyRequests:     KindTransient,
		http.StatusBadGateway:          KindTransient,
		http.StatusUnauthorized:        KindPermanent,
		http.StatusUnprocessableEntity: KindPermanent,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", status)
		}))

		c := NewOpenAIScriptClient(srv.URL, "key", "model")
		_, err := c.Generate(context.Background(), ScriptRequest{MeditationType: "x", DurationSeconds: 60})
		require.Error(t, err, "status %d", status)

		var pe *Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, wantKind, pe.Kind, "status %d", status)
		srv.Close()
	}
}

func TestVoiceSynthesizeStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-9", r.Header.Get("xi-api-key"))
		assert.Contains(t, r.URL.Path, "/v1/text-to-speech/voice-7/stream")
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-data"))
	}))
	defer srv.Close()

	c := NewElevenLabsVoiceClient(srv.URL, "key-9")
	stream, err := c.Synthesize(context.Background(), "breathe in", "voice-7")
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "mp3-data", string(data))
}

func TestVoiceSynthesizeRejectsEmptyText(t *testing.T) {
	c := NewElevenLabsVoiceClient("http://unused", "key")
	_, err := c.Synthesize(context.Background(), "   ", "voice-7")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

// veoTestServer serves the start endpoint plus an operation endpoint whose
// JSON body the test swaps between polls.
func veoTestServer(operationBody *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "operations/op-1"})
			return
		}
		_, _ = io.WriteString(w, *operationBody)
	}))
}

func TestVideoStartAndPoll(t *testing.T) {
	body := `{"name": "operations/op-1", "done": false}`
	srv := veoTestServer(&body)
	defer srv.Close()

	c := NewVeoVideoClient(srv.URL, "key", "veo-test")

	jobID, err := c.Start(context.Background(), "misty mountains", 120)
	require.NoError(t, err)
	assert.Equal(t, "operations/op-1", jobID)

	poll, err := c.Poll(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, VideoProcessing, poll.State)

	// Flip the operation to done with a sample.
	body = `{
		"name": "operations/op-1",
		"done": true,
		"response": {"generateVideoResponse": {"generatedSamples": [
			{"video": {"uri": "https://dl/video.mp4"}}
		]}}
	}`

	poll, err = c.Poll(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, VideoCompleted, poll.State)
	assert.Equal(t, "https://dl/video.mp4", poll.DownloadURI)
}

func TestVideoPollFailedState(t *testing.T) {
	body := `{"name": "operations/op-1", "done": true, "error": {"message": "quota exceeded"}}`
	srv := veoTestServer(&body)
	defer srv.Close()

	c := NewVeoVideoClient(srv.URL, "key", "veo-test")
	poll, err := c.Poll(context.Background(), "operations/op-1")
	require.NoError(t, err)
	assert.Equal(t, VideoFailed, poll.State)
	assert.Equal(t, "quota exceeded", poll.Message)
}

func TestVideoFetchBeforeCompletion(t *testing.T) {
	body := `{"name": "operations/op-1", "done": false}`
	srv := veoTestServer(&body)
	defer srv.Close()

	c := NewVeoVideoClient(srv.URL, "key", "veo-test")
	_, err := c.Fetch(context.Background(), "operations/op-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, IsPermanent(err))
}

func TestVideoFetchStreamsDownload(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))
		_, _ = w.Write([]byte("mp4-data"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{
			"name": "operations/op-1",
			"done": true,
			"response": {"generateVideoResponse": {"generatedSamples": [
				{"video": {"uri": %q}}
			]}}
		}`, srv.URL+"/download")
	})

	c := NewVeoVideoClient(srv.URL, "key", "veo-test")
	stream, err := c.Fetch(context.Background(), "operations/op-1")
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "mp4-data", string(data))
}
