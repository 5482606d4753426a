package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VoicePort turns a script into narrated audio. The returned stream is
// MP3 data; the caller owns closing it.
type VoicePort interface {
	Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, error)
}

// ElevenLabsVoiceClient implements VoicePort against the ElevenLabs
// streaming text-to-speech API.
type ElevenLabsVoiceClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewElevenLabsVoiceClient creates a voice client. The client bounds time
// to response headers rather than the whole body: synthesized audio is
// streamed and may take minutes to drain.
func NewElevenLabsVoiceClient(baseURL, apiKey string) *ElevenLabsVoiceClient {
	return &ElevenLabsVoiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 120 * time.Second},
		},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize streams MP3 audio for the given text.
func (c *ElevenLabsVoiceClient) Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	const op = "voice.synthesize"

	if strings.TrimSpace(text) == "" {
		return nil, Permanent(op, "empty script text", nil)
	}

	body, err := json.Marshal(ttsRequest{Text: text, ModelID: "eleven_multilingual_v2"})
	if err != nil {
		return nil, Permanent(op, "failed to encode request", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", c.baseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(op, "failed to build request", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, Transient(op, "request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      op,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	return resp.Body, nil
}
