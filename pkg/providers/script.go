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

// ScriptRequest asks for a meditation script.
type ScriptRequest struct {
	MeditationType  string // thematic hint; the visual prompt doubles as this
	DurationSeconds int
}

// ScriptPort generates meditation scripts.
type ScriptPort interface {
	Generate(ctx context.Context, req ScriptRequest) (string, error)
}

// Spoken-word pacing target used to size scripts to the video duration.
const wordsPerMinute = 130

// OpenAIScriptClient implements ScriptPort against an OpenAI-compatible
// chat completions API.
type OpenAIScriptClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewOpenAIScriptClient creates a script client. The per-request timeout is
// at least 60s; generation of long scripts is slow.
func NewOpenAIScriptClient(baseURL, apiKey, model string) *OpenAIScriptClient {
	return &OpenAIScriptClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces a plain-text meditation script sized to the duration.
func (c *OpenAIScriptClient) Generate(ctx context.Context, req ScriptRequest) (string, error) {
	const op = "script.generate"

	minutes := float64(req.DurationSeconds) / 60.0
	targetWords := int(minutes * wordsPerMinute)

	body, err := json.Marshal(chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: "You are a meditation guide. Write calm, slowly paced " +
					"guided meditation scripts in plain text with no headings or markup.",
			},
			{
				Role: "user",
				Content: fmt.Sprintf(
					"Write a guided meditation script themed around: %s. "+
						"It will be narrated over a %d second video, so aim for about %d words.",
					req.MeditationType, req.DurationSeconds, targetWords),
			},
		},
	})
	if err != nil {
		return "", Permanent(op, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Permanent(op, "failed to build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", Transient(op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      op,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", Transient(op, "failed to decode response", err)
	}
	if len(completion.Choices) == 0 {
		return "", Transient(op, "empty completion", nil)
	}

	script := strings.TrimSpace(completion.Choices[0].Message.Content)
	if script == "" {
		return "", Transient(op, "blank script returned", nil)
	}
	return script, nil
}
