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

// VideoPollState is the observed state of a long-running video job.
type VideoPollState string

// Video job states.
const (
	VideoProcessing VideoPollState = "processing"
	VideoCompleted  VideoPollState = "completed"
	VideoFailed     VideoPollState = "failed"
)

// VideoPoll is one poll observation. DownloadURI is set when completed;
// Message carries the provider error when failed.
type VideoPoll struct {
	State       VideoPollState
	DownloadURI string
	Message     string
}

// VideoPort drives a long-running text-to-video provider job: submit,
// poll until terminal, then fetch the result bytes.
type VideoPort interface {
	Start(ctx context.Context, prompt string, durationSeconds int) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*VideoPoll, error)
	Fetch(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// VeoVideoClient implements VideoPort against the Veo long-running
// generation API.
type VeoVideoClient struct {
	baseURL string
	apiKey  string
	model   string
	poll    *http.Client // short JSON calls
	fetch   *http.Client // streaming downloads, header-bounded
}

// NewVeoVideoClient creates a video client.
func NewVeoVideoClient(baseURL, apiKey, model string) *VeoVideoClient {
	return &VeoVideoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		poll:    &http.Client{Timeout: 30 * time.Second},
		fetch: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second},
		},
	}
}

type veoStartRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	DurationSeconds int `json:"durationSeconds"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// Start submits the generation request and returns the operation name used
// as the job id for polling.
func (c *VeoVideoClient) Start(ctx context.Context, prompt string, durationSeconds int) (string, error) {
	const op = "video.start"

	body, err := json.Marshal(veoStartRequest{
		Instances:  []veoInstance{{Prompt: prompt}},
		Parameters: veoParameters{DurationSeconds: durationSeconds},
	})
	if err != nil {
		return "", Permanent(op, "failed to encode request", err)
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)
	operation, err := c.doOperation(ctx, op, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if operation.Name == "" {
		return "", Transient(op, "provider returned no operation name", nil)
	}
	return operation.Name, nil
}

// Poll reports the job's current state.
func (c *VeoVideoClient) Poll(ctx context.Context, jobID string) (*VideoPoll, error) {
	const op = "video.poll"

	operation, err := c.doOperation(ctx, op, http.MethodGet, c.baseURL+"/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	if !operation.Done {
		return &VideoPoll{State: VideoProcessing}, nil
	}
	if operation.Error != nil {
		return &VideoPoll{State: VideoFailed, Message: operation.Error.Message}, nil
	}
	if operation.Response == nil || len(operation.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return nil, Transient(op, "operation done without samples", nil)
	}
	return &VideoPoll{
		State:       VideoCompleted,
		DownloadURI: operation.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI,
	}, nil
}

// Fetch streams the finished video. It re-polls to resolve the download
// URI and fails with ErrInvalidState when the job has not completed.
func (c *VeoVideoClient) Fetch(ctx context.Context, jobID string) (io.ReadCloser, error) {
	const op = "video.fetch"

	poll, err := c.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if poll.State != VideoCompleted {
		return nil, Permanent(op, fmt.Sprintf("job %s state is %s", jobID, poll.State), ErrInvalidState)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, poll.DownloadURI, nil)
	if err != nil {
		return nil, Permanent(op, "failed to build request", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.fetch.Do(httpReq)
	if err != nil {
		return nil, Transient(op, "download failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      op,
			Message: fmt.Sprintf("download status %d", resp.StatusCode),
		}
	}
	return resp.Body, nil
}

// doOperation performs a JSON request and decodes the operation envelope.
func (c *VeoVideoClient) doOperation(ctx context.Context, op, method, url string, body io.Reader) (*veoOperation, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, Permanent(op, "failed to build request", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.poll.Do(httpReq)
	if err != nil {
		return nil, Transient(op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      op,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	var operation veoOperation
	if err := json.NewDecoder(resp.Body).Decode(&operation); err != nil {
		return nil, Transient(op, "failed to decode operation", err)
	}
	return &operation, nil
}
