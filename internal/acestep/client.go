package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Generated sound length bounds, in seconds. The duration doubles as the
// application-level cap on the request.
const (
	DefaultDuration = 5
	MaxDuration     = 30
)

// ErrInvalidRequest is returned for a SoundRequest that is never sent.
var ErrInvalidRequest = errors.New("invalid sound request")

// ProviderError reports a generation request that failed or returned a
// non-success result.
type ProviderError struct {
	Op      string
	Status  int // HTTP status or API code, 0 if none
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("acestep ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client communicates with the ACE-Step v1.5 REST API.
type Client struct {
	apiURL       string
	apiKey       string
	outputDir    string // shared volume mount point
	http         *http.Client
	pollInterval time.Duration
}

// NewClient creates an ACE-Step API client.
func NewClient(apiURL, apiKey, outputDir string) *Client {
	return &Client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		outputDir:    outputDir,
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: time.Second,
	}
}

// SetPollInterval changes how often GenerateSound polls for completion.
func (c *Client) SetPollInterval(d time.Duration) { c.pollInterval = d }

// SoundRequest asks for a short sound described by Text. A zero
// DurationSeconds means DefaultDuration.
type SoundRequest struct {
	Text            string `json:"text"`
	DurationSeconds int    `json:"duration,omitempty"`
}

// Normalize validates the request and fills in the default duration.
func (r SoundRequest) Normalize() (SoundRequest, error) {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return r, fmt.Errorf("empty text: %w", ErrInvalidRequest)
	}
	if r.DurationSeconds == 0 {
		r.DurationSeconds = DefaultDuration
	}
	if r.DurationSeconds < 0 || r.DurationSeconds > MaxDuration {
		return r, fmt.Errorf("duration %ds outside (0, %d]: %w", r.DurationSeconds, MaxDuration, ErrInvalidRequest)
	}
	return r, nil
}

// GenerateRequest contains the task parameters sent to ACE-Step.
type GenerateRequest struct {
	Caption        string `json:"caption"`
	Lyrics         string `json:"lyrics"`
	Duration       int    `json:"audio_duration"`
	InferenceSteps int    `json:"inference_steps"`
	Seed           int    `json:"seed"`
	BatchSize      int    `json:"batch_size"`
	AudioFormat    string `json:"audio_format"`
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string `json:"task_id"`
	Status int    `json:"status"` // 0=running, 1=success, 2=failed
	Result string `json:"result"` // JSON string with file info
}

type resultItem struct {
	File   string `json:"file"`
	Status int    `json:"status"`
}

// GenerateSound runs one text-to-audio task to completion and returns the
// encoded audio bytes.
func (c *Client) GenerateSound(ctx context.Context, req SoundRequest) ([]byte, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	taskID, err := c.Generate(ctx, GenerateRequest{
		Caption:        req.Text,
		Lyrics:         "[inst]",
		Duration:       req.DurationSeconds,
		InferenceSteps: 8,
		Seed:           -1,
		BatchSize:      1,
		AudioFormat:    "mp3",
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Generating %ds sound %q (task %s)", req.DurationSeconds, req.Text, taskID)

	ref, err := c.PollUntilDone(ctx, taskID, c.pollInterval)
	if err != nil {
		return nil, err
	}
	return c.fetchAudio(ctx, ref)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// WaitForHealthy blocks until the ACE-Step API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context, retry time.Duration) error {
	log.Println("Waiting for ACE-Step API to be ready...")
	for {
		req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
		if err != nil {
			return fmt.Errorf("create health request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				log.Println("ACE-Step API is healthy")
				return nil
			}
		}

		log.Printf("ACE-Step not ready, retrying in %v...", retry)
		if err := sleep(ctx, retry); err != nil {
			return err
		}
	}
}

// Generate submits a generation task and returns the task ID.
func (c *Client) Generate(ctx context.Context, greq GenerateRequest) (string, error) {
	body, err := json.Marshal(greq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/release_task", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ProviderError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &ProviderError{Op: "submit", Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var result releaseResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{Op: "submit", Message: "decode response", Err: err}
	}
	if result.Code != 200 {
		return "", &ProviderError{Op: "submit", Status: result.Code, Message: result.Error}
	}
	if result.Data.TaskID == "" {
		return "", &ProviderError{Op: "submit", Message: "no task id"}
	}
	return result.Data.TaskID, nil
}

// PollUntilDone polls for task completion and returns the file reference
// of the first result.
func (c *Client) PollUntilDone(ctx context.Context, taskID string, interval time.Duration) (string, error) {
	reqBody, _ := json.Marshal(map[string][]string{
		"task_id_list": {taskID},
	})

	for {
		req, err := c.newRequest(ctx, http.MethodPost, "/query_result", reqBody)
		if err != nil {
			return "", fmt.Errorf("create poll request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Printf("Poll error: %v, retrying...", err)
		} else {
			var result queryResp
			err = json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()

			switch {
			case err != nil:
				log.Printf("Decode error: %v, retrying...", err)
			case len(result.Data) == 0:
			case result.Data[0].Status == 1:
				return extractFileRef(result.Data[0].Result)
			case result.Data[0].Status == 2:
				return "", &ProviderError{Op: "generate", Message: fmt.Sprintf("task %s failed", taskID)}
			}
		}

		if err := sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

func extractFileRef(resultJSON string) (string, error) {
	var items []resultItem
	if err := json.Unmarshal([]byte(resultJSON), &items); err != nil {
		return "", &ProviderError{Op: "generate", Message: "parse result items", Err: err}
	}
	if len(items) == 0 || items[0].File == "" {
		return "", &ProviderError{Op: "generate", Message: "no audio file in result"}
	}
	return items[0].File, nil
}

// fetchAudio reads the generated file from the shared volume when it is
// mounted, otherwise downloads it.
func (c *Client) fetchAudio(ctx context.Context, fileRef string) ([]byte, error) {
	// ACE-Step returns paths like "/v1/audio?path=outputs/task_xxx/0.mp3"
	if c.outputDir != "" {
		if u, err := url.Parse(fileRef); err == nil {
			if relPath := u.Query().Get("path"); relPath != "" {
				localPath := filepath.Join(c.outputDir, filepath.Clean("/"+relPath))
				if data, err := os.ReadFile(localPath); err == nil {
					return data, nil
				}
			}
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, fileRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Op: "download", Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "download", Err: err}
	}
	if len(data) == 0 {
		return nil, &ProviderError{Op: "download", Message: "empty audio"}
	}
	return data, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
