package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"apprentice/internal/logging"
)

// OpenAITuner implements Tuner against the OpenAI fine-tuning API: the
// dataset is uploaded as a JSONL training file, then a job is created
// referencing it.
type OpenAITuner struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAITuner creates a tuner for the OpenAI fine-tuning API.
func NewOpenAITuner(apiKey, baseURL string, timeout time.Duration) *OpenAITuner {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAITuner{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatExample struct {
	Messages []chatMessage `json:"messages"`
}

// renderJSONL converts pairs to the chat-format JSONL the API expects.
func renderJSONL(pairs []Pair) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range pairs {
		ex := chatExample{Messages: []chatMessage{
			{Role: "user", Content: p.Prompt},
			{Role: "assistant", Content: p.Completion},
		}}
		if err := enc.Encode(ex); err != nil {
			return nil, fmt.Errorf("failed to encode training example: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Submit uploads the dataset and creates a fine-tuning job.
func (t *OpenAITuner) Submit(ctx context.Context, ds Dataset) (string, error) {
	log := logging.Get(logging.CategoryDistill)

	jsonl, err := renderJSONL(ds.Pairs)
	if err != nil {
		return "", err
	}

	fileID, err := t.uploadFile(ctx, ds.Fingerprint+".jsonl", jsonl)
	if err != nil {
		return "", fmt.Errorf("failed to upload training file: %w", err)
	}

	reqBody, err := json.Marshal(map[string]any{
		"training_file": fileID,
		"model":         ds.BaseModel,
		"suffix":        sanitizeSuffix(ds.Name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job request: %w", err)
	}

	var created struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := t.doJSON(ctx, http.MethodPost, "/fine_tuning/jobs", reqBody, &created); err != nil {
		return "", err
	}
	if created.Error != nil {
		return "", fmt.Errorf("fine-tuning job rejected: %s", created.Error.Message)
	}
	if created.ID == "" {
		return "", fmt.Errorf("fine-tuning job response carried no id")
	}

	log.Infow("fine-tuning job submitted",
		"job", created.ID, "fingerprint", ds.Fingerprint, "pairs", len(ds.Pairs))
	return created.ID, nil
}

// Status polls a fine-tuning job.
func (t *OpenAITuner) Status(ctx context.Context, jobID string) (Job, error) {
	var parsed struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		FineTunedModel string `json:"fine_tuned_model"`
		Error          *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := t.doJSON(ctx, http.MethodGet, "/fine_tuning/jobs/"+jobID, nil, &parsed); err != nil {
		return Job{}, err
	}

	job := Job{ID: jobID}
	switch parsed.Status {
	case "succeeded":
		job.State = JobSucceeded
		job.ModelID = parsed.FineTunedModel
	case "failed", "cancelled":
		job.State = JobFailed
		if parsed.Error != nil {
			job.Message = parsed.Error.Message
		}
	default:
		// validating_files, queued, running
		job.State = JobRunning
	}
	return job, nil
}

func (t *OpenAITuner) uploadFile(ctx context.Context, name string, content []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "fine-tune"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	return parsed.ID, nil
}

func (t *OpenAITuner) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, out)
}

// sanitizeSuffix keeps model suffixes within the provider's constraints.
func sanitizeSuffix(name string) string {
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, name)
	if len(name) > 18 {
		name = name[:18]
	}
	return name
}
