package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OpenAIClient implements Client for the OpenAI chat completions API.
// When the request carries a schema hint it is passed through as a
// json_schema response format, which guarantees structurally valid output.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
	}
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *OpenAIClient) Provider() string { return "openai" }

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// responseFormatFor wraps a JSON Schema hint in OpenAI's structured-output
// response format envelope.
func responseFormatFor(schemaHint string) json.RawMessage {
	envelope := fmt.Sprintf(
		`{"type": "json_schema", "json_schema": {"name": "output", "strict": true, "schema": %s}}`,
		schemaHint,
	)
	return json.RawMessage(envelope)
}

// Complete sends one request and returns the raw completion text.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", &ProviderError{Provider: "openai", Message: "API key not configured"}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// Space consecutive requests out slightly to stay under burst limits.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.User})

	reqBody := openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1,
	}
	if req.SchemaHint != "" {
		reqBody.ResponseFormat = responseFormatFor(req.SchemaHint)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	return completeWithRetry(ctx, "openai", c.maxRetries, func() (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return "", &ProviderError{Provider: "openai", Message: err.Error(), Transient: true}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", &ProviderError{Provider: "openai", Message: err.Error(), Transient: true}
		}

		if resp.StatusCode != http.StatusOK {
			return "", &ProviderError{
				Provider:  "openai",
				Status:    resp.StatusCode,
				Message:   string(body),
				Transient: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			}
		}

		var parsed openAIResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to parse response: %v", err)}
		}
		if parsed.Error != nil {
			return "", &ProviderError{Provider: "openai", Message: parsed.Error.Message}
		}
		if len(parsed.Choices) == 0 {
			return "", &ProviderError{Provider: "openai", Message: "no completion returned"}
		}
		return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
	})
}
