package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client for the Gemini API via the official
// genai SDK.
type GeminiClient struct {
	client     *genai.Client
	maxRetries int
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string, maxRetries int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, maxRetries: maxRetries}, nil
}

func (c *GeminiClient) Provider() string { return "gemini" }

// Complete sends one request and returns the raw completion text.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.User, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.SchemaHint != "" {
		// The decoder validates shape either way; the MIME type nudges the
		// model toward bare JSON without prose.
		cfg.ResponseMIMEType = "application/json"
	}

	return completeWithRetry(ctx, "gemini", c.maxRetries, func() (string, error) {
		result, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		if err != nil {
			return "", &ProviderError{Provider: "gemini", Message: err.Error(), Transient: true}
		}
		text := result.Text()
		if strings.TrimSpace(text) == "" {
			return "", &ProviderError{Provider: "gemini", Message: "no completion returned"}
		}
		return strings.TrimSpace(text), nil
	})
}
