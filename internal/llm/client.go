// Package llm implements the model provider boundary: synchronous requests
// carrying (model, prompt, optional structured-output hint) that return raw
// text or a provider error. Providers are opaque collaborators; transient
// failures are retried with bounded exponential backoff.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apprentice/internal/logging"
)

// Request is one completion request. Model is chosen per call by the
// router, so clients do not pin a model.
type Request struct {
	Model      string
	System     string
	User       string
	SchemaHint string // JSON Schema for providers with structured-output support
}

// Client is the interface all providers implement.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// ProviderError is a failure from the model provider. Transient errors
// (rate limits, timeouts, server errors) are retried; the rest are not.
type ProviderError struct {
	Provider  string
	Status    int
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	// Unclassified transport errors (connection reset, DNS) are treated as
	// transient; context errors are not.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// completeWithRetry runs fn with bounded exponential backoff on transient
// errors. maxRetries is the number of extra attempts after the first.
func completeWithRetry(ctx context.Context, provider string, maxRetries int, fn func() (string, error)) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
				log.Debugw("retrying provider call",
					"provider", provider, "attempt", attempt, "max", maxRetries, "error", lastErr)
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("provider retries exhausted after %d attempts: %w", maxRetries+1, lastErr)
}
