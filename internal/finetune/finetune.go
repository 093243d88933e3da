// Package finetune is the fine-tuning job boundary: submit a dataset, get
// a job handle, poll for a trained model identifier. The provider is an
// opaque collaborator; the scheduler only sees this interface.
package finetune

import "context"

// Pair is one (prompt, completion) training example.
type Pair struct {
	Prompt     string
	Completion string
}

// Dataset is everything a fine-tuning job needs: accumulated training
// records plus alignment examples, rendered to prompt/completion pairs.
type Dataset struct {
	Fingerprint string
	Name        string // signature name, used as a model suffix
	BaseModel   string
	Pairs       []Pair
}

// JobState is the lifecycle of a submitted job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job is a snapshot of a submitted fine-tuning job.
type Job struct {
	ID      string
	State   JobState
	ModelID string // set when State is JobSucceeded
	Message string // failure detail when State is JobFailed
}

// Tuner submits datasets and reports job progress.
type Tuner interface {
	// Submit starts a fine-tuning job and returns its handle. It must not
	// block on training completion.
	Submit(ctx context.Context, ds Dataset) (string, error)

	// Status reports the current state of a previously submitted job.
	Status(ctx context.Context, jobID string) (Job, error)
}
