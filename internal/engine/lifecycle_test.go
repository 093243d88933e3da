package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"apprentice/internal/config"
	"apprentice/internal/distill"
	"apprentice/internal/finetune"
	"apprentice/internal/llm"
	"apprentice/internal/store"
)

// fakeTuner completes jobs on demand so the full lifecycle can run inside
// one test.
type fakeTuner struct {
	mu   sync.Mutex
	jobs map[string]finetune.Job
	next int
}

func newFakeTuner() *fakeTuner {
	return &fakeTuner{jobs: make(map[string]finetune.Job)}
}

func (t *fakeTuner) Submit(_ context.Context, ds finetune.Dataset) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := fmt.Sprintf("job-%d", t.next)
	t.jobs[id] = finetune.Job{ID: id, State: finetune.JobRunning}
	return id, nil
}

func (t *fakeTuner) Status(_ context.Context, jobID string) (finetune.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[jobID], nil
}

func (t *fakeTuner) submitted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

func (t *fakeTuner) succeed(jobID, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = finetune.Job{ID: jobID, State: finetune.JobSucceeded, ModelID: model}
}

// echoClient answers every request with a fixed response and tracks which
// models served.
type echoClient struct {
	mu       sync.Mutex
	response string
	models   []string
}

func (c *echoClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, req.Model)
	return c.response, nil
}

func (c *echoClient) Provider() string { return "echo" }

func (c *echoClient) lastModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models[len(c.models)-1]
}

func TestDistillationLifecycle(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "apprentice.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	tuner := newFakeTuner()
	client := &echoClient{response: `"good"`}
	router := distill.NewRouter(st, "teacher-model")
	sched := distill.NewScheduler(st, tuner, distill.Config{
		MinTrainingRecords: 200,
		FailureWindow:      50,
		FailureThreshold:   0.15,
		MinFailureSamples:  4,
		PollInterval:       10 * time.Millisecond,
	})
	defer sched.Close()

	eng := New(st, client, router, sched, config.EngineConfig{MaxRepairAttempts: 2})
	handle, err := eng.Register(sentimentSignature())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	fp := handle.Fingerprint()

	err = st.DeclareAlignment(fp, []store.Example{
		{InputsJSON: `["I love you"]`, ExpectedJSON: `"good"`},
		{InputsJSON: `["I hate you"]`, ExpectedJSON: `"bad"`},
	})
	if err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}

	// Phase 1: teacher-served calls accumulate records until the trigger.
	for i := 0; i < 200; i++ {
		got, err := handle.Call(context.Background(), fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if got != "good" {
			t.Fatalf("Call %d = %v", i, got)
		}
		if client.lastModel() != "teacher-model" {
			t.Fatalf("call %d routed to %q before distillation", i, client.lastModel())
		}
	}

	info, err := st.StateInfoFor(fp)
	if err != nil {
		t.Fatalf("StateInfoFor: %v", err)
	}
	if info.State != store.StateTraining {
		t.Fatalf("state after %d calls = %s, want training", 200, info.State)
	}

	// Calls keep flowing to the teacher while training.
	if _, err := handle.Call(context.Background(), "mid-training"); err != nil {
		t.Fatalf("Call during training: %v", err)
	}
	if client.lastModel() != "teacher-model" {
		t.Errorf("training-phase call routed to %q", client.lastModel())
	}

	// Phase 2: the job finishes and the poller promotes. The submission
	// runs off the call path, so wait for it before completing the job.
	deadline := time.Now().Add(5 * time.Second)
	for tuner.submitted() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fine-tuning job never submitted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	tuner.succeed("job-1", "ft:student-1")
	for {
		info, _ = st.StateInfoFor(fp)
		if info.State == store.StateDistilled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("promotion never happened, state = %s", info.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if info.StudentModel != "ft:student-1" {
		t.Fatalf("student model = %q", info.StudentModel)
	}

	// Phase 3: calls now route to the student.
	if _, err := handle.Call(context.Background(), "post-promotion"); err != nil {
		t.Fatalf("Call after promotion: %v", err)
	}
	if client.lastModel() != "ft:student-1" {
		t.Errorf("post-promotion call routed to %q", client.lastModel())
	}

	// Phase 4: repeated invalid student output demotes and falls back.
	client.mu.Lock()
	client.response = "utter nonsense"
	client.mu.Unlock()

	for i := 0; i < 4; i++ {
		if _, err := handle.Call(context.Background(), "garbage trigger"); err == nil {
			t.Fatal("Call succeeded on undecodable output")
		}
		info, _ = st.StateInfoFor(fp)
		if info.State == store.StateDegraded {
			break
		}
	}
	info, _ = st.StateInfoFor(fp)
	if info.State != store.StateDegraded {
		t.Fatalf("state after student failures = %s, want degraded", info.State)
	}

	// Degraded routes back to the teacher immediately.
	client.mu.Lock()
	client.response = `"good"`
	client.mu.Unlock()

	if _, err := handle.Call(context.Background(), "after demotion"); err != nil {
		t.Fatalf("Call after demotion: %v", err)
	}
	if client.lastModel() != "teacher-model" {
		t.Errorf("post-demotion call routed to %q", client.lastModel())
	}
}
