package distill

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"apprentice/internal/finetune"
	"apprentice/internal/logging"
	"apprentice/internal/prompt"
	"apprentice/internal/signature"
	"apprentice/internal/store"
)

// Config tunes the scheduler. Zero values are replaced by the documented
// defaults.
type Config struct {
	// MinTrainingRecords triggers fine-tuning for an aligned signature,
	// and gates re-distillation of a degraded one (counted from the last
	// submission).
	MinTrainingRecords int64

	// FailureWindow is the rolling window of student-served calls the
	// monitor inspects.
	FailureWindow int

	// FailureThreshold is the rolling failure rate above which a distilled
	// signature is demoted immediately.
	FailureThreshold float64

	// MinFailureSamples is the minimum window population before the rate
	// is acted on.
	MinFailureSamples int64

	// PollInterval is how often pending fine-tuning jobs are polled.
	PollInterval time.Duration

	// BaseModel is the model fine-tuning jobs start from.
	BaseModel string
}

func (c *Config) applyDefaults() {
	if c.MinTrainingRecords == 0 {
		c.MinTrainingRecords = 200
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = 50
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 0.15
	}
	if c.MinFailureSamples == 0 {
		c.MinFailureSamples = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
}

// Scheduler drives all distillation state transitions. It is the only
// writer of DistillationState beyond the cold→aligned step taken by
// alignment declaration. All of its work is fire-and-forget off the call
// path.
type Scheduler struct {
	store *store.Store
	tuner finetune.Tuner
	cfg   Config

	// group collapses concurrent trigger checks for the same fingerprint;
	// the CAS transition is still the final arbiter.
	group singleflight.Group

	mu   sync.Mutex
	jobs map[string]string // fingerprint -> submitted job ID

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler, reloads any fine-tuning jobs a previous
// process left in flight, and starts the job-polling loop.
func NewScheduler(st *store.Store, tuner finetune.Tuner, cfg Config) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		store:  st,
		tuner:  tuner,
		cfg:    cfg,
		jobs:   make(map[string]string),
		stopCh: make(chan struct{}),
	}

	pending, err := st.PendingTrainingJobs()
	if err != nil {
		logging.Get(logging.CategoryDistill).Warnw("failed to reload pending jobs", "error", err)
	}
	for _, p := range pending {
		s.jobs[p.Fingerprint] = p.JobID
		logging.Get(logging.CategoryDistill).Infow("resuming fine-tuning job",
			"fingerprint", p.Fingerprint, "job", p.JobID)
	}

	s.wg.Add(1)
	go s.pollLoop()
	return s
}

// Close stops background work and waits for it to finish.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// NoteSuccess records a successful call outcome and evaluates the
// fine-tuning trigger. Called after a validated record was appended.
func (s *Scheduler) NoteSuccess(sig signature.Signature, fingerprint, model string, student bool) {
	if err := s.store.RecordOutcome(fingerprint, model, student, true, ""); err != nil {
		logging.Get(logging.CategoryDistill).Warnw("outcome write dropped",
			"fingerprint", fingerprint, "error", err)
	}
	s.maybeTrigger(sig, fingerprint)
}

// NoteDecodeFailure records a repair-exhausted decode failure. Failures on
// student-served calls feed degradation; a misbehaving student is demoted
// immediately.
func (s *Scheduler) NoteDecodeFailure(sig signature.Signature, fingerprint, model string, student bool, reason string) {
	if err := s.store.RecordOutcome(fingerprint, model, student, false, reason); err != nil {
		logging.Get(logging.CategoryDistill).Warnw("outcome write dropped",
			"fingerprint", fingerprint, "error", err)
	}
	if student {
		s.checkDegrade(fingerprint)
	}
}

// maybeTrigger submits a fine-tuning job when the record count crosses the
// threshold for an aligned signature, or when a degraded signature has
// accumulated enough fresh records to retry.
func (s *Scheduler) maybeTrigger(sig signature.Signature, fingerprint string) {
	log := logging.Get(logging.CategoryDistill)

	info, err := s.store.StateInfoFor(fingerprint)
	if err != nil {
		log.Warnw("state read failed, skipping trigger check", "fingerprint", fingerprint, "error", err)
		return
	}

	count, err := s.store.CountTrainingRecords(fingerprint)
	if err != nil {
		log.Warnw("record count failed, skipping trigger check", "fingerprint", fingerprint, "error", err)
		return
	}

	var from store.State
	switch info.State {
	case store.StateAligned:
		if count < s.cfg.MinTrainingRecords {
			return
		}
		from = store.StateAligned
	case store.StateDegraded:
		if count-info.LastSubmissionCount < s.cfg.MinTrainingRecords {
			return
		}
		from = store.StateDegraded
	default:
		return
	}

	// Collapse concurrent callers; the CAS below guarantees exactly one
	// submission even across processes. The submission itself runs on a
	// scheduler goroutine so the triggering call never waits on dataset
	// assembly or the upload round trips.
	s.group.Do(fingerprint, func() (any, error) {
		applied, err := s.store.TransitionState(fingerprint, from, store.StateTraining)
		if err != nil || !applied {
			return nil, err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.submit(sig, fingerprint, count)
		}()
		return nil, nil
	})
}

// submit assembles the dataset and hands it to the tuner. A submission
// failure reverts the signature to aligned; normal teacher routing
// continues unaffected either way.
func (s *Scheduler) submit(sig signature.Signature, fingerprint string, count int64) {
	log := logging.Get(logging.CategoryDistill)

	ds, err := s.buildDataset(sig, fingerprint)
	if err != nil {
		log.Errorw("dataset assembly failed", "fingerprint", fingerprint, "error", err)
		s.revertToAligned(fingerprint)
		return
	}

	jobID, err := s.tuner.Submit(context.Background(), ds)
	if err != nil {
		log.Errorw("fine-tuning submission failed", "fingerprint", fingerprint, "error", err)
		s.revertToAligned(fingerprint)
		return
	}

	// Without the persisted handle a restart cannot resume polling this job.
	if err := s.store.MarkSubmission(fingerprint, jobID, count); err != nil {
		log.Errorw("failed to persist job handle", "fingerprint", fingerprint, "job", jobID, "error", err)
	}

	s.mu.Lock()
	s.jobs[fingerprint] = jobID
	s.mu.Unlock()

	log.Infow("fine-tuning started", "fingerprint", fingerprint, "job", jobID, "records", count)
}

// buildDataset renders accumulated training records plus alignment
// examples as prompt/completion pairs. Prompts match what the student will
// see at inference, few-shot section included.
func (s *Scheduler) buildDataset(sig signature.Signature, fingerprint string) (finetune.Dataset, error) {
	examples, err := s.store.Examples(fingerprint)
	if err != nil {
		return finetune.Dataset{}, err
	}
	records, err := s.store.TrainingRecords(fingerprint)
	if err != nil {
		return finetune.Dataset{}, err
	}

	fewShot := make([]prompt.Example, len(examples))
	for i, ex := range examples {
		fewShot[i] = prompt.Example{InputsJSON: ex.InputsJSON, ExpectedJSON: ex.ExpectedJSON}
	}

	pairs := make([]finetune.Pair, 0, len(examples)+len(records))
	for _, ex := range examples {
		pairs = append(pairs, finetune.Pair{
			Prompt:     prompt.Build(sig, fewShot, ex.InputsJSON),
			Completion: ex.ExpectedJSON,
		})
	}
	for _, rec := range records {
		pairs = append(pairs, finetune.Pair{
			Prompt:     prompt.Build(sig, fewShot, rec.InputsJSON),
			Completion: rec.OutputJSON,
		})
	}

	return finetune.Dataset{
		Fingerprint: fingerprint,
		Name:        sig.Name,
		BaseModel:   s.cfg.BaseModel,
		Pairs:       pairs,
	}, nil
}

func (s *Scheduler) revertToAligned(fingerprint string) {
	if _, err := s.store.TransitionState(fingerprint, store.StateTraining, store.StateAligned); err != nil {
		logging.Get(logging.CategoryDistill).Errorw("failed to revert training state",
			"fingerprint", fingerprint, "error", err)
	}
}

// checkDegrade demotes a distilled signature the moment its rolling
// failure rate crosses the threshold. Fail fast: the very next call routes
// to the teacher.
func (s *Scheduler) checkDegrade(fingerprint string) {
	log := logging.Get(logging.CategoryDistill)

	failures, total, err := s.store.StudentOutcomeWindow(fingerprint, s.cfg.FailureWindow)
	if err != nil {
		log.Warnw("outcome window read failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if total < s.cfg.MinFailureSamples {
		return
	}

	rate := float64(failures) / float64(total)
	if rate <= s.cfg.FailureThreshold {
		return
	}

	applied, err := s.store.TransitionState(fingerprint, store.StateDistilled, store.StateDegraded)
	if err != nil {
		log.Errorw("degrade transition failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if applied {
		log.Warnw("student demoted",
			"fingerprint", fingerprint, "failure_rate", rate, "window", total)
	}
}

// pollLoop drives promotion: it polls pending fine-tuning jobs and applies
// training→distilled (or training→aligned on job failure) as results
// arrive. Promotion is asynchronous; no production call ever waits on it.
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Scheduler) pollOnce() {
	log := logging.Get(logging.CategoryDistill)

	s.mu.Lock()
	pending := make(map[string]string, len(s.jobs))
	for fp, jobID := range s.jobs {
		pending[fp] = jobID
	}
	s.mu.Unlock()

	for fp, jobID := range pending {
		job, err := s.tuner.Status(context.Background(), jobID)
		if err != nil {
			log.Warnw("job poll failed", "job", jobID, "error", err)
			continue
		}

		switch job.State {
		case finetune.JobRunning:
			continue

		case finetune.JobSucceeded:
			if err := s.store.SetStudentModel(fp, job.ModelID); err != nil {
				log.Errorw("failed to persist student model", "fingerprint", fp, "error", err)
				continue
			}
			if _, err := s.store.TransitionState(fp, store.StateTraining, store.StateDistilled); err != nil {
				log.Errorw("promotion transition failed", "fingerprint", fp, "error", err)
				continue
			}
			log.Infow("student promoted", "fingerprint", fp, "model", job.ModelID)

		case finetune.JobFailed:
			log.Errorw("fine-tuning job failed", "fingerprint", fp, "job", jobID, "detail", job.Message)
			s.revertToAligned(fp)
		}

		if err := s.store.ClearJob(fp); err != nil {
			log.Warnw("failed to clear job handle", "fingerprint", fp, "error", err)
		}
		s.mu.Lock()
		delete(s.jobs, fp)
		s.mu.Unlock()
	}
}

// PendingJobs reports fingerprints with in-flight fine-tuning jobs.
func (s *Scheduler) PendingJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fps := make([]string, 0, len(s.jobs))
	for fp := range s.jobs {
		fps = append(fps, fp)
	}
	return fps
}
