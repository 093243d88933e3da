package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "apprentice.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnsureSignature(t *testing.T) {
	st := openTestStore(t)

	const fp = "fp-1"
	if err := st.EnsureSignature(fp, "classify", `{"name":"classify"}`); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}

	// Re-registering the same shape is a no-op.
	if err := st.EnsureSignature(fp, "classify", `{"name":"classify"}`); err != nil {
		t.Fatalf("EnsureSignature repeat: %v", err)
	}

	// The same fingerprint with a different canonical form is rejected.
	err := st.EnsureSignature(fp, "classify", `{"name":"other"}`)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}

	// A fresh signature starts cold.
	info, err := st.StateInfoFor(fp)
	if err != nil {
		t.Fatalf("StateInfoFor: %v", err)
	}
	if info.State != StateCold {
		t.Errorf("initial state = %s, want cold", info.State)
	}
}

func TestDeclareAlignmentReplacesWholesale(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-align"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}

	first := []Example{
		{InputsJSON: `["a"]`, ExpectedJSON: `"good"`},
		{InputsJSON: `["b"]`, ExpectedJSON: `"bad"`},
	}
	if err := st.DeclareAlignment(fp, first); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}

	info, _ := st.StateInfoFor(fp)
	if info.State != StateAligned {
		t.Errorf("state after declaration = %s, want aligned", info.State)
	}

	// Redeclaration replaces, never merges.
	second := []Example{{InputsJSON: `["c"]`, ExpectedJSON: `"good"`}}
	if err := st.DeclareAlignment(fp, second); err != nil {
		t.Fatalf("DeclareAlignment second: %v", err)
	}
	got, err := st.Examples(fp)
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	if len(got) != 1 || got[0].InputsJSON != `["c"]` {
		t.Errorf("Examples after redeclaration = %+v", got)
	}

	// An empty declaration clears examples but keeps the state.
	if err := st.DeclareAlignment(fp, nil); err != nil {
		t.Fatalf("DeclareAlignment empty: %v", err)
	}
	got, _ = st.Examples(fp)
	if len(got) != 0 {
		t.Errorf("expected no examples, got %d", len(got))
	}
	info, _ = st.StateInfoFor(fp)
	if info.State != StateAligned {
		t.Errorf("state after empty declaration = %s, want aligned", info.State)
	}
}

func TestDeclareAlignmentPreservesAdvancedState(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-advanced"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}
	if err := st.DeclareAlignment(fp, []Example{{InputsJSON: `["a"]`, ExpectedJSON: `"x"`}}); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}

	for _, tr := range [][2]State{{StateAligned, StateTraining}, {StateTraining, StateDistilled}} {
		applied, err := st.TransitionState(fp, tr[0], tr[1])
		if err != nil || !applied {
			t.Fatalf("TransitionState(%s, %s) = %v, %v", tr[0], tr[1], applied, err)
		}
	}

	// Redeclaring does not demote a distilled signature.
	if err := st.DeclareAlignment(fp, []Example{{InputsJSON: `["b"]`, ExpectedJSON: `"y"`}}); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}
	info, _ := st.StateInfoFor(fp)
	if info.State != StateDistilled {
		t.Errorf("state = %s, want distilled", info.State)
	}
}

func TestTransitionStateCAS(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-cas"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}
	if err := st.DeclareAlignment(fp, []Example{{InputsJSON: `["a"]`, ExpectedJSON: `"x"`}}); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}

	// A transition from the wrong state does not apply.
	applied, err := st.TransitionState(fp, StateCold, StateTraining)
	if err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	if applied {
		t.Error("transition from wrong state applied")
	}

	// Concurrent racers on the same edge resolve to exactly one winner.
	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.TransitionState(fp, StateAligned, StateTraining)
			if err != nil {
				t.Errorf("TransitionState: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestTrainingRecords(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-records"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}

	for i := 0; i < 5; i++ {
		err := st.AppendTrainingRecord(fp, TrainingRecord{
			InputsJSON: fmt.Sprintf(`["msg-%d"]`, i),
			OutputJSON: `"good"`,
			Model:      "teacher-model",
		})
		if err != nil {
			t.Fatalf("AppendTrainingRecord: %v", err)
		}
	}

	count, err := st.CountTrainingRecords(fp)
	if err != nil {
		t.Fatalf("CountTrainingRecords: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	// Duplicate IDs are ignored, not errors.
	rec := TrainingRecord{ID: "dup", InputsJSON: `["x"]`, OutputJSON: `"y"`, Model: "m"}
	if err := st.AppendTrainingRecord(fp, rec); err != nil {
		t.Fatalf("AppendTrainingRecord: %v", err)
	}
	if err := st.AppendTrainingRecord(fp, rec); err != nil {
		t.Fatalf("AppendTrainingRecord duplicate: %v", err)
	}
	count, _ = st.CountTrainingRecords(fp)
	if count != 6 {
		t.Errorf("count after duplicate = %d, want 6", count)
	}

	records, err := st.TrainingRecords(fp)
	if err != nil {
		t.Fatalf("TrainingRecords: %v", err)
	}
	if len(records) != 6 {
		t.Errorf("len(records) = %d, want 6", len(records))
	}
	for _, r := range records {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Errorf("record missing identity or timestamp: %+v", r)
		}
	}
}

func TestConcurrentAppends(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-concurrent"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.AppendTrainingRecord(fp, TrainingRecord{
				InputsJSON: fmt.Sprintf(`["c-%d"]`, i),
				OutputJSON: `"ok"`,
				Model:      "m",
			})
			if err != nil {
				t.Errorf("AppendTrainingRecord: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := st.CountTrainingRecords(fp)
	if err != nil {
		t.Fatalf("CountTrainingRecords: %v", err)
	}
	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestStudentOutcomeWindow(t *testing.T) {
	st := openTestStore(t)
	const fp = "fp-outcomes"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}

	// Teacher outcomes never count toward the student window.
	for i := 0; i < 3; i++ {
		if err := st.RecordOutcome(fp, "teacher", false, false, "decode failed"); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	// Ten student calls, the last two failing.
	for i := 0; i < 8; i++ {
		if err := st.RecordOutcome(fp, "student", true, true, ""); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := st.RecordOutcome(fp, "student", true, false, "decode failed"); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	failures, total, err := st.StudentOutcomeWindow(fp, 50)
	if err != nil {
		t.Fatalf("StudentOutcomeWindow: %v", err)
	}
	if total != 10 || failures != 2 {
		t.Errorf("window = (%d failures, %d total), want (2, 10)", failures, total)
	}

	// The window bound keeps only the most recent calls.
	failures, total, err = st.StudentOutcomeWindow(fp, 2)
	if err != nil {
		t.Fatalf("StudentOutcomeWindow: %v", err)
	}
	if total != 2 || failures != 2 {
		t.Errorf("bounded window = (%d failures, %d total), want (2, 2)", failures, total)
	}
}

func TestStateReopenSurvival(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apprentice.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const fp = "fp-durable"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}
	if err := st.DeclareAlignment(fp, []Example{{InputsJSON: `["a"]`, ExpectedJSON: `"x"`}}); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}
	if _, err := st.TransitionState(fp, StateAligned, StateTraining); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	if err := st.SetStudentModel(fp, "ft:model-1"); err != nil {
		t.Fatalf("SetStudentModel: %v", err)
	}
	if _, err := st.TransitionState(fp, StateTraining, StateDistilled); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	info, err := st.StateInfoFor(fp)
	if err != nil {
		t.Fatalf("StateInfoFor: %v", err)
	}
	if info.State != StateDistilled || info.StudentModel != "ft:model-1" {
		t.Errorf("state after reopen = %+v", info)
	}
}

func TestPendingJobHandleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apprentice.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const fp = "fp-pending"
	if err := st.EnsureSignature(fp, "classify", "{}"); err != nil {
		t.Fatalf("EnsureSignature: %v", err)
	}
	if err := st.DeclareAlignment(fp, []Example{{InputsJSON: `["a"]`, ExpectedJSON: `"x"`}}); err != nil {
		t.Fatalf("DeclareAlignment: %v", err)
	}
	if _, err := st.TransitionState(fp, StateAligned, StateTraining); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	if err := st.MarkSubmission(fp, "job-42", 10); err != nil {
		t.Fatalf("MarkSubmission: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	pending, err := st.PendingTrainingJobs()
	if err != nil {
		t.Fatalf("PendingTrainingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].Fingerprint != fp || pending[0].JobID != "job-42" {
		t.Fatalf("pending after reopen = %+v", pending)
	}
	info, err := st.StateInfoFor(fp)
	if err != nil {
		t.Fatalf("StateInfoFor: %v", err)
	}
	if info.JobID != "job-42" || info.LastSubmissionCount != 10 {
		t.Errorf("state info after reopen = %+v", info)
	}

	if err := st.ClearJob(fp); err != nil {
		t.Fatalf("ClearJob: %v", err)
	}
	pending, err = st.PendingTrainingJobs()
	if err != nil {
		t.Fatalf("PendingTrainingJobs: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after clear = %+v", pending)
	}
}
