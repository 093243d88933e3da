// Package distill owns the per-signature distillation lifecycle: routing
// calls to teacher or student, triggering fine-tuning once enough records
// accumulate, promoting finished students, and demoting students whose
// live failure rate regresses.
package distill

import (
	"apprentice/internal/logging"
	"apprentice/internal/store"
)

// Router picks the model for a call from the persisted distillation state.
// The router only reads; every transition belongs to the Scheduler.
type Router struct {
	store        *store.Store
	teacherModel string
}

// NewRouter builds a router that falls back to teacherModel whenever no
// trusted student exists.
func NewRouter(st *store.Store, teacherModel string) *Router {
	return &Router{store: st, teacherModel: teacherModel}
}

// Route returns the model to call for a fingerprint, and whether that
// model is a student. cold, aligned, training, and degraded all route to
// the teacher; only distilled routes to the student. A storage read
// failure degrades to teacher routing rather than failing the call.
func (r *Router) Route(fingerprint string) (model string, student bool) {
	info, err := r.store.StateInfoFor(fingerprint)
	if err != nil {
		logging.Get(logging.CategoryDistill).Warnw("state read failed, routing to teacher",
			"fingerprint", fingerprint, "error", err)
		return r.teacherModel, false
	}

	if info.State == store.StateDistilled && info.StudentModel != "" {
		return info.StudentModel, true
	}
	return r.teacherModel, false
}

// TeacherModel exposes the configured teacher model identifier.
func (r *Router) TeacherModel() string {
	return r.teacherModel
}
