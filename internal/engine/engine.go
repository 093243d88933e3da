// Package engine is the call surface of apprentice. Callers register a
// function signature once and invoke it like a native function; the engine
// assembles the prompt, routes to teacher or student, decodes the response
// into the declared output shape, and feeds successful calls back into the
// distillation pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"

	"apprentice/internal/config"
	"apprentice/internal/decode"
	"apprentice/internal/distill"
	"apprentice/internal/llm"
	"apprentice/internal/logging"
	"apprentice/internal/prompt"
	"apprentice/internal/signature"
	"apprentice/internal/store"
)

// Engine owns the shared collaborators behind every registered handle.
type Engine struct {
	store  *store.Store
	client llm.Client
	router *distill.Router
	sched  *distill.Scheduler
	cfg    config.EngineConfig
}

// Handle is a registered signature bound to an engine. It is safe for
// concurrent use.
type Handle struct {
	eng         *Engine
	sig         signature.Signature
	fingerprint string
}

// New wires an engine from its collaborators.
func New(st *store.Store, client llm.Client, router *distill.Router, sched *distill.Scheduler, cfg config.EngineConfig) *Engine {
	if cfg.MaxRepairAttempts == 0 {
		cfg.MaxRepairAttempts = 2
	}
	return &Engine{store: st, client: client, router: router, sched: sched, cfg: cfg}
}

// Register validates the signature, persists its identity and returns a
// callable handle. Registering the same signature twice yields equivalent
// handles; registering a different signature under a colliding fingerprint
// is impossible by construction.
func (e *Engine) Register(sig signature.Signature) (*Handle, error) {
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", sig.Name, err)
	}
	fp := sig.Fingerprint()
	if err := e.store.EnsureSignature(fp, sig.Name, sig.CanonicalJSON()); err != nil {
		return nil, err
	}
	return &Handle{eng: e, sig: sig, fingerprint: fp}, nil
}

// Fingerprint returns the identity of the registered signature.
func (h *Handle) Fingerprint() string { return h.fingerprint }

// Signature returns the registered signature.
func (h *Handle) Signature() signature.Signature { return h.sig }

// Call invokes the function with the given inputs, one per declared input
// descriptor, and returns the decoded output value. On success the call is
// appended to the signature's training records; decode failures past the
// repair budget return a *decode.Error and are recorded as outcomes only.
func (h *Handle) Call(ctx context.Context, inputs ...any) (any, error) {
	e := h.eng
	log := logging.Get(logging.CategoryEngine)

	if len(inputs) != len(h.sig.Inputs) {
		return nil, fmt.Errorf("%s: expected %d inputs, got %d", h.sig.Name, len(h.sig.Inputs), len(inputs))
	}
	inputsJSON, err := decode.EncodeInputs(inputs, h.sig.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.sig.Name, err)
	}

	// A store read failure degrades to zero-shot rather than failing the
	// call; the prompt just carries no examples.
	var fewShot []prompt.Example
	examples, err := e.store.Examples(h.fingerprint)
	if err != nil {
		log.Warnw("alignment read failed, calling zero-shot",
			"signature", h.sig.Name, "error", err)
	} else {
		fewShot = make([]prompt.Example, len(examples))
		for i, ex := range examples {
			fewShot[i] = prompt.Example{InputsJSON: ex.InputsJSON, ExpectedJSON: ex.ExpectedJSON}
		}
	}

	built := prompt.Build(h.sig, fewShot, inputsJSON)
	model, student := e.router.Route(h.fingerprint)

	value, outputJSON, err := h.complete(ctx, model, student, built)
	if err != nil {
		return nil, err
	}

	// A cancelled call contributes nothing to training data even if the
	// response arrived.
	if ctx.Err() != nil {
		return value, nil
	}

	if err := e.store.AppendTrainingRecord(h.fingerprint, store.TrainingRecord{
		InputsJSON: inputsJSON,
		OutputJSON: outputJSON,
		Model:      model,
	}); err != nil {
		log.Warnw("training record dropped", "signature", h.sig.Name, "error", err)
	}
	e.sched.NoteSuccess(h.sig, h.fingerprint, model, student)

	return value, nil
}

// complete runs the request plus the bounded repair loop. It returns the
// decoded value together with the canonical JSON form that goes into the
// training record.
func (h *Handle) complete(ctx context.Context, model string, student bool, built string) (any, string, error) {
	e := h.eng
	log := logging.Get(logging.CategoryEngine)

	req := llm.Request{
		Model:      model,
		System:     prompt.SystemInstruction,
		User:       built,
		SchemaHint: h.sig.Output.JSONSchema(),
	}

	raw, err := e.client.Complete(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", h.sig.Name, err)
	}

	var decodeErr *decode.Error
	for attempt := 0; ; attempt++ {
		value, err := decode.Decode(raw, h.sig.Output)
		if err == nil {
			canonical, encErr := decode.Encode(value, h.sig.Output)
			if encErr != nil {
				return nil, "", fmt.Errorf("%s: %w", h.sig.Name, encErr)
			}
			return value, canonical, nil
		}
		if !errors.As(err, &decodeErr) {
			return nil, "", fmt.Errorf("%s: %w", h.sig.Name, err)
		}
		if attempt >= e.cfg.MaxRepairAttempts {
			break
		}

		log.Debugw("decode failed, attempting repair",
			"signature", h.sig.Name, "attempt", attempt+1, "reason", decodeErr.Reason)

		repair := req
		repair.User = prompt.BuildRepair(built, raw, decodeErr.Reason)
		raw, err = e.client.Complete(ctx, repair)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", h.sig.Name, err)
		}
	}

	log.Warnw("repair budget exhausted",
		"signature", h.sig.Name, "model", model, "reason", decodeErr.Reason)
	e.sched.NoteDecodeFailure(h.sig, h.fingerprint, model, student, decodeErr.Reason)
	return nil, "", fmt.Errorf("%s: %w", h.sig.Name, decodeErr)
}
