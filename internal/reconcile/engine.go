package reconcile

import (
	"context"
	"errors"
	"fmt"

	"zacharie/internal/core"
	"zacharie/pkg/domain"
)

// Batch outcomes reported to an Observer.
const (
	OutcomeAccepted = "accepted"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Observer is told the outcome of every batch a sync handled.
type Observer interface {
	ObserveBatch(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveBatch(string) {}

// Report summarises one sync round. Rejected batches stay queued with the
// server's reason until the user edits or discards them.
type Report struct {
	Accepted  []string
	Conflicts []string
	Rejected  []string
	Failed    []string
}

// Empty reports whether the round had nothing to push.
func (r Report) Empty() bool {
	return len(r.Accepted)+len(r.Conflicts)+len(r.Rejected)+len(r.Failed) == 0
}

// Engine pushes the outbox of a device service through a transport.
type Engine struct {
	local     *core.Service
	transport Transport
	userID    string
	logger    core.Logger
	observer  Observer
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver sets the batch outcome observer.
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// NewEngine builds an engine syncing on behalf of the signed-in user.
func NewEngine(local *core.Service, transport Transport, userID string, opts ...EngineOption) *Engine {
	e := &Engine{
		local:     local,
		transport: transport,
		userID:    userID,
		logger:    core.NewNoopLogger(),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs one round: pull the server state of every FEI with pending
// changes, discard the batches that conflict, push the others and apply
// the acknowledgments. Only a custody conflict discards local changes. A
// batch the server refuses for another reason stays queued with the reason
// recorded. Transport failures leave the batches queued with their attempt
// counters raised and surface as PersistenceFailureError.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	var report Report
	batches, err := e.local.PendingSync(ctx, e.userID)
	if err != nil || len(batches) == 0 {
		return report, err
	}
	numeros := make([]string, 0, len(batches))
	for _, b := range batches {
		numeros = append(numeros, b.FeiNumero)
	}

	snapshot, err := e.transport.Pull(ctx, numeros...)
	if err != nil {
		for _, b := range batches {
			e.fail(ctx, &report, b, err)
		}
		return report, domain.PersistenceFailureError{Op: "pull", Err: err}
	}
	plan, err := BuildPlan(batches, snapshot)
	if err != nil {
		return report, err
	}
	for _, c := range plan.Conflicts {
		if err := e.discard(ctx, &report, c.FeiNumero, snapshot.ForFei(c.FeiNumero), c.Err); err != nil {
			return report, err
		}
	}

	var failures []error
	for _, batch := range plan.Push {
		ack, err := e.transport.Push(ctx, batch)
		switch {
		case err == nil:
			if _, err := e.local.ApplySyncAck(ctx, ack); err != nil {
				return report, fmt.Errorf("apply ack for fei %s: %w", batch.FeiNumero, err)
			}
			report.Accepted = append(report.Accepted, batch.FeiNumero)
			e.observer.ObserveBatch(OutcomeAccepted)
		case conflicted(err):
			fresh, perr := e.transport.Pull(ctx, batch.FeiNumero)
			if perr != nil {
				e.fail(ctx, &report, batch, perr)
				failures = append(failures, perr)
				continue
			}
			if err := e.discard(ctx, &report, batch.FeiNumero, fresh, err); err != nil {
				return report, err
			}
		case rejected(err):
			e.reject(ctx, &report, batch, err)
		default:
			e.fail(ctx, &report, batch, err)
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return report, domain.PersistenceFailureError{Op: "push", Err: errors.Join(failures...)}
	}
	e.logger.Info("sync round complete", "user_id", e.userID, "accepted", len(report.Accepted), "conflicts", len(report.Conflicts), "rejected", len(report.Rejected))
	return report, nil
}

// Refresh pulls the server state of the named FEIs into the local store.
// Records with pending local changes are left alone.
func (e *Engine) Refresh(ctx context.Context, numeros ...string) error {
	snapshot, err := e.transport.Pull(ctx, numeros...)
	if err != nil {
		return domain.PersistenceFailureError{Op: "pull", Err: err}
	}
	_, err = e.local.ApplyServerSnapshot(ctx, snapshot)
	return err
}

func (e *Engine) discard(ctx context.Context, report *Report, numero string, snapshot domain.SyncSnapshot, cause error) error {
	e.logger.Warn("sync conflict, local changes discarded", "fei_numero", numero, "user_id", e.userID, "error", cause)
	if _, err := e.local.DiscardPending(ctx, numero, snapshot, cause.Error()); err != nil {
		return fmt.Errorf("discard pending for fei %s: %w", numero, err)
	}
	report.Conflicts = append(report.Conflicts, numero)
	e.observer.ObserveBatch(OutcomeConflict)
	return nil
}

func (e *Engine) reject(ctx context.Context, report *Report, batch domain.SyncBatch, cause error) {
	e.logger.Warn("sync batch rejected, local changes kept", "fei_numero", batch.FeiNumero, "user_id", e.userID, "error", cause)
	if _, err := e.local.RecordSyncFailure(ctx, batch, cause.Error()); err != nil {
		e.logger.Error("record sync rejection", "fei_numero", batch.FeiNumero, "error", err)
	}
	report.Rejected = append(report.Rejected, batch.FeiNumero)
	e.observer.ObserveBatch(OutcomeRejected)
}

func (e *Engine) fail(ctx context.Context, report *Report, batch domain.SyncBatch, cause error) {
	e.logger.Warn("sync push failed", "fei_numero", batch.FeiNumero, "user_id", e.userID, "error", cause)
	if _, err := e.local.RecordSyncFailure(ctx, batch, cause.Error()); err != nil {
		e.logger.Error("record sync failure", "fei_numero", batch.FeiNumero, "error", err)
	}
	report.Failed = append(report.Failed, batch.FeiNumero)
	e.observer.ObserveBatch(OutcomeFailed)
}

func conflicted(err error) bool {
	var conflict domain.TransferConflictError
	return errors.As(err, &conflict)
}

// rejected reports whether the server refused a batch on its merits, as
// opposed to failing to process it.
func rejected(err error) bool {
	var (
		transition domain.InvalidTransitionError
		missing    domain.MissingRequiredFieldError
		invalid    domain.InvalidFieldError
		blocked    domain.RuleViolationError
	)
	return errors.As(err, &transition) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid) ||
		errors.As(err, &blocked)
}
