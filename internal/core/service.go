package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"zacharie/internal/infra/persistence/memory"
	"zacharie/pkg/domain"
)

// Service exposes the transactional custody, disposition and sync operations.
// Every operation runs in one store transaction: the records it touches, the
// audit entries describing them and the outbox entries are committed together
// or not at all.
type Service struct {
	store    PersistentStore
	logger   Logger
	audit    AuditSink
	metrics  MetricsRecorder
	tracer   Tracer
	notifier Notifier
	clock    Clock
}

// Option configures optional collaborators of the service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditSink forwards committed audit entries to sink.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.audit = sink
		}
	}
}

// WithMetricsRecorder sets the recorder observing each operation.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapping each operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithNotifier publishes custody events after commit.
func WithNotifier(notifier Notifier) Option {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithClock overrides the time used for signatures and audit entries. The
// store transaction time is used otherwise.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   noopLogger{},
		audit:    noopAuditSink{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// session carries what one operation accumulates inside its transaction.
type session struct {
	tx      Transaction
	actor   Actor
	now     time.Time
	entries []AuditEntry
	events  []CustodyEvent
}

func (s *Service) run(ctx context.Context, op string, actor Actor, numero string, fn func(*session) error) (Result, error) {
	ctx = ContextWithFei(ctx, numero)
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	var sess *session
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		sess = &session{tx: tx, actor: actor, now: s.now(tx)}
		return fn(sess)
	})
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	span.End(err)
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", "operation", op, "fei_numero", numero, "rule", v.Rule, "kind", v.Kind, "key", v.Key, "message", v.Message)
		}
	}
	if err != nil {
		s.logFailure(op, actor, numero, err)
		return res, err
	}
	s.logger.Debug("operation committed", "operation", op, "fei_numero", numero, "user_id", actor.UserID, "audit_entries", len(sess.entries))
	for _, entry := range sess.entries {
		s.audit.Record(ctx, entry)
	}
	for _, event := range sess.events {
		if perr := s.notifier.Publish(ctx, event); perr != nil {
			s.logger.Warn("publish custody event", "operation", op, "fei_numero", event.FeiNumero, "error", perr)
		}
	}
	return res, nil
}

func (s *Service) logFailure(op string, actor Actor, numero string, err error) {
	var derivation domain.DerivationInconsistencyError
	switch {
	case domain.IsRetryable(err):
		s.logger.Error("operation failed", "operation", op, "fei_numero", numero, "user_id", actor.UserID, "error", err, "retryable", true)
	case errors.As(err, &derivation):
		s.logger.Error("derivation inconsistency", "operation", op, "carcasse_id", derivation.CarcasseID, "stored", derivation.Stored, "derived", derivation.Derived)
	default:
		s.logger.Info("operation rejected", "operation", op, "fei_numero", numero, "user_id", actor.UserID, "error", err)
	}
}

func (s *Service) now(tx Transaction) time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return tx.Now()
}

func (s *Service) view(ctx context.Context, op string, numero string, fn func(TransactionView) error) error {
	ctx, span := s.tracer.Start(ContextWithFei(ctx, numero), op)
	started := time.Now()
	err := s.store.View(ctx, fn)
	s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	span.End(err)
	return err
}

// auditRef names the record an audit entry describes besides its FEI.
type auditRef struct {
	carcasseID      string
	intermediaireID string
	ack             *bool
}

// record appends an audit entry for a change of before into after. It
// reports false, writing nothing, when the history diff is empty.
func (ss *session) record(action string, fei Fei, before, after any, ref auditRef) (bool, error) {
	history, err := domain.Diff(before, after)
	if err != nil {
		return false, fmt.Errorf("audit %s: %w", action, err)
	}
	if len(history) == 0 {
		return false, nil
	}
	entry, err := ss.tx.AppendAudit(AuditEntry{
		UserID:                      ss.actor.UserID,
		UserRole:                    actingRole(fei, ss.actor),
		Action:                      action,
		FeiNumero:                   fei.Numero,
		History:                     history,
		EntityID:                    fei.FeiCurrentOwnerEntityID,
		CarcasseID:                  ref.carcasseID,
		IntermediaireID:             ref.intermediaireID,
		AcknowledgedTrichineWarning: ref.ack,
		CreatedAt:                   ss.now,
	})
	if err != nil {
		return false, err
	}
	ss.entries = append(ss.entries, entry)
	return true, nil
}

func actingRole(fei Fei, actor Actor) domain.Role {
	if actor.HasRole(fei.FeiCurrentOwnerRole) {
		return fei.FeiCurrentOwnerRole
	}
	if len(actor.Roles) > 0 {
		return actor.Roles[0]
	}
	return ""
}

// changed reports whether after differs from before on any audited field.
func changed(before, after any) (bool, error) {
	history, err := domain.Diff(before, after)
	if err != nil {
		return false, err
	}
	return len(history) > 0, nil
}

// saveFei writes after over before when they differ, with its audit entry
// attributed to the holder of the attributed version. It reports whether
// anything was written.
func (ss *session) saveFei(action string, attributed, before, after Fei, ack *bool) (Fei, bool, error) {
	wrote, err := ss.record(action, attributed, before, after, auditRef{ack: ack})
	if err != nil || !wrote {
		return before, false, err
	}
	saved, err := ss.tx.UpdateFei(before.Numero, func(f *Fei) error {
		*f = after
		return nil
	})
	return saved, err == nil, err
}

func (ss *session) saveCarcasse(action string, fei Fei, before, after Carcasse, ack *bool) (Carcasse, bool, error) {
	wrote, err := ss.record(action, fei, before, after, auditRef{carcasseID: before.ZacharieCarcasseID, ack: ack})
	if err != nil || !wrote {
		return before, false, err
	}
	saved, err := ss.tx.UpdateCarcasse(before.ZacharieCarcasseID, func(c *Carcasse) error {
		*c = after
		return nil
	})
	return saved, err == nil, err
}

func (ss *session) loadFei(numero string) (Fei, []Carcasse, error) {
	fei, ok := ss.tx.FindFei(numero)
	if !ok || fei.Deleted() {
		return Fei{}, nil, domain.NotFoundError{Kind: domain.KindFei, Key: numero}
	}
	return fei, domain.LiveCarcasses(ss.tx.ListCarcasses(numero)), nil
}

func (ss *session) loadCarcasse(id string) (Fei, Carcasse, error) {
	c, ok := ss.tx.FindCarcasse(id)
	if !ok || c.Deleted() {
		return Fei{}, Carcasse{}, domain.NotFoundError{Kind: domain.KindCarcasse, Key: id}
	}
	fei, _, err := ss.loadFei(c.FeiNumero)
	return fei, c, err
}

// ResolveActor builds the actor of a stored user with its entity relations.
func (s *Service) ResolveActor(ctx context.Context, userID string) (Actor, error) {
	var actor Actor
	err := s.store.View(ctx, func(v TransactionView) error {
		user, ok := v.FindUser(userID)
		if !ok {
			return domain.NotFoundError{Kind: domain.KindUser, Key: userID}
		}
		actor = Actor{UserID: user.ID, Roles: append([]domain.Role(nil), user.Roles...), Relations: v.ListRelations(user.ID)}
		return nil
	})
	return actor, err
}

// ReferenceData is the externally managed set of parties the core refers to.
type ReferenceData struct {
	Entities  []Entity
	Users     []User
	Relations []EntityRelation
}

// LoadReferenceData stores entities, users and their relations. Records the
// store already knows are left untouched.
func (s *Service) LoadReferenceData(ctx context.Context, data ReferenceData) (Result, error) {
	return s.run(ctx, "load_reference_data", Actor{}, "", func(ss *session) error {
		for _, e := range data.Entities {
			if _, ok := ss.tx.FindEntity(e.ID); ok && e.ID != "" {
				continue
			}
			if _, err := ss.tx.CreateEntity(e); err != nil {
				return err
			}
		}
		for _, u := range data.Users {
			if _, ok := ss.tx.FindUser(u.ID); ok && u.ID != "" {
				continue
			}
			if _, err := ss.tx.CreateUser(u); err != nil {
				return err
			}
		}
		known := map[string]struct{}{}
		for _, rel := range data.Relations {
			for _, existing := range ss.tx.Snapshot().ListRelations(rel.UserID) {
				known[existing.ID] = struct{}{}
			}
		}
		for _, rel := range data.Relations {
			if _, ok := known[rel.ID]; ok && rel.ID != "" {
				continue
			}
			if _, err := ss.tx.CreateRelation(rel); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAudit returns the audit trail of a FEI in append order.
func (s *Service) ListAudit(ctx context.Context, numero string) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.view(ctx, "list_audit", numero, func(v TransactionView) error {
		out = v.ListAudit(numero)
		return nil
	})
	return out, err
}

// ListFeiNumeros returns the numbers of every stored FEI, sorted.
func (s *Service) ListFeiNumeros(ctx context.Context) ([]string, error) {
	var out []string
	err := s.view(ctx, "list_feis", "", func(v TransactionView) error {
		for _, fei := range v.ListFeis() {
			out = append(out, fei.Numero)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
