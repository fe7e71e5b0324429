package core

import (
	"context"
	"time"

	"zacharie/pkg/domain"
)

type (
	Fei                   = domain.Fei
	Carcasse              = domain.Carcasse
	CarcasseIntermediaire = domain.CarcasseIntermediaire
	Entity                = domain.Entity
	User                  = domain.User
	EntityRelation        = domain.EntityRelation
	Actor                 = domain.Actor
	AuditEntry            = domain.AuditEntry
	Change                = domain.Change
	Result                = domain.Result
	Violation             = domain.Violation
	Rule                  = domain.Rule
	RulesEngine           = domain.RulesEngine
	Transaction           = domain.Transaction
	TransactionView       = domain.TransactionView
	PersistentStore       = domain.PersistentStore
	CustodyEvent          = domain.CustodyEvent
)

// Logger is the structured logger used by the service. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuditSink receives audit entries once the transaction that produced them
// has committed. Entries are already persisted in the store; sinks export them.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes the outcome and duration of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended once with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

// Notifier publishes custody events to other devices and parties.
type Notifier interface {
	Publish(ctx context.Context, event CustodyEvent) error
}

// Clock supplies the current time for audit timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the function result.
func (f ClockFunc) Now() time.Time { return f() }

// NewNoopLogger returns a logger that discards everything.
func NewNoopLogger() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, CustodyEvent) error { return nil }
