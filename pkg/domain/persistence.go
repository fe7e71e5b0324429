package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListFeis() []Fei
	FindIntermediaire(id string) (CarcasseIntermediaire, bool)
	ListEntities() []Entity
	FindUser(id string) (User, bool)
	ListRelations(userID string) []EntityRelation
	ListAudit(feiNumero string) []AuditEntry
	ListPending() []PendingChange
}

// Transaction exposes the operations that a persistence implementation must
// support within an atomic scope. Create and Update mark the record as not
// synced and, when the store keeps an outbox, queue it for the sync engine.
// The StoreSynced variants write a server-acknowledged version verbatim.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	FindFei(numero string) (Fei, bool)
	FindCarcasse(id string) (Carcasse, bool)
	ListCarcasses(feiNumero string) []Carcasse
	ListIntermediaires(feiNumero string) []CarcasseIntermediaire
	FindEntity(id string) (Entity, bool)
	FindUser(id string) (User, bool)

	CreateFei(Fei) (Fei, error)
	UpdateFei(numero string, mutator func(*Fei) error) (Fei, error)
	CreateCarcasse(Carcasse) (Carcasse, error)
	UpdateCarcasse(id string, mutator func(*Carcasse) error) (Carcasse, error)
	SaveIntermediaire(CarcasseIntermediaire) (CarcasseIntermediaire, error)

	StoreSyncedFei(Fei) (Fei, error)
	StoreSyncedCarcasse(Carcasse) (Carcasse, error)
	StoreSyncedIntermediaire(CarcasseIntermediaire) (CarcasseIntermediaire, error)

	CreateEntity(Entity) (Entity, error)
	CreateUser(User) (User, error)
	CreateRelation(EntityRelation) (EntityRelation, error)

	AppendAudit(AuditEntry) (AuditEntry, error)
	DropPending(kind RecordKind, key string, revision int64) bool
	MarkPendingFailed(kind RecordKind, key string, reason string) error
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetFei(numero string) (Fei, bool)
	ListFeis() []Fei
	ListCarcasses(feiNumero string) []Carcasse
	RulesEngine() *RulesEngine
}
