// Package memory provides an in-memory implementation of the custody
// persistence store used by tests, the device outbox, and as the transactional
// core of the SQL snapshot stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zacharie/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Fei aliases domain.Fei for in-memory persistence operations.
	Fei = domain.Fei
	// Carcasse aliases domain.Carcasse.
	Carcasse = domain.Carcasse
	// CarcasseIntermediaire aliases domain.CarcasseIntermediaire.
	CarcasseIntermediaire = domain.CarcasseIntermediaire
	// Entity aliases domain.Entity.
	Entity = domain.Entity
	// User aliases domain.User.
	User = domain.User
	// EntityRelation aliases domain.EntityRelation.
	EntityRelation = domain.EntityRelation
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// PendingChange aliases domain.PendingChange.
	PendingChange = domain.PendingChange
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	feis           map[string]Fei
	carcasses      map[string]Carcasse
	intermediaires map[string]CarcasseIntermediaire
	entities       map[string]Entity
	users          map[string]User
	relations      map[string]EntityRelation
	audit          []AuditEntry
	pending        map[string]PendingChange
	revision       int64
}

func newMemoryState() memoryState {
	return memoryState{
		feis:           make(map[string]Fei),
		carcasses:      make(map[string]Carcasse),
		intermediaires: make(map[string]CarcasseIntermediaire),
		entities:       make(map[string]Entity),
		users:          make(map[string]User),
		relations:      make(map[string]EntityRelation),
		pending:        make(map[string]PendingChange),
	}
}

// clone copies every bucket. Pointer fields of records are replaced, never
// written through, so only slices need a deep copy.
func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.feis {
		out.feis[k] = v
	}
	for k, v := range s.carcasses {
		out.carcasses[k] = cloneCarcasse(v)
	}
	for k, v := range s.intermediaires {
		out.intermediaires[k] = v
	}
	for k, v := range s.entities {
		out.entities[k] = v
	}
	for k, v := range s.users {
		out.users[k] = cloneUser(v)
	}
	for k, v := range s.relations {
		out.relations[k] = v
	}
	out.audit = make([]AuditEntry, len(s.audit))
	copy(out.audit, s.audit)
	for k, v := range s.pending {
		out.pending[k] = v
	}
	out.revision = s.revision
	return out
}

func cloneCarcasse(c Carcasse) Carcasse {
	c.ExaminateurAnomaliesCarcasse = cloneStrings(c.ExaminateurAnomaliesCarcasse)
	c.ExaminateurAnomaliesAbats = cloneStrings(c.ExaminateurAnomaliesAbats)
	c.SviIpm1Pieces = cloneStrings(c.SviIpm1Pieces)
	c.SviIpm1LesionsOuMotifs = cloneStrings(c.SviIpm1LesionsOuMotifs)
	c.SviIpm2Pieces = cloneStrings(c.SviIpm2Pieces)
	c.SviIpm2LesionsOuMotifs = cloneStrings(c.SviIpm2LesionsOuMotifs)
	return c
}

func cloneUser(u User) User {
	if u.Roles != nil {
		u.Roles = append([]domain.Role(nil), u.Roles...)
	}
	return u
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func pendingKey(kind domain.RecordKind, key string) string {
	return string(kind) + "/" + key
}

// Store is an in-memory transactional store. With the outbox enabled every
// local mutation of a FEI, carcass or intermediary hop is queued for sync.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	outbox bool
}

// Option configures a Store.
type Option func(*Store)

// WithOutbox makes local writes queue pending changes, as on a device that
// works offline.
func WithOutbox() Option {
	return func(s *Store) { s.outbox = true }
}

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Outbox reports whether local writes are queued for sync.
func (s *Store) Outbox() bool {
	return s.outbox
}

type transaction struct {
	store     *Store
	committed *memoryState
	state     memoryState
	changes   []Change
	now       time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds and no rule
// reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store:     s,
		committed: &s.state,
		state:     s.state.clone(),
		now:       s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now is the timestamp shared by every write of the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

func (tx *transaction) view() transactionView {
	return transactionView{state: &tx.state}
}

// FindFei exposes FEI lookup within the transaction scope.
func (tx *transaction) FindFei(numero string) (Fei, bool) { return tx.view().FindFei(numero) }

// FindCarcasse exposes carcass lookup within the transaction scope.
func (tx *transaction) FindCarcasse(id string) (Carcasse, bool) { return tx.view().FindCarcasse(id) }

// ListCarcasses lists the carcasses of a FEI within the transaction scope.
func (tx *transaction) ListCarcasses(feiNumero string) []Carcasse {
	return tx.view().ListCarcasses(feiNumero)
}

// ListIntermediaires lists the hops of a FEI within the transaction scope.
func (tx *transaction) ListIntermediaires(feiNumero string) []CarcasseIntermediaire {
	return tx.view().ListIntermediaires(feiNumero)
}

// FindEntity exposes entity lookup within the transaction scope.
func (tx *transaction) FindEntity(id string) (Entity, bool) { return tx.view().FindEntity(id) }

// FindUser exposes user lookup within the transaction scope.
func (tx *transaction) FindUser(id string) (User, bool) { return tx.view().FindUser(id) }

// queue records a pending change for the record when the outbox is enabled.
// The base is the version last committed before any unsynced write, so a
// record edited twice offline keeps the base of its first edit.
func (tx *transaction) queue(kind domain.RecordKind, key, feiNumero string, committed any, hasCommitted bool) error {
	if !tx.store.outbox {
		return nil
	}
	pk := pendingKey(kind, key)
	tx.state.revision++
	entry, exists := tx.state.pending[pk]
	if !exists {
		entry = PendingChange{Kind: kind, Key: key, FeiNumero: feiNumero, QueuedAt: tx.now, Base: domain.UndefinedChangePayload()}
		if hasCommitted {
			base, err := domain.NewChangePayloadFromValue(committed)
			if err != nil {
				return fmt.Errorf("encode %s %s base: %w", kind, key, err)
			}
			entry.Base = base
		}
	}
	entry.Revision = tx.state.revision
	entry.LastError = ""
	tx.state.pending[pk] = entry
	return nil
}

// CreateFei stores a new FEI within the transaction.
func (tx *transaction) CreateFei(f Fei) (Fei, error) {
	if f.Numero == "" {
		return Fei{}, domain.MissingRequiredFieldError{Field: "numero"}
	}
	if _, exists := tx.state.feis[f.Numero]; exists {
		return Fei{}, fmt.Errorf("fei %q already exists", f.Numero)
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	f.IsSynced = !tx.store.outbox
	tx.state.feis[f.Numero] = f
	tx.recordChange(Change{Kind: domain.KindFei, Action: domain.ActionCreate, Key: f.Numero, After: f})
	if err := tx.queue(domain.KindFei, f.Numero, f.Numero, nil, false); err != nil {
		return Fei{}, err
	}
	return f, nil
}

// UpdateFei mutates a FEI using the provided mutator function.
func (tx *transaction) UpdateFei(numero string, mutator func(*Fei) error) (Fei, error) {
	current, ok := tx.state.feis[numero]
	if !ok {
		return Fei{}, domain.NotFoundError{Kind: domain.KindFei, Key: numero}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Fei{}, err
	}
	current.Numero = numero
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.IsSynced = !tx.store.outbox
	tx.state.feis[numero] = current
	tx.recordChange(Change{Kind: domain.KindFei, Action: domain.ActionUpdate, Key: numero, Before: before, After: current})
	committed, had := tx.committed.feis[numero]
	if err := tx.queue(domain.KindFei, numero, numero, committed, had); err != nil {
		return Fei{}, err
	}
	return current, nil
}

// CreateCarcasse stores a new carcass attached to an existing FEI.
func (tx *transaction) CreateCarcasse(c Carcasse) (Carcasse, error) {
	if c.ZacharieCarcasseID == "" {
		c.ZacharieCarcasseID = uuid.NewString()
	}
	if _, exists := tx.state.carcasses[c.ZacharieCarcasseID]; exists {
		return Carcasse{}, fmt.Errorf("carcasse %q already exists", c.ZacharieCarcasseID)
	}
	if _, ok := tx.state.feis[c.FeiNumero]; !ok {
		return Carcasse{}, domain.NotFoundError{Kind: domain.KindFei, Key: c.FeiNumero}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	c.IsSynced = !tx.store.outbox
	tx.state.carcasses[c.ZacharieCarcasseID] = cloneCarcasse(c)
	tx.recordChange(Change{Kind: domain.KindCarcasse, Action: domain.ActionCreate, Key: c.ZacharieCarcasseID, After: cloneCarcasse(c)})
	if err := tx.queue(domain.KindCarcasse, c.ZacharieCarcasseID, c.FeiNumero, nil, false); err != nil {
		return Carcasse{}, err
	}
	return cloneCarcasse(c), nil
}

// UpdateCarcasse mutates a carcass using the provided mutator function.
func (tx *transaction) UpdateCarcasse(id string, mutator func(*Carcasse) error) (Carcasse, error) {
	current, ok := tx.state.carcasses[id]
	if !ok {
		return Carcasse{}, domain.NotFoundError{Kind: domain.KindCarcasse, Key: id}
	}
	before := cloneCarcasse(current)
	if err := mutator(&current); err != nil {
		return Carcasse{}, err
	}
	current.ZacharieCarcasseID = id
	current.FeiNumero = before.FeiNumero
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	current.IsSynced = !tx.store.outbox
	tx.state.carcasses[id] = cloneCarcasse(current)
	tx.recordChange(Change{Kind: domain.KindCarcasse, Action: domain.ActionUpdate, Key: id, Before: before, After: cloneCarcasse(current)})
	committed, had := tx.committed.carcasses[id]
	if err := tx.queue(domain.KindCarcasse, id, current.FeiNumero, committed, had); err != nil {
		return Carcasse{}, err
	}
	return cloneCarcasse(current), nil
}

// SaveIntermediaire creates or replaces an intermediary hop. Hop identifiers
// are deterministic, so the same hop recorded twice is one record.
func (tx *transaction) SaveIntermediaire(ci CarcasseIntermediaire) (CarcasseIntermediaire, error) {
	if ci.ID == "" {
		return CarcasseIntermediaire{}, domain.MissingRequiredFieldError{Field: "id"}
	}
	if _, ok := tx.state.carcasses[ci.ZacharieCarcasseID]; !ok {
		return CarcasseIntermediaire{}, domain.NotFoundError{Kind: domain.KindCarcasse, Key: ci.ZacharieCarcasseID}
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.intermediaires[ci.ID]; ok {
		action = domain.ActionUpdate
		before = existing
		ci.CreatedAt = existing.CreatedAt
	} else {
		ci.CreatedAt = tx.now
	}
	ci.UpdatedAt = tx.now
	ci.IsSynced = !tx.store.outbox
	tx.state.intermediaires[ci.ID] = ci
	tx.recordChange(Change{Kind: domain.KindIntermediaire, Action: action, Key: ci.ID, Before: before, After: ci})
	committed, had := tx.committed.intermediaires[ci.ID]
	if err := tx.queue(domain.KindIntermediaire, ci.ID, ci.FeiNumero, committed, had); err != nil {
		return CarcasseIntermediaire{}, err
	}
	return ci, nil
}

// StoreSyncedFei writes the server version of a FEI without queueing it.
func (tx *transaction) StoreSyncedFei(f Fei) (Fei, error) {
	if f.Numero == "" {
		return Fei{}, domain.MissingRequiredFieldError{Field: "numero"}
	}
	before, had := tx.state.feis[f.Numero]
	f.IsSynced = true
	tx.state.feis[f.Numero] = f
	tx.recordChange(syncedChange(domain.KindFei, f.Numero, before, had, f))
	return f, nil
}

// StoreSyncedCarcasse writes the server version of a carcass without queueing it.
func (tx *transaction) StoreSyncedCarcasse(c Carcasse) (Carcasse, error) {
	if c.ZacharieCarcasseID == "" {
		return Carcasse{}, domain.MissingRequiredFieldError{Field: "zacharie_carcasse_id"}
	}
	before, had := tx.state.carcasses[c.ZacharieCarcasseID]
	c.IsSynced = true
	tx.state.carcasses[c.ZacharieCarcasseID] = cloneCarcasse(c)
	tx.recordChange(syncedChange(domain.KindCarcasse, c.ZacharieCarcasseID, before, had, cloneCarcasse(c)))
	return cloneCarcasse(c), nil
}

// StoreSyncedIntermediaire writes the server version of a hop without queueing it.
func (tx *transaction) StoreSyncedIntermediaire(ci CarcasseIntermediaire) (CarcasseIntermediaire, error) {
	if ci.ID == "" {
		return CarcasseIntermediaire{}, domain.MissingRequiredFieldError{Field: "id"}
	}
	before, had := tx.state.intermediaires[ci.ID]
	ci.IsSynced = true
	tx.state.intermediaires[ci.ID] = ci
	tx.recordChange(syncedChange(domain.KindIntermediaire, ci.ID, before, had, ci))
	return ci, nil
}

func syncedChange(kind domain.RecordKind, key string, before any, had bool, after any) Change {
	if !had {
		return Change{Kind: kind, Action: domain.ActionCreate, Key: key, After: after}
	}
	return Change{Kind: kind, Action: domain.ActionUpdate, Key: key, Before: before, After: after}
}

// CreateEntity stores a new organisation.
func (tx *transaction) CreateEntity(e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := tx.state.entities[e.ID]; exists {
		return Entity{}, fmt.Errorf("entity %q already exists", e.ID)
	}
	if e.Type == "" {
		return Entity{}, domain.MissingRequiredFieldError{Field: "type"}
	}
	e.CreatedAt = tx.now
	tx.state.entities[e.ID] = e
	tx.recordChange(Change{Kind: domain.KindEntity, Action: domain.ActionCreate, Key: e.ID, After: e})
	return e, nil
}

// CreateUser stores a new user.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.ID)
	}
	u.CreatedAt = tx.now
	tx.state.users[u.ID] = cloneUser(u)
	tx.recordChange(Change{Kind: domain.KindUser, Action: domain.ActionCreate, Key: u.ID, After: cloneUser(u)})
	return cloneUser(u), nil
}

// CreateRelation links an existing user to an existing entity.
func (tx *transaction) CreateRelation(r EntityRelation) (EntityRelation, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := tx.state.relations[r.ID]; exists {
		return EntityRelation{}, fmt.Errorf("relation %q already exists", r.ID)
	}
	if _, ok := tx.state.users[r.UserID]; !ok {
		return EntityRelation{}, domain.NotFoundError{Kind: domain.KindUser, Key: r.UserID}
	}
	if _, ok := tx.state.entities[r.EntityID]; !ok {
		return EntityRelation{}, domain.NotFoundError{Kind: domain.KindEntity, Key: r.EntityID}
	}
	r.CreatedAt = tx.now
	tx.state.relations[r.ID] = r
	tx.recordChange(Change{Kind: domain.KindRelation, Action: domain.ActionCreate, Key: r.ID, After: r})
	return r, nil
}

// AppendAudit appends an entry to the audit log. Entries are never updated.
func (tx *transaction) AppendAudit(entry AuditEntry) (AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = tx.now
	}
	tx.state.audit = append(tx.state.audit, entry)
	tx.recordChange(Change{Kind: domain.KindAudit, Action: domain.ActionCreate, Key: entry.ID, After: entry})
	return entry, nil
}

// DropPending removes a pending change if it still carries the revision that
// was pushed. A newer local write keeps the entry queued.
func (tx *transaction) DropPending(kind domain.RecordKind, key string, revision int64) bool {
	pk := pendingKey(kind, key)
	entry, ok := tx.state.pending[pk]
	if !ok || entry.Revision != revision {
		return false
	}
	delete(tx.state.pending, pk)
	return true
}

// MarkPendingFailed records a failed push attempt on a pending change.
func (tx *transaction) MarkPendingFailed(kind domain.RecordKind, key string, reason string) error {
	pk := pendingKey(kind, key)
	entry, ok := tx.state.pending[pk]
	if !ok {
		return domain.NotFoundError{Kind: kind, Key: key}
	}
	at := tx.now
	entry.Attempts++
	entry.LastError = reason
	entry.LastAttemptAt = &at
	tx.state.pending[pk] = entry
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetFei retrieves a FEI from committed state.
func (s *Store) GetFei(numero string) (Fei, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.FindFei(numero)
}

// ListFeis returns every FEI from committed state ordered by numero.
func (s *Store) ListFeis() []Fei {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListFeis()
}

// ListCarcasses returns the carcasses of a FEI from committed state.
func (s *Store) ListCarcasses(feiNumero string) []Carcasse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListCarcasses(feiNumero)
}

// ListPending returns the outbox in revision order.
func (s *Store) ListPending() []PendingChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListPending()
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindFei retrieves a FEI by numero from the snapshot.
func (v transactionView) FindFei(numero string) (Fei, bool) {
	f, ok := v.state.feis[numero]
	return f, ok
}

// ListFeis returns every FEI ordered by numero.
func (v transactionView) ListFeis() []Fei {
	out := make([]Fei, 0, len(v.state.feis))
	for _, f := range v.state.feis {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Numero < out[j].Numero })
	return out
}

// FindCarcasse retrieves a carcass by identifier from the snapshot.
func (v transactionView) FindCarcasse(id string) (Carcasse, bool) {
	c, ok := v.state.carcasses[id]
	if !ok {
		return Carcasse{}, false
	}
	return cloneCarcasse(c), true
}

// ListCarcasses returns the carcasses of a FEI, deleted ones included,
// ordered by bracelet.
func (v transactionView) ListCarcasses(feiNumero string) []Carcasse {
	out := make([]Carcasse, 0)
	for _, c := range v.state.carcasses {
		if c.FeiNumero == feiNumero {
			out = append(out, cloneCarcasse(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NumeroBracelet != out[j].NumeroBracelet {
			return out[i].NumeroBracelet < out[j].NumeroBracelet
		}
		return out[i].ZacharieCarcasseID < out[j].ZacharieCarcasseID
	})
	return out
}

// FindIntermediaire retrieves a hop by identifier from the snapshot.
func (v transactionView) FindIntermediaire(id string) (CarcasseIntermediaire, bool) {
	ci, ok := v.state.intermediaires[id]
	return ci, ok
}

// ListIntermediaires returns the hops of a FEI in signing order.
func (v transactionView) ListIntermediaires(feiNumero string) []CarcasseIntermediaire {
	out := make([]CarcasseIntermediaire, 0)
	for _, ci := range v.state.intermediaires {
		if ci.FeiNumero == feiNumero {
			out = append(out, ci)
		}
	}
	domain.SortIntermediaires(out)
	return out
}

// FindEntity retrieves an organisation by identifier.
func (v transactionView) FindEntity(id string) (Entity, bool) {
	e, ok := v.state.entities[id]
	return e, ok
}

// ListEntities returns every organisation ordered by identifier.
func (v transactionView) ListEntities() []Entity {
	out := make([]Entity, 0, len(v.state.entities))
	for _, e := range v.state.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindUser retrieves a user by identifier.
func (v transactionView) FindUser(id string) (User, bool) {
	u, ok := v.state.users[id]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// ListRelations returns the relations of a user ordered by creation.
func (v transactionView) ListRelations(userID string) []EntityRelation {
	out := make([]EntityRelation, 0)
	for _, r := range v.state.relations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListAudit returns the audit entries of a FEI in append order. An empty
// numero returns the whole log.
func (v transactionView) ListAudit(feiNumero string) []AuditEntry {
	out := make([]AuditEntry, 0)
	for _, entry := range v.state.audit {
		if feiNumero == "" || entry.FeiNumero == feiNumero {
			out = append(out, entry)
		}
	}
	return out
}

// ListPending returns the outbox in revision order.
func (v transactionView) ListPending() []PendingChange {
	out := make([]PendingChange, 0, len(v.state.pending))
	for _, p := range v.state.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out
}
