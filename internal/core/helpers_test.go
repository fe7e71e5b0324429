package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"zacharie/internal/infra/persistence/memory"
	"zacharie/pkg/domain"
)

const numero = "ZACH-20260920-0001"

var t0 = time.Date(2026, 9, 20, 7, 30, 0, 0, time.UTC)

func ptrTime(v time.Time) *time.Time { return &v }

func ptrBool(v bool) *bool { return &v }

func referenceData() ReferenceData {
	return ReferenceData{
		Entities: []Entity{
			{ID: "pd-1", Type: domain.EntityTypePremierDetenteur, NomDUsage: "Chasse du Val"},
			{ID: "ccg-1", Type: domain.EntityTypeCCG, NomDUsage: "CCG des Combes"},
			{ID: "col-1", Type: domain.EntityTypeCollecteurPro, NomDUsage: "Collecte Alpine"},
			{ID: "etg-1", Type: domain.EntityTypeETG, NomDUsage: "ETG Bellevue"},
			{ID: "etg-2", Type: domain.EntityTypeETG, NomDUsage: "Abattoir du Nord"},
			{ID: "svi-1", Type: domain.EntityTypeSVI, NomDUsage: "SVI Savoie"},
			{ID: "cantine-1", Type: domain.EntityTypeCantine, NomDUsage: "Cantine du lycée"},
		},
		Users: []User{
			{ID: "examinateur", Roles: []domain.Role{domain.RoleExaminateurInitial}, Prenom: "Jeanne", NomDeFamille: "Martin"},
			{ID: "pd", Roles: []domain.Role{domain.RolePremierDetenteur}, Prenom: "Paul", NomDeFamille: "Durand"},
			{ID: "collecteur", Roles: []domain.Role{domain.RoleCollecteurPro}, Prenom: "Chloé"},
			{ID: "etg", Roles: []domain.Role{domain.RoleETG}, Prenom: "Étienne"},
			{ID: "etg-bis", Roles: []domain.Role{domain.RoleETG}, Prenom: "Bastien"},
			{ID: "svi", Roles: []domain.Role{domain.RoleSVI}, NomDeFamille: "Dr Vidal"},
		},
		Relations: []EntityRelation{
			{ID: "r-pd", UserID: "pd", EntityID: "pd-1", Relation: domain.RelationWorkingFor},
			{ID: "r-pd-etg", UserID: "pd", EntityID: "etg-1", Relation: domain.RelationCanTransmitCarcassesToEntity},
			{ID: "r-col", UserID: "collecteur", EntityID: "col-1", Relation: domain.RelationWorkingFor},
			{ID: "r-etg", UserID: "etg", EntityID: "etg-1", Relation: domain.RelationWorkingFor},
			{ID: "r-etg-bis", UserID: "etg-bis", EntityID: "etg-1", Relation: domain.RelationWorkingFor},
			{ID: "r-svi", UserID: "svi", EntityID: "svi-1", Relation: domain.RelationWorkingFor},
		},
	}
}

// fixture is a service loaded with reference data and the actors of a chain.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	svc    *Service
	actors map[string]Actor
}

func newFixture(t *testing.T, store PersistentStore, opts ...Option) *fixture {
	t.Helper()
	if store == nil {
		store = memory.NewStore(NewDefaultRulesEngine(true))
	}
	f := &fixture{t: t, ctx: context.Background(), svc: NewService(store, opts...), actors: map[string]Actor{}}
	if _, err := f.svc.LoadReferenceData(f.ctx, referenceData()); err != nil {
		t.Fatalf("load reference data: %v", err)
	}
	for _, u := range referenceData().Users {
		actor, err := f.svc.ResolveActor(f.ctx, u.ID)
		if err != nil {
			t.Fatalf("resolve %s: %v", u.ID, err)
		}
		f.actors[u.ID] = actor
	}
	return f
}

func (f *fixture) actor(userID string) Actor {
	f.t.Helper()
	a, ok := f.actors[userID]
	if !ok {
		f.t.Fatalf("unknown actor %s", userID)
	}
	return a
}

func carcasseInput(bracelet, espece string) domain.NewCarcasseInput {
	return domain.NewCarcasseInput{
		ZacharieCarcasseID: "c-" + bracelet,
		NumeroBracelet:     bracelet,
		Type:               domain.GrosGibier,
		Espece:             espece,
	}
}

// examined opens the FEI and signs off every carcass.
func (f *fixture) examined(carcasses ...domain.NewCarcasseInput) Fei {
	f.t.Helper()
	exam := f.actor("examinateur")
	fei, _, err := f.svc.CreateFei(f.ctx, exam, NewFeiInput{Numero: numero, DateMiseAMort: ptrTime(t0), CommuneMiseAMort: "Chambéry", Carcasses: carcasses})
	if err != nil {
		f.t.Fatalf("create fei: %v", err)
	}
	for _, c := range carcasses {
		if _, _, err := f.svc.RecordExamination(f.ctx, exam, c.ZacharieCarcasseID, domain.Examination{SansAnomalie: true}); err != nil {
			f.t.Fatalf("examine %s: %v", c.NumeroBracelet, err)
		}
	}
	if fei, _, err = f.svc.ApproveMiseSurLeMarche(f.ctx, exam, numero); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
	return fei
}

func (f *fixture) transfer(from string, to CandidateRef, ack bool) Fei {
	f.t.Helper()
	if _, _, err := f.svc.ProposeNextHolder(f.ctx, f.actor(from), numero, to); err != nil {
		f.t.Fatalf("propose %+v: %v", to, err)
	}
	fei, _, err := f.svc.CommitTransfer(f.ctx, f.actor(from), numero, ack)
	if err != nil {
		f.t.Fatalf("commit transfer from %s: %v", from, err)
	}
	return fei
}

// heldByPremierDetenteur runs the chain until the premier détenteur holds
// the FEI with a CCG depot and their own transport declared.
func (f *fixture) heldByPremierDetenteur(carcasses ...domain.NewCarcasseInput) Fei {
	f.t.Helper()
	f.examined(carcasses...)
	f.transfer("examinateur", CandidateRef{EntityID: "pd-1"}, false)
	fei, _, err := f.svc.DeclarePremierDetenteurDepot(f.ctx, f.actor("pd"), numero, domain.DepotDeclaration{
		DepotType:     domain.DepotCCG,
		DepotEntityID: "ccg-1",
		DepotAt:       ptrTime(t0.Add(2 * time.Hour)),
		TransportType: domain.TransportPremierDetenteur,
		TransportDate: ptrTime(t0.Add(3 * time.Hour)),
	})
	if err != nil {
		f.t.Fatalf("declare depot: %v", err)
	}
	return fei
}

// heldBySvi runs the chain through the ETG up to the veterinary inspection.
func (f *fixture) heldBySvi(carcasses ...domain.NewCarcasseInput) Fei {
	f.t.Helper()
	f.heldByPremierDetenteur(carcasses...)
	f.transfer("pd", CandidateRef{EntityID: "etg-1"}, false)
	if _, _, err := f.svc.ClaimCustody(f.ctx, f.actor("etg"), numero); err != nil {
		f.t.Fatalf("claim: %v", err)
	}
	for _, c := range carcasses {
		if _, _, err := f.svc.RecordIntermediaire(f.ctx, f.actor("etg"), domain.IntermediaireDecision{CarcasseID: c.ZacharieCarcasseID, PriseEnCharge: true}); err != nil {
			f.t.Fatalf("take charge of %s: %v", c.NumeroBracelet, err)
		}
	}
	return f.transfer("etg", CandidateRef{EntityID: "svi-1"}, false)
}

func (f *fixture) carcasse(id string) Carcasse {
	f.t.Helper()
	_, carcasses, err := f.svc.GetFei(f.ctx, numero)
	if err != nil {
		f.t.Fatalf("get fei: %v", err)
	}
	for _, c := range carcasses {
		if c.ZacharieCarcasseID == id {
			return c
		}
	}
	f.t.Fatalf("carcasse %s not found", id)
	return Carcasse{}
}

// failingStore fails the nth carcass update of every transaction.
type failingStore struct {
	PersistentStore
	failOn int
}

func (s failingStore) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	return s.PersistentStore.RunInTransaction(ctx, func(tx Transaction) error {
		return fn(&failingTx{Transaction: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	Transaction
	failOn  int
	updates int
}

func (tx *failingTx) UpdateCarcasse(id string, mutator func(*Carcasse) error) (Carcasse, error) {
	tx.updates++
	if tx.updates == tx.failOn {
		return Carcasse{}, domain.PersistenceFailureError{Op: "update carcasse " + id, Err: fmt.Errorf("disk full")}
	}
	return tx.Transaction.UpdateCarcasse(id, mutator)
}

type captureAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditSink) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) log(level, msg string) {
	l.mu.Lock()
	l.calls = append(l.calls, level+":"+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("d", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("i", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("w", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("e", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == entry {
			return true
		}
	}
	return false
}

type captureNotifier struct {
	events []CustodyEvent
	err    error
}

func (n *captureNotifier) Publish(_ context.Context, event CustodyEvent) error {
	n.events = append(n.events, event)
	return n.err
}
