package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zacharie/internal/core"
	"zacharie/internal/infra/persistence/memory"
	"zacharie/pkg/domain"
)

const numero = "ZACH-20260921-0042"

var t0 = time.Date(2026, 9, 21, 6, 0, 0, 0, time.UTC)

func ptrTime(v time.Time) *time.Time { return &v }

func referenceData() core.ReferenceData {
	return core.ReferenceData{
		Entities: []core.Entity{
			{ID: "pd-1", Type: domain.EntityTypePremierDetenteur, NomDUsage: "Chasse des Aravis"},
			{ID: "ccg-1", Type: domain.EntityTypeCCG, NomDUsage: "CCG du Grand-Bornand"},
			{ID: "col-1", Type: domain.EntityTypeCollecteurPro, NomDUsage: "Collecte Alpine"},
			{ID: "etg-1", Type: domain.EntityTypeETG, NomDUsage: "ETG Bellevue"},
		},
		Users: []core.User{
			{ID: "examinateur", Roles: []domain.Role{domain.RoleExaminateurInitial}},
			{ID: "pd", Roles: []domain.Role{domain.RolePremierDetenteur}},
		},
		Relations: []core.EntityRelation{
			{ID: "r-pd", UserID: "pd", EntityID: "pd-1", Relation: domain.RelationWorkingFor},
		},
	}
}

type node struct {
	svc   *core.Service
	store *memory.Store
}

func newNode(t *testing.T, outbox bool) node {
	t.Helper()
	var opts []memory.Option
	if outbox {
		opts = append(opts, memory.WithOutbox())
	}
	store := memory.NewStore(core.NewDefaultRulesEngine(true), opts...)
	svc := core.NewService(store)
	_, err := svc.LoadReferenceData(context.Background(), referenceData())
	require.NoError(t, err)
	return node{svc: svc, store: store}
}

func (n node) actor(t *testing.T, userID string) core.Actor {
	t.Helper()
	a, err := n.svc.ResolveActor(context.Background(), userID)
	require.NoError(t, err)
	return a
}

func (n node) transfer(t *testing.T, from, entityID string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := n.svc.ProposeNextHolder(ctx, n.actor(t, from), numero, core.CandidateRef{EntityID: entityID})
	require.NoError(t, err)
	_, _, err = n.svc.CommitTransfer(ctx, n.actor(t, from), numero, false)
	require.NoError(t, err)
}

// openChain examines one carcass and hands it to the premier détenteur, who
// declares a depot at the CCG and their own transport.
func (n node) openChain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	exam := n.actor(t, "examinateur")
	_, _, err := n.svc.CreateFei(ctx, exam, core.NewFeiInput{
		Numero:        numero,
		DateMiseAMort: ptrTime(t0),
		Carcasses: []domain.NewCarcasseInput{{
			ZacharieCarcasseID: "c-1",
			NumeroBracelet:     "B-1",
			Type:               domain.GrosGibier,
			Espece:             "Chamois",
		}},
	})
	require.NoError(t, err)
	_, _, err = n.svc.RecordExamination(ctx, exam, "c-1", domain.Examination{SansAnomalie: true})
	require.NoError(t, err)
	_, _, err = n.svc.ApproveMiseSurLeMarche(ctx, exam, numero)
	require.NoError(t, err)
	n.transfer(t, "examinateur", "pd-1")
	_, _, err = n.svc.DeclarePremierDetenteurDepot(ctx, n.actor(t, "pd"), numero, domain.DepotDeclaration{
		DepotType:     domain.DepotCCG,
		DepotEntityID: "ccg-1",
		DepotAt:       ptrTime(t0.Add(time.Hour)),
		TransportType: domain.TransportPremierDetenteur,
		TransportDate: ptrTime(t0.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
}

// pull copies the server state of the chain onto the device.
func pull(t *testing.T, server, device node) {
	t.Helper()
	err := NewEngine(device.svc, NewServiceTransport(server.svc), "pd").Refresh(context.Background(), numero)
	require.NoError(t, err)
}

type captureObserver struct {
	outcomes []string
}

func (c *captureObserver) ObserveBatch(outcome string) {
	c.outcomes = append(c.outcomes, outcome)
}
