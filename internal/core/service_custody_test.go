package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zacharie/internal/infra/persistence/memory"
	"zacharie/pkg/domain"
)

func TestChainFromExaminerToSeizure(t *testing.T) {
	f := newFixture(t, nil)
	a1 := carcasseInput("A1", domain.EspeceSanglier)
	fei := f.heldBySvi(a1)

	require.Equal(t, domain.RoleSVI, fei.FeiCurrentOwnerRole)
	require.Equal(t, "svi-1", fei.FeiCurrentOwnerEntityID)
	require.Equal(t, domain.RoleETG, fei.FeiPrevOwnerRole)
	require.NotNil(t, fei.SviAssignedAt)
	require.NotNil(t, fei.PremierDetenteurSignedAt)
	require.Equal(t, "etg-1", fei.IntermediaireClosedByEntityID)

	svi := f.actor("svi")
	c, _, err := f.svc.RecordIpm1(f.ctx, svi, a1.ZacharieCarcasseID, domain.Ipm1Input{
		PresenteeInspection: true,
		Date:                ptrTime(t0.Add(24 * time.Hour)),
		LesionsOuMotifs:     []string{"abcès"},
		Decision:            domain.Ipm1MiseEnConsigne,
		DureeConsigne:       48,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConsigne, c.SviCarcasseStatus)
	assert.Equal(t, "svi", c.SviIpm1UserID)

	c, _, err = f.svc.RecordIpm2(f.ctx, svi, a1.ZacharieCarcasseID, domain.Ipm2Input{
		PresenteeInspection: true,
		Date:                ptrTime(t0.Add(72 * time.Hour)),
		LesionsOuMotifs:     []string{"tuberculose"},
		Decision:            domain.Ipm2SaisieTotale,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSaisieTotale, c.SviCarcasseStatus)
	assert.NotNil(t, c.SviCarcasseStatusSetAt)

	fei, carcasses, err := f.svc.GetFei(f.ctx, numero)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSVI, fei.FeiCurrentOwnerRole)
	assert.Nil(t, fei.SviClosedAt)
	require.Len(t, carcasses, 1)
	assert.Equal(t, domain.RoleSVI, carcasses[0].CurrentOwnerRole)
	assert.NotNil(t, carcasses[0].SviAssignedToFeiAt)
	assert.Equal(t, domain.RoleETG, fei.LatestIntermediaireRole)

	audit, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)
	actions := map[string]int{}
	for _, entry := range audit {
		actions[entry.Action]++
		assert.NotEmpty(t, entry.History, "audit entry %s without history", entry.Action)
	}
	assert.Equal(t, 3, actions[AuditTransfer])
	assert.Equal(t, 1, actions[AuditIpm1])
	assert.Equal(t, 1, actions[AuditIpm2])
	assert.Equal(t, 1, actions[AuditIntermediaire])
}

func TestExaminerCannotHandToSvi(t *testing.T) {
	f := newFixture(t, nil)
	f.examined(carcasseInput("A1", "Chevreuil"))

	_, _, err := f.svc.ProposeNextHolder(f.ctx, f.actor("examinateur"), numero, CandidateRef{EntityID: "svi-1"})
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	fei, _, err := f.svc.GetFei(f.ctx, numero)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleExaminateurInitial, fei.FeiCurrentOwnerRole)
	assert.False(t, fei.HasNextOwner())
}

func TestCommitTransferIsAtomic(t *testing.T) {
	base := memory.NewStore(NewDefaultRulesEngine(true))
	f := newFixture(t, base)
	carcasses := []domain.NewCarcasseInput{carcasseInput("A1", "Chevreuil"), carcasseInput("A2", "Chevreuil"), carcasseInput("A3", "Cerf")}
	f.examined(carcasses...)
	_, _, err := f.svc.ProposeNextHolder(f.ctx, f.actor("examinateur"), numero, CandidateRef{EntityID: "pd-1"})
	require.NoError(t, err)
	auditBefore, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)

	failing := NewService(failingStore{PersistentStore: base, failOn: 2})
	_, _, err = failing.CommitTransfer(f.ctx, f.actor("examinateur"), numero, false)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	fei, stored, err := f.svc.GetFei(f.ctx, numero)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleExaminateurInitial, fei.FeiCurrentOwnerRole)
	assert.Equal(t, domain.RolePremierDetenteur, fei.FeiNextOwnerRole)
	for _, c := range stored {
		assert.Equal(t, domain.RoleExaminateurInitial, c.CurrentOwnerRole, "carcasse %s moved alone", c.NumeroBracelet)
	}
	auditAfter, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)
	assert.Len(t, auditAfter, len(auditBefore))

	fei, _, err = f.svc.CommitTransfer(f.ctx, f.actor("examinateur"), numero, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePremierDetenteur, fei.FeiCurrentOwnerRole)
}

func TestTransferToCantineRequiresTrichineAcknowledgment(t *testing.T) {
	f := newFixture(t, nil)
	f.heldByPremierDetenteur(carcasseInput("A1", domain.EspeceSanglier))
	_, _, err := f.svc.DeclarePremierDetenteurDepot(f.ctx, f.actor("pd"), numero, domain.DepotDeclaration{DepotType: domain.DepotNone})
	require.NoError(t, err)
	_, _, err = f.svc.ProposeNextHolder(f.ctx, f.actor("pd"), numero, CandidateRef{EntityID: "cantine-1"})
	require.NoError(t, err)

	_, _, err = f.svc.CommitTransfer(f.ctx, f.actor("pd"), numero, false)
	var missing domain.MissingRequiredFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, domain.FieldTrichineAck, missing.Field)

	fei, _, err := f.svc.CommitTransfer(f.ctx, f.actor("pd"), numero, true)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCantine, fei.FeiCurrentOwnerRole)

	audit, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)
	var acknowledged int
	for _, entry := range audit {
		if entry.AcknowledgedTrichineWarning != nil && *entry.AcknowledgedTrichineWarning {
			acknowledged++
		}
	}
	assert.Equal(t, 2, acknowledged, "fei and carcasse transfers carry the acknowledgment")
}

func TestDepotAtEtgRestrictsRecipient(t *testing.T) {
	f := newFixture(t, nil)
	f.heldByPremierDetenteur(carcasseInput("A1", "Chevreuil"))
	_, _, err := f.svc.DeclarePremierDetenteurDepot(f.ctx, f.actor("pd"), numero, domain.DepotDeclaration{
		DepotType:     domain.DepotETG,
		DepotEntityID: "etg-1",
		DepotAt:       ptrTime(t0),
		TransportType: domain.TransportETG,
	})
	require.NoError(t, err)

	_, _, err = f.svc.ProposeNextHolder(f.ctx, f.actor("pd"), numero, CandidateRef{EntityID: "etg-2"})
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	_, _, err = f.svc.ProposeNextHolder(f.ctx, f.actor("pd"), numero, CandidateRef{EntityID: "etg-1"})
	require.NoError(t, err)
}

func TestProposalIsMirroredAndCleared(t *testing.T) {
	f := newFixture(t, nil)
	f.examined(carcasseInput("A1", "Chevreuil"))
	_, _, err := f.svc.ProposeNextHolder(f.ctx, f.actor("examinateur"), numero, CandidateRef{EntityID: "pd-1"})
	require.NoError(t, err)
	assert.Equal(t, "pd-1", f.carcasse("c-A1").NextOwnerEntityID)

	fei, _, err := f.svc.ClearProposal(f.ctx, f.actor("examinateur"), numero)
	require.NoError(t, err)
	assert.False(t, fei.HasNextOwner())
	assert.Empty(t, f.carcasse("c-A1").NextOwnerEntityID)

	_, _, err = f.svc.CommitTransfer(f.ctx, f.actor("examinateur"), numero, false)
	assert.Error(t, err, "a transfer without a proposal must fail")
}

func TestClaimCustodyPublishesOnce(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, nil, WithNotifier(notifier))
	f.heldByPremierDetenteur(carcasseInput("A1", "Chevreuil"))
	f.transfer("pd", CandidateRef{EntityID: "etg-1"}, false)

	fei, _, err := f.svc.ClaimCustody(f.ctx, f.actor("etg"), numero)
	require.NoError(t, err)
	assert.Equal(t, "etg", fei.FeiCurrentOwnerUserID)
	assert.Equal(t, "Étienne", fei.FeiCurrentOwnerUserNameCache)

	_, _, err = f.svc.ClaimCustody(f.ctx, f.actor("etg"), numero)
	require.NoError(t, err)

	var claims, transfers int
	for _, e := range notifier.events {
		switch e.Type {
		case domain.CustodyClaimed:
			claims++
		case domain.CustodyTransferred:
			transfers++
		}
	}
	assert.Equal(t, 1, claims)
	assert.Equal(t, 2, transfers)

	fei, _, err = f.svc.ClaimCustody(f.ctx, f.actor("etg-bis"), numero)
	require.NoError(t, err)
	assert.Equal(t, "etg-bis", fei.FeiCurrentOwnerUserID)

	_, _, err = f.svc.ClaimCustody(f.ctx, f.actor("collecteur"), numero)
	assert.Error(t, err)
}

func TestListCandidatesPutsPartnersFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.heldByPremierDetenteur(carcasseInput("A1", "Chevreuil"))

	options, err := f.svc.ListCandidates(f.ctx, f.actor("pd"), numero)
	require.NoError(t, err)
	require.NotEmpty(t, options)
	assert.Equal(t, "etg-1", options[0].EntityID)
	assert.True(t, options[0].Partner)
	for _, o := range options {
		assert.NotEqual(t, "pd-1", o.EntityID, "the holder is not its own candidate")
		assert.NotEqual(t, "ccg-1", o.EntityID, "a CCG never holds custody")
	}
	for i := 2; i < len(options); i++ {
		assert.LessOrEqual(t, options[i-1].Name, options[i].Name)
	}

	_, err = f.svc.ListCandidates(f.ctx, f.actor("etg"), numero)
	assert.Error(t, err)
}

func TestAddCarcasseRejectsDuplicateBracelet(t *testing.T) {
	f := newFixture(t, nil)
	exam := f.actor("examinateur")
	_, _, err := f.svc.CreateFei(f.ctx, exam, NewFeiInput{Numero: numero, Carcasses: []domain.NewCarcasseInput{carcasseInput("A1", "Chevreuil")}})
	require.NoError(t, err)

	_, _, err = f.svc.AddCarcasse(f.ctx, exam, numero, domain.NewCarcasseInput{NumeroBracelet: "A1", Type: domain.GrosGibier, Espece: "Cerf"})
	var invalid domain.InvalidFieldError
	require.ErrorAs(t, err, &invalid)

	c, _, err := f.svc.AddCarcasse(f.ctx, exam, numero, domain.NewCarcasseInput{NumeroBracelet: "B7", Type: domain.PetitGibier, Espece: "Lièvre", NombreDAnimaux: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ZacharieCarcasseID)
	assert.Equal(t, domain.RoleExaminateurInitial, c.CurrentOwnerRole)

	_, _, err = f.svc.AddCarcasse(f.ctx, f.actor("pd"), numero, carcasseInput("C1", "Cerf"))
	assert.Error(t, err)
}

func TestUnknownFeiIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.ApproveMiseSurLeMarche(f.ctx, f.actor("examinateur"), "missing")
	var notFound domain.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, domain.KindFei, notFound.Kind)
}
