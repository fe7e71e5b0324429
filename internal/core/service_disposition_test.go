package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zacharie/internal/infra/persistence/memory"
	"zacharie/pkg/domain"
)

func consigne() domain.Ipm1Input {
	return domain.Ipm1Input{
		PresenteeInspection: true,
		Date:                ptrTime(t0.Add(24 * time.Hour)),
		Decision:            domain.Ipm1MiseEnConsigne,
		DureeConsigne:       48,
	}
}

func TestRecordIpm1TwiceWritesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.heldBySvi(carcasseInput("A1", "Chevreuil"))
	svi := f.actor("svi")

	first, _, err := f.svc.RecordIpm1(f.ctx, svi, "c-A1", consigne())
	require.NoError(t, err)
	before, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)

	second, _, err := f.svc.RecordIpm1(f.ctx, svi, "c-A1", consigne())
	require.NoError(t, err)
	after, err := f.svc.ListAudit(f.ctx, numero)
	require.NoError(t, err)

	assert.Len(t, after, len(before))
	require.NotNil(t, second.SviIpm1SignedAt)
	assert.True(t, first.SviIpm1SignedAt.Equal(*second.SviIpm1SignedAt))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestIpm2RequiresConsignment(t *testing.T) {
	f := newFixture(t, nil)
	f.heldBySvi(carcasseInput("A1", "Chevreuil"))
	svi := f.actor("svi")

	_, _, err := f.svc.RecordIpm2(f.ctx, svi, "c-A1", domain.Ipm2Input{PresenteeInspection: true, Decision: domain.Ipm2LeveeDeLaConsigne})
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	c, _, err := f.svc.RecordIpm1(f.ctx, svi, "c-A1", domain.Ipm1Input{PresenteeInspection: true, Decision: domain.Ipm1Accepte})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepte, c.SviCarcasseStatus)

	_, _, err = f.svc.RecordIpm1(f.ctx, f.actor("etg"), "c-A1", consigne())
	assert.Error(t, err, "only the inspecting service records a disposition")
}

func TestReconsigningClearsSecondInspection(t *testing.T) {
	f := newFixture(t, nil)
	f.heldBySvi(carcasseInput("A1", "Chevreuil"))
	svi := f.actor("svi")

	_, _, err := f.svc.RecordIpm1(f.ctx, svi, "c-A1", consigne())
	require.NoError(t, err)
	c, _, err := f.svc.RecordIpm2(f.ctx, svi, "c-A1", domain.Ipm2Input{PresenteeInspection: true, Decision: domain.Ipm2LeveeDeLaConsigne})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLeveeDeConsigne, c.SviCarcasseStatus)
	require.NotNil(t, c.SviIpm2SignedAt)

	c, _, err = f.svc.RecordIpm1(f.ctx, svi, "c-A1", domain.Ipm1Input{PresenteeInspection: true, Decision: domain.Ipm1Accepte})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepte, c.SviCarcasseStatus)
	assert.Empty(t, c.SviIpm2Decision)
	assert.Nil(t, c.SviIpm2SignedAt)
}

func TestCloseSviWaitsForFinalDispositions(t *testing.T) {
	notifier := &captureNotifier{}
	f := newFixture(t, nil, WithNotifier(notifier))
	f.heldBySvi(carcasseInput("A1", "Chevreuil"), carcasseInput("A2", "Chevreuil"))
	svi := f.actor("svi")

	_, _, err := f.svc.RecordIpm1(f.ctx, svi, "c-A1", consigne())
	require.NoError(t, err)
	_, _, err = f.svc.RecordIpm1(f.ctx, svi, "c-A2", domain.Ipm1Input{PresenteeInspection: false})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusManquante, f.carcasse("c-A2").SviCarcasseStatus)

	_, _, err = f.svc.CloseSvi(f.ctx, svi, numero)
	var missing domain.MissingRequiredFieldError
	require.ErrorAs(t, err, &missing)

	_, _, err = f.svc.RecordIpm2(f.ctx, svi, "c-A1", domain.Ipm2Input{
		PresenteeInspection:  true,
		Decision:             domain.Ipm2TraitementAssainissant,
		CongelationTemps:     "72h",
		CongelationTemp:      "-20°C",
		EtablissementDesigne: "Atelier de découpe des Bauges",
	})
	require.NoError(t, err)

	fei, _, err := f.svc.CloseSvi(f.ctx, svi, numero)
	require.NoError(t, err)
	require.NotNil(t, fei.SviClosedAt)
	assert.Equal(t, "svi", fei.SviClosedByUserID)
	require.NotEmpty(t, notifier.events)
	assert.Equal(t, domain.SviClosed, notifier.events[len(notifier.events)-1].Type)

	_, _, err = f.svc.RecordIpm1(f.ctx, svi, "c-A1", consigne())
	assert.Error(t, err, "a closed fei takes no further inspection")
}

func TestIntermediaireRefusalDrivesStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.heldByPremierDetenteur(carcasseInput("A1", "Chevreuil"), carcasseInput("A2", "Chevreuil"))
	f.transfer("pd", CandidateRef{EntityID: "etg-1"}, false)
	etg := f.actor("etg")

	hop, _, err := f.svc.RecordIntermediaire(f.ctx, etg, domain.IntermediaireDecision{CarcasseID: "c-A1", Refus: "souillure"})
	require.NoError(t, err)
	assert.Equal(t, domain.IntermediaireID(numero, "etg-1", "c-A1"), hop.ID)
	require.NotNil(t, hop.SignedAt)
	assert.Equal(t, domain.StatusRefus, f.carcasse("c-A1").SviCarcasseStatus)

	hop, _, err = f.svc.RecordIntermediaire(f.ctx, etg, domain.IntermediaireDecision{CarcasseID: "c-A1", PriseEnCharge: true})
	require.NoError(t, err)
	assert.True(t, hop.PriseEnCharge)
	assert.Equal(t, domain.StatusSansDecision, f.carcasse("c-A1").SviCarcasseStatus)

	_, _, err = f.svc.RecordIntermediaire(f.ctx, etg, domain.IntermediaireDecision{CarcasseID: "c-A2", Manquante: true})
	require.NoError(t, err)

	fei, _, err := f.svc.GetFei(f.ctx, numero)
	require.NoError(t, err)
	assert.Equal(t, "etg-1", fei.LatestIntermediaireEntityID)
	require.NotNil(t, fei.LatestIntermediaireSignedAt)

	f.transfer("etg", CandidateRef{EntityID: "svi-1"}, false)
	_, _, err = f.svc.RecordIpm1(f.ctx, f.actor("svi"), "c-A2", consigne())
	assert.Error(t, err, "a missing carcass is not inspected")
}

func TestVerifyDerivationsReportsStoredMismatch(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine(false))
	logger := &captureLogger{}
	f := newFixture(t, store, WithLogger(logger))
	f.heldBySvi(carcasseInput("A1", "Chevreuil"))

	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		c, _ := tx.FindCarcasse("c-A1")
		c.SviCarcasseStatus = domain.StatusAccepte
		_, err := tx.StoreSyncedCarcasse(c)
		return err
	})
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "status_projection", res.Violations[0].Rule)

	found, err := f.svc.VerifyDerivations(f.ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "c-A1", found[0].CarcasseID)
	assert.Equal(t, domain.StatusSansDecision, found[0].Derived)
	assert.True(t, logger.has("e:derivation inconsistency"))
}
