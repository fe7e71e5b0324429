package domain

import (
	"errors"
	"testing"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Carcasse)
		want   CarcasseStatus
	}{
		{name: "untouched", mutate: func(*Carcasse) {}, want: StatusSansDecision},
		{name: "accepted", mutate: func(c *Carcasse) { c.SviIpm1Decision = Ipm1Accepte }, want: StatusAccepte},
		{name: "consigned", mutate: func(c *Carcasse) { c.SviIpm1Decision = Ipm1MiseEnConsigne }, want: StatusConsigne},
		{name: "consigned with empty second pass", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2Decision = Ipm2NonRenseignee
		}, want: StatusConsigne},
		{name: "consignment lifted", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2Decision = Ipm2LeveeDeLaConsigne
		}, want: StatusLeveeDeConsigne},
		{name: "treatment", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2Decision = Ipm2TraitementAssainissant
		}, want: StatusTraitementAssainissant},
		{name: "partial seizure", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2Decision = Ipm2SaisiePartielle
		}, want: StatusSaisiePartielle},
		{name: "total seizure", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2Decision = Ipm2SaisieTotale
		}, want: StatusSaisieTotale},
		{name: "refusal beats seizure", mutate: func(c *Carcasse) {
			c.IntermediaireCarcasseRefusIntermediaireID = "fei_etg_c"
			c.SviIpm2Decision = Ipm2SaisieTotale
		}, want: StatusRefus},
		{name: "missing beats refusal", mutate: func(c *Carcasse) {
			c.IntermediaireCarcasseManquante = true
			c.IntermediaireCarcasseRefusIntermediaireID = "fei_etg_c"
		}, want: StatusManquante},
		{name: "not presented at first pass", mutate: func(c *Carcasse) {
			c.SviIpm1PresenteeInspection = ptrBool(false)
			c.SviIpm1Decision = Ipm1Accepte
		}, want: StatusManquante},
		{name: "not presented at second pass", mutate: func(c *Carcasse) {
			c.SviIpm1Decision = Ipm1MiseEnConsigne
			c.SviIpm2PresenteeInspection = ptrBool(false)
		}, want: StatusManquante},
		{name: "presented stays undecided", mutate: func(c *Carcasse) { c.SviIpm1PresenteeInspection = ptrBool(true) }, want: StatusSansDecision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := examinedCarcasse("A1", "Cerf")
			tc.mutate(&c)
			if got := DeriveStatus(c); got != tc.want {
				t.Fatalf("DeriveStatus = %s, want %s", got, tc.want)
			}
			if again := DeriveStatus(c); again != tc.want {
				t.Fatalf("DeriveStatus is not deterministic: %s then %s", tc.want, again)
			}
		})
	}
}

func TestRefreshAndVerifyStatus(t *testing.T) {
	c := examinedCarcasse("A1", "Cerf")
	c.SviIpm1Decision = Ipm1Accepte

	var inconsistent DerivationInconsistencyError
	if err := VerifyStatus(c); !errors.As(err, &inconsistent) || inconsistent.Derived != StatusAccepte {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	refreshed := RefreshStatus(c, t0)
	if refreshed.SviCarcasseStatus != StatusAccepte || refreshed.SviCarcasseStatusSetAt == nil {
		t.Fatalf("status not refreshed: %+v", refreshed)
	}
	if err := VerifyStatus(refreshed); err != nil {
		t.Fatalf("refreshed carcass should verify: %v", err)
	}
	later := t0.Add(1)
	if again := RefreshStatus(refreshed, later); !again.SviCarcasseStatusSetAt.Equal(t0) {
		t.Fatalf("unchanged status must keep its timestamp")
	}
}

func TestRecordIpm1(t *testing.T) {
	base := inspectable(examinedCarcasse("A1", "Cerf"))

	if _, err := RecordIpm1(examinedCarcasse("A1", "Cerf"), Ipm1Input{PresenteeInspection: true, Decision: Ipm1Accepte}); !isInvalidTransition(err) {
		t.Fatalf("carcass not at inspection must be rejected, got %v", err)
	}

	var missing MissingRequiredFieldError
	if _, err := RecordIpm1(base, Ipm1Input{PresenteeInspection: true, Decision: Ipm1MiseEnConsigne}); !errors.As(err, &missing) {
		t.Fatalf("consignment without duration must fail, got %v", err)
	}

	consigned, err := RecordIpm1(base, Ipm1Input{
		PresenteeInspection: true,
		Date:                ptrTime(t0),
		UserID:              "vet",
		LesionsOuMotifs:     []string{"abcès"},
		Decision:            Ipm1MiseEnConsigne,
		DureeConsigne:       48,
	})
	if err != nil {
		t.Fatalf("consign: %v", err)
	}
	if DeriveStatus(consigned) != StatusConsigne {
		t.Fatalf("expected consigned, got %s", DeriveStatus(consigned))
	}

	seized, err := RecordIpm2(consigned, Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisieTotale, LesionsOuMotifs: []string{"abcès"}})
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	accepted, err := RecordIpm1(seized, Ipm1Input{PresenteeInspection: true, Decision: Ipm1Accepte, DureeConsigne: 12})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.SviIpm2Decision != "" || accepted.SviIpm2PresenteeInspection != nil || accepted.SviIpm1DureeConsigne != 0 {
		t.Fatalf("accepting must reset the second pass and the consignment: %+v", accepted)
	}
	if DeriveStatus(accepted) != StatusAccepte {
		t.Fatalf("expected accepted, got %s", DeriveStatus(accepted))
	}

	absent, err := RecordIpm1(consigned, Ipm1Input{PresenteeInspection: false, Decision: Ipm1Accepte, LesionsOuMotifs: []string{"x"}})
	if err != nil {
		t.Fatalf("not presented: %v", err)
	}
	if absent.SviIpm1Decision != "" || absent.SviIpm1LesionsOuMotifs != nil || DeriveStatus(absent) != StatusManquante {
		t.Fatalf("a carcass not presented keeps no decision: %+v", absent)
	}

	refused := base
	refused.IntermediaireCarcasseRefusIntermediaireID = "fei_etg_c-A1"
	if _, err := RecordIpm1(refused, Ipm1Input{PresenteeInspection: true, Decision: Ipm1Accepte}); !isInvalidTransition(err) {
		t.Fatalf("refused carcass cannot be inspected, got %v", err)
	}
}

func TestRecordIpm1SmallGameCount(t *testing.T) {
	batch := inspectable(examinedCarcasse("L1", "Lièvre"))
	batch.Type = PetitGibier
	batch.NombreDAnimaux = 3
	var invalid InvalidFieldError
	if _, err := RecordIpm1(batch, Ipm1Input{PresenteeInspection: true, Decision: Ipm1Accepte, NombreAnimaux: 4}); !errors.As(err, &invalid) {
		t.Fatalf("expected count over the batch to fail, got %v", err)
	}
}

func TestRecordIpm2Requirements(t *testing.T) {
	consigned := inspectable(examinedCarcasse("A1", "Cerf"))
	consigned.SviIpm1PresenteeInspection = ptrBool(true)
	consigned.SviIpm1Decision = Ipm1MiseEnConsigne
	consigned.SviIpm1DureeConsigne = 24

	accepted := consigned
	accepted.SviIpm1Decision = Ipm1Accepte
	if _, err := RecordIpm2(accepted, Ipm2Input{PresenteeInspection: true, Decision: Ipm2LeveeDeLaConsigne}); !isInvalidTransition(err) {
		t.Fatalf("second pass without consignment must fail, got %v", err)
	}

	smallBatch := consigned
	smallBatch.Type = PetitGibier
	smallBatch.NombreDAnimaux = 5

	cases := []struct {
		name    string
		carcass Carcasse
		in      Ipm2Input
		field   string
		want    CarcasseStatus
	}{
		{name: "lifted", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2LeveeDeLaConsigne}, want: StatusLeveeDeConsigne},
		{name: "seizure needs grounds", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisieTotale}, field: "svi_ipm2_lesions_ou_motifs"},
		{name: "partial seizure needs pieces", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisiePartielle, LesionsOuMotifs: []string{"souillure"}}, field: "svi_ipm2_pieces"},
		{name: "partial seizure", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisiePartielle, LesionsOuMotifs: []string{"souillure"}, Pieces: []string{"cuisse"}}, want: StatusSaisiePartielle},
		{name: "small game seizure counts", carcass: smallBatch, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisiePartielle, LesionsOuMotifs: []string{"souillure"}}, field: "svi_ipm2_nombre_animaux"},
		{name: "small game seizure", carcass: smallBatch, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2SaisiePartielle, LesionsOuMotifs: []string{"souillure"}, NombreAnimaux: 2}, want: StatusSaisiePartielle},
		{name: "treatment needs a process", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2TraitementAssainissant, EtablissementDesigne: "ETG du Doubs"}, field: "svi_ipm2_traitement_assainissant"},
		{name: "treatment needs an establishment", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2TraitementAssainissant, CuissonTemps: "2h", CuissonTemp: "70°C"}, field: "svi_ipm2_traitement_assainissant_etablissement"},
		{name: "freezing treatment", carcass: consigned, in: Ipm2Input{PresenteeInspection: true, Decision: Ipm2TraitementAssainissant, CongelationTemps: "10j", CongelationTemp: "-20°C", EtablissementDesigne: "ETG du Doubs"}, want: StatusTraitementAssainissant},
		{name: "not presented", carcass: consigned, in: Ipm2Input{PresenteeInspection: false, Decision: Ipm2SaisieTotale}, want: StatusManquante},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RecordIpm2(tc.carcass, tc.in)
			if tc.field != "" {
				var missing MissingRequiredFieldError
				if !errors.As(err, &missing) || missing.Field != tc.field {
					t.Fatalf("expected missing %s, got %v", tc.field, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("record: %v", err)
			}
			if status := DeriveStatus(got); status != tc.want {
				t.Fatalf("status = %s, want %s", status, tc.want)
			}
		})
	}
}

func TestCheckSviClosable(t *testing.T) {
	vet := holder("vet", RoleSVI, "svi-25")
	fei := feiHeldBy(RoleSVI, "svi-25")
	accepted := inspectable(examinedCarcasse("A1", "Cerf"))
	accepted.SviIpm1Decision = Ipm1Accepte
	consigned := inspectable(examinedCarcasse("A2", "Cerf"))
	consigned.SviIpm1Decision = Ipm1MiseEnConsigne
	gone := examinedCarcasse("A3", "Cerf")
	gone.DeletedAt = ptrTime(t0)

	var missing MissingRequiredFieldError
	if err := CheckSviClosable(fei, []Carcasse{accepted, consigned}, vet); !errors.As(err, &missing) {
		t.Fatalf("a consigned carcass blocks closure, got %v", err)
	}
	if err := CheckSviClosable(fei, []Carcasse{accepted, gone}, vet); err != nil {
		t.Fatalf("closable: %v", err)
	}
	closed := fei
	closed.SviClosedAt = ptrTime(t0)
	if err := CheckSviClosable(closed, []Carcasse{accepted}, vet); !isInvalidTransition(err) {
		t.Fatalf("closing twice must fail, got %v", err)
	}
	if err := CheckSviClosable(feiHeldBy(RoleETG, "etg"), nil, holder("u", RoleETG, "etg")); !isInvalidTransition(err) {
		t.Fatalf("only the svi closes, got %v", err)
	}
}
