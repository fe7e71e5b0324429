package domain

import (
	"fmt"
	"time"
)

// DeriveStatus computes the disposition summary of a carcass from its raw
// intermediary and inspection fields. It is the only place the precedence is
// encoded: MANQUANTE, REFUS, SAISIE_TOTALE, SAISIE_PARTIELLE,
// TRAITEMENT_ASSAINISSANT, CONSIGNE, LEVEE_DE_CONSIGNE, ACCEPTE, SANS_DECISION.
func DeriveStatus(c Carcasse) CarcasseStatus {
	switch {
	case c.IntermediaireCarcasseManquante, isFalse(c.SviIpm1PresenteeInspection), isFalse(c.SviIpm2PresenteeInspection):
		return StatusManquante
	case c.IntermediaireCarcasseRefusIntermediaireID != "":
		return StatusRefus
	case c.SviIpm2Decision == Ipm2SaisieTotale:
		return StatusSaisieTotale
	case c.SviIpm2Decision == Ipm2SaisiePartielle:
		return StatusSaisiePartielle
	case c.SviIpm2Decision == Ipm2TraitementAssainissant:
		return StatusTraitementAssainissant
	case c.SviIpm1Decision == Ipm1MiseEnConsigne && (c.SviIpm2Decision == "" || c.SviIpm2Decision == Ipm2NonRenseignee):
		return StatusConsigne
	case c.SviIpm2Decision == Ipm2LeveeDeLaConsigne:
		return StatusLeveeDeConsigne
	case c.SviIpm1Decision == Ipm1Accepte:
		return StatusAccepte
	}
	return StatusSansDecision
}

// VerifyStatus reports a DerivationInconsistencyError when the stored status
// is not the derived one.
func VerifyStatus(c Carcasse) error {
	derived := DeriveStatus(c)
	if c.SviCarcasseStatus == derived {
		return nil
	}
	return DerivationInconsistencyError{CarcasseID: c.ZacharieCarcasseID, Stored: c.SviCarcasseStatus, Derived: derived}
}

// RefreshStatus stores the derived status, stamping the time it changed.
func RefreshStatus(c Carcasse, now time.Time) Carcasse {
	derived := DeriveStatus(c)
	if c.SviCarcasseStatus != derived {
		at := now
		c.SviCarcasseStatus = derived
		c.SviCarcasseStatusSetAt = &at
	}
	return c
}

func isFalse(b *bool) bool {
	return b != nil && !*b
}

// Ipm1Input is the first inspection as entered by the veterinarian.
type Ipm1Input struct {
	PresenteeInspection bool
	Date                *time.Time
	UserID              string
	Pieces              []string
	LesionsOuMotifs     []string
	NombreAnimaux       int
	Commentaire         string
	Decision            Ipm1Decision
	DureeConsigne       int
	PoidsConsigne       *float64
}

// Ipm2Input is the second inspection of a consigned carcass.
type Ipm2Input struct {
	PresenteeInspection  bool
	Date                 *time.Time
	UserID               string
	Pieces               []string
	LesionsOuMotifs      []string
	NombreAnimaux        int
	Commentaire          string
	Decision             Ipm2Decision
	CuissonTemps         string
	CuissonTemp          string
	CongelationTemps     string
	CongelationTemp      string
	EtablissementDesigne string
	PoidsSaisie          *float64
}

func checkInspectable(c Carcasse, pass string) error {
	if c.SviAssignedToFeiAt == nil {
		return InvalidTransitionError{
			From:   string(c.CurrentOwnerRole),
			To:     pass,
			Reason: fmt.Sprintf("carcasse %s has not reached the veterinary inspection", c.NumeroBracelet),
		}
	}
	if c.IntermediaireCarcasseRefusIntermediaireID != "" || c.IntermediaireCarcasseManquante {
		return InvalidTransitionError{
			From:   string(DeriveStatus(c)),
			To:     pass,
			Reason: fmt.Sprintf("carcasse %s was refused or missing at an intermediary", c.NumeroBracelet),
		}
	}
	return nil
}

// RecordIpm1 applies the first inspection to the carcass. A carcass not
// presented keeps no other IPM1 field. Any decision other than a consignment
// resets the second inspection.
func RecordIpm1(c Carcasse, in Ipm1Input) (Carcasse, error) {
	if err := checkInspectable(c, "IPM1"); err != nil {
		return Carcasse{}, err
	}
	presented := in.PresenteeInspection
	c.SviIpm1PresenteeInspection = &presented
	c.SviIpm1Date = in.Date
	c.SviIpm1UserID = in.UserID
	if !presented {
		c = clearIpm1Detail(c)
		c = clearIpm2(c)
		return c, nil
	}

	switch in.Decision {
	case Ipm1NonRenseignee, Ipm1Accepte:
		in.DureeConsigne = 0
		in.PoidsConsigne = nil
	case Ipm1MiseEnConsigne:
		if in.DureeConsigne <= 0 {
			return Carcasse{}, MissingRequiredFieldError{Field: "svi_ipm1_duree_consigne", Reason: "a consignment has a duration in hours"}
		}
	default:
		return Carcasse{}, InvalidFieldError{Field: "svi_ipm1_decision", Value: in.Decision, Reason: "unknown decision"}
	}
	if c.Type == PetitGibier && in.NombreAnimaux > c.NombreDAnimaux {
		return Carcasse{}, InvalidFieldError{
			Field:  "svi_ipm1_nombre_animaux",
			Value:  in.NombreAnimaux,
			Reason: fmt.Sprintf("the batch holds %d animals", c.NombreDAnimaux),
		}
	}

	c.SviIpm1Pieces = cloneStrings(in.Pieces)
	c.SviIpm1LesionsOuMotifs = cloneStrings(in.LesionsOuMotifs)
	c.SviIpm1NombreAnimaux = in.NombreAnimaux
	c.SviIpm1Commentaire = in.Commentaire
	c.SviIpm1Decision = in.Decision
	c.SviIpm1DureeConsigne = in.DureeConsigne
	c.SviIpm1PoidsConsigne = in.PoidsConsigne
	if in.Decision != Ipm1MiseEnConsigne {
		c = clearIpm2(c)
	}
	return c, nil
}

// RecordIpm2 applies the second inspection. It requires a first inspection
// that presented the carcass and consigned it.
func RecordIpm2(c Carcasse, in Ipm2Input) (Carcasse, error) {
	if err := checkInspectable(c, "IPM2"); err != nil {
		return Carcasse{}, err
	}
	if isFalse(c.SviIpm1PresenteeInspection) || c.SviIpm1Decision != Ipm1MiseEnConsigne {
		return Carcasse{}, InvalidTransitionError{
			From:   "IPM1 " + orUnset(string(c.SviIpm1Decision)),
			To:     "IPM2",
			Reason: "the second inspection only follows a consignment",
		}
	}
	presented := in.PresenteeInspection
	c.SviIpm2PresenteeInspection = &presented
	c.SviIpm2Date = in.Date
	c.SviIpm2UserID = in.UserID
	if !presented {
		c = clearIpm2Detail(c)
		return c, nil
	}
	if err := checkIpm2(c, in); err != nil {
		return Carcasse{}, err
	}

	c.SviIpm2Pieces = cloneStrings(in.Pieces)
	c.SviIpm2LesionsOuMotifs = cloneStrings(in.LesionsOuMotifs)
	c.SviIpm2NombreAnimaux = in.NombreAnimaux
	c.SviIpm2Commentaire = in.Commentaire
	c.SviIpm2Decision = in.Decision
	c.SviIpm2PoidsSaisie = nil
	if in.Decision.IsSaisie() {
		c.SviIpm2PoidsSaisie = in.PoidsSaisie
	}
	c.SviIpm2TraitementAssainissantCuissonTemps = ""
	c.SviIpm2TraitementAssainissantCuissonTemp = ""
	c.SviIpm2TraitementAssainissantCongelTemps = ""
	c.SviIpm2TraitementAssainissantCongelTemp = ""
	c.SviIpm2TraitementAssainissantEtablissement = ""
	if in.Decision == Ipm2TraitementAssainissant {
		c.SviIpm2TraitementAssainissantCuissonTemps = in.CuissonTemps
		c.SviIpm2TraitementAssainissantCuissonTemp = in.CuissonTemp
		c.SviIpm2TraitementAssainissantCongelTemps = in.CongelationTemps
		c.SviIpm2TraitementAssainissantCongelTemp = in.CongelationTemp
		c.SviIpm2TraitementAssainissantEtablissement = in.EtablissementDesigne
	}
	return c, nil
}

func checkIpm2(c Carcasse, in Ipm2Input) error {
	switch in.Decision {
	case Ipm2NonRenseignee, Ipm2LeveeDeLaConsigne:
		return nil
	case Ipm2SaisieTotale, Ipm2SaisiePartielle:
		if len(in.LesionsOuMotifs) == 0 {
			return MissingRequiredFieldError{Field: "svi_ipm2_lesions_ou_motifs", Reason: "a seizure states its grounds"}
		}
		switch c.Type {
		case GrosGibier:
			if in.Decision == Ipm2SaisiePartielle && len(in.Pieces) == 0 {
				return MissingRequiredFieldError{Field: "svi_ipm2_pieces", Reason: "a partial seizure names the seized parts"}
			}
		case PetitGibier:
			if in.NombreAnimaux < 1 {
				return MissingRequiredFieldError{Field: "svi_ipm2_nombre_animaux", Reason: "a small-game seizure counts the seized animals"}
			}
			if in.NombreAnimaux > c.NombreDAnimaux {
				return InvalidFieldError{
					Field:  "svi_ipm2_nombre_animaux",
					Value:  in.NombreAnimaux,
					Reason: fmt.Sprintf("the batch holds %d animals", c.NombreDAnimaux),
				}
			}
		}
		return nil
	case Ipm2TraitementAssainissant:
		cuisson := in.CuissonTemps != "" && in.CuissonTemp != ""
		congelation := in.CongelationTemps != "" && in.CongelationTemp != ""
		if !cuisson && !congelation {
			return MissingRequiredFieldError{
				Field:  "svi_ipm2_traitement_assainissant",
				Reason: "a sanitizing treatment gives cooking or freezing time and temperature",
			}
		}
		if in.EtablissementDesigne == "" {
			return MissingRequiredFieldError{Field: "svi_ipm2_traitement_assainissant_etablissement"}
		}
		return nil
	}
	return InvalidFieldError{Field: "svi_ipm2_decision", Value: in.Decision, Reason: "unknown decision"}
}

func clearIpm1Detail(c Carcasse) Carcasse {
	c.SviIpm1Pieces = nil
	c.SviIpm1LesionsOuMotifs = nil
	c.SviIpm1NombreAnimaux = 0
	c.SviIpm1Commentaire = ""
	c.SviIpm1Decision = ""
	c.SviIpm1DureeConsigne = 0
	c.SviIpm1PoidsConsigne = nil
	return c
}

func clearIpm2Detail(c Carcasse) Carcasse {
	c.SviIpm2Pieces = nil
	c.SviIpm2LesionsOuMotifs = nil
	c.SviIpm2NombreAnimaux = 0
	c.SviIpm2Commentaire = ""
	c.SviIpm2Decision = ""
	c.SviIpm2TraitementAssainissantCuissonTemps = ""
	c.SviIpm2TraitementAssainissantCuissonTemp = ""
	c.SviIpm2TraitementAssainissantCongelTemps = ""
	c.SviIpm2TraitementAssainissantCongelTemp = ""
	c.SviIpm2TraitementAssainissantEtablissement = ""
	c.SviIpm2PoidsSaisie = nil
	return c
}

func clearIpm2(c Carcasse) Carcasse {
	c = clearIpm2Detail(c)
	c.SviIpm2PresenteeInspection = nil
	c.SviIpm2Date = nil
	c.SviIpm2UserID = ""
	c.SviIpm2SignedAt = nil
	return c
}

func hasIpm1(c Carcasse) bool {
	return c.SviIpm1PresenteeInspection != nil || c.SviIpm1Decision != "" || c.SviIpm1SignedAt != nil
}

func hasIpm2(c Carcasse) bool {
	return c.SviIpm2PresenteeInspection != nil || c.SviIpm2Decision != "" || c.SviIpm2SignedAt != nil
}

// CheckDispositionSequence reports a stored carcass whose inspections are out
// of order: an inspection before the veterinary service received the carcass,
// or a second inspection without a first one that presented and consigned it.
func CheckDispositionSequence(c Carcasse) error {
	if (hasIpm1(c) || hasIpm2(c)) && c.SviAssignedToFeiAt == nil {
		return InvalidTransitionError{
			From:   string(c.CurrentOwnerRole),
			To:     "IPM1",
			Reason: fmt.Sprintf("carcasse %s was inspected before reaching the veterinary inspection", c.NumeroBracelet),
		}
	}
	if !hasIpm2(c) {
		return nil
	}
	if c.SviIpm1PresenteeInspection == nil || !*c.SviIpm1PresenteeInspection || c.SviIpm1Decision != Ipm1MiseEnConsigne {
		return InvalidTransitionError{
			From:   "IPM1 " + orUnset(string(c.SviIpm1Decision)),
			To:     "IPM2",
			Reason: fmt.Sprintf("carcasse %s has a second inspection without a consignment", c.NumeroBracelet),
		}
	}
	return nil
}

// CheckSviStage reports whether the actor may record inspections on the FEI:
// it must be held by the actor's veterinary service and not closed yet.
func CheckSviStage(fei Fei, actor Actor) error {
	if err := requireHolder(fei, actor); err != nil {
		return err
	}
	if fei.FeiCurrentOwnerRole != RoleSVI {
		return InvalidTransitionError{From: string(fei.FeiCurrentOwnerRole), To: string(RoleSVI), Reason: "only the veterinary inspection records a disposition"}
	}
	if fei.SviClosedAt != nil {
		return InvalidTransitionError{From: "SVI_CLOSED", To: "SVI_CLOSED", Reason: fmt.Sprintf("fei %s is already closed", fei.Numero)}
	}
	return nil
}

// CheckSviClosable reports the first carcass still awaiting a decision.
func CheckSviClosable(fei Fei, carcasses []Carcasse, actor Actor) error {
	if err := CheckSviStage(fei, actor); err != nil {
		return err
	}
	for _, c := range LiveCarcasses(carcasses) {
		if status := DeriveStatus(c); !status.IsFinal() {
			return MissingRequiredFieldError{
				Field:  "svi_carcasse_status",
				Reason: fmt.Sprintf("carcasse %s is still %s", c.NumeroBracelet, status),
			}
		}
	}
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
