package domain

import (
	"fmt"
	"time"
)

// NewCarcasseInput describes a carcass declared by the examiner.
type NewCarcasseInput struct {
	ZacharieCarcasseID string
	NumeroBracelet     string
	Type               CarcasseType
	Espece             string
	NombreDAnimaux     int
}

// NewCarcasse builds a carcass attached to the FEI, checking the bracelet
// against the carcasses already declared.
func NewCarcasse(fei Fei, existing []Carcasse, in NewCarcasseInput) (Carcasse, error) {
	if in.NumeroBracelet == "" {
		return Carcasse{}, MissingRequiredFieldError{Field: "numero_bracelet"}
	}
	for _, c := range LiveCarcasses(existing) {
		if c.NumeroBracelet == in.NumeroBracelet {
			return Carcasse{}, InvalidFieldError{Field: "numero_bracelet", Value: in.NumeroBracelet, Reason: fmt.Sprintf("already used in fei %s", fei.Numero)}
		}
	}
	if in.Espece == "" {
		return Carcasse{}, MissingRequiredFieldError{Field: "espece"}
	}
	switch in.Type {
	case GrosGibier:
		in.NombreDAnimaux = 1
	case PetitGibier:
		if in.NombreDAnimaux < 1 {
			return Carcasse{}, MissingRequiredFieldError{Field: "nombre_d_animaux", Reason: "a small-game batch counts its animals"}
		}
	default:
		return Carcasse{}, InvalidFieldError{Field: "type", Value: in.Type, Reason: "unknown carcass type"}
	}
	c := Carcasse{
		ZacharieCarcasseID: in.ZacharieCarcasseID,
		FeiNumero:          fei.Numero,
		NumeroBracelet:     in.NumeroBracelet,
		Type:               in.Type,
		Espece:             in.Espece,
		NombreDAnimaux:     in.NombreDAnimaux,
		SviCarcasseStatus:  StatusSansDecision,
	}
	return MirrorCustody(fei, c), nil
}

// Examination is the examiner's finding on one carcass.
type Examination struct {
	SansAnomalie      bool
	AnomaliesCarcasse []string
	AnomaliesAbats    []string
	Commentaire       string
}

// RecordExamination applies the examiner's finding. The FEI must still be
// held by the examiner and not yet approved for market.
func RecordExamination(fei Fei, c Carcasse, e Examination, actor Actor) (Carcasse, error) {
	if err := requireExaminer(fei, actor); err != nil {
		return Carcasse{}, err
	}
	anomalies := len(e.AnomaliesCarcasse) + len(e.AnomaliesAbats)
	if e.SansAnomalie && anomalies > 0 {
		return Carcasse{}, InvalidFieldError{Field: "examinateur_carcasse_sans_anomalie", Value: true, Reason: "anomalies were listed"}
	}
	if !e.SansAnomalie && anomalies == 0 {
		return Carcasse{}, MissingRequiredFieldError{Field: "examinateur_anomalies_carcasse", Reason: "list the anomalies or declare none"}
	}
	sans := e.SansAnomalie
	c.ExaminateurCarcasseSansAnomalie = &sans
	c.ExaminateurAnomaliesCarcasse = cloneStrings(e.AnomaliesCarcasse)
	c.ExaminateurAnomaliesAbats = cloneStrings(e.AnomaliesAbats)
	c.ExaminateurCommentaire = e.Commentaire
	return c, nil
}

// ApproveMiseSurLeMarche records the examiner's approval once every carcass
// has been examined.
func ApproveMiseSurLeMarche(fei Fei, carcasses []Carcasse, actor Actor, now time.Time) (Fei, error) {
	if err := requireHolder(fei, actor); err != nil {
		return Fei{}, err
	}
	if fei.FeiCurrentOwnerRole != RoleExaminateurInitial {
		return Fei{}, InvalidTransitionError{From: string(fei.FeiCurrentOwnerRole), Reason: "only the initial examiner approves for market"}
	}
	approved := true
	draft := fei
	draft.ExaminateurInitialApprobationMiseSurLeMarche = &approved
	if err := checkExamination(draft, carcasses); err != nil {
		return Fei{}, err
	}
	if fei.ExaminateurInitialDateApprobationMiseSurLeMarche == nil {
		at := now
		draft.ExaminateurInitialDateApprobationMiseSurLeMarche = &at
	}
	return draft, nil
}

// CheckExaminerStage reports whether the actor may still declare or examine
// carcasses on the FEI.
func CheckExaminerStage(fei Fei, actor Actor) error {
	return requireExaminer(fei, actor)
}

func requireExaminer(fei Fei, actor Actor) error {
	if err := requireHolder(fei, actor); err != nil {
		return err
	}
	if fei.FeiCurrentOwnerRole != RoleExaminateurInitial {
		return InvalidTransitionError{From: string(fei.FeiCurrentOwnerRole), To: string(RoleExaminateurInitial), Reason: "the examination is closed once the fei left the examiner"}
	}
	if a := fei.ExaminateurInitialApprobationMiseSurLeMarche; a != nil && *a {
		return InvalidTransitionError{From: "APPROUVEE", To: "EXAMEN", Reason: "the fei was already approved for market"}
	}
	return nil
}
