package domain

import (
	"fmt"
	"sort"
)

// IntermediaireDecision is what an intermediary records for one carcass.
// Exactly one of PriseEnCharge, Refus and Manquante applies.
type IntermediaireDecision struct {
	CarcasseID    string
	PriseEnCharge bool
	Refus         string
	Manquante     bool
	Commentaire   string
	DepotType     DepotType
	DepotEntityID string
}

func (d IntermediaireDecision) validate() error {
	outcomes := 0
	if d.PriseEnCharge {
		outcomes++
	}
	if d.Refus != "" {
		outcomes++
	}
	if d.Manquante {
		outcomes++
	}
	if outcomes != 1 {
		return InvalidFieldError{Field: "prise_en_charge", Value: outcomes, Reason: "take charge of, refuse, or report missing exactly once"}
	}
	switch d.DepotType {
	case "", DepotNone:
	case DepotCCG, DepotETG:
		if d.DepotEntityID == "" {
			return MissingRequiredFieldError{Field: FieldInterDepot, Reason: fmt.Sprintf("a %s depot names the receiving establishment", d.DepotType)}
		}
	default:
		return InvalidFieldError{Field: FieldInterDepotType, Value: d.DepotType, Reason: "unknown depot type"}
	}
	return nil
}

// RecordIntermediaire applies an intermediary decision to a carcass held by
// the actor's entity. existing is the previous version of the hop, if any.
// The returned hop is not yet signed; the caller stamps SignedAt.
func RecordIntermediaire(fei Fei, c Carcasse, existing *CarcasseIntermediaire, d IntermediaireDecision, actor Actor) (CarcasseIntermediaire, Carcasse, error) {
	if err := requireHolder(fei, actor); err != nil {
		return CarcasseIntermediaire{}, Carcasse{}, err
	}
	role := fei.FeiCurrentOwnerRole
	if !role.IsIntermediaire() {
		return CarcasseIntermediaire{}, Carcasse{}, InvalidTransitionError{
			From:   string(role),
			To:     string(KindIntermediaire),
			Reason: "only a collector or an ETG records an intermediary decision",
		}
	}
	if c.FeiNumero != fei.Numero || c.Deleted() {
		return CarcasseIntermediaire{}, Carcasse{}, NotFoundError{Kind: KindCarcasse, Key: c.ZacharieCarcasseID}
	}
	if err := d.validate(); err != nil {
		return CarcasseIntermediaire{}, Carcasse{}, err
	}

	hop := CarcasseIntermediaire{}
	if existing != nil {
		hop = *existing
	}
	hop.ID = IntermediaireID(fei.Numero, fei.FeiCurrentOwnerEntityID, c.ZacharieCarcasseID)
	hop.FeiNumero = fei.Numero
	hop.ZacharieCarcasseID = c.ZacharieCarcasseID
	hop.NumeroBracelet = c.NumeroBracelet
	hop.IntermediaireEntityID = fei.FeiCurrentOwnerEntityID
	hop.IntermediaireRole = role
	hop.IntermediaireUserID = actor.UserID
	hop.PriseEnCharge = d.PriseEnCharge
	hop.Refus = d.Refus
	hop.Manquante = d.Manquante
	hop.Commentaire = d.Commentaire
	hop.IntermediaireDepotType = d.DepotType
	hop.IntermediaireDepotEntityID = d.DepotEntityID
	if d.DepotType == DepotNone {
		hop.IntermediaireDepotEntityID = ""
	}
	hop.NextDetenteurRoleCache = fei.FeiNextOwnerRole
	hop.NextDetenteurEntityIDCache = fei.FeiNextOwnerEntityID

	switch {
	case d.Refus != "":
		c.IntermediaireCarcasseRefusIntermediaireID = hop.ID
		c.IntermediaireCarcasseRefusMotif = d.Refus
		c.IntermediaireCarcasseManquante = false
	case d.Manquante:
		c.IntermediaireCarcasseRefusIntermediaireID = ""
		c.IntermediaireCarcasseRefusMotif = ""
		c.IntermediaireCarcasseManquante = true
	default:
		c.IntermediaireCarcasseRefusIntermediaireID = ""
		c.IntermediaireCarcasseRefusMotif = ""
		c.IntermediaireCarcasseManquante = false
	}
	return hop, c, nil
}

// SortIntermediaires orders hops by signing time then creation time. Unsigned
// hops come last.
func SortIntermediaires(hops []CarcasseIntermediaire) {
	sort.SliceStable(hops, func(i, j int) bool {
		a, b := hops[i], hops[j]
		switch {
		case a.SignedAt == nil && b.SignedAt != nil:
			return false
		case a.SignedAt != nil && b.SignedAt == nil:
			return true
		case a.SignedAt != nil && b.SignedAt != nil && !a.SignedAt.Equal(*b.SignedAt):
			return a.SignedAt.Before(*b.SignedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ProjectLatestIntermediaire refreshes the FEI fields that mirror the latest
// intermediary hop. Hops of other FEIs and deleted hops are ignored.
func ProjectLatestIntermediaire(fei Fei, hops []CarcasseIntermediaire) Fei {
	live := make([]CarcasseIntermediaire, 0, len(hops))
	for _, h := range hops {
		if h.FeiNumero == fei.Numero && !h.Deleted() {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return fei
	}
	SortIntermediaires(live)
	latest := live[len(live)-1]
	fei.LatestIntermediaireEntityID = latest.IntermediaireEntityID
	fei.LatestIntermediaireRole = latest.IntermediaireRole
	fei.LatestIntermediaireSignedAt = latest.SignedAt
	// The depot decision of the latest entity is the one of its most recently
	// signed hop that declared one.
	fei.IntermediaireDepotType = ""
	fei.IntermediaireDepotEntityID = ""
	for i := len(live) - 1; i >= 0; i-- {
		h := live[i]
		if h.IntermediaireEntityID != latest.IntermediaireEntityID {
			break
		}
		if h.IntermediaireDepotType != "" {
			fei.IntermediaireDepotType = h.IntermediaireDepotType
			fei.IntermediaireDepotEntityID = h.IntermediaireDepotEntityID
			break
		}
	}
	return fei
}
