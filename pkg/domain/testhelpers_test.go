package domain

import "time"

var t0 = time.Date(2026, 9, 20, 7, 30, 0, 0, time.UTC)

func ptrBool(v bool) *bool { return &v }

func ptrTime(v time.Time) *time.Time { return &v }

// holder builds an actor working for entityID under role.
func holder(userID string, role Role, entityID string) Actor {
	a := Actor{UserID: userID, Roles: []Role{role}}
	if entityID != "" {
		a.Relations = []EntityRelation{{UserID: userID, EntityID: entityID, Relation: RelationWorkingFor}}
	}
	return a
}

// feiHeldBy returns a FEI whose every gate for leaving role is satisfied.
func feiHeldBy(role Role, entityID string) Fei {
	f := Fei{
		Numero:                  "ZACH-20260920-0001",
		FeiCurrentOwnerRole:     role,
		FeiCurrentOwnerEntityID: entityID,
	}
	f.ExaminateurInitialApprobationMiseSurLeMarche = ptrBool(true)
	f.ExaminateurInitialDateApprobationMiseSurLeMarche = ptrTime(t0)
	if role == RoleExaminateurInitial {
		f.FeiCurrentOwnerUserID = "examinateur"
	}
	f.PremierDetenteurDepotType = DepotNone
	f.PremierDetenteurTransportType = TransportPremierDetenteur
	f.PremierDetenteurTransportDate = ptrTime(t0)
	f.IntermediaireDepotType = DepotNone
	if role.IsIntermediaire() {
		f.LatestIntermediaireEntityID = entityID
		f.LatestIntermediaireRole = role
	}
	return f
}

func examinedCarcasse(bracelet, espece string) Carcasse {
	return Carcasse{
		ZacharieCarcasseID:              "c-" + bracelet,
		FeiNumero:                       "ZACH-20260920-0001",
		NumeroBracelet:                  bracelet,
		Type:                            GrosGibier,
		Espece:                          espece,
		NombreDAnimaux:                  1,
		ExaminateurCarcasseSansAnomalie: ptrBool(true),
		ExaminateurSignedAt:             ptrTime(t0),
		SviCarcasseStatus:               StatusSansDecision,
	}
}

func inspectable(c Carcasse) Carcasse {
	c.CurrentOwnerRole = RoleSVI
	c.SviAssignedToFeiAt = ptrTime(t0)
	return c
}
