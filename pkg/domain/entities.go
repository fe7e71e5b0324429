// Package domain defines the chain-of-custody records, value types, and the
// pure transition functions that govern FEI custody and carcass disposition.
package domain

import (
	"slices"
	"time"
)

// RecordKind identifies the type of record stored by the core.
type RecordKind string

// Record kinds used in Change records, persistence buckets and sync batches.
const (
	// KindFei identifies a FEI document.
	KindFei RecordKind = "fei"
	// KindCarcasse identifies a carcass or small-game batch.
	KindCarcasse RecordKind = "carcasse"
	// KindIntermediaire identifies one intermediary hop of a carcass.
	KindIntermediaire RecordKind = "carcasse_intermediaire"
	KindEntity        RecordKind = "entity"
	KindUser          RecordKind = "user"
	KindRelation      RecordKind = "entity_relation"
	KindAudit         RecordKind = "audit"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains bookkeeping fields shared by every synced record.
type Base struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
	IsSynced  bool       `json:"is_synced"`
}

// Deleted reports whether the record was soft-deleted.
func (b Base) Deleted() bool {
	return b.DeletedAt != nil
}

// Fei is the chain-of-custody document bundling the carcasses of one hunt.
type Fei struct {
	Base
	Numero           string     `json:"numero"`
	DateMiseAMort    *time.Time `json:"date_mise_a_mort"`
	CommuneMiseAMort string     `json:"commune_mise_a_mort"`

	FeiCurrentOwnerRole            Role       `json:"fei_current_owner_role"`
	FeiCurrentOwnerUserID          string     `json:"fei_current_owner_user_id"`
	FeiCurrentOwnerUserNameCache   string     `json:"fei_current_owner_user_name_cache"`
	FeiCurrentOwnerEntityID        string     `json:"fei_current_owner_entity_id"`
	FeiCurrentOwnerEntityNameCache string     `json:"fei_current_owner_entity_name_cache"`
	FeiNextOwnerRole               Role       `json:"fei_next_owner_role"`
	FeiNextOwnerUserID             string     `json:"fei_next_owner_user_id"`
	FeiNextOwnerEntityID           string     `json:"fei_next_owner_entity_id"`
	FeiNextOwnerEntityNameCache    string     `json:"fei_next_owner_entity_name_cache"`
	FeiPrevOwnerRole               Role       `json:"fei_prev_owner_role"`
	FeiPrevOwnerUserID             string     `json:"fei_prev_owner_user_id"`
	FeiPrevOwnerEntityID           string     `json:"fei_prev_owner_entity_id"`
	CustodyUpdatedAt               *time.Time `json:"custody_updated_at"`
	CustodyTrichineAcknowledged    bool       `json:"custody_trichine_acknowledged"`

	ExaminateurInitialUserID                         string     `json:"examinateur_initial_user_id"`
	ExaminateurInitialApprobationMiseSurLeMarche     *bool      `json:"examinateur_initial_approbation_mise_sur_le_marche"`
	ExaminateurInitialDateApprobationMiseSurLeMarche *time.Time `json:"examinateur_initial_date_approbation_mise_sur_le_marche"`

	PremierDetenteurUserID        string        `json:"premier_detenteur_user_id"`
	PremierDetenteurEntityID      string        `json:"premier_detenteur_entity_id"`
	PremierDetenteurNameCache     string        `json:"premier_detenteur_name_cache"`
	PremierDetenteurDepotType     DepotType     `json:"premier_detenteur_depot_type"`
	PremierDetenteurDepotEntityID string        `json:"premier_detenteur_depot_entity_id"`
	PremierDetenteurDepotAt       *time.Time    `json:"premier_detenteur_depot_at"`
	PremierDetenteurTransportType TransportType `json:"premier_detenteur_transport_type"`
	PremierDetenteurTransportDate *time.Time    `json:"premier_detenteur_transport_date"`
	PremierDetenteurSignedAt      *time.Time    `json:"premier_detenteur_signed_at"`

	LatestIntermediaireEntityID   string     `json:"latest_intermediaire_entity_id"`
	LatestIntermediaireRole       Role       `json:"latest_intermediaire_role"`
	LatestIntermediaireSignedAt   *time.Time `json:"latest_intermediaire_signed_at"`
	IntermediaireDepotType        DepotType  `json:"intermediaire_depot_type"`
	IntermediaireDepotEntityID    string     `json:"intermediaire_depot_entity_id"`
	IntermediaireClosedAt         *time.Time `json:"intermediaire_closed_at"`
	IntermediaireClosedByEntityID string     `json:"intermediaire_closed_by_entity_id"`

	SviEntityID       string     `json:"svi_entity_id"`
	SviUserID         string     `json:"svi_user_id"`
	SviAssignedAt     *time.Time `json:"svi_assigned_at"`
	SviClosedAt       *time.Time `json:"svi_closed_at"`
	SviClosedByUserID string     `json:"svi_closed_by_user_id"`
	SviCommentaire    string     `json:"svi_commentaire"`
	SviSignedAt       *time.Time `json:"svi_signed_at"`
}

// HasNextOwner reports whether a tentative transfer is pending.
func (f Fei) HasNextOwner() bool {
	return f.FeiNextOwnerRole != "" && (f.FeiNextOwnerEntityID != "" || f.FeiNextOwnerUserID != "")
}

// Carcasse is a single large-game carcass or a counted batch of small game.
type Carcasse struct {
	Base
	ZacharieCarcasseID string       `json:"zacharie_carcasse_id"`
	FeiNumero          string       `json:"fei_numero"`
	NumeroBracelet     string       `json:"numero_bracelet"`
	Type               CarcasseType `json:"type"`
	Espece             string       `json:"espece"`
	NombreDAnimaux     int          `json:"nombre_d_animaux"`

	ExaminateurCarcasseSansAnomalie *bool      `json:"examinateur_carcasse_sans_anomalie"`
	ExaminateurAnomaliesCarcasse    []string   `json:"examinateur_anomalies_carcasse"`
	ExaminateurAnomaliesAbats       []string   `json:"examinateur_anomalies_abats"`
	ExaminateurCommentaire          string     `json:"examinateur_commentaire"`
	ExaminateurSignedAt             *time.Time `json:"examinateur_signed_at"`

	IntermediaireCarcasseRefusIntermediaireID string     `json:"intermediaire_carcasse_refus_intermediaire_id"`
	IntermediaireCarcasseRefusMotif           string     `json:"intermediaire_carcasse_refus_motif"`
	IntermediaireCarcasseManquante            bool       `json:"intermediaire_carcasse_manquante"`
	IntermediaireSignedAt                     *time.Time `json:"intermediaire_signed_at"`

	CurrentOwnerRole     Role       `json:"current_owner_role"`
	CurrentOwnerEntityID string     `json:"current_owner_entity_id"`
	NextOwnerRole        Role       `json:"next_owner_role"`
	NextOwnerEntityID    string     `json:"next_owner_entity_id"`
	PrevOwnerRole        Role       `json:"prev_owner_role"`
	PrevOwnerEntityID    string     `json:"prev_owner_entity_id"`
	SviAssignedToFeiAt   *time.Time `json:"svi_assigned_to_fei_at"`

	SviIpm1PresenteeInspection *bool        `json:"svi_ipm1_presentee_inspection"`
	SviIpm1Date                *time.Time   `json:"svi_ipm1_date"`
	SviIpm1UserID              string       `json:"svi_ipm1_user_id"`
	SviIpm1Pieces              []string     `json:"svi_ipm1_pieces"`
	SviIpm1LesionsOuMotifs     []string     `json:"svi_ipm1_lesions_ou_motifs"`
	SviIpm1NombreAnimaux       int          `json:"svi_ipm1_nombre_animaux"`
	SviIpm1Commentaire         string       `json:"svi_ipm1_commentaire"`
	SviIpm1Decision            Ipm1Decision `json:"svi_ipm1_decision"`
	SviIpm1DureeConsigne       int          `json:"svi_ipm1_duree_consigne"`
	SviIpm1PoidsConsigne       *float64     `json:"svi_ipm1_poids_consigne"`
	SviIpm1SignedAt            *time.Time   `json:"svi_ipm1_signed_at"`

	SviIpm2PresenteeInspection                 *bool        `json:"svi_ipm2_presentee_inspection"`
	SviIpm2Date                                *time.Time   `json:"svi_ipm2_date"`
	SviIpm2UserID                              string       `json:"svi_ipm2_user_id"`
	SviIpm2Pieces                              []string     `json:"svi_ipm2_pieces"`
	SviIpm2LesionsOuMotifs                     []string     `json:"svi_ipm2_lesions_ou_motifs"`
	SviIpm2NombreAnimaux                       int          `json:"svi_ipm2_nombre_animaux"`
	SviIpm2Commentaire                         string       `json:"svi_ipm2_commentaire"`
	SviIpm2Decision                            Ipm2Decision `json:"svi_ipm2_decision"`
	SviIpm2TraitementAssainissantCuissonTemps  string       `json:"svi_ipm2_traitement_assainissant_cuisson_temps"`
	SviIpm2TraitementAssainissantCuissonTemp   string       `json:"svi_ipm2_traitement_assainissant_cuisson_temp"`
	SviIpm2TraitementAssainissantCongelTemps   string       `json:"svi_ipm2_traitement_assainissant_congelation_temps"`
	SviIpm2TraitementAssainissantCongelTemp    string       `json:"svi_ipm2_traitement_assainissant_congelation_temp"`
	SviIpm2TraitementAssainissantEtablissement string       `json:"svi_ipm2_traitement_assainissant_etablissement"`
	SviIpm2PoidsSaisie                         *float64     `json:"svi_ipm2_poids_saisie"`
	SviIpm2SignedAt                            *time.Time   `json:"svi_ipm2_signed_at"`

	SviCarcasseStatus      CarcasseStatus `json:"svi_carcasse_status"`
	SviCarcasseStatusSetAt *time.Time     `json:"svi_carcasse_status_set_at"`
}

// Examined reports whether the initial examiner signed off the carcass.
func (c Carcasse) Examined() bool {
	if c.ExaminateurSignedAt == nil || c.ExaminateurCarcasseSansAnomalie == nil {
		return false
	}
	if *c.ExaminateurCarcasseSansAnomalie {
		return true
	}
	return len(c.ExaminateurAnomaliesCarcasse)+len(c.ExaminateurAnomaliesAbats) > 0
}

// CarcasseIntermediaire records one carcass passing through one intermediary.
type CarcasseIntermediaire struct {
	Base
	ID                         string     `json:"id"`
	FeiNumero                  string     `json:"fei_numero"`
	ZacharieCarcasseID         string     `json:"zacharie_carcasse_id"`
	NumeroBracelet             string     `json:"numero_bracelet"`
	IntermediaireEntityID      string     `json:"intermediaire_entity_id"`
	IntermediaireRole          Role       `json:"intermediaire_role"`
	IntermediaireUserID        string     `json:"intermediaire_user_id"`
	PriseEnCharge              bool       `json:"prise_en_charge"`
	Refus                      string     `json:"refus"`
	Manquante                  bool       `json:"manquante"`
	Commentaire                string     `json:"commentaire"`
	IntermediaireDepotType     DepotType  `json:"intermediaire_depot_type"`
	IntermediaireDepotEntityID string     `json:"intermediaire_depot_entity_id"`
	NextDetenteurRoleCache     Role       `json:"next_detenteur_role_cache"`
	NextDetenteurEntityIDCache string     `json:"next_detenteur_entity_id_cache"`
	SignedAt                   *time.Time `json:"signed_at"`
}

// IntermediaireID builds the deterministic identifier of a hop so that two
// devices recording the same hop offline converge on one record.
func IntermediaireID(feiNumero, entityID, carcasseID string) string {
	return feiNumero + "_" + entityID + "_" + carcasseID
}

// Entity is an organisation referenced by custody fields.
type Entity struct {
	ID        string     `json:"id"`
	Type      EntityType `json:"type"`
	NomDUsage string     `json:"nom_d_usage"`
	Siret     string     `json:"siret"`
	CreatedAt time.Time  `json:"created_at"`
}

// User is a person acting in the chain.
type User struct {
	ID           string    `json:"id"`
	Roles        []Role    `json:"roles"`
	Prenom       string    `json:"prenom"`
	NomDeFamille string    `json:"nom_de_famille"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName renders the user for name caches.
func (u User) DisplayName() string {
	switch {
	case u.Prenom == "":
		return u.NomDeFamille
	case u.NomDeFamille == "":
		return u.Prenom
	}
	return u.Prenom + " " + u.NomDeFamille
}

// HasRole reports whether the user carries the role.
func (u User) HasRole(role Role) bool {
	return slices.Contains(u.Roles, role)
}

// EntityRelation links a user to an entity.
type EntityRelation struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	EntityID  string       `json:"entity_id"`
	Relation  RelationType `json:"relation"`
	CreatedAt time.Time    `json:"created_at"`
}

// Actor is the authenticated caller of a core operation. Roles and relations
// are trusted as supplied; transition legality is still checked by the core.
type Actor struct {
	UserID    string
	Roles     []Role
	Relations []EntityRelation
}

// HasRole reports whether the actor claims the role.
func (a Actor) HasRole(role Role) bool {
	return slices.Contains(a.Roles, role)
}

// ActsFor reports whether the actor may handle carcasses held by the entity.
func (a Actor) ActsFor(entityID string) bool {
	if entityID == "" {
		return false
	}
	for _, rel := range a.Relations {
		if rel.UserID != a.UserID || rel.EntityID != entityID {
			continue
		}
		if rel.Relation == RelationWorkingFor || rel.Relation == RelationCanHandleCarcassesOnBehalf {
			return true
		}
	}
	return false
}

// PartnerEntityIDs lists the entities the actor declared as direct partners.
func (a Actor) PartnerEntityIDs() []string {
	var out []string
	for _, rel := range a.Relations {
		if rel.UserID == a.UserID && rel.Relation == RelationCanTransmitCarcassesToEntity {
			out = append(out, rel.EntityID)
		}
	}
	return out
}

// Change describes a mutation applied to a record during a transaction.
type Change struct {
	Kind   RecordKind
	Action Action
	Key    string
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in audit trail.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Kind     RecordKind
	Key      string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
