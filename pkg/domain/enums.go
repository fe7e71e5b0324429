package domain

// Role identifies the regulatory role a party plays while holding a FEI.
type Role string

// Custody roles, in rough chain order.
const (
	RoleExaminateurInitial    Role = "EXAMINATEUR_INITIAL"
	RolePremierDetenteur      Role = "PREMIER_DETENTEUR"
	RoleCollecteurPro         Role = "COLLECTEUR_PRO"
	RoleETG                   Role = "ETG"
	RoleSVI                   Role = "SVI"
	RoleCommerceDeDetail      Role = "COMMERCE_DE_DETAIL"
	RoleCantine               Role = "CANTINE"
	RoleAssociationCaritative Role = "ASSOCIATION_CARITATIVE"
	RoleRepasDeChasse         Role = "REPAS_DE_CHASSE"
	RoleConsommateurFinal     Role = "CONSOMMATEUR_FINAL"
	// RoleAdmin never holds custody; it is accepted on Actor for back-office reads.
	RoleAdmin Role = "ADMIN"
)

// circuitCourtRoles are the final recipients outside the ETG/SVI circuit.
var circuitCourtRoles = map[Role]struct{}{
	RoleCommerceDeDetail:      {},
	RoleCantine:               {},
	RoleAssociationCaritative: {},
	RoleRepasDeChasse:         {},
	RoleConsommateurFinal:     {},
}

// IsCircuitCourt reports whether the role is a terminal circuit-court recipient.
func (r Role) IsCircuitCourt() bool {
	_, ok := circuitCourtRoles[r]
	return ok
}

// IsIntermediaire reports whether the role handles carcasses between the
// first holder and the veterinary inspection.
func (r Role) IsIntermediaire() bool {
	return r == RoleCollecteurPro || r == RoleETG
}

// EntityType classifies an organisation that can receive carcasses.
type EntityType string

// Organisation types.
const (
	EntityTypePremierDetenteur      EntityType = "PREMIER_DETENTEUR"
	EntityTypeCCG                   EntityType = "CCG"
	EntityTypeCollecteurPro         EntityType = "COLLECTEUR_PRO"
	EntityTypeETG                   EntityType = "ETG"
	EntityTypeSVI                   EntityType = "SVI"
	EntityTypeCommerceDeDetail      EntityType = "COMMERCE_DE_DETAIL"
	EntityTypeCantine               EntityType = "CANTINE"
	EntityTypeAssociationCaritative EntityType = "ASSOCIATION_CARITATIVE"
	EntityTypeRepasDeChasse         EntityType = "REPAS_DE_CHASSE"
	EntityTypeConsommateurFinal     EntityType = "CONSOMMATEUR_FINAL"
)

// OwnerRole maps an organisation type to the custody role it takes when it
// becomes the FEI holder. CCG is a depot, never a holder.
func (t EntityType) OwnerRole() (Role, bool) {
	switch t {
	case EntityTypePremierDetenteur:
		return RolePremierDetenteur, true
	case EntityTypeCollecteurPro:
		return RoleCollecteurPro, true
	case EntityTypeETG:
		return RoleETG, true
	case EntityTypeSVI:
		return RoleSVI, true
	case EntityTypeCommerceDeDetail:
		return RoleCommerceDeDetail, true
	case EntityTypeCantine:
		return RoleCantine, true
	case EntityTypeAssociationCaritative:
		return RoleAssociationCaritative, true
	case EntityTypeRepasDeChasse:
		return RoleRepasDeChasse, true
	case EntityTypeConsommateurFinal:
		return RoleConsommateurFinal, true
	}
	return "", false
}

// EntityType returns the organisation type that holds custody under the role.
func (r Role) EntityType() (EntityType, bool) {
	switch r {
	case RolePremierDetenteur:
		return EntityTypePremierDetenteur, true
	case RoleCollecteurPro:
		return EntityTypeCollecteurPro, true
	case RoleETG:
		return EntityTypeETG, true
	case RoleSVI:
		return EntityTypeSVI, true
	case RoleCommerceDeDetail:
		return EntityTypeCommerceDeDetail, true
	case RoleCantine:
		return EntityTypeCantine, true
	case RoleAssociationCaritative:
		return EntityTypeAssociationCaritative, true
	case RoleRepasDeChasse:
		return EntityTypeRepasDeChasse, true
	case RoleConsommateurFinal:
		return EntityTypeConsommateurFinal, true
	}
	return "", false
}

// RelationType gates what a user may do on behalf of an entity.
type RelationType string

// Entity relation kinds.
const (
	RelationWorkingFor                   RelationType = "WORKING_FOR"
	RelationWorkingWith                  RelationType = "WORKING_WITH"
	RelationCanHandleCarcassesOnBehalf   RelationType = "CAN_HANDLE_CARCASSES_ON_BEHALF_ENTITY"
	RelationCanTransmitCarcassesToEntity RelationType = "CAN_TRANSMIT_CARCASSES_TO_ENTITY"
)

// DepotType records where carcasses were dropped before the next holder took them.
type DepotType string

// Depot kinds. The empty value means the depot was not declared yet.
const (
	DepotNone DepotType = "NONE"
	DepotCCG  DepotType = "CCG"
	DepotETG  DepotType = "ETG"
)

// TransportType records who carries the carcasses to the next holder.
type TransportType string

// Transport kinds.
const (
	TransportPremierDetenteur TransportType = "PREMIER_DETENTEUR"
	TransportETG              TransportType = "ETG"
)

// CarcasseType separates single large game from counted small-game batches.
type CarcasseType string

// Carcass kinds.
const (
	PetitGibier CarcasseType = "PETIT_GIBIER"
	GrosGibier  CarcasseType = "GROS_GIBIER"
)

// EspeceSanglier is the species that triggers the trichinosis warning for
// circuit-court recipients.
const EspeceSanglier = "Sanglier"

// Ipm1Decision is the outcome of the first post-mortem inspection.
type Ipm1Decision string

// First inspection outcomes.
const (
	Ipm1NonRenseignee  Ipm1Decision = "NON_RENSEIGNEE"
	Ipm1MiseEnConsigne Ipm1Decision = "MISE_EN_CONSIGNE"
	Ipm1Accepte        Ipm1Decision = "ACCEPTE"
)

// Ipm2Decision is the outcome of the second inspection of a consigned carcass.
type Ipm2Decision string

// Second inspection outcomes.
const (
	Ipm2NonRenseignee          Ipm2Decision = "NON_RENSEIGNEE"
	Ipm2LeveeDeLaConsigne      Ipm2Decision = "LEVEE_DE_LA_CONSIGNE"
	Ipm2SaisieTotale           Ipm2Decision = "SAISIE_TOTALE"
	Ipm2SaisiePartielle        Ipm2Decision = "SAISIE_PARTIELLE"
	Ipm2TraitementAssainissant Ipm2Decision = "TRAITEMENT_ASSAINISSANT"
)

// IsSaisie reports whether the decision condemns all or part of the carcass.
func (d Ipm2Decision) IsSaisie() bool {
	return d == Ipm2SaisieTotale || d == Ipm2SaisiePartielle
}

// CarcasseStatus is the summary projection of a carcass disposition.
type CarcasseStatus string

// Carcass statuses.
const (
	StatusManquante              CarcasseStatus = "MANQUANTE"
	StatusRefus                  CarcasseStatus = "REFUS"
	StatusSaisieTotale           CarcasseStatus = "SAISIE_TOTALE"
	StatusSaisiePartielle        CarcasseStatus = "SAISIE_PARTIELLE"
	StatusTraitementAssainissant CarcasseStatus = "TRAITEMENT_ASSAINISSANT"
	StatusConsigne               CarcasseStatus = "CONSIGNE"
	StatusLeveeDeConsigne        CarcasseStatus = "LEVEE_DE_CONSIGNE"
	StatusAccepte                CarcasseStatus = "ACCEPTE"
	StatusSansDecision           CarcasseStatus = "SANS_DECISION"
)

// IsFinal reports whether no further inspection is expected for the status.
func (s CarcasseStatus) IsFinal() bool {
	return s != StatusSansDecision && s != StatusConsigne
}
