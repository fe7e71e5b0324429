package domain

import (
	"fmt"
	"sort"
	"time"
)

// allowedRecipients is the custody transition table: for each holder role,
// the organisation types that may receive the FEI next. Roles absent from the
// table, SVI and the circuit-court recipients, never forward.
var allowedRecipients = map[Role]map[EntityType]struct{}{
	RoleExaminateurInitial: typeSet(EntityTypePremierDetenteur),
	RolePremierDetenteur: typeSet(
		EntityTypeETG,
		EntityTypeCollecteurPro,
		EntityTypeSVI,
		EntityTypeCommerceDeDetail,
		EntityTypeCantine,
		EntityTypeAssociationCaritative,
		EntityTypeRepasDeChasse,
		EntityTypeConsommateurFinal,
	),
	RoleCollecteurPro: typeSet(EntityTypeETG, EntityTypeCollecteurPro, EntityTypeSVI),
	RoleETG:           typeSet(EntityTypeSVI, EntityTypeETG, EntityTypeCollecteurPro),
}

func typeSet(types ...EntityType) map[EntityType]struct{} {
	out := make(map[EntityType]struct{}, len(types))
	for _, t := range types {
		out[t] = struct{}{}
	}
	return out
}

// CanTransfer reports whether the table allows a holder with role from to hand
// the FEI to an organisation of type to.
func CanTransfer(from Role, to EntityType) bool {
	_, ok := allowedRecipients[from][to]
	return ok
}

// AllowedRecipients lists the organisation types reachable from the role.
func AllowedRecipients(from Role) []EntityType {
	set := allowedRecipients[from]
	out := make([]EntityType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Candidate is a party proposed as the next holder of a FEI.
type Candidate struct {
	Type     EntityType
	EntityID string
	Name     string
	UserID   string
}

// EntityCandidate proposes an organisation.
func EntityCandidate(e Entity) Candidate {
	return Candidate{Type: e.Type, EntityID: e.ID, Name: e.NomDUsage}
}

// UserCandidate proposes a person acting as premier détenteur without an
// organisation, which is how a hunter keeps the carcasses they examined.
func UserCandidate(u User) Candidate {
	c := Candidate{UserID: u.ID, Name: u.DisplayName()}
	if u.HasRole(RolePremierDetenteur) {
		c.Type = EntityTypePremierDetenteur
	}
	return c
}

// Role is the custody role the candidate takes once the transfer commits.
func (c Candidate) Role() (Role, bool) {
	return c.Type.OwnerRole()
}

func proposedCandidate(fei Fei) Candidate {
	t, _ := fei.FeiNextOwnerRole.EntityType()
	return Candidate{
		Type:     t,
		EntityID: fei.FeiNextOwnerEntityID,
		Name:     fei.FeiNextOwnerEntityNameCache,
		UserID:   fei.FeiNextOwnerUserID,
	}
}

// HoldsCustody reports whether the actor may act as the current holder.
func HoldsCustody(fei Fei, actor Actor) bool {
	if fei.FeiCurrentOwnerRole == "" || !actor.HasRole(fei.FeiCurrentOwnerRole) {
		return false
	}
	if fei.FeiCurrentOwnerUserID != "" && fei.FeiCurrentOwnerUserID == actor.UserID {
		return true
	}
	return actor.ActsFor(fei.FeiCurrentOwnerEntityID)
}

func requireHolder(fei Fei, actor Actor) error {
	if HoldsCustody(fei, actor) {
		return nil
	}
	return InvalidTransitionError{
		From:   string(fei.FeiCurrentOwnerRole),
		Reason: fmt.Sprintf("user %s does not hold fei %s", actor.UserID, fei.Numero),
	}
}

// NewFei opens a FEI held by the examining hunter.
func NewFei(numero string, actor Actor) (Fei, error) {
	if numero == "" {
		return Fei{}, MissingRequiredFieldError{Field: "numero"}
	}
	if !actor.HasRole(RoleExaminateurInitial) {
		return Fei{}, InvalidTransitionError{To: string(RoleExaminateurInitial), Reason: fmt.Sprintf("user %s is not an initial examiner", actor.UserID)}
	}
	return Fei{
		Numero:                   numero,
		FeiCurrentOwnerRole:      RoleExaminateurInitial,
		FeiCurrentOwnerUserID:    actor.UserID,
		ExaminateurInitialUserID: actor.UserID,
	}, nil
}

// ValidateRecipient checks every gate a transfer from the current holder to
// the candidate must pass: the transition table, the examiner approval, the
// depot restriction and the transport declaration.
func ValidateRecipient(fei Fei, carcasses []Carcasse, candidate Candidate) error {
	from := fei.FeiCurrentOwnerRole
	to, ok := candidate.Role()
	if !ok || !CanTransfer(from, candidate.Type) {
		return InvalidTransitionError{
			From:   string(from),
			To:     string(candidate.Type),
			Reason: "recipient type is not reachable from the current holder",
		}
	}
	if candidate.EntityID == "" && candidate.UserID == "" {
		return MissingRequiredFieldError{Field: "fei_next_owner_entity_id", Reason: "recipient has no identity"}
	}
	if candidate.EntityID != "" && candidate.EntityID == fei.FeiCurrentOwnerEntityID {
		return InvalidTransitionError{From: string(from), To: string(to), Reason: "recipient already holds the fei"}
	}

	switch from {
	case RoleExaminateurInitial:
		return checkExamination(fei, carcasses)
	case RolePremierDetenteur:
		depot := depotDeclaration{
			kind:        fei.PremierDetenteurDepotType,
			entityID:    fei.PremierDetenteurDepotEntityID,
			at:          fei.PremierDetenteurDepotAt,
			requireAt:   true,
			typeField:   FieldDepotType,
			entityField: FieldDepotEntity,
		}
		if err := depot.check(candidate); err != nil {
			return err
		}
		if to.IsCircuitCourt() {
			return nil
		}
		return checkTransport(fei)
	case RoleCollecteurPro:
		depot := depotDeclaration{
			typeField:   FieldInterDepotType,
			entityField: FieldInterDepot,
		}
		// The projection may still describe the previous intermediary.
		if fei.LatestIntermediaireEntityID == fei.FeiCurrentOwnerEntityID {
			depot.kind = fei.IntermediaireDepotType
			depot.entityID = fei.IntermediaireDepotEntityID
		}
		return depot.check(candidate)
	}
	return nil
}

func checkExamination(fei Fei, carcasses []Carcasse) error {
	if fei.ExaminateurInitialApprobationMiseSurLeMarche == nil || !*fei.ExaminateurInitialApprobationMiseSurLeMarche {
		return MissingRequiredFieldError{
			Field:  "examinateur_initial_approbation_mise_sur_le_marche",
			Reason: "the examiner must approve the carcasses for market",
		}
	}
	live := LiveCarcasses(carcasses)
	if len(live) == 0 {
		return MissingRequiredFieldError{Field: "carcasses", Reason: "the fei has no carcass"}
	}
	for _, c := range live {
		if !c.Examined() {
			return MissingRequiredFieldError{
				Field:  "examinateur_carcasse_sans_anomalie",
				Reason: fmt.Sprintf("carcasse %s has not been examined", c.NumeroBracelet),
			}
		}
	}
	return nil
}

type depotDeclaration struct {
	kind        DepotType
	entityID    string
	at          *time.Time
	requireAt   bool
	typeField   string
	entityField string
}

func (d depotDeclaration) check(candidate Candidate) error {
	switch d.kind {
	case "":
		return MissingRequiredFieldError{Field: d.typeField, Reason: "the depot must be declared before the transfer"}
	case DepotNone:
		return nil
	case DepotCCG, DepotETG:
	default:
		return InvalidFieldError{Field: d.typeField, Value: d.kind, Reason: "unknown depot type"}
	}
	if d.entityID == "" {
		return MissingRequiredFieldError{Field: d.entityField, Reason: fmt.Sprintf("a %s depot names the receiving establishment", d.kind)}
	}
	if d.requireAt && d.at == nil {
		return MissingRequiredFieldError{Field: FieldDepotAt, Reason: fmt.Sprintf("a %s depot is dated", d.kind)}
	}
	switch d.kind {
	case DepotCCG:
		if candidate.Type == EntityTypeSVI {
			return InvalidTransitionError{
				From:   "depot " + string(DepotCCG),
				To:     string(EntityTypeSVI),
				Reason: "carcasses left in a CCG are collected by an ETG or a collector before inspection",
			}
		}
	case DepotETG:
		if candidate.Type != EntityTypeETG || candidate.EntityID != d.entityID {
			return InvalidTransitionError{
				From:   "depot " + string(DepotETG),
				To:     string(candidate.Type),
				Reason: fmt.Sprintf("carcasses left at ETG %s are taken over by that ETG only", d.entityID),
			}
		}
	}
	return nil
}

func checkTransport(fei Fei) error {
	switch fei.PremierDetenteurTransportType {
	case "":
		return MissingRequiredFieldError{Field: FieldTransportType, Reason: "the transport must be declared before the transfer"}
	case TransportPremierDetenteur:
		if fei.PremierDetenteurTransportDate == nil {
			return MissingRequiredFieldError{Field: FieldTransportDate, Reason: "the premier détenteur dates the transport they carry out"}
		}
	case TransportETG:
	default:
		return InvalidFieldError{Field: FieldTransportType, Value: fei.PremierDetenteurTransportType, Reason: "unknown transport type"}
	}
	return nil
}

// ProposeNextHolder records a tentative recipient. Custody does not move
// until the transfer is committed.
func ProposeNextHolder(fei Fei, carcasses []Carcasse, candidate Candidate, actor Actor) (Fei, error) {
	if err := requireHolder(fei, actor); err != nil {
		return Fei{}, err
	}
	if err := ValidateRecipient(fei, carcasses, candidate); err != nil {
		return Fei{}, err
	}
	role, _ := candidate.Role()
	fei.FeiNextOwnerRole = role
	fei.FeiNextOwnerEntityID = candidate.EntityID
	fei.FeiNextOwnerEntityNameCache = candidate.Name
	fei.FeiNextOwnerUserID = candidate.UserID
	return fei, nil
}

// ClearProposal resets the tentative recipient.
func ClearProposal(fei Fei, actor Actor) (Fei, error) {
	if err := requireHolder(fei, actor); err != nil {
		return Fei{}, err
	}
	fei.FeiNextOwnerRole = ""
	fei.FeiNextOwnerEntityID = ""
	fei.FeiNextOwnerEntityNameCache = ""
	fei.FeiNextOwnerUserID = ""
	return fei, nil
}

// trichineRecipients always receive the trichinosis warning; the final
// consumer receives it only when wild boar is in the batch.
var trichineRecipients = map[Role]struct{}{
	RoleCommerceDeDetail:      {},
	RoleCantine:               {},
	RoleAssociationCaritative: {},
	RoleRepasDeChasse:         {},
}

// RequiresTrichineAck reports whether handing the carcasses to the role needs
// a recorded trichinosis-test acknowledgment.
func RequiresTrichineAck(to Role, carcasses []Carcasse) bool {
	if _, ok := trichineRecipients[to]; ok {
		return true
	}
	if !to.IsCircuitCourt() {
		return false
	}
	for _, c := range LiveCarcasses(carcasses) {
		if c.Espece == EspeceSanglier {
			return true
		}
	}
	return false
}

// TransferPlan is the full effect of a committed transfer, computed without
// touching storage.
type TransferPlan struct {
	From                 Role
	To                   Role
	Fei                  Fei
	Carcasses            []Carcasse
	AcknowledgedTrichine bool
}

// PlanTransfer moves custody to the proposed recipient. It re-runs every
// proposal gate, then returns the FEI and every live carcass with their
// custody fields rewritten.
func PlanTransfer(fei Fei, carcasses []Carcasse, actor Actor, acknowledgedTrichine bool, now time.Time) (TransferPlan, error) {
	if err := requireHolder(fei, actor); err != nil {
		return TransferPlan{}, err
	}
	if !fei.HasNextOwner() {
		return TransferPlan{}, MissingRequiredFieldError{Field: "fei_next_owner_entity_id", Reason: "no recipient was proposed"}
	}
	candidate := proposedCandidate(fei)
	if err := ValidateRecipient(fei, carcasses, candidate); err != nil {
		return TransferPlan{}, err
	}
	from, to := fei.FeiCurrentOwnerRole, fei.FeiNextOwnerRole
	if RequiresTrichineAck(to, carcasses) && !acknowledgedTrichine {
		return TransferPlan{}, MissingRequiredFieldError{
			Field:  FieldTrichineAck,
			Reason: fmt.Sprintf("%s recipients must be warned about trichinosis testing", to),
		}
	}

	stamp := now
	next := fei
	next.FeiPrevOwnerRole = fei.FeiCurrentOwnerRole
	next.FeiPrevOwnerUserID = fei.FeiCurrentOwnerUserID
	next.FeiPrevOwnerEntityID = fei.FeiCurrentOwnerEntityID
	next.FeiCurrentOwnerRole = to
	next.FeiCurrentOwnerEntityID = candidate.EntityID
	next.FeiCurrentOwnerEntityNameCache = candidate.Name
	next.FeiCurrentOwnerUserID = candidate.UserID
	next.FeiCurrentOwnerUserNameCache = ""
	next.FeiNextOwnerRole = ""
	next.FeiNextOwnerEntityID = ""
	next.FeiNextOwnerEntityNameCache = ""
	next.FeiNextOwnerUserID = ""
	next.CustodyUpdatedAt = &stamp
	next.CustodyTrichineAcknowledged = acknowledgedTrichine

	switch {
	case from == RolePremierDetenteur:
		next.PremierDetenteurSignedAt = &stamp
	case from.IsIntermediaire():
		next.IntermediaireClosedAt = &stamp
		next.IntermediaireClosedByEntityID = fei.FeiCurrentOwnerEntityID
		next.IntermediaireDepotType = ""
		next.IntermediaireDepotEntityID = ""
	}
	switch to {
	case RolePremierDetenteur:
		next.PremierDetenteurEntityID = candidate.EntityID
		next.PremierDetenteurUserID = candidate.UserID
		next.PremierDetenteurNameCache = candidate.Name
	case RoleSVI:
		next.SviAssignedAt = &stamp
		next.SviEntityID = candidate.EntityID
	}

	plan := TransferPlan{From: from, To: to, Fei: next, AcknowledgedTrichine: acknowledgedTrichine}
	for _, c := range LiveCarcasses(carcasses) {
		plan.Carcasses = append(plan.Carcasses, MirrorCustody(next, c))
	}
	return plan, nil
}

// MirrorCustody refreshes the custody caches of a carcass from its FEI. The
// carcass fields are a projection and are never written any other way.
func MirrorCustody(fei Fei, c Carcasse) Carcasse {
	c.CurrentOwnerRole = fei.FeiCurrentOwnerRole
	c.CurrentOwnerEntityID = fei.FeiCurrentOwnerEntityID
	c.NextOwnerRole = fei.FeiNextOwnerRole
	c.NextOwnerEntityID = fei.FeiNextOwnerEntityID
	c.PrevOwnerRole = fei.FeiPrevOwnerRole
	c.PrevOwnerEntityID = fei.FeiPrevOwnerEntityID
	if fei.SviAssignedAt != nil && c.SviAssignedToFeiAt == nil {
		at := *fei.SviAssignedAt
		c.SviAssignedToFeiAt = &at
	}
	return c
}

// ClaimCustody records which user of the holding entity took charge of the FEI.
func ClaimCustody(fei Fei, actor Actor) (Fei, error) {
	role := fei.FeiCurrentOwnerRole
	if fei.FeiCurrentOwnerUserID == actor.UserID && actor.HasRole(role) {
		return fei, nil
	}
	if !actor.HasRole(role) || !actor.ActsFor(fei.FeiCurrentOwnerEntityID) {
		return Fei{}, InvalidTransitionError{
			From:   string(role),
			To:     string(role),
			Reason: fmt.Sprintf("user %s does not act for entity %s", actor.UserID, fei.FeiCurrentOwnerEntityID),
		}
	}
	fei.FeiCurrentOwnerUserID = actor.UserID
	switch role {
	case RolePremierDetenteur:
		fei.PremierDetenteurUserID = actor.UserID
	case RoleSVI:
		fei.SviUserID = actor.UserID
	}
	return fei, nil
}

// DepotDeclaration is what the premier détenteur states about where the
// carcasses were left and who carries them.
type DepotDeclaration struct {
	DepotType     DepotType
	DepotEntityID string
	DepotAt       *time.Time
	TransportType TransportType
	TransportDate *time.Time
}

// DeclarePremierDetenteurDepot records the depot and transport declaration.
// depot is the resolved depot entity, the zero value when none is named.
func DeclarePremierDetenteurDepot(fei Fei, actor Actor, decl DepotDeclaration, depot Entity) (Fei, error) {
	if err := requireHolder(fei, actor); err != nil {
		return Fei{}, err
	}
	if fei.FeiCurrentOwnerRole != RolePremierDetenteur {
		return Fei{}, InvalidTransitionError{From: string(fei.FeiCurrentOwnerRole), Reason: "only the premier détenteur declares a depot"}
	}
	switch decl.DepotType {
	case DepotNone:
		decl.DepotEntityID = ""
		decl.DepotAt = nil
	case DepotCCG, DepotETG:
		if decl.DepotEntityID == "" {
			return Fei{}, MissingRequiredFieldError{Field: FieldDepotEntity}
		}
		want := EntityTypeCCG
		if decl.DepotType == DepotETG {
			want = EntityTypeETG
		}
		if depot.ID != decl.DepotEntityID || depot.Type != want {
			return Fei{}, InvalidFieldError{Field: FieldDepotEntity, Value: decl.DepotEntityID, Reason: fmt.Sprintf("not a %s", want)}
		}
		if decl.DepotAt == nil {
			return Fei{}, MissingRequiredFieldError{Field: FieldDepotAt}
		}
	case "":
		return Fei{}, MissingRequiredFieldError{Field: FieldDepotType}
	default:
		return Fei{}, InvalidFieldError{Field: FieldDepotType, Value: decl.DepotType, Reason: "unknown depot type"}
	}
	switch decl.TransportType {
	case "", TransportETG:
		decl.TransportDate = nil
	case TransportPremierDetenteur:
	default:
		return Fei{}, InvalidFieldError{Field: FieldTransportType, Value: decl.TransportType, Reason: "unknown transport type"}
	}
	fei.PremierDetenteurDepotType = decl.DepotType
	fei.PremierDetenteurDepotEntityID = decl.DepotEntityID
	fei.PremierDetenteurDepotAt = decl.DepotAt
	fei.PremierDetenteurTransportType = decl.TransportType
	fei.PremierDetenteurTransportDate = decl.TransportDate
	return fei, nil
}

// LiveCarcasses filters out soft-deleted carcasses.
func LiveCarcasses(carcasses []Carcasse) []Carcasse {
	out := make([]Carcasse, 0, len(carcasses))
	for _, c := range carcasses {
		if !c.Deleted() {
			out = append(out, c)
		}
	}
	return out
}
