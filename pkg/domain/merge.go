package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// mergeStage groups the fields one party owns. Fields changed on both sides
// take the side whose stage was signed last.
type mergeStage struct {
	name     string
	signedAt string
	fields   []string
	prefixes []string
}

func (s mergeStage) owns(field string) bool {
	for _, f := range s.fields {
		if f == field {
			return true
		}
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(field, p) {
			return true
		}
	}
	return false
}

// mergePolicy describes the stages of one record kind. The custody stage is
// merged as a unit so that owner, next owner and previous owner never mix
// values from two devices.
type mergePolicy struct {
	stages   []mergeStage
	custody  *mergeStage
	derived  []string
	ownerKey func(fields map[string]json.RawMessage) string
	settle   func(fields map[string]json.RawMessage)
}

var feiCustodyStage = mergeStage{
	name:     "custody",
	signedAt: "custody_updated_at",
	fields:   []string{"custody_updated_at", "custody_trichine_acknowledged", "svi_assigned_at", "svi_entity_id"},
	prefixes: []string{"fei_current_owner_", "fei_next_owner_", "fei_prev_owner_"},
}

var carcasseCustodyStage = mergeStage{
	name:     "custody",
	fields:   []string{"svi_assigned_to_fei_at"},
	prefixes: []string{"current_owner_", "next_owner_", "prev_owner_"},
}

var mergePolicies = map[RecordKind]mergePolicy{
	KindFei: {
		stages: []mergeStage{
			{name: "examinateur", signedAt: "examinateur_initial_date_approbation_mise_sur_le_marche", fields: []string{"date_mise_a_mort", "commune_mise_a_mort"}, prefixes: []string{"examinateur_initial_"}},
			{name: "premier_detenteur", signedAt: "premier_detenteur_signed_at", prefixes: []string{"premier_detenteur_"}},
			{name: "intermediaire", signedAt: "latest_intermediaire_signed_at", prefixes: []string{"latest_intermediaire_", "intermediaire_"}},
			{name: "svi", signedAt: "svi_signed_at", prefixes: []string{"svi_"}},
		},
		custody:  &feiCustodyStage,
		ownerKey: feiOwnerKey,
	},
	KindCarcasse: {
		stages: []mergeStage{
			{name: "examinateur", signedAt: "examinateur_signed_at", fields: []string{"numero_bracelet", "type", "espece", "nombre_d_animaux"}, prefixes: []string{"examinateur_"}},
			{name: "intermediaire", signedAt: "intermediaire_signed_at", prefixes: []string{"intermediaire_"}},
			{name: "svi_ipm1", signedAt: "svi_ipm1_signed_at", prefixes: []string{"svi_ipm1_"}},
			{name: "svi_ipm2", signedAt: "svi_ipm2_signed_at", prefixes: []string{"svi_ipm2_"}},
		},
		custody: &carcasseCustodyStage,
		derived: []string{"svi_carcasse_status", "svi_carcasse_status_set_at"},
		settle:  settleInspections,
	},
	KindIntermediaire: {
		stages: []mergeStage{
			{name: "intermediaire", signedAt: "signed_at", prefixes: []string{""}},
		},
	},
}

// recordStage owns fields no stage claims, such as deleted_at. It falls back
// to the record update time.
var recordStage = mergeStage{name: "record"}

func (p mergePolicy) stageOf(field string) mergeStage {
	for _, s := range p.stages {
		if s.owns(field) {
			return s
		}
	}
	return recordStage
}

func (p mergePolicy) isDerived(field string) bool {
	for _, f := range p.derived {
		if f == field {
			return true
		}
	}
	return false
}

func feiOwnerKey(fields map[string]json.RawMessage) string {
	var role, entity, user string
	_ = json.Unmarshal(fields["fei_current_owner_role"], &role)
	_ = json.Unmarshal(fields["fei_current_owner_entity_id"], &entity)
	_ = json.Unmarshal(fields["fei_current_owner_user_id"], &user)
	if entity != "" {
		user = ""
	}
	return role + "/" + entity + "/" + user
}

// CurrentOwner identifies the party holding the FEI. The user of an entity
// that holds it is not part of the identity, so a claim is not a move.
func CurrentOwner(f Fei) string {
	user := f.FeiCurrentOwnerUserID
	if f.FeiCurrentOwnerEntityID != "" {
		user = ""
	}
	return string(f.FeiCurrentOwnerRole) + "/" + f.FeiCurrentOwnerEntityID + "/" + user
}

// MergeRecord merges the local and server versions of one record against the
// base version the local edit started from. A field changed on one side only
// takes that side. A field changed on both sides takes the side that signed
// the field's stage last, then the side updated last, and the server on a tie.
// Both sides moving the current owner of a FEI to different parties is a
// TransferConflictError. An undefined base merges against an empty record and
// an undefined server version returns the local one.
func MergeRecord(kind RecordKind, base, local, server ChangePayload) (ChangePayload, error) {
	policy, ok := mergePolicies[kind]
	if !ok {
		return ChangePayload{}, InvalidFieldError{Field: "kind", Value: kind, Reason: "records of this kind are not merged"}
	}
	if !server.Defined() || server.IsEmpty() {
		return local, nil
	}
	b, err := base.Fields()
	if err != nil {
		return ChangePayload{}, fmt.Errorf("merge %s base: %w", kind, err)
	}
	l, err := local.Fields()
	if err != nil {
		return ChangePayload{}, fmt.Errorf("merge %s local: %w", kind, err)
	}
	s, err := server.Fields()
	if err != nil {
		return ChangePayload{}, fmt.Errorf("merge %s server: %w", kind, err)
	}

	merged := map[string]json.RawMessage{}
	if policy.custody != nil {
		side, err := policy.mergeCustody(b, l, s)
		if err != nil {
			return ChangePayload{}, err
		}
		for field, value := range side {
			if policy.custody.owns(field) {
				merged[field] = value
			}
		}
	}
	for _, field := range unionFields(b, l, s) {
		if policy.custody != nil && policy.custody.owns(field) {
			continue
		}
		switch field {
		case "created_at":
			merged[field] = pick(s[field], l[field])
			continue
		case "updated_at":
			merged[field] = laterTime(l[field], s[field])
			continue
		case "is_synced":
			continue
		}
		if policy.isDerived(field) {
			merged[field] = pick(s[field], l[field])
			continue
		}
		localChanged := !sameJSON(b[field], l[field])
		serverChanged := !sameJSON(b[field], s[field])
		switch {
		case !localChanged:
			merged[field] = s[field]
		case !serverChanged:
			merged[field] = l[field]
		case sameJSON(l[field], s[field]):
			merged[field] = s[field]
		case localWins(policy.stageOf(field), l, s):
			merged[field] = l[field]
		default:
			merged[field] = s[field]
		}
	}
	for field, value := range merged {
		if value == nil {
			delete(merged, field)
		}
	}
	if policy.settle != nil {
		policy.settle(merged)
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return ChangePayload{}, fmt.Errorf("merge %s: %w", kind, err)
	}
	return NewChangePayload(raw), nil
}

// settleInspections drops a second inspection that the merged first
// inspection no longer allows when the first one was signed after it, as
// re-recording IPM1 does on a single device.
func settleInspections(fields map[string]json.RawMessage) {
	var (
		presented *bool
		decision  Ipm1Decision
	)
	_ = json.Unmarshal(fields["svi_ipm1_presentee_inspection"], &presented)
	_ = json.Unmarshal(fields["svi_ipm1_decision"], &decision)
	if presented != nil && *presented && decision == Ipm1MiseEnConsigne {
		return
	}
	ipm1, ipm2 := timeOf(fields["svi_ipm1_signed_at"]), timeOf(fields["svi_ipm2_signed_at"])
	if ipm1.IsZero() || ipm1.Before(ipm2) {
		return
	}
	for field := range fields {
		if strings.HasPrefix(field, "svi_ipm2_") {
			delete(fields, field)
		}
	}
}

// StageChanged reports whether a field owned by the named stage differs
// between two versions of a record. Custody fields belong to the custody
// stage only.
func StageChanged(kind RecordKind, stage string, a, b ChangePayload) (bool, error) {
	policy, ok := mergePolicies[kind]
	if !ok {
		return false, InvalidFieldError{Field: "kind", Value: kind, Reason: "records of this kind are not merged"}
	}
	x, err := a.Fields()
	if err != nil {
		return false, err
	}
	y, err := b.Fields()
	if err != nil {
		return false, err
	}
	for _, field := range unionFields(x, y) {
		owner := policy.stageOf(field)
		if policy.custody != nil && policy.custody.owns(field) {
			owner = *policy.custody
		}
		if owner.name == stage && !sameJSON(x[field], y[field]) {
			return true, nil
		}
	}
	return false, nil
}

// Merge is MergeRecord over typed records.
func Merge[T any](kind RecordKind, base ChangePayload, local, server T) (T, error) {
	var zero T
	l, err := NewChangePayloadFromValue(local)
	if err != nil {
		return zero, err
	}
	s, err := NewChangePayloadFromValue(server)
	if err != nil {
		return zero, err
	}
	merged, err := MergeRecord(kind, base, l, s)
	if err != nil {
		return zero, err
	}
	out, ok := DecodePayload[T](merged)
	if !ok {
		return zero, fmt.Errorf("merge %s: decode merged record", kind)
	}
	return out, nil
}

func (p mergePolicy) mergeCustody(b, l, s map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	localChanged, serverChanged := false, false
	for _, field := range unionFields(b, l, s) {
		if !p.custody.owns(field) {
			continue
		}
		if !sameJSON(b[field], l[field]) {
			localChanged = true
		}
		if !sameJSON(b[field], s[field]) {
			serverChanged = true
		}
	}
	switch {
	case !localChanged:
		return s, nil
	case !serverChanged:
		return l, nil
	}
	if p.ownerKey != nil {
		base, mine, theirs := p.ownerKey(b), p.ownerKey(l), p.ownerKey(s)
		switch {
		case mine != base && theirs != base && mine != theirs:
			var numero string
			_ = json.Unmarshal(pick(s["numero"], l["numero"]), &numero)
			return nil, TransferConflictError{FeiNumero: numero, LocalOwner: mine, ServerOwner: theirs}
		case mine != base && theirs == base:
			return l, nil
		case theirs != base && mine == base:
			return s, nil
		}
	}
	if localWins(*p.custody, l, s) {
		return l, nil
	}
	return s, nil
}

func localWins(stage mergeStage, l, s map[string]json.RawMessage) bool {
	if stage.signedAt != "" {
		lt, st := timeOf(l[stage.signedAt]), timeOf(s[stage.signedAt])
		if !lt.Equal(st) {
			return lt.After(st)
		}
	}
	return timeOf(l["updated_at"]).After(timeOf(s["updated_at"]))
}

func timeOf(raw json.RawMessage) time.Time {
	var t time.Time
	if isAbsentJSON(raw) {
		return t
	}
	_ = json.Unmarshal(raw, &t)
	return t
}

func laterTime(a, b json.RawMessage) json.RawMessage {
	if timeOf(a).After(timeOf(b)) {
		return a
	}
	return pick(b, a)
}

func pick(preferred, fallback json.RawMessage) json.RawMessage {
	if preferred != nil {
		return preferred
	}
	return fallback
}

func unionFields(maps ...map[string]json.RawMessage) []string {
	seen := map[string]struct{}{}
	for _, m := range maps {
		for field := range m {
			seen[field] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for field := range seen {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}
