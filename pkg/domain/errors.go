package domain

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidTransitionError is returned when a requested custody or disposition
// step is not reachable from the current state. It is never retried.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition from %s to %s", orUnset(e.From), orUnset(e.To))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// MissingRequiredFieldError blocks a commit until the named field is filled.
type MissingRequiredFieldError struct {
	Field  string
	Reason string
}

func (e MissingRequiredFieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required field %s", e.Field)
	}
	return fmt.Sprintf("missing required field %s: %s", e.Field, e.Reason)
}

// Field names reported for the depot and transport declarations.
const (
	FieldDepotType      = "premier_detenteur_depot_type"
	FieldDepotEntity    = "premier_detenteur_depot_entity_id"
	FieldDepotAt        = "premier_detenteur_depot_at"
	FieldTransportType  = "premier_detenteur_transport_type"
	FieldTransportDate  = "premier_detenteur_transport_date"
	FieldTrichineAck    = "acknowledged_trichine_warning"
	FieldInterDepotType = "intermediaire_depot_type"
	FieldInterDepot     = "intermediaire_depot_entity_id"
)

// IsMissingDepotInfo reports whether err names a depot declaration field.
func IsMissingDepotInfo(err error) bool {
	var missing MissingRequiredFieldError
	if !errors.As(err, &missing) {
		return false
	}
	return strings.Contains(missing.Field, "depot")
}

// IsMissingTransportInfo reports whether err names a transport declaration field.
func IsMissingTransportInfo(err error) bool {
	var missing MissingRequiredFieldError
	if !errors.As(err, &missing) {
		return false
	}
	return strings.Contains(missing.Field, "transport")
}

// InvalidFieldError reports a value outside the accepted domain of a field.
type InvalidFieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// TransferConflictError is raised at sync time when two devices moved the
// custody of one FEI concurrently. The losing side's batch is discarded.
type TransferConflictError struct {
	FeiNumero   string
	LocalOwner  string
	ServerOwner string
}

func (e TransferConflictError) Error() string {
	return fmt.Sprintf("transfer conflict on fei %s: local owner %s, server owner %s", e.FeiNumero, orUnset(e.LocalOwner), orUnset(e.ServerOwner))
}

// PersistenceFailureError wraps a transient storage or network failure.
type PersistenceFailureError struct {
	Op  string
	Err error
}

func (e PersistenceFailureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceFailureError) Unwrap() error {
	return e.Err
}

// DerivationInconsistencyError reports a stored status that differs from the
// status derived from the raw inspection fields. It is a defect.
type DerivationInconsistencyError struct {
	CarcasseID string
	Stored     CarcasseStatus
	Derived    CarcasseStatus
}

func (e DerivationInconsistencyError) Error() string {
	return fmt.Sprintf("carcasse %s: stored status %s, derived %s", e.CarcasseID, orUnset(string(e.Stored)), e.Derived)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Kind RecordKind
	Key  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var b strings.Builder
	b.WriteString("transaction blocked by rules")
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		fmt.Fprintf(&b, "; %s: %s", v.Rule, v.Message)
	}
	return b.String()
}

// IsRetryable reports whether err is transient and the operation may be
// attempted again without user action.
func IsRetryable(err error) bool {
	var failure PersistenceFailureError
	return errors.As(err, &failure)
}

func orUnset(v string) string {
	if v == "" {
		return "<unset>"
	}
	return v
}
