package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// History maps a field name to its [before, after] JSON values.
type History map[string][2]json.RawMessage

// Fields returns the changed field names in sorted order.
func (h History) Fields() []string {
	out := make([]string, 0, len(h))
	for field := range h {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// bookkeepingFields never appear in an audit diff; they move on every write.
var bookkeepingFields = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"is_synced":  {},
}

// Diff compares the JSON encodings of two records field by field. A nil
// before value diffs against an empty record.
func Diff(before, after any) (History, error) {
	left, err := fieldsOf(before)
	if err != nil {
		return nil, fmt.Errorf("diff before: %w", err)
	}
	right, err := fieldsOf(after)
	if err != nil {
		return nil, fmt.Errorf("diff after: %w", err)
	}
	history := History{}
	for field, value := range right {
		if _, skip := bookkeepingFields[field]; skip {
			continue
		}
		if prev, ok := left[field]; !ok || !sameJSON(prev, value) {
			if !ok && isZeroJSON(value) {
				continue
			}
			history[field] = [2]json.RawMessage{left[field], value}
		}
	}
	for field, value := range left {
		if _, skip := bookkeepingFields[field]; skip {
			continue
		}
		if _, ok := right[field]; !ok {
			history[field] = [2]json.RawMessage{value, nil}
		}
	}
	return history, nil
}

func fieldsOf(v any) (map[string]json.RawMessage, error) {
	if v == nil {
		return map[string]json.RawMessage{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	return isAbsentJSON(a) && isAbsentJSON(b)
}

// isAbsentJSON treats null, "", [] and {} as one absent value so that a nil
// slice and an empty slice never produce a spurious diff.
func isAbsentJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// isZeroJSON additionally ignores false and 0 when a record is created.
func isZeroJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "false", "0":
		return true
	}
	return isAbsentJSON(raw)
}

// AuditEntry is the immutable trace of one state-changing operation on one record.
type AuditEntry struct {
	ID                          string    `json:"id"`
	UserID                      string    `json:"user_id"`
	UserRole                    Role      `json:"user_role"`
	Action                      string    `json:"action"`
	FeiNumero                   string    `json:"fei_numero"`
	History                     History   `json:"history"`
	EntityID                    string    `json:"entity_id"`
	CarcasseID                  string    `json:"carcasse_id,omitempty"`
	IntermediaireID             string    `json:"intermediaire_id,omitempty"`
	AcknowledgedTrichineWarning *bool     `json:"acknowledged_trichine_warning,omitempty"`
	CreatedAt                   time.Time `json:"created_at"`
}
