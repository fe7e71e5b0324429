package memory

import (
	"encoding/json"
	"fmt"
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Feis           map[string]Fei                   `json:"feis"`
	Carcasses      map[string]Carcasse              `json:"carcasses"`
	Intermediaires map[string]CarcasseIntermediaire `json:"intermediaires"`
	Entities       map[string]Entity                `json:"entities"`
	Users          map[string]User                  `json:"users"`
	Relations      map[string]EntityRelation        `json:"relations"`
	Audit          []AuditEntry                     `json:"audit"`
	Pending        []PendingChange                  `json:"pending"`
	Revision       int64                            `json:"revision"`
}

// Buckets names the snapshot sections persisted by the SQL stores, one row each.
var Buckets = []string{"feis", "carcasses", "intermediaires", "entities", "users", "relations", "audit", "pending", "revision"}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	pending := transactionView{state: &c}.ListPending()
	return Snapshot{
		Feis:           c.feis,
		Carcasses:      c.carcasses,
		Intermediaires: c.intermediaires,
		Entities:       c.entities,
		Users:          c.users,
		Relations:      c.relations,
		Audit:          c.audit,
		Pending:        pending,
		Revision:       c.revision,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Feis {
		state.feis[k] = v
	}
	for k, v := range s.Carcasses {
		state.carcasses[k] = cloneCarcasse(v)
	}
	for k, v := range s.Intermediaires {
		state.intermediaires[k] = v
	}
	for k, v := range s.Entities {
		state.entities[k] = v
	}
	for k, v := range s.Users {
		state.users[k] = cloneUser(v)
	}
	for k, v := range s.Relations {
		state.relations[k] = v
	}
	state.audit = append(state.audit, s.Audit...)
	state.revision = s.Revision
	for _, p := range s.Pending {
		state.pending[pendingKey(p.Kind, p.Key)] = p
		if p.Revision > state.revision {
			state.revision = p.Revision
		}
	}
	return state
}

// EncodeBuckets marshals each snapshot section to JSON keyed by bucket name.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case "feis":
			data, err = json.Marshal(s.Feis)
		case "carcasses":
			data, err = json.Marshal(s.Carcasses)
		case "intermediaires":
			data, err = json.Marshal(s.Intermediaires)
		case "entities":
			data, err = json.Marshal(s.Entities)
		case "users":
			data, err = json.Marshal(s.Users)
		case "relations":
			data, err = json.Marshal(s.Relations)
		case "audit":
			data, err = json.Marshal(s.Audit)
		case "pending":
			data, err = json.Marshal(s.Pending)
		case "revision":
			data, err = json.Marshal(s.Revision)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from persisted bucket payloads. Unknown
// buckets and empty payloads are ignored.
func DecodeBuckets(buckets map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	targets := map[string]any{
		"feis":           &snapshot.Feis,
		"carcasses":      &snapshot.Carcasses,
		"intermediaires": &snapshot.Intermediaires,
		"entities":       &snapshot.Entities,
		"users":          &snapshot.Users,
		"relations":      &snapshot.Relations,
		"audit":          &snapshot.Audit,
		"pending":        &snapshot.Pending,
		"revision":       &snapshot.Revision,
	}
	for bucket, payload := range buckets {
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}
