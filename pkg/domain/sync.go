package domain

import "time"

// PendingChange is an outbox entry for a record mutated locally and not yet
// acknowledged by the server. Base holds the last acknowledged version and is
// undefined for records created offline.
type PendingChange struct {
	Kind          RecordKind    `json:"kind"`
	Key           string        `json:"key"`
	FeiNumero     string        `json:"fei_numero"`
	Base          ChangePayload `json:"base"`
	Revision      int64         `json:"revision"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	QueuedAt      time.Time     `json:"queued_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
}

// SyncRecord is one record of a batch pushed to the server.
type SyncRecord struct {
	Kind     RecordKind    `json:"kind"`
	Key      string        `json:"key"`
	Revision int64         `json:"revision"`
	Base     ChangePayload `json:"base"`
	Local    ChangePayload `json:"local"`
}

// SyncBatch groups every pending record of one FEI. The server applies a batch
// in a single transaction so that a custody transfer and the carcass caches it
// touched are never split.
type SyncBatch struct {
	FeiNumero string       `json:"fei_numero"`
	UserID    string       `json:"user_id"`
	Records   []SyncRecord `json:"records"`
}

// SyncRef names the revision of a record the server accepted.
type SyncRef struct {
	Kind     RecordKind `json:"kind"`
	Key      string     `json:"key"`
	Revision int64      `json:"revision"`
}

// SyncAck is the server's answer to an accepted batch: the revisions it
// applied and its canonical state of the FEI afterwards.
type SyncAck struct {
	FeiNumero string       `json:"fei_numero"`
	Accepted  []SyncRef    `json:"accepted"`
	Snapshot  SyncSnapshot `json:"snapshot"`
}

// SyncSnapshot is the server's canonical state for a set of FEIs.
type SyncSnapshot struct {
	Feis           []Fei                   `json:"feis"`
	Carcasses      []Carcasse              `json:"carcasses"`
	Intermediaires []CarcasseIntermediaire `json:"intermediaires"`
	PulledAt       time.Time               `json:"pulled_at"`
}

// ForFei narrows the snapshot to the records of one FEI.
func (s SyncSnapshot) ForFei(numero string) SyncSnapshot {
	out := SyncSnapshot{PulledAt: s.PulledAt}
	for _, f := range s.Feis {
		if f.Numero == numero {
			out.Feis = append(out.Feis, f)
		}
	}
	for _, c := range s.Carcasses {
		if c.FeiNumero == numero {
			out.Carcasses = append(out.Carcasses, c)
		}
	}
	for _, ci := range s.Intermediaires {
		if ci.FeiNumero == numero {
			out.Intermediaires = append(out.Intermediaires, ci)
		}
	}
	return out
}

// CustodyEventType names the notifications published around custody changes.
type CustodyEventType string

// Custody notifications.
const (
	CustodyTransferred CustodyEventType = "transferred"
	CustodyClaimed     CustodyEventType = "claimed"
	CustodyConflict    CustodyEventType = "conflict"
	SviClosed          CustodyEventType = "svi_closed"
)

// CustodyEvent informs parties that a FEI changed hands or that a local
// transfer was discarded after a conflict.
type CustodyEvent struct {
	Type       CustodyEventType `json:"type"`
	FeiNumero  string           `json:"fei_numero"`
	FromRole   Role             `json:"from_role,omitempty"`
	ToRole     Role             `json:"to_role,omitempty"`
	ToEntityID string           `json:"to_entity_id,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	At         time.Time        `json:"at"`
}
