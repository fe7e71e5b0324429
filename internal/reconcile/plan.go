package reconcile

import (
	"errors"

	"zacharie/pkg/domain"
)

// Conflict is a batch the server is known to reject: the device and the
// server both moved the FEI to different holders since the last pull.
type Conflict struct {
	FeiNumero string
	Err       error
}

// Plan splits the pending batches of a device into those worth pushing and
// those that already conflict with the pulled server state.
type Plan struct {
	Push      []domain.SyncBatch
	Conflicts []Conflict
}

// BuildPlan merges every pending record against its pulled server version.
// A custody conflict on any record of a batch moves the whole batch to the
// conflicts, since a FEI and its carcasses are never split. Other merge
// failures are left for the server to report.
func BuildPlan(batches []domain.SyncBatch, snapshot domain.SyncSnapshot) (Plan, error) {
	server, err := indexSnapshot(snapshot)
	if err != nil {
		return Plan{}, err
	}
	var plan Plan
	for _, batch := range batches {
		if conflict := batchConflict(batch, server); conflict != nil {
			plan.Conflicts = append(plan.Conflicts, Conflict{FeiNumero: batch.FeiNumero, Err: conflict})
			continue
		}
		plan.Push = append(plan.Push, batch)
	}
	return plan, nil
}

func batchConflict(batch domain.SyncBatch, server map[recordRef]domain.ChangePayload) error {
	for _, rec := range batch.Records {
		if !rec.Base.Defined() {
			continue
		}
		current, ok := server[recordRef{kind: rec.Kind, key: rec.Key}]
		if !ok {
			continue
		}
		_, err := domain.MergeRecord(rec.Kind, rec.Base, rec.Local, current)
		var conflict domain.TransferConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
	}
	return nil
}

type recordRef struct {
	kind domain.RecordKind
	key  string
}

func indexSnapshot(snapshot domain.SyncSnapshot) (map[recordRef]domain.ChangePayload, error) {
	out := make(map[recordRef]domain.ChangePayload, len(snapshot.Feis)+len(snapshot.Carcasses)+len(snapshot.Intermediaires))
	add := func(kind domain.RecordKind, key string, v any) error {
		payload, err := domain.NewChangePayloadFromValue(v)
		if err != nil {
			return err
		}
		out[recordRef{kind: kind, key: key}] = payload
		return nil
	}
	for _, f := range snapshot.Feis {
		if err := add(domain.KindFei, f.Numero, f); err != nil {
			return nil, err
		}
	}
	for _, c := range snapshot.Carcasses {
		if err := add(domain.KindCarcasse, c.ZacharieCarcasseID, c); err != nil {
			return nil, err
		}
	}
	for _, ci := range snapshot.Intermediaires {
		if err := add(domain.KindIntermediaire, ci.ID, ci); err != nil {
			return nil, err
		}
	}
	return out, nil
}
