package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"zacharie/pkg/domain"
)

// Audit actions recorded while exchanging records with the server.
const (
	AuditSyncFei           = "sync.fei"
	AuditSyncCarcasse      = "sync.carcasse"
	AuditSyncIntermediaire = "sync.carcasse_intermediaire"
	AuditSyncConflict      = "sync.conflict"
)

var syncKindOrder = map[domain.RecordKind]int{
	domain.KindFei:           0,
	domain.KindCarcasse:      1,
	domain.KindIntermediaire: 2,
}

// SyncSnapshot returns the canonical state of the requested FEIs, or of every
// FEI when none is named.
func (s *Service) SyncSnapshot(ctx context.Context, numeros ...string) (domain.SyncSnapshot, error) {
	var out domain.SyncSnapshot
	err := s.view(ctx, "sync_snapshot", "", func(v TransactionView) error {
		out = snapshotOf(v, numeros...)
		return nil
	})
	if err == nil {
		out.PulledAt = s.wallClock()
	}
	return out, err
}

func (s *Service) wallClock() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func snapshotOf(v TransactionView, numeros ...string) domain.SyncSnapshot {
	var out domain.SyncSnapshot
	feis := make([]Fei, 0, len(numeros))
	if len(numeros) == 0 {
		feis = v.ListFeis()
	} else {
		for _, numero := range numeros {
			if f, ok := v.FindFei(numero); ok {
				feis = append(feis, f)
			}
		}
	}
	for _, f := range feis {
		out.Feis = append(out.Feis, f)
		out.Carcasses = append(out.Carcasses, v.ListCarcasses(f.Numero)...)
		out.Intermediaires = append(out.Intermediaires, v.ListIntermediaires(f.Numero)...)
	}
	return out
}

func (ss *session) actorOf(userID string) (Actor, error) {
	user, ok := ss.tx.FindUser(userID)
	if !ok {
		return Actor{}, domain.NotFoundError{Kind: domain.KindUser, Key: userID}
	}
	return Actor{
		UserID:    user.ID,
		Roles:     append([]domain.Role(nil), user.Roles...),
		Relations: ss.tx.Snapshot().ListRelations(user.ID),
	}, nil
}

// AcceptSyncBatch merges the records a device pushed for one FEI into the
// server state. The whole batch commits in one transaction: a custody move
// that conflicts with a concurrent one or that the transfer gates refuse, or
// a change pushed by a user who did not hold the FEI, rejects every record of
// the batch. The acknowledgment carries the accepted revisions and the server
// state of the FEI after the merge.
func (s *Service) AcceptSyncBatch(ctx context.Context, batch domain.SyncBatch) (domain.SyncAck, Result, error) {
	ack := domain.SyncAck{FeiNumero: batch.FeiNumero}
	records := append([]domain.SyncRecord(nil), batch.Records...)
	sort.SliceStable(records, func(i, j int) bool {
		return syncKindOrder[records[i].Kind] < syncKindOrder[records[j].Kind]
	})
	res, err := s.run(ctx, "accept_sync_batch", Actor{UserID: batch.UserID}, batch.FeiNumero, func(ss *session) error {
		actor, err := ss.actorOf(batch.UserID)
		if err != nil {
			return err
		}
		ss.actor = actor
		server, hadFei := ss.tx.FindFei(batch.FeiNumero)
		hops := false
		for _, rec := range records {
			switch rec.Kind {
			case domain.KindFei:
				if rec.Key != batch.FeiNumero {
					return domain.InvalidFieldError{Field: "key", Value: rec.Key, Reason: "record does not belong to the batch fei"}
				}
				if err := ss.acceptFei(rec, server, hadFei); err != nil {
					return err
				}
			case domain.KindCarcasse:
				if err := ss.acceptCarcasse(batch.FeiNumero, rec, server, hadFei); err != nil {
					return err
				}
			case domain.KindIntermediaire:
				if err := ss.acceptIntermediaire(batch.FeiNumero, rec, server, hadFei); err != nil {
					return err
				}
				hops = true
			default:
				return domain.InvalidFieldError{Field: "kind", Value: rec.Kind, Reason: "records of this kind are not synced"}
			}
			ack.Accepted = append(ack.Accepted, domain.SyncRef{Kind: rec.Kind, Key: rec.Key, Revision: rec.Revision})
		}

		fei, ok := ss.tx.FindFei(batch.FeiNumero)
		if !ok {
			return domain.NotFoundError{Kind: domain.KindFei, Key: batch.FeiNumero}
		}
		if hops {
			projected := domain.ProjectLatestIntermediaire(fei, ss.tx.ListIntermediaires(fei.Numero))
			if fei, _, err = ss.saveFei(AuditSyncFei, fei, fei, projected, nil); err != nil {
				return err
			}
		}
		if err := ss.mirror(AuditCarcasseCustodySync, fei, fei, domain.LiveCarcasses(ss.tx.ListCarcasses(fei.Numero)), nil); err != nil {
			return err
		}
		origin := server
		if !hadFei {
			origin = Fei{Numero: fei.Numero, FeiCurrentOwnerRole: domain.RoleExaminateurInitial, FeiCurrentOwnerUserID: fei.ExaminateurInitialUserID}
		}
		if domain.CurrentOwner(origin) != domain.CurrentOwner(fei) {
			gate := domain.ProjectLatestIntermediaire(heldAs(fei, origin), ss.tx.ListIntermediaires(fei.Numero))
			if err := checkSyncedRecipient(gate, fei, ss.tx.ListCarcasses(fei.Numero)); err != nil {
				return err
			}
		}
		if hadFei && domain.CurrentOwner(server) != domain.CurrentOwner(fei) {
			ss.events = append(ss.events, CustodyEvent{
				Type:       domain.CustodyTransferred,
				FeiNumero:  fei.Numero,
				FromRole:   server.FeiCurrentOwnerRole,
				ToRole:     fei.FeiCurrentOwnerRole,
				ToEntityID: fei.FeiCurrentOwnerEntityID,
				UserID:     actor.UserID,
				At:         ss.now,
			})
		}
		ack.Snapshot = snapshotOf(ss.tx.Snapshot(), fei.Numero)
		ack.Snapshot.PulledAt = ss.now
		return nil
	})
	if err != nil {
		return domain.SyncAck{FeiNumero: batch.FeiNumero}, res, err
	}
	return ack, res, nil
}

func (ss *session) acceptFei(rec domain.SyncRecord, server Fei, had bool) error {
	local, ok := domain.DecodePayload[Fei](rec.Local)
	if !ok {
		return domain.InvalidFieldError{Field: "local", Value: rec.Key, Reason: "undecodable fei"}
	}
	if !had {
		if local.ExaminateurInitialUserID != ss.actor.UserID {
			return domain.InvalidTransitionError{To: string(domain.RoleExaminateurInitial), Reason: fmt.Sprintf("fei %s was not opened by user %s", rec.Key, ss.actor.UserID)}
		}
		local.UpdatedAt = ss.now
		stored, err := ss.tx.StoreSyncedFei(local)
		if err != nil {
			return err
		}
		_, err = ss.record(AuditSyncFei, stored, nil, stored, auditRef{})
		return err
	}

	merged, err := domain.Merge(domain.KindFei, rec.Base, local, server)
	if err != nil {
		return err
	}
	if domain.CurrentOwner(merged) != domain.CurrentOwner(server) {
		if err := checkSyncedTransfer(server, merged, ss.actor); err != nil {
			return err
		}
	}
	if diff, err := changed(server, merged); err != nil || !diff {
		return err
	}
	if err := requireSyncHolder(server, ss.actor); err != nil {
		return err
	}
	if err := ss.checkStage(domain.KindFei, server, server, merged, "svi"); err != nil {
		return err
	}
	merged.UpdatedAt = ss.now
	if _, err := ss.record(AuditSyncFei, server, server, merged, auditRef{}); err != nil {
		return err
	}
	_, err = ss.tx.StoreSyncedFei(merged)
	return err
}

// checkSyncedTransfer re-validates a custody move made offline against the
// server version it replaces.
func checkSyncedTransfer(server, merged Fei, actor Actor) error {
	if server.SviClosedAt != nil {
		return domain.InvalidTransitionError{From: "SVI_CLOSED", To: string(merged.FeiCurrentOwnerRole), Reason: fmt.Sprintf("fei %s is closed", server.Numero)}
	}
	to, ok := merged.FeiCurrentOwnerRole.EntityType()
	if !ok || !domain.CanTransfer(server.FeiCurrentOwnerRole, to) {
		return domain.InvalidTransitionError{
			From:   string(server.FeiCurrentOwnerRole),
			To:     string(merged.FeiCurrentOwnerRole),
			Reason: "recipient type is not reachable from the current holder",
		}
	}
	if !domain.HoldsCustody(server, actor) {
		return domain.InvalidTransitionError{
			From:   string(server.FeiCurrentOwnerRole),
			To:     string(merged.FeiCurrentOwnerRole),
			Reason: fmt.Sprintf("user %s does not hold fei %s", actor.UserID, server.Numero),
		}
	}
	return nil
}

// heldAs returns the merged FEI with the custody of the server version, as
// the holder saw it before the move.
func heldAs(merged, server Fei) Fei {
	merged.FeiCurrentOwnerRole = server.FeiCurrentOwnerRole
	merged.FeiCurrentOwnerEntityID = server.FeiCurrentOwnerEntityID
	merged.FeiCurrentOwnerEntityNameCache = server.FeiCurrentOwnerEntityNameCache
	merged.FeiCurrentOwnerUserID = server.FeiCurrentOwnerUserID
	return merged
}

// checkSyncedRecipient re-runs the recipient gates of an offline transfer
// once every record of the batch is merged: examination, depot, transport and
// the trichinosis acknowledgment.
func checkSyncedRecipient(gate, merged Fei, carcasses []Carcasse) error {
	to, _ := merged.FeiCurrentOwnerRole.EntityType()
	candidate := domain.Candidate{
		Type:     to,
		EntityID: merged.FeiCurrentOwnerEntityID,
		Name:     merged.FeiCurrentOwnerEntityNameCache,
		UserID:   merged.FeiCurrentOwnerUserID,
	}
	if err := domain.ValidateRecipient(gate, carcasses, candidate); err != nil {
		return err
	}
	if domain.RequiresTrichineAck(merged.FeiCurrentOwnerRole, carcasses) && !merged.CustodyTrichineAcknowledged {
		return domain.MissingRequiredFieldError{
			Field:  domain.FieldTrichineAck,
			Reason: fmt.Sprintf("%s recipients must be warned about trichinosis testing", merged.FeiCurrentOwnerRole),
		}
	}
	return nil
}

// requireSyncHolder rejects changes pushed by a user who did not hold the FEI
// before the batch.
func requireSyncHolder(server Fei, actor Actor) error {
	if domain.HoldsCustody(server, actor) {
		return nil
	}
	return domain.InvalidTransitionError{
		From:   string(server.FeiCurrentOwnerRole),
		Reason: fmt.Sprintf("user %s does not hold fei %s", actor.UserID, server.Numero),
	}
}

// checkStage applies the veterinary stage gate when a change touches one of
// the named stages.
func (ss *session) checkStage(kind domain.RecordKind, fei Fei, before, after any, stages ...string) error {
	a := domain.UndefinedChangePayload()
	if before != nil {
		var err error
		if a, err = domain.NewChangePayloadFromValue(before); err != nil {
			return err
		}
	}
	b, err := domain.NewChangePayloadFromValue(after)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		touched, err := domain.StageChanged(kind, stage, a, b)
		if err != nil {
			return err
		}
		if touched {
			return domain.CheckSviStage(fei, ss.actor)
		}
	}
	return nil
}

func (ss *session) acceptCarcasse(numero string, rec domain.SyncRecord, server Fei, hadFei bool) error {
	local, ok := domain.DecodePayload[Carcasse](rec.Local)
	if !ok {
		return domain.InvalidFieldError{Field: "local", Value: rec.Key, Reason: "undecodable carcasse"}
	}
	if local.FeiNumero != numero || local.ZacharieCarcasseID != rec.Key {
		return domain.InvalidFieldError{Field: "fei_numero", Value: local.FeiNumero, Reason: "record does not belong to the batch fei"}
	}
	fei, ok := ss.tx.FindFei(numero)
	if !ok {
		return domain.NotFoundError{Kind: domain.KindFei, Key: numero}
	}
	stored, had := ss.tx.FindCarcasse(rec.Key)
	merged := local
	var before any
	if had {
		if stored.FeiNumero != numero {
			return domain.InvalidFieldError{Field: "fei_numero", Value: local.FeiNumero, Reason: "carcasse belongs to another fei"}
		}
		var err error
		if merged, err = domain.Merge(domain.KindCarcasse, rec.Base, local, stored); err != nil {
			return err
		}
		before = stored
	}
	merged = domain.RefreshStatus(domain.MirrorCustody(fei, merged), ss.now)
	if had {
		if diff, err := changed(stored, merged); err != nil || !diff {
			return err
		}
	}
	if hadFei {
		if err := requireSyncHolder(server, ss.actor); err != nil {
			return err
		}
		if err := ss.checkStage(domain.KindCarcasse, server, before, merged, "svi_ipm1", "svi_ipm2"); err != nil {
			return err
		}
	}
	if err := domain.CheckDispositionSequence(merged); err != nil {
		return err
	}
	merged.UpdatedAt = ss.now
	if _, err := ss.record(AuditSyncCarcasse, fei, before, merged, auditRef{carcasseID: merged.ZacharieCarcasseID}); err != nil {
		return err
	}
	_, err := ss.tx.StoreSyncedCarcasse(merged)
	return err
}

func (ss *session) acceptIntermediaire(numero string, rec domain.SyncRecord, server Fei, hadFei bool) error {
	local, ok := domain.DecodePayload[CarcasseIntermediaire](rec.Local)
	if !ok {
		return domain.InvalidFieldError{Field: "local", Value: rec.Key, Reason: "undecodable carcasse_intermediaire"}
	}
	if local.FeiNumero != numero || local.ID != rec.Key {
		return domain.InvalidFieldError{Field: "fei_numero", Value: local.FeiNumero, Reason: "record does not belong to the batch fei"}
	}
	fei, ok := ss.tx.FindFei(numero)
	if !ok {
		return domain.NotFoundError{Kind: domain.KindFei, Key: numero}
	}
	if _, ok := ss.tx.FindCarcasse(local.ZacharieCarcasseID); !ok {
		return domain.NotFoundError{Kind: domain.KindCarcasse, Key: local.ZacharieCarcasseID}
	}
	stored, had := ss.tx.Snapshot().FindIntermediaire(rec.Key)
	merged := local
	var before any
	if had {
		var err error
		if merged, err = domain.Merge(domain.KindIntermediaire, rec.Base, local, stored); err != nil {
			return err
		}
		if diff, err := changed(stored, merged); err != nil || !diff {
			return err
		}
		before = stored
	}
	if hadFei {
		if err := requireSyncHolder(server, ss.actor); err != nil {
			return err
		}
	}
	merged.UpdatedAt = ss.now
	if _, err := ss.record(AuditSyncIntermediaire, fei, before, merged, auditRef{carcasseID: merged.ZacharieCarcasseID, intermediaireID: merged.ID}); err != nil {
		return err
	}
	_, err := ss.tx.StoreSyncedIntermediaire(merged)
	return err
}

// PendingSync groups the device outbox into one batch per FEI, each record
// carrying its current local version.
func (s *Service) PendingSync(ctx context.Context, userID string) ([]domain.SyncBatch, error) {
	var out []domain.SyncBatch
	err := s.view(ctx, "pending_sync", "", func(v TransactionView) error {
		byFei := map[string]*domain.SyncBatch{}
		var order []string
		for _, p := range v.ListPending() {
			local, err := localVersion(v, p.Kind, p.Key)
			if err != nil {
				return err
			}
			batch, ok := byFei[p.FeiNumero]
			if !ok {
				batch = &domain.SyncBatch{FeiNumero: p.FeiNumero, UserID: userID}
				byFei[p.FeiNumero] = batch
				order = append(order, p.FeiNumero)
			}
			batch.Records = append(batch.Records, domain.SyncRecord{
				Kind:     p.Kind,
				Key:      p.Key,
				Revision: p.Revision,
				Base:     p.Base,
				Local:    local,
			})
		}
		sort.Strings(order)
		for _, numero := range order {
			out = append(out, *byFei[numero])
		}
		return nil
	})
	return out, err
}

func localVersion(v TransactionView, kind domain.RecordKind, key string) (domain.ChangePayload, error) {
	var (
		record any
		ok     bool
	)
	switch kind {
	case domain.KindFei:
		record, ok = v.FindFei(key)
	case domain.KindCarcasse:
		record, ok = v.FindCarcasse(key)
	case domain.KindIntermediaire:
		record, ok = v.FindIntermediaire(key)
	default:
		return domain.ChangePayload{}, domain.InvalidFieldError{Field: "kind", Value: kind, Reason: "records of this kind are not synced"}
	}
	if !ok {
		return domain.ChangePayload{}, domain.NotFoundError{Kind: kind, Key: key}
	}
	return domain.NewChangePayloadFromValue(record)
}

// ApplySyncAck drops the acknowledged outbox entries and stores the server
// versions of the FEI. Records written locally after the push stay queued and
// keep their local version.
func (s *Service) ApplySyncAck(ctx context.Context, ack domain.SyncAck) (Result, error) {
	return s.run(ctx, "apply_sync_ack", Actor{}, ack.FeiNumero, func(ss *session) error {
		for _, ref := range ack.Accepted {
			ss.tx.DropPending(ref.Kind, ref.Key, ref.Revision)
		}
		return ss.storeServerVersions(ack.Snapshot)
	})
}

// ApplyServerSnapshot stores server versions pulled from the server. Records
// with pending local changes are left to the next push.
func (s *Service) ApplyServerSnapshot(ctx context.Context, snapshot domain.SyncSnapshot) (Result, error) {
	return s.run(ctx, "apply_server_snapshot", Actor{}, "", func(ss *session) error {
		return ss.storeServerVersions(snapshot)
	})
}

func (ss *session) pendingKeys() map[domain.RecordKind]map[string]struct{} {
	out := map[domain.RecordKind]map[string]struct{}{}
	for _, p := range ss.tx.Snapshot().ListPending() {
		if out[p.Kind] == nil {
			out[p.Kind] = map[string]struct{}{}
		}
		out[p.Kind][p.Key] = struct{}{}
	}
	return out
}

func (ss *session) storeServerVersions(snapshot domain.SyncSnapshot) error {
	pending := ss.pendingKeys()
	isPending := func(kind domain.RecordKind, key string) bool {
		_, ok := pending[kind][key]
		return ok
	}
	touched := map[string]struct{}{}
	for _, f := range snapshot.Feis {
		touched[f.Numero] = struct{}{}
		if isPending(domain.KindFei, f.Numero) {
			continue
		}
		if _, err := ss.tx.StoreSyncedFei(f); err != nil {
			return err
		}
	}
	for _, c := range snapshot.Carcasses {
		touched[c.FeiNumero] = struct{}{}
		if isPending(domain.KindCarcasse, c.ZacharieCarcasseID) {
			continue
		}
		if _, err := ss.tx.StoreSyncedCarcasse(c); err != nil {
			return err
		}
	}
	for _, ci := range snapshot.Intermediaires {
		touched[ci.FeiNumero] = struct{}{}
		if isPending(domain.KindIntermediaire, ci.ID) {
			continue
		}
		if _, err := ss.tx.StoreSyncedIntermediaire(ci); err != nil {
			return err
		}
	}
	return ss.remirror(touched)
}

// remirror realigns the custody caches of carcasses with their FEI where a
// local FEI version kept in the outbox differs from the server's carcasses.
func (ss *session) remirror(numeros map[string]struct{}) error {
	keys := make([]string, 0, len(numeros))
	for numero := range numeros {
		keys = append(keys, numero)
	}
	sort.Strings(keys)
	for _, numero := range keys {
		fei, ok := ss.tx.FindFei(numero)
		if !ok {
			continue
		}
		if err := ss.mirror(AuditCarcasseCustodySync, fei, fei, domain.LiveCarcasses(ss.tx.ListCarcasses(numero)), nil); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPending resolves a rejected batch: every pending change of the FEI
// is dropped, the server versions replace the local ones and records the
// server never saw are soft-deleted. A CustodyConflict event tells the user
// their offline transfer was not applied.
func (s *Service) DiscardPending(ctx context.Context, numero string, snapshot domain.SyncSnapshot, reason string) (Result, error) {
	return s.run(ctx, "discard_pending", Actor{}, numero, func(ss *session) error {
		local, hadLocal := ss.tx.FindFei(numero)
		var dropped []domain.PendingChange
		for _, p := range ss.tx.Snapshot().ListPending() {
			if p.FeiNumero != numero {
				continue
			}
			ss.tx.DropPending(p.Kind, p.Key, p.Revision)
			dropped = append(dropped, p)
		}
		scoped := snapshot.ForFei(numero)
		known := map[string]struct{}{}
		for _, f := range scoped.Feis {
			known[string(domain.KindFei)+"/"+f.Numero] = struct{}{}
		}
		for _, c := range scoped.Carcasses {
			known[string(domain.KindCarcasse)+"/"+c.ZacharieCarcasseID] = struct{}{}
		}
		for _, ci := range scoped.Intermediaires {
			known[string(domain.KindIntermediaire)+"/"+ci.ID] = struct{}{}
		}
		if err := ss.storeServerVersions(scoped); err != nil {
			return err
		}
		for _, p := range dropped {
			if p.Base.Defined() && !p.Base.IsEmpty() {
				continue
			}
			if _, ok := known[string(p.Kind)+"/"+p.Key]; ok {
				continue
			}
			if err := ss.softDeleteLocal(p.Kind, p.Key); err != nil {
				return err
			}
		}

		server, ok := ss.tx.FindFei(numero)
		if hadLocal && ok {
			if _, err := ss.record(AuditSyncConflict, server, local, server, auditRef{}); err != nil {
				return err
			}
		}
		ss.events = append(ss.events, CustodyEvent{
			Type:       domain.CustodyConflict,
			FeiNumero:  numero,
			FromRole:   local.FeiCurrentOwnerRole,
			ToRole:     server.FeiCurrentOwnerRole,
			ToEntityID: server.FeiCurrentOwnerEntityID,
			Reason:     reason,
			At:         ss.now,
		})
		return nil
	})
}

func (ss *session) softDeleteLocal(kind domain.RecordKind, key string) error {
	at := ss.now
	switch kind {
	case domain.KindCarcasse:
		c, ok := ss.tx.FindCarcasse(key)
		if !ok || c.Deleted() {
			return nil
		}
		c.DeletedAt = &at
		_, err := ss.tx.StoreSyncedCarcasse(c)
		return err
	case domain.KindIntermediaire:
		ci, ok := ss.tx.Snapshot().FindIntermediaire(key)
		if !ok || ci.Deleted() {
			return nil
		}
		ci.DeletedAt = &at
		_, err := ss.tx.StoreSyncedIntermediaire(ci)
		return err
	}
	return nil
}

// RecordSyncFailure notes a failed push on every record of the batch so that
// the outbox shows how often and why it was retried.
func (s *Service) RecordSyncFailure(ctx context.Context, batch domain.SyncBatch, reason string) (Result, error) {
	return s.run(ctx, "record_sync_failure", Actor{UserID: batch.UserID}, batch.FeiNumero, func(ss *session) error {
		for _, rec := range batch.Records {
			err := ss.tx.MarkPendingFailed(rec.Kind, rec.Key, reason)
			var missing domain.NotFoundError
			if err != nil && !errors.As(err, &missing) {
				return err
			}
		}
		return nil
	})
}
