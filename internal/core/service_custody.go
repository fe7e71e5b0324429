package core

import (
	"context"
	"sort"
	"time"

	"zacharie/pkg/domain"
)

// Audit actions recorded by the custody operations.
const (
	AuditFeiCreated          = "fei.create"
	AuditCarcasseCreated     = "carcasse.create"
	AuditExamination         = "carcasse.examination"
	AuditApprobation         = "fei.approbation_mise_sur_le_marche"
	AuditDepotDeclared       = "fei.depot"
	AuditProposal            = "fei.next_owner"
	AuditCarcasseProposal    = "carcasse.next_owner"
	AuditProposalCleared     = "fei.next_owner_cleared"
	AuditTransfer            = "fei.transfer"
	AuditCarcasseTransfer    = "carcasse.transfer"
	AuditCustodyClaimed      = "fei.current_owner_claimed"
	AuditIntermediaire       = "carcasse_intermediaire.decision"
	AuditCarcasseIntermed    = "carcasse.intermediaire"
	AuditFeiIntermediaire    = "fei.latest_intermediaire"
	AuditCarcasseCustodySync = "carcasse.custody"
)

// NewFeiInput is what the examiner declares when opening a FEI.
type NewFeiInput struct {
	Numero           string
	DateMiseAMort    *time.Time
	CommuneMiseAMort string
	Carcasses        []domain.NewCarcasseInput
}

// CreateFei opens a FEI held by the examining actor, with its carcasses.
func (s *Service) CreateFei(ctx context.Context, actor Actor, in NewFeiInput) (Fei, Result, error) {
	var created Fei
	res, err := s.run(ctx, "create_fei", actor, in.Numero, func(ss *session) error {
		fei, err := domain.NewFei(in.Numero, actor)
		if err != nil {
			return err
		}
		fei.DateMiseAMort = in.DateMiseAMort
		fei.CommuneMiseAMort = in.CommuneMiseAMort
		if user, ok := ss.tx.FindUser(actor.UserID); ok {
			fei.FeiCurrentOwnerUserNameCache = user.DisplayName()
		}
		created, err = ss.tx.CreateFei(fei)
		if err != nil {
			return err
		}
		if _, err := ss.record(AuditFeiCreated, created, nil, created, auditRef{}); err != nil {
			return err
		}
		for _, c := range in.Carcasses {
			if _, err := ss.addCarcasse(created, c); err != nil {
				return err
			}
		}
		return nil
	})
	return created, res, err
}

// AddCarcasse declares one more carcass on a FEI still being examined.
func (s *Service) AddCarcasse(ctx context.Context, actor Actor, numero string, in domain.NewCarcasseInput) (Carcasse, Result, error) {
	var created Carcasse
	res, err := s.run(ctx, "add_carcasse", actor, numero, func(ss *session) error {
		fei, _, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		if err := domain.CheckExaminerStage(fei, actor); err != nil {
			return err
		}
		created, err = ss.addCarcasse(fei, in)
		return err
	})
	return created, res, err
}

func (ss *session) addCarcasse(fei Fei, in domain.NewCarcasseInput) (Carcasse, error) {
	c, err := domain.NewCarcasse(fei, ss.tx.ListCarcasses(fei.Numero), in)
	if err != nil {
		return Carcasse{}, err
	}
	created, err := ss.tx.CreateCarcasse(c)
	if err != nil {
		return Carcasse{}, err
	}
	_, err = ss.record(AuditCarcasseCreated, fei, nil, created, auditRef{carcasseID: created.ZacharieCarcasseID})
	return created, err
}

// RecordExamination stores the examiner's finding on a carcass and signs it.
func (s *Service) RecordExamination(ctx context.Context, actor Actor, carcasseID string, e domain.Examination) (Carcasse, Result, error) {
	var out Carcasse
	res, err := s.run(ctx, "record_examination", actor, "", func(ss *session) error {
		fei, c, err := ss.loadCarcasse(carcasseID)
		if err != nil {
			return err
		}
		next, err := domain.RecordExamination(fei, c, e, actor)
		if err != nil {
			return err
		}
		out = c
		if diff, err := changed(c, next); err != nil || !diff {
			return err
		}
		at := ss.now
		next.ExaminateurSignedAt = &at
		out, _, err = ss.saveCarcasse(AuditExamination, fei, c, next, nil)
		return err
	})
	return out, res, err
}

// ApproveMiseSurLeMarche records the examiner's approval of the FEI.
func (s *Service) ApproveMiseSurLeMarche(ctx context.Context, actor Actor, numero string) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "approve_mise_sur_le_marche", actor, numero, func(ss *session) error {
		fei, carcasses, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		next, err := domain.ApproveMiseSurLeMarche(fei, carcasses, actor, ss.now)
		if err != nil {
			return err
		}
		out, _, err = ss.saveFei(AuditApprobation, fei, fei, next, nil)
		return err
	})
	return out, res, err
}

// DeclarePremierDetenteurDepot records where the premier détenteur left the
// carcasses and who carries them.
func (s *Service) DeclarePremierDetenteurDepot(ctx context.Context, actor Actor, numero string, decl domain.DepotDeclaration) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "declare_depot", actor, numero, func(ss *session) error {
		fei, _, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		var depot Entity
		if decl.DepotEntityID != "" {
			depot, _ = ss.tx.FindEntity(decl.DepotEntityID)
		}
		next, err := domain.DeclarePremierDetenteurDepot(fei, actor, decl, depot)
		if err != nil {
			return err
		}
		out, _, err = ss.saveFei(AuditDepotDeclared, fei, fei, next, nil)
		return err
	})
	return out, res, err
}

// CandidateRef names the proposed next holder: an entity, or a user acting
// as premier détenteur in their own name.
type CandidateRef struct {
	EntityID string
	UserID   string
}

func (ss *session) resolveCandidate(ref CandidateRef) (domain.Candidate, error) {
	switch {
	case ref.EntityID != "":
		e, ok := ss.tx.FindEntity(ref.EntityID)
		if !ok {
			return domain.Candidate{}, domain.NotFoundError{Kind: domain.KindEntity, Key: ref.EntityID}
		}
		return domain.EntityCandidate(e), nil
	case ref.UserID != "":
		u, ok := ss.tx.FindUser(ref.UserID)
		if !ok {
			return domain.Candidate{}, domain.NotFoundError{Kind: domain.KindUser, Key: ref.UserID}
		}
		return domain.UserCandidate(u), nil
	}
	return domain.Candidate{}, domain.MissingRequiredFieldError{Field: "fei_next_owner_entity_id", Reason: "name the next holder"}
}

// mirror refreshes the custody caches of every carcass from fei.
func (ss *session) mirror(action string, attributed, fei Fei, carcasses []Carcasse, ack *bool) error {
	for _, c := range carcasses {
		if _, _, err := ss.saveCarcasse(action, attributed, c, domain.MirrorCustody(fei, c), ack); err != nil {
			return err
		}
	}
	return nil
}

// ProposeNextHolder records the tentative next holder of the FEI. Custody
// does not move until CommitTransfer.
func (s *Service) ProposeNextHolder(ctx context.Context, actor Actor, numero string, ref CandidateRef) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "propose_next_holder", actor, numero, func(ss *session) error {
		fei, carcasses, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		candidate, err := ss.resolveCandidate(ref)
		if err != nil {
			return err
		}
		next, err := domain.ProposeNextHolder(fei, carcasses, candidate, actor)
		if err != nil {
			return err
		}
		if out, _, err = ss.saveFei(AuditProposal, fei, fei, next, nil); err != nil {
			return err
		}
		return ss.mirror(AuditCarcasseProposal, fei, next, carcasses, nil)
	})
	return out, res, err
}

// ClearProposal withdraws the tentative next holder.
func (s *Service) ClearProposal(ctx context.Context, actor Actor, numero string) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "clear_proposal", actor, numero, func(ss *session) error {
		fei, carcasses, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		next, err := domain.ClearProposal(fei, actor)
		if err != nil {
			return err
		}
		if out, _, err = ss.saveFei(AuditProposalCleared, fei, fei, next, nil); err != nil {
			return err
		}
		return ss.mirror(AuditCarcasseProposal, fei, next, carcasses, nil)
	})
	return out, res, err
}

// CommitTransfer moves custody to the proposed holder. The FEI and every live
// carcass are rewritten in one transaction; a failure on any of them leaves
// all of them untouched. acknowledgedTrichine records that the actor saw the
// trichinosis warning; it is kept on the audit entries when the recipient
// requires it.
func (s *Service) CommitTransfer(ctx context.Context, actor Actor, numero string, acknowledgedTrichine bool) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "commit_transfer", actor, numero, func(ss *session) error {
		fei, carcasses, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		plan, err := domain.PlanTransfer(fei, carcasses, actor, acknowledgedTrichine, ss.now)
		if err != nil {
			return err
		}
		var ack *bool
		if domain.RequiresTrichineAck(plan.To, carcasses) {
			ack = &plan.AcknowledgedTrichine
		}
		if out, _, err = ss.saveFei(AuditTransfer, fei, fei, plan.Fei, ack); err != nil {
			return err
		}
		before := make(map[string]Carcasse, len(carcasses))
		for _, c := range carcasses {
			before[c.ZacharieCarcasseID] = c
		}
		for _, next := range plan.Carcasses {
			if _, _, err := ss.saveCarcasse(AuditCarcasseTransfer, fei, before[next.ZacharieCarcasseID], next, ack); err != nil {
				return err
			}
		}
		ss.events = append(ss.events, CustodyEvent{
			Type:       domain.CustodyTransferred,
			FeiNumero:  numero,
			FromRole:   plan.From,
			ToRole:     plan.To,
			ToEntityID: plan.Fei.FeiCurrentOwnerEntityID,
			UserID:     actor.UserID,
			At:         ss.now,
		})
		return nil
	})
	return out, res, err
}

// ClaimCustody records the user of the holding entity who takes charge.
func (s *Service) ClaimCustody(ctx context.Context, actor Actor, numero string) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "claim_custody", actor, numero, func(ss *session) error {
		fei, _, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		next, err := domain.ClaimCustody(fei, actor)
		if err != nil {
			return err
		}
		if user, ok := ss.tx.FindUser(actor.UserID); ok {
			next.FeiCurrentOwnerUserNameCache = user.DisplayName()
		}
		var wrote bool
		if out, wrote, err = ss.saveFei(AuditCustodyClaimed, fei, fei, next, nil); err != nil || !wrote {
			return err
		}
		ss.events = append(ss.events, CustodyEvent{
			Type:       domain.CustodyClaimed,
			FeiNumero:  numero,
			ToRole:     next.FeiCurrentOwnerRole,
			ToEntityID: next.FeiCurrentOwnerEntityID,
			UserID:     actor.UserID,
			At:         ss.now,
		})
		return nil
	})
	return out, res, err
}

// RecordIntermediaire stores an intermediary's decision on one carcass and
// refreshes the FEI projection of the latest intermediary.
func (s *Service) RecordIntermediaire(ctx context.Context, actor Actor, d domain.IntermediaireDecision) (CarcasseIntermediaire, Result, error) {
	var out CarcasseIntermediaire
	res, err := s.run(ctx, "record_intermediaire", actor, "", func(ss *session) error {
		fei, c, err := ss.loadCarcasse(d.CarcasseID)
		if err != nil {
			return err
		}
		id := domain.IntermediaireID(fei.Numero, fei.FeiCurrentOwnerEntityID, c.ZacharieCarcasseID)
		existing, had := ss.tx.Snapshot().FindIntermediaire(id)
		var prev *CarcasseIntermediaire
		var before any
		if had {
			prev = &existing
			before = existing
		}
		hop, nextC, err := domain.RecordIntermediaire(fei, c, prev, d, actor)
		if err != nil {
			return err
		}
		out = existing
		hopChanged := !had
		if had {
			if hopChanged, err = changed(existing, hop); err != nil {
				return err
			}
		}
		carcasseChanged, err := changed(c, nextC)
		if err != nil {
			return err
		}
		if !hopChanged && !carcasseChanged {
			return nil
		}

		at := ss.now
		hop.SignedAt = &at
		if out, err = ss.tx.SaveIntermediaire(hop); err != nil {
			return err
		}
		if _, err := ss.record(AuditIntermediaire, fei, before, out, auditRef{carcasseID: c.ZacharieCarcasseID, intermediaireID: out.ID}); err != nil {
			return err
		}
		nextC.IntermediaireSignedAt = &at
		nextC = domain.RefreshStatus(nextC, at)
		if _, _, err := ss.saveCarcasse(AuditCarcasseIntermed, fei, c, nextC, nil); err != nil {
			return err
		}
		projected := domain.ProjectLatestIntermediaire(fei, ss.tx.ListIntermediaires(fei.Numero))
		_, _, err = ss.saveFei(AuditFeiIntermediaire, fei, fei, projected, nil)
		return err
	})
	return out, res, err
}

// CandidateOption is a party the holder may propose, flagged when the actor
// declared it as a direct partner.
type CandidateOption struct {
	domain.Candidate
	Partner bool
}

// ListCandidates lists the parties reachable from the current holder of the
// FEI: direct partners first, then every entity of an allowed type by name.
func (s *Service) ListCandidates(ctx context.Context, actor Actor, numero string) ([]CandidateOption, error) {
	var out []CandidateOption
	err := s.view(ctx, "list_candidates", numero, func(v TransactionView) error {
		fei, ok := v.FindFei(numero)
		if !ok {
			return domain.NotFoundError{Kind: domain.KindFei, Key: numero}
		}
		if !domain.HoldsCustody(fei, actor) {
			return domain.InvalidTransitionError{From: string(fei.FeiCurrentOwnerRole), Reason: "only the holder lists the next holders"}
		}
		allowed := map[domain.EntityType]struct{}{}
		for _, t := range domain.AllowedRecipients(fei.FeiCurrentOwnerRole) {
			allowed[t] = struct{}{}
		}
		partners := map[string]struct{}{}
		for _, id := range actor.PartnerEntityIDs() {
			partners[id] = struct{}{}
		}
		if _, ok := allowed[domain.EntityTypePremierDetenteur]; ok {
			if user, ok := v.FindUser(actor.UserID); ok && user.HasRole(domain.RolePremierDetenteur) {
				out = append(out, CandidateOption{Candidate: domain.UserCandidate(user)})
			}
		}
		for _, e := range v.ListEntities() {
			if _, ok := allowed[e.Type]; !ok || e.ID == fei.FeiCurrentOwnerEntityID {
				continue
			}
			_, partner := partners[e.ID]
			out = append(out, CandidateOption{Candidate: domain.EntityCandidate(e), Partner: partner})
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Partner != out[j].Partner {
				return out[i].Partner
			}
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].EntityID < out[j].EntityID
		})
		return nil
	})
	return out, err
}

// GetFei returns the FEI and its live carcasses.
func (s *Service) GetFei(ctx context.Context, numero string) (Fei, []Carcasse, error) {
	var (
		fei       Fei
		carcasses []Carcasse
	)
	err := s.view(ctx, "get_fei", numero, func(v TransactionView) error {
		var ok bool
		fei, ok = v.FindFei(numero)
		if !ok {
			return domain.NotFoundError{Kind: domain.KindFei, Key: numero}
		}
		carcasses = domain.LiveCarcasses(v.ListCarcasses(numero))
		return nil
	})
	return fei, carcasses, err
}
