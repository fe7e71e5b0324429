package core

import (
	"context"
	"errors"
	"fmt"

	"zacharie/pkg/domain"
)

// Audit actions recorded by the veterinary inspection.
const (
	AuditIpm1      = "carcasse.svi_ipm1"
	AuditIpm2      = "carcasse.svi_ipm2"
	AuditSviClosed = "fei.svi_closed"
)

// RecordIpm1 stores the first post-mortem inspection of a carcass held by
// the actor's veterinary service. Recording the same inspection twice writes
// nothing the second time.
func (s *Service) RecordIpm1(ctx context.Context, actor Actor, carcasseID string, in domain.Ipm1Input) (Carcasse, Result, error) {
	if in.UserID == "" {
		in.UserID = actor.UserID
	}
	return s.recordInspection(ctx, "record_ipm1", actor, carcasseID, AuditIpm1, func(c Carcasse) (Carcasse, error) {
		return domain.RecordIpm1(c, in)
	}, func(c *Carcasse, ss *session) {
		at := ss.now
		c.SviIpm1SignedAt = &at
	})
}

// RecordIpm2 stores the second inspection of a consigned carcass.
func (s *Service) RecordIpm2(ctx context.Context, actor Actor, carcasseID string, in domain.Ipm2Input) (Carcasse, Result, error) {
	if in.UserID == "" {
		in.UserID = actor.UserID
	}
	return s.recordInspection(ctx, "record_ipm2", actor, carcasseID, AuditIpm2, func(c Carcasse) (Carcasse, error) {
		return domain.RecordIpm2(c, in)
	}, func(c *Carcasse, ss *session) {
		at := ss.now
		c.SviIpm2SignedAt = &at
	})
}

func (s *Service) recordInspection(
	ctx context.Context,
	op string,
	actor Actor,
	carcasseID string,
	action string,
	apply func(Carcasse) (Carcasse, error),
	sign func(*Carcasse, *session),
) (Carcasse, Result, error) {
	var out Carcasse
	res, err := s.run(ctx, op, actor, "", func(ss *session) error {
		fei, c, err := ss.loadCarcasse(carcasseID)
		if err != nil {
			return err
		}
		if err := domain.CheckSviStage(fei, actor); err != nil {
			return err
		}
		next, err := apply(c)
		if err != nil {
			return err
		}
		out = c
		if diff, err := changed(c, next); err != nil || !diff {
			return err
		}
		sign(&next, ss)
		next = domain.RefreshStatus(next, ss.now)
		out, _, err = ss.saveCarcasse(action, fei, c, next, nil)
		return err
	})
	return out, res, err
}

// CloseSvi closes the FEI once every live carcass has a final disposition.
func (s *Service) CloseSvi(ctx context.Context, actor Actor, numero string) (Fei, Result, error) {
	var out Fei
	res, err := s.run(ctx, "close_svi", actor, numero, func(ss *session) error {
		fei, carcasses, err := ss.loadFei(numero)
		if err != nil {
			return err
		}
		if err := domain.CheckSviClosable(fei, carcasses, actor); err != nil {
			return err
		}
		at := ss.now
		next := fei
		next.SviClosedAt = &at
		next.SviClosedByUserID = actor.UserID
		next.SviSignedAt = &at
		if out, _, err = ss.saveFei(AuditSviClosed, fei, fei, next, nil); err != nil {
			return err
		}
		ss.events = append(ss.events, CustodyEvent{
			Type:       domain.SviClosed,
			FeiNumero:  numero,
			ToRole:     fei.FeiCurrentOwnerRole,
			ToEntityID: fei.FeiCurrentOwnerEntityID,
			UserID:     actor.UserID,
			At:         at,
		})
		return nil
	})
	return out, res, err
}

// VerifyDerivations recomputes the status of every stored carcass and reports
// those whose stored status disagrees. Each inconsistency is logged at error
// level; nothing is rewritten.
func (s *Service) VerifyDerivations(ctx context.Context) ([]domain.DerivationInconsistencyError, error) {
	var out []domain.DerivationInconsistencyError
	err := s.view(ctx, "verify_derivations", "", func(v TransactionView) error {
		for _, fei := range v.ListFeis() {
			for _, c := range v.ListCarcasses(fei.Numero) {
				if c.Deleted() {
					continue
				}
				err := domain.VerifyStatus(c)
				var inconsistency domain.DerivationInconsistencyError
				switch {
				case err == nil:
				case errors.As(err, &inconsistency):
					out = append(out, inconsistency)
				default:
					return fmt.Errorf("verify carcasse %s: %w", c.ZacharieCarcasseID, err)
				}
			}
		}
		return nil
	})
	for _, inconsistency := range out {
		s.logger.Error("derivation inconsistency", "carcasse_id", inconsistency.CarcasseID, "stored", inconsistency.Stored, "derived", inconsistency.Derived)
	}
	return out, err
}
