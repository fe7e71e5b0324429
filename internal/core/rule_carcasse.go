package core

import (
	"context"
	"errors"
	"fmt"

	"zacharie/pkg/domain"
)

// BraceletUniqueRule rejects two live carcasses of one FEI sharing a bracelet.
func BraceletUniqueRule() domain.Rule {
	return braceletUniqueRule{}
}

type braceletUniqueRule struct{}

func (braceletUniqueRule) Name() string { return "bracelet_unique" }

func (braceletUniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, changed := range changedCarcasses(view, changes) {
		for _, other := range domain.LiveCarcasses(view.ListCarcasses(changed.FeiNumero)) {
			if other.ZacharieCarcasseID == changed.ZacharieCarcasseID || other.NumeroBracelet != changed.NumeroBracelet {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "bracelet_unique",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("bracelet %s is used twice in fei %s", changed.NumeroBracelet, changed.FeiNumero),
				Kind:     domain.KindCarcasse,
				Key:      changed.ZacharieCarcasseID,
			})
			break
		}
	}
	return res, nil
}

// StatusProjectionRule compares the stored status of changed carcasses with
// their derivation. strict makes a mismatch blocking.
func StatusProjectionRule(strict bool) domain.Rule {
	return statusProjectionRule{strict: strict}
}

type statusProjectionRule struct {
	strict bool
}

func (statusProjectionRule) Name() string { return "status_projection" }

func (r statusProjectionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	severity := domain.SeverityWarn
	if r.strict {
		severity = domain.SeverityBlock
	}
	for _, c := range changedCarcasses(view, changes) {
		var inconsistency domain.DerivationInconsistencyError
		if err := domain.VerifyStatus(c); errors.As(err, &inconsistency) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "status_projection",
				Severity: severity,
				Message:  inconsistency.Error(),
				Kind:     domain.KindCarcasse,
				Key:      c.ZacharieCarcasseID,
			})
		}
	}
	return res, nil
}

// DispositionSequenceRule blocks a carcass whose inspections are out of
// order, whatever wrote it.
func DispositionSequenceRule() domain.Rule {
	return dispositionSequenceRule{}
}

type dispositionSequenceRule struct{}

func (dispositionSequenceRule) Name() string { return "disposition_sequence" }

func (dispositionSequenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changedCarcasses(view, changes) {
		if err := domain.CheckDispositionSequence(c); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "disposition_sequence",
				Severity: domain.SeverityBlock,
				Message:  err.Error(),
				Kind:     domain.KindCarcasse,
				Key:      c.ZacharieCarcasseID,
			})
		}
	}
	return res, nil
}
