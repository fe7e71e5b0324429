package core

import (
	"context"
	"fmt"

	"zacharie/pkg/domain"
)

// NextOwnerPairRule requires the proposed next holder to carry both a role and
// an identity, or neither.
func NextOwnerPairRule() domain.Rule {
	return nextOwnerPairRule{}
}

type nextOwnerPairRule struct{}

func (nextOwnerPairRule) Name() string { return "next_owner_pair" }

func (nextOwnerPairRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, numero := range touchedFeis(changes) {
		fei, ok := view.FindFei(numero)
		if !ok || fei.Deleted() {
			continue
		}
		hasRole := fei.FeiNextOwnerRole != ""
		hasIdentity := fei.FeiNextOwnerEntityID != "" || fei.FeiNextOwnerUserID != ""
		if hasRole != hasIdentity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "next_owner_pair",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("fei %s has a partial next holder", numero),
				Kind:     domain.KindFei,
				Key:      numero,
			})
		}
	}
	return res, nil
}

// CustodyRoleRule checks that the holder of a FEI is a custody role and, when
// it is an organisation, that the organisation is of the matching type.
func CustodyRoleRule() domain.Rule {
	return custodyRoleRule{}
}

type custodyRoleRule struct{}

func (custodyRoleRule) Name() string { return "custody_role" }

func (custodyRoleRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, numero := range touchedFeis(changes) {
		fei, ok := view.FindFei(numero)
		if !ok || fei.Deleted() {
			continue
		}
		role := fei.FeiCurrentOwnerRole
		want, holder := role.EntityType()
		if role != domain.RoleExaminateurInitial && !holder {
			res.Violations = append(res.Violations, custodyRoleViolation(numero, domain.SeverityBlock, fmt.Sprintf("fei %s is held under role %q", numero, role)))
			continue
		}
		if fei.FeiCurrentOwnerEntityID == "" {
			if fei.FeiCurrentOwnerUserID == "" {
				res.Violations = append(res.Violations, custodyRoleViolation(numero, domain.SeverityBlock, fmt.Sprintf("fei %s has no holder", numero)))
			}
			continue
		}
		entity, found := view.FindEntity(fei.FeiCurrentOwnerEntityID)
		switch {
		case !found:
			res.Violations = append(res.Violations, custodyRoleViolation(numero, domain.SeverityWarn, fmt.Sprintf("fei %s holder entity %s is unknown", numero, fei.FeiCurrentOwnerEntityID)))
		case entity.Type != want:
			res.Violations = append(res.Violations, custodyRoleViolation(numero, domain.SeverityBlock, fmt.Sprintf("fei %s is held as %s by a %s", numero, role, entity.Type)))
		}
	}
	return res, nil
}

func custodyRoleViolation(numero string, severity domain.Severity, message string) domain.Violation {
	return domain.Violation{
		Rule:     "custody_role",
		Severity: severity,
		Message:  message,
		Kind:     domain.KindFei,
		Key:      numero,
	}
}

// CustodyProjectionRule requires every live carcass to mirror the custody
// fields of its FEI.
func CustodyProjectionRule() domain.Rule {
	return custodyProjectionRule{}
}

type custodyProjectionRule struct{}

func (custodyProjectionRule) Name() string { return "custody_projection" }

func (custodyProjectionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, numero := range touchedFeis(changes) {
		fei, ok := view.FindFei(numero)
		if !ok || fei.Deleted() {
			continue
		}
		for _, c := range domain.LiveCarcasses(view.ListCarcasses(numero)) {
			if mirrorsCustody(fei, c) {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "custody_projection",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("carcasse %s does not mirror the custody of fei %s", c.NumeroBracelet, numero),
				Kind:     domain.KindCarcasse,
				Key:      c.ZacharieCarcasseID,
			})
		}
	}
	return res, nil
}

func mirrorsCustody(fei Fei, c Carcasse) bool {
	return c.CurrentOwnerRole == fei.FeiCurrentOwnerRole &&
		c.CurrentOwnerEntityID == fei.FeiCurrentOwnerEntityID &&
		c.NextOwnerRole == fei.FeiNextOwnerRole &&
		c.NextOwnerEntityID == fei.FeiNextOwnerEntityID &&
		c.PrevOwnerRole == fei.FeiPrevOwnerRole &&
		c.PrevOwnerEntityID == fei.FeiPrevOwnerEntityID
}
