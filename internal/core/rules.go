package core

import "zacharie/pkg/domain"

// NewRulesEngine constructs an engine without rules.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// With strict set, a stored carcass status that disagrees with its derivation
// blocks the commit; otherwise it is reported as a warning.
func NewDefaultRulesEngine(strict bool) *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NextOwnerPairRule())
	engine.Register(CustodyRoleRule())
	engine.Register(CustodyProjectionRule())
	engine.Register(BraceletUniqueRule())
	engine.Register(StatusProjectionRule(strict))
	engine.Register(DispositionSequenceRule())
	return engine
}

// touchedFeis lists the FEIs of the records changed in a transaction.
func touchedFeis(changes []Change) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(numero string) {
		if numero == "" {
			return
		}
		if _, ok := seen[numero]; ok {
			return
		}
		seen[numero] = struct{}{}
		out = append(out, numero)
	}
	for _, change := range changes {
		switch after := change.After.(type) {
		case Fei:
			add(after.Numero)
		case Carcasse:
			add(after.FeiNumero)
		case CarcasseIntermediaire:
			add(after.FeiNumero)
		}
	}
	return out
}

// changedCarcasses returns the final version of every live carcass
// written in the transaction, once each.
func changedCarcasses(view domain.RuleView, changes []Change) []Carcasse {
	seen := map[string]struct{}{}
	var out []Carcasse
	for _, change := range changes {
		if change.Kind != domain.KindCarcasse {
			continue
		}
		if _, ok := seen[change.Key]; ok {
			continue
		}
		seen[change.Key] = struct{}{}
		if c, ok := view.FindCarcasse(change.Key); ok && !c.Deleted() {
			out = append(out, c)
		}
	}
	return out
}
