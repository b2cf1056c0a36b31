package core

import "custodychain/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in custody
// invariants. They duplicate the ledger's own guards so that no mutation path,
// including direct store access, can commit a regressing stage or an
// overwritten custodian.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StageProgressionRule())
	engine.Register(CustodyAssignmentRule())
	return engine
}
