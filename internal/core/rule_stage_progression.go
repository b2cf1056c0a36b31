package core

import (
	"context"
	"fmt"

	"custodychain/pkg/domain"
)

const stageProgressionRuleName = "stage_progression"

// StageProgressionRule blocks product writes that leave the linear custody
// order: unknown stages, regressions, skipped stages, and any move out of Sold.
// New products must start at Init.
func StageProgressionRule() domain.Rule {
	return stageProgressionRule{}
}

type stageProgressionRule struct{}

func (stageProgressionRule) Name() string { return stageProgressionRuleName }

func (stageProgressionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityProduct {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.Product](change.After)
		if !ok {
			continue
		}
		if !after.Stage.Valid() {
			res.Violations = append(res.Violations, stageViolation(after.ID, fmt.Sprintf("product %d is set to invalid stage %d", after.ID, int(after.Stage))))
			continue
		}
		before, ok := domain.DecodeChangePayload[domain.Product](change.Before)
		if !ok {
			if after.Stage != domain.StageInit {
				res.Violations = append(res.Violations, stageViolation(after.ID, fmt.Sprintf("product %d must be created at %s, not %s", after.ID, domain.StageInit, after.Stage)))
			}
			continue
		}
		if after.Stage == before.Stage {
			continue
		}
		switch {
		case before.Stage.Terminal():
			res.Violations = append(res.Violations, stageViolation(after.ID, fmt.Sprintf("cannot move product %d from terminal stage %s to %s", after.ID, before.Stage, after.Stage)))
		case after.Stage < before.Stage:
			res.Violations = append(res.Violations, stageViolation(after.ID, fmt.Sprintf("cannot move product %d back from %s to %s", after.ID, before.Stage, after.Stage)))
		case after.Stage != before.Stage+1:
			res.Violations = append(res.Violations, stageViolation(after.ID, fmt.Sprintf("cannot skip product %d from %s to %s", after.ID, before.Stage, after.Stage)))
		}
	}
	return res, nil
}

func stageViolation(productID int, message string) domain.Violation {
	return domain.Violation{
		Rule:     stageProgressionRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityProduct,
		EntityID: productID,
	}
}
