package core

import (
	"context"
	"fmt"

	"custodychain/pkg/domain"
)

const custodyAssignmentRuleName = "custody_assignment"

// CustodyAssignmentRule enforces that role id fields on a product are written
// once and only reference registered participants.
func CustodyAssignmentRule() domain.Rule {
	return custodyAssignmentRule{}
}

type custodyAssignmentRule struct{}

func (custodyAssignmentRule) Name() string { return custodyAssignmentRuleName }

func (custodyAssignmentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityProduct {
			continue
		}
		after, ok := domain.DecodeChangePayload[domain.Product](change.After)
		if !ok {
			continue
		}
		before, hasBefore := domain.DecodeChangePayload[domain.Product](change.Before)
		for _, kind := range domain.RoleKinds() {
			id := after.AssignedRoleID(kind)
			if hasBefore {
				prev := before.AssignedRoleID(kind)
				if prev != 0 && prev != id {
					res.Violations = append(res.Violations, custodyViolation(after.ID, fmt.Sprintf("product %d %s changed from %d to %d", after.ID, kind, prev, id)))
					continue
				}
				if prev == id {
					continue
				}
			}
			if id == 0 {
				continue
			}
			if _, ok := view.FindRole(kind, id); !ok {
				res.Violations = append(res.Violations, custodyViolation(after.ID, fmt.Sprintf("product %d references unknown %s %d", after.ID, kind, id)))
			}
		}
	}
	return res, nil
}

func custodyViolation(productID int, message string) domain.Violation {
	return domain.Violation{
		Rule:     custodyAssignmentRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityProduct,
		EntityID: productID,
	}
}
