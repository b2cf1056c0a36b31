package core

import (
	"fmt"
	"strings"

	"custodychain/pkg/domain"
)

// Operation names a custody transition.
type Operation string

// Custody transitions in the order a product passes through them.
const (
	OpSupplyRawMaterial Operation = "supplyRawMaterial"
	OpManufacture       Operation = "manufacture"
	OpDistribute        Operation = "distribute"
	OpRetail            Operation = "retail"
	OpMarkSold          Operation = "markSold"
)

// transition is one guarded edge of the custody state machine.
type transition struct {
	role RoleKind
	from Stage
	to   Stage
	// assign records the acting role id on the product; nil when the edge
	// sets no new field.
	assign func(p *Product, id int)
	// assigned returns the role id that must already match the caller; nil
	// when any registered caller may act.
	assigned func(p Product) int
}

var transitions = map[Operation]transition{
	OpSupplyRawMaterial: {
		role:   RoleSupplier,
		from:   StageInit,
		to:     StageRawMaterialSupply,
		assign: func(p *Product, id int) { p.RMSID = id },
	},
	OpManufacture: {
		role:   RoleManufacturer,
		from:   StageRawMaterialSupply,
		to:     StageManufacture,
		assign: func(p *Product, id int) { p.ManID = id },
	},
	OpDistribute: {
		role:   RoleDistributor,
		from:   StageManufacture,
		to:     StageDistribution,
		assign: func(p *Product, id int) { p.DisID = id },
	},
	OpRetail: {
		role:   RoleRetailer,
		from:   StageDistribution,
		to:     StageRetail,
		assign: func(p *Product, id int) { p.RetID = id },
	},
	OpMarkSold: {
		role:     RoleRetailer,
		from:     StageRetail,
		to:       StageSold,
		assigned: func(p Product) int { return p.RetID },
	},
}

// Operations lists the transitions in custody order.
func Operations() []Operation {
	return []Operation{OpSupplyRawMaterial, OpManufacture, OpDistribute, OpRetail, OpMarkSold}
}

// ParseOperation resolves an operation name case-insensitively. Hyphenated and
// underscored spellings ("mark-sold", "supply_raw_material") are accepted.
func ParseOperation(value string) (Operation, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	for _, op := range Operations() {
		if strings.ToLower(string(op)) == normalized {
			return op, nil
		}
	}
	return "", domain.InvalidArgumentError{Field: "operation", Reason: fmt.Sprintf("unknown transition %q", value)}
}

// RequiredRole reports which registry the caller must belong to.
func (op Operation) RequiredRole() RoleKind { return transitions[op].role }

// From reports the stage a product must be in for op to apply.
func (op Operation) From() Stage { return transitions[op].from }

// To reports the stage a product enters when op succeeds.
func (op Operation) To() Stage { return transitions[op].to }

func (op Operation) String() string { return string(op) }
