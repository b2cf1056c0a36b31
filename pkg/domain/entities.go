// Package domain defines the custody-chain records, value types, and rule
// evaluation primitives shared by the ledger and its persistence backends.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRole identifies a role registry record.
	EntityRole EntityType = "role"
	// EntityProduct identifies a product record.
	EntityProduct EntityType = "product"
	// EntityEvent identifies an event log entry.
	EntityEvent EntityType = "event"
	// EntityOwner identifies the access gate identity.
	EntityOwner EntityType = "owner"
)

// Address is an opaque caller identity (typically a wallet address).
type Address string

// IsZero reports whether the address is empty once surrounding whitespace is removed.
func (a Address) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

func (a Address) String() string { return string(a) }

// RoleKind names one of the four role registries.
type RoleKind string

// Role registries in custody order.
const (
	RoleSupplier     RoleKind = "supplier"
	RoleManufacturer RoleKind = "manufacturer"
	RoleDistributor  RoleKind = "distributor"
	RoleRetailer     RoleKind = "retailer"
)

var roleKinds = []RoleKind{RoleSupplier, RoleManufacturer, RoleDistributor, RoleRetailer}

// RoleKinds returns every registry kind in custody order.
func RoleKinds() []RoleKind {
	return append([]RoleKind(nil), roleKinds...)
}

// Valid reports whether k names a known registry.
func (k RoleKind) Valid() bool {
	for _, kind := range roleKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseRoleKind resolves a registry name, accepting the short forms used by
// operators (rms, man, dis, ret).
func ParseRoleKind(raw string) (RoleKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "supplier", "rms":
		return RoleSupplier, nil
	case "manufacturer", "man":
		return RoleManufacturer, nil
	case "distributor", "dis":
		return RoleDistributor, nil
	case "retailer", "ret":
		return RoleRetailer, nil
	}
	return "", InvalidArgumentError{Field: "role", Reason: fmt.Sprintf("unknown role %q", raw)}
}

// RoleRecord is one registered participant within a registry. IDs are dense,
// 1-based and assigned in registration order.
type RoleRecord struct {
	ID           int       `json:"id"`
	Role         RoleKind  `json:"role"`
	Address      Address   `json:"address"`
	Name         string    `json:"name"`
	Place        string    `json:"place"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Stage is a position in the fixed linear custody progression.
type Stage int

// Custody stages in their total order.
const (
	StageInit Stage = iota
	StageRawMaterialSupply
	StageManufacture
	StageDistribution
	StageRetail
	StageSold
)

// Labels are consumed verbatim by observers that string-match on them.
var stageLabels = [...]string{
	StageInit:              "Init",
	StageRawMaterialSupply: "Raw Material Supply",
	StageManufacture:       "Manufacture",
	StageDistribution:      "Distribution",
	StageRetail:            "Retail",
	StageSold:              "Sold",
}

// Valid reports whether s is one of the six defined stages.
func (s Stage) Valid() bool {
	return s >= StageInit && s <= StageSold
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool {
	return s == StageSold
}

// Label renders the fixed human-readable stage name.
func (s Stage) Label() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageLabels[s]
}

func (s Stage) String() string { return s.Label() }

// Product is a tracked item. Role id fields are 0 until the corresponding
// stage is entered and never change afterwards.
type Product struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Stage       Stage     `json:"stage"`
	RMSID       int       `json:"rms_id"`
	ManID       int       `json:"man_id"`
	DisID       int       `json:"dis_id"`
	RetID       int       `json:"ret_id"`
	EvidenceRef string    `json:"evidence_ref"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AssignedRoleID returns the role id recorded on the product for kind.
func (p Product) AssignedRoleID(kind RoleKind) int {
	switch kind {
	case RoleSupplier:
		return p.RMSID
	case RoleManufacturer:
		return p.ManID
	case RoleDistributor:
		return p.DisID
	case RoleRetailer:
		return p.RetID
	}
	return 0
}

// EventKind distinguishes the two event shapes in the log.
type EventKind string

// Event kinds emitted by the ledger.
const (
	EventProductRegistered  EventKind = "ProductRegistered"
	EventProductTransferred EventKind = "ProductTransferred"
)

// Event is an immutable log entry. Registration events carry Name and
// Description; transfer events carry FromStage, ToStage and ActorRoleID.
type Event struct {
	Seq         uint64    `json:"seq"`
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	ProductID   int       `json:"product_id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	FromStage   Stage     `json:"from_stage"`
	ToStage     Stage     `json:"to_stage"`
	ActorRoleID int       `json:"actor_role_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
