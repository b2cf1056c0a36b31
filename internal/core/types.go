package core

import "custodychain/pkg/domain"

type (
	Address            = domain.Address
	RoleKind           = domain.RoleKind
	RoleRecord         = domain.RoleRecord
	Stage              = domain.Stage
	Product            = domain.Product
	Event              = domain.Event
	EventKind          = domain.EventKind
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	RoleSupplier     = domain.RoleSupplier
	RoleManufacturer = domain.RoleManufacturer
	RoleDistributor  = domain.RoleDistributor
	RoleRetailer     = domain.RoleRetailer
)

const (
	StageInit              = domain.StageInit
	StageRawMaterialSupply = domain.StageRawMaterialSupply
	StageManufacture       = domain.StageManufacture
	StageDistribution      = domain.StageDistribution
	StageRetail            = domain.StageRetail
	StageSold              = domain.StageSold
)
