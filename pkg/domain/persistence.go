package domain

import "context"

// Transaction exposes the ledger mutations a persistence implementation must
// support within an atomic scope. Records are append-only: there is no delete.
type Transaction interface {
	Snapshot() TransactionView
	Owner() Address
	SetOwner(Address) error
	RegisterRole(RoleRecord) (RoleRecord, error)
	FindRoleByAddress(kind RoleKind, addr Address) int
	RoleCount(kind RoleKind) int
	CreateProduct(Product) (Product, error)
	UpdateProduct(id int, mutator func(*Product) error) (Product, error)
	FindProduct(id int) (Product, bool)
	AppendEvent(Event) (Event, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	Owner() Address
	ListRoles(kind RoleKind) []RoleRecord
	FindRole(kind RoleKind, id int) (RoleRecord, bool)
	FindRoleByAddress(kind RoleKind, addr Address) int
	RoleCount(kind RoleKind) int
	ListProducts() []Product
	FindProduct(id int) (Product, bool)
	ProductCount() int
	ListEvents(productID int) []Event
}

// PersistentStore is the abstraction over durable backends. RunInTransaction
// applies fn with the effect of total ordering: either every mutation made by
// fn is committed or none is.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
