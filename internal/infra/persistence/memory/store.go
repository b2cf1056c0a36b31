// Package memory provides an in-memory implementation of the ledger
// persistence store used for tests, ephemeral environments, and as the
// transactional core of the durable backends.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodychain/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// RoleRecord aliases domain.RoleRecord.
	RoleRecord = domain.RoleRecord
	// Product aliases domain.Product.
	Product = domain.Product
	// Event aliases domain.Event.
	Event = domain.Event
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	owner    domain.Address
	roles    map[domain.RoleKind][]RoleRecord
	products []Product
	events   []Event
}

// Snapshot captures a point-in-time copy of the store state.
type Snapshot struct {
	Owner    domain.Address                   `json:"owner"`
	Roles    map[domain.RoleKind][]RoleRecord `json:"roles"`
	Products []Product                        `json:"products"`
	Events   []Event                          `json:"events"`
}

func newMemoryState() memoryState {
	roles := make(map[domain.RoleKind][]RoleRecord, len(domain.RoleKinds()))
	for _, kind := range domain.RoleKinds() {
		roles[kind] = nil
	}
	return memoryState{roles: roles}
}

// Records are flat value types, so copying the slices is a deep copy.
func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.owner = s.owner
	for kind, records := range s.roles {
		cloned.roles[kind] = append([]RoleRecord(nil), records...)
	}
	cloned.products = append([]Product(nil), s.products...)
	cloned.events = append([]Event(nil), s.events...)
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Owner:    cloned.owner,
		Roles:    cloned.roles,
		Products: cloned.products,
		Events:   cloned.events,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.owner = s.Owner
	for kind, records := range s.Roles {
		if !kind.Valid() {
			continue
		}
		state.roles[kind] = append([]RoleRecord(nil), records...)
	}
	state.products = append([]Product(nil), s.Products...)
	state.events = append([]Event(nil), s.Events...)
	return state
}

// CommitHook receives the state a transaction is about to commit. A non-nil
// error aborts the commit and leaves the live state untouched.
type CommitHook func(ctx context.Context, next Snapshot) error

// Store provides an in-memory transactional store for the ledger.
type Store struct {
	mu       sync.RWMutex
	state    memoryState
	engine   *RulesEngine
	nowFn    func() time.Time
	newID    func() string
	onCommit CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the current state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// SetCommitHook installs fn to run after rule evaluation and before the new
// state becomes visible. It runs under the write lock, so readers keep seeing
// the previous state until fn returns.
func (s *Store) SetCommitHook(fn CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = fn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.onCommit != nil {
		if err := s.onCommit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(entity domain.EntityType, action domain.Action, before, after any) error {
	change := Change{Entity: entity, Action: action, Before: domain.UndefinedChangePayload()}
	if before != nil {
		payload, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			return fmt.Errorf("encode %s change: %w", entity, err)
		}
		change.Before = payload
	}
	payload, err := domain.NewChangePayloadFromValue(after)
	if err != nil {
		return fmt.Errorf("encode %s change: %w", entity, err)
	}
	change.After = payload
	tx.changes = append(tx.changes, change)
	return nil
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) Owner() domain.Address {
	return tx.state.owner
}

func (tx *transaction) SetOwner(owner domain.Address) error {
	if owner.IsZero() {
		return domain.InvalidArgumentError{Field: "owner", Reason: "identity required"}
	}
	if !tx.state.owner.IsZero() {
		if tx.state.owner == owner {
			return nil
		}
		return fmt.Errorf("%w: owner is %q", domain.ErrAlreadyInitialized, tx.state.owner)
	}
	tx.state.owner = owner
	return tx.recordChange(domain.EntityOwner, domain.ActionCreate, nil, owner)
}

func (tx *transaction) RegisterRole(record RoleRecord) (RoleRecord, error) {
	if !record.Role.Valid() {
		return RoleRecord{}, domain.InvalidArgumentError{Field: "role", Reason: fmt.Sprintf("unknown role %q", record.Role)}
	}
	records := tx.state.roles[record.Role]
	record.ID = len(records) + 1
	if record.RegisteredAt.IsZero() {
		record.RegisteredAt = tx.now
	}
	tx.state.roles[record.Role] = append(records, record)
	if err := tx.recordChange(domain.EntityRole, domain.ActionCreate, nil, record); err != nil {
		return RoleRecord{}, err
	}
	return record, nil
}

func (tx *transaction) FindRoleByAddress(kind domain.RoleKind, addr domain.Address) int {
	return findRoleByAddress(&tx.state, kind, addr)
}

func (tx *transaction) RoleCount(kind domain.RoleKind) int {
	return len(tx.state.roles[kind])
}

func (tx *transaction) CreateProduct(product Product) (Product, error) {
	product.ID = len(tx.state.products) + 1
	product.Stage = domain.StageInit
	product.RMSID, product.ManID, product.DisID, product.RetID = 0, 0, 0, 0
	product.CreatedAt = tx.now
	product.UpdatedAt = tx.now
	tx.state.products = append(tx.state.products, product)
	if err := tx.recordChange(domain.EntityProduct, domain.ActionCreate, nil, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

func (tx *transaction) UpdateProduct(id int, mutator func(*Product) error) (Product, error) {
	if id < 1 || id > len(tx.state.products) {
		return Product{}, domain.ProductNotFoundError{ID: id}
	}
	before := tx.state.products[id-1]
	updated := before
	if err := mutator(&updated); err != nil {
		return Product{}, err
	}
	updated.ID = before.ID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	tx.state.products[id-1] = updated
	if err := tx.recordChange(domain.EntityProduct, domain.ActionUpdate, before, updated); err != nil {
		return Product{}, err
	}
	return updated, nil
}

func (tx *transaction) FindProduct(id int) (Product, bool) {
	return findProduct(&tx.state, id)
}

func (tx *transaction) AppendEvent(event Event) (Event, error) {
	event.Seq = uint64(len(tx.state.events)) + 1
	if event.ID == "" {
		event.ID = tx.store.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = tx.now
	}
	tx.state.events = append(tx.state.events, event)
	if err := tx.recordChange(domain.EntityEvent, domain.ActionCreate, nil, event); err != nil {
		return Event{}, err
	}
	return event, nil
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) Owner() domain.Address { return v.state.owner }

func (v transactionView) ListRoles(kind domain.RoleKind) []RoleRecord {
	return append([]RoleRecord{}, v.state.roles[kind]...)
}

func (v transactionView) FindRole(kind domain.RoleKind, id int) (RoleRecord, bool) {
	records := v.state.roles[kind]
	if id < 1 || id > len(records) {
		return RoleRecord{}, false
	}
	return records[id-1], true
}

func (v transactionView) FindRoleByAddress(kind domain.RoleKind, addr domain.Address) int {
	return findRoleByAddress(v.state, kind, addr)
}

func (v transactionView) RoleCount(kind domain.RoleKind) int {
	return len(v.state.roles[kind])
}

func (v transactionView) ListProducts() []Product {
	return append([]Product{}, v.state.products...)
}

func (v transactionView) FindProduct(id int) (Product, bool) {
	return findProduct(v.state, id)
}

func (v transactionView) ProductCount() int { return len(v.state.products) }

// ListEvents returns events in emission order; productID 0 selects all.
func (v transactionView) ListEvents(productID int) []Event {
	out := make([]Event, 0, len(v.state.events))
	for _, event := range v.state.events {
		if productID != 0 && event.ProductID != productID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// First match wins: duplicate registrations resolve to the lowest id.
func findRoleByAddress(state *memoryState, kind domain.RoleKind, addr domain.Address) int {
	if addr.IsZero() {
		return 0
	}
	for _, record := range state.roles[kind] {
		if record.Address == addr {
			return record.ID
		}
	}
	return 0
}

func findProduct(state *memoryState, id int) (Product, bool) {
	if id < 1 || id > len(state.products) {
		return Product{}, false
	}
	return state.products[id-1], true
}
