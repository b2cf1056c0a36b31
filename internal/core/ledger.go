package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodychain/internal/infra/persistence/memory"
	"custodychain/pkg/domain"
)

// Ledger is the role-gated custody ledger. All mutations run through the
// underlying store's transaction boundary so each check-then-write sequence is
// applied atomically and in total order.
type Ledger struct {
	store   PersistentStore
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger. A nil logger keeps the no-op default.
func WithLogger(logger Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(l *Ledger) {
		if recorder != nil {
			l.metrics = recorder
		}
	}
}

// WithTracer sets the tracer used to open one span per operation.
func WithTracer(tracer Tracer) Option {
	return func(l *Ledger) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithClock overrides the clock used for operation timing.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger constructs a ledger over store.
func NewLedger(store PersistentStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewInMemoryLedger creates a ledger over a fresh in-memory store with the
// default rules engine.
func NewInMemoryLedger(opts ...Option) *Ledger {
	return NewLedger(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying persistent store.
func (l *Ledger) Store() PersistentStore { return l.store }

func (l *Ledger) observe(ctx context.Context, op string, fn func(ctx context.Context) error, keyvals ...any) error {
	ctx, span := l.tracer.Start(ctx, op)
	started := l.now()
	err := fn(ctx)
	l.metrics.Observe(ctx, op, err == nil, l.now().Sub(started))
	span.End(err)
	if err != nil {
		l.logger.Warn("ledger operation failed", append(keyvals, "operation", op, "err", err)...)
		return err
	}
	l.logger.Info("ledger operation", append(keyvals, "operation", op)...)
	return nil
}

// Initialize designates owner as the Access Gate identity. Repeating the call
// with the same owner is a no-op; a different owner fails with
// domain.ErrAlreadyInitialized.
func (l *Ledger) Initialize(ctx context.Context, owner Address) error {
	return l.observe(ctx, "initialize", func(ctx context.Context) error {
		_, err := l.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.SetOwner(owner)
		})
		return err
	}, "owner", owner)
}

// Owner returns the Access Gate identity, empty before Initialize.
func (l *Ledger) Owner(ctx context.Context) (Address, error) {
	var owner Address
	err := l.store.View(ctx, func(v TransactionView) error {
		owner = v.Owner()
		return nil
	})
	return owner, err
}

func requireOwner(tx Transaction, op string, caller Address) error {
	owner := tx.Owner()
	if owner.IsZero() || caller != owner {
		return domain.UnauthorizedError{Operation: op, Caller: caller}
	}
	return nil
}

// RegisterRole appends a participant to the kind registry. Only the owner may
// register; duplicate addresses receive independent ids.
func (l *Ledger) RegisterRole(ctx context.Context, caller Address, kind RoleKind, addr Address, name, place string) (RoleRecord, error) {
	op := "register_" + string(kind)
	var created RoleRecord
	err := l.observe(ctx, op, func(ctx context.Context) error {
		_, err := l.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireOwner(tx, op, caller); err != nil {
				return err
			}
			if !kind.Valid() {
				return domain.InvalidArgumentError{Field: "role", Reason: fmt.Sprintf("unknown role %q", kind)}
			}
			if addr.IsZero() {
				return domain.InvalidArgumentError{Field: "address", Reason: "identity required"}
			}
			var err error
			created, err = tx.RegisterRole(RoleRecord{
				Role:    kind,
				Address: addr,
				Name:    name,
				Place:   place,
			})
			return err
		})
		return err
	}, "caller", caller, "address", addr)
	if err != nil {
		return RoleRecord{}, err
	}
	return created, nil
}

// RegisterSupplier registers a raw material supplier and returns its id.
func (l *Ledger) RegisterSupplier(ctx context.Context, caller, addr Address, name, place string) (int, error) {
	rec, err := l.RegisterRole(ctx, caller, RoleSupplier, addr, name, place)
	return rec.ID, err
}

// RegisterManufacturer registers a manufacturer and returns its id.
func (l *Ledger) RegisterManufacturer(ctx context.Context, caller, addr Address, name, place string) (int, error) {
	rec, err := l.RegisterRole(ctx, caller, RoleManufacturer, addr, name, place)
	return rec.ID, err
}

// RegisterDistributor registers a distributor and returns its id.
func (l *Ledger) RegisterDistributor(ctx context.Context, caller, addr Address, name, place string) (int, error) {
	rec, err := l.RegisterRole(ctx, caller, RoleDistributor, addr, name, place)
	return rec.ID, err
}

// RegisterRetailer registers a retailer and returns its id.
func (l *Ledger) RegisterRetailer(ctx context.Context, caller, addr Address, name, place string) (int, error) {
	rec, err := l.RegisterRole(ctx, caller, RoleRetailer, addr, name, place)
	return rec.ID, err
}

// FindRoleByAddress returns the lowest id registered to addr in the kind
// registry, or 0 when addr is not a participant.
func (l *Ledger) FindRoleByAddress(ctx context.Context, kind RoleKind, addr Address) (int, error) {
	var id int
	err := l.store.View(ctx, func(v TransactionView) error {
		id = v.FindRoleByAddress(kind, addr)
		return nil
	})
	return id, err
}

// RoleCount returns the number of entries in the kind registry.
func (l *Ledger) RoleCount(ctx context.Context, kind RoleKind) (int, error) {
	var count int
	err := l.store.View(ctx, func(v TransactionView) error {
		count = v.RoleCount(kind)
		return nil
	})
	return count, err
}

// GetRole returns a registry entry by id.
func (l *Ledger) GetRole(ctx context.Context, kind RoleKind, id int) (RoleRecord, error) {
	var rec RoleRecord
	err := l.store.View(ctx, func(v TransactionView) error {
		var ok bool
		rec, ok = v.FindRole(kind, id)
		if !ok {
			return domain.RoleNotFoundError{Role: kind, ID: id}
		}
		return nil
	})
	return rec, err
}

// ListRoles returns the kind registry in id order.
func (l *Ledger) ListRoles(ctx context.Context, kind RoleKind) ([]RoleRecord, error) {
	var out []RoleRecord
	err := l.store.View(ctx, func(v TransactionView) error {
		out = v.ListRoles(kind)
		return nil
	})
	return out, err
}

// RegisterProduct creates a product at StageInit. The caller must be the owner
// and every registry must hold at least one participant.
func (l *Ledger) RegisterProduct(ctx context.Context, caller Address, name, description string) (Product, error) {
	const op = "register_product"
	var created Product
	err := l.observe(ctx, op, func(ctx context.Context) error {
		_, err := l.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireOwner(tx, op, caller); err != nil {
				return err
			}
			var missing []RoleKind
			for _, kind := range domain.RoleKinds() {
				if tx.RoleCount(kind) == 0 {
					missing = append(missing, kind)
				}
			}
			if len(missing) > 0 {
				return domain.RolesIncompleteError{Missing: missing}
			}
			var err error
			created, err = tx.CreateProduct(Product{Name: name, Description: description})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(Event{
				Kind:        domain.EventProductRegistered,
				ProductID:   created.ID,
				Name:        created.Name,
				Description: created.Description,
				ToStage:     created.Stage,
			})
			return err
		})
		return err
	}, "caller", caller)
	if err != nil {
		return Product{}, err
	}
	return created, nil
}

// Transition applies op to the product on behalf of caller. Checks run in a
// fixed order: caller registration, product existence, current stage, and for
// markSold the assigned retailer.
func (l *Ledger) Transition(ctx context.Context, caller Address, op Operation, productID int) (Product, error) {
	edge, ok := transitions[op]
	if !ok {
		return Product{}, domain.InvalidArgumentError{Field: "operation", Reason: fmt.Sprintf("unknown transition %q", op)}
	}
	var updated Product
	err := l.observe(ctx, string(op), func(ctx context.Context) error {
		_, err := l.store.RunInTransaction(ctx, func(tx Transaction) error {
			actorID := tx.FindRoleByAddress(edge.role, caller)
			if actorID == 0 {
				return domain.NotRegisteredError{Role: edge.role, Caller: caller}
			}
			product, ok := tx.FindProduct(productID)
			if !ok {
				return domain.ProductNotFoundError{ID: productID}
			}
			if product.Stage != edge.from {
				return domain.InvalidStageError{ProductID: productID, Expected: edge.from, Actual: product.Stage}
			}
			if edge.assigned != nil {
				if expected := edge.assigned(product); expected != actorID {
					return domain.NotAssignedActorError{ProductID: productID, Role: edge.role, Expected: expected, Actual: actorID}
				}
			}
			var err error
			updated, err = tx.UpdateProduct(productID, func(p *Product) error {
				if edge.assign != nil {
					edge.assign(p, actorID)
				}
				p.Stage = edge.to
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(Event{
				Kind:        domain.EventProductTransferred,
				ProductID:   productID,
				FromStage:   edge.from,
				ToStage:     edge.to,
				ActorRoleID: actorID,
			})
			return err
		})
		return err
	}, "caller", caller, "product_id", productID)
	if err != nil {
		return Product{}, err
	}
	return updated, nil
}

// SupplyRawMaterial moves a product from Init to Raw Material Supply.
func (l *Ledger) SupplyRawMaterial(ctx context.Context, caller Address, productID int) (Product, error) {
	return l.Transition(ctx, caller, OpSupplyRawMaterial, productID)
}

// Manufacture moves a product from Raw Material Supply to Manufacture.
func (l *Ledger) Manufacture(ctx context.Context, caller Address, productID int) (Product, error) {
	return l.Transition(ctx, caller, OpManufacture, productID)
}

// Distribute moves a product from Manufacture to Distribution.
func (l *Ledger) Distribute(ctx context.Context, caller Address, productID int) (Product, error) {
	return l.Transition(ctx, caller, OpDistribute, productID)
}

// Retail moves a product from Distribution to Retail.
func (l *Ledger) Retail(ctx context.Context, caller Address, productID int) (Product, error) {
	return l.Transition(ctx, caller, OpRetail, productID)
}

// MarkSold moves a product from Retail to Sold. Only the retailer recorded on
// the product may sell it.
func (l *Ledger) MarkSold(ctx context.Context, caller Address, productID int) (Product, error) {
	return l.Transition(ctx, caller, OpMarkSold, productID)
}

// UpdateEvidenceReference replaces the product's evidence reference. Owner
// only; allowed at any stage.
func (l *Ledger) UpdateEvidenceReference(ctx context.Context, caller Address, productID int, ref string) (Product, error) {
	const op = "update_evidence_reference"
	var updated Product
	err := l.observe(ctx, op, func(ctx context.Context) error {
		_, err := l.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireOwner(tx, op, caller); err != nil {
				return err
			}
			var err error
			updated, err = tx.UpdateProduct(productID, func(p *Product) error {
				p.EvidenceRef = ref
				return nil
			})
			return err
		})
		return err
	}, "caller", caller, "product_id", productID)
	if err != nil {
		return Product{}, err
	}
	return updated, nil
}

// GetProduct returns the product record.
func (l *Ledger) GetProduct(ctx context.Context, productID int) (Product, error) {
	var product Product
	err := l.store.View(ctx, func(v TransactionView) error {
		var ok bool
		product, ok = v.FindProduct(productID)
		if !ok {
			return domain.ProductNotFoundError{ID: productID}
		}
		return nil
	})
	return product, err
}

// StageLabel returns the fixed human-readable label of the product's stage.
func (l *Ledger) StageLabel(ctx context.Context, productID int) (string, error) {
	product, err := l.GetProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	return product.Stage.Label(), nil
}

// ListProducts returns every product in id order.
func (l *Ledger) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := l.store.View(ctx, func(v TransactionView) error {
		out = v.ListProducts()
		return nil
	})
	return out, err
}

// ProductCount returns the number of registered products.
func (l *Ledger) ProductCount(ctx context.Context) (int, error) {
	var count int
	err := l.store.View(ctx, func(v TransactionView) error {
		count = v.ProductCount()
		return nil
	})
	return count, err
}

// ListEvents returns the event log in emission order. A productID of 0 returns
// events for all products.
func (l *Ledger) ListEvents(ctx context.Context, productID int) ([]Event, error) {
	if productID < 0 {
		return nil, domain.InvalidArgumentError{Field: "product_id", Reason: "must not be negative"}
	}
	var out []Event
	err := l.store.View(ctx, func(v TransactionView) error {
		out = v.ListEvents(productID)
		return nil
	})
	return out, err
}

// IsRuleViolation reports whether err was raised by a blocking invariant rule
// rather than an operation guard.
func IsRuleViolation(err error) bool {
	var violation RuleViolationError
	return errors.As(err, &violation)
}
