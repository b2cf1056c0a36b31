package core

import (
	"context"
	"errors"
	"testing"

	"custodychain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner        Address = "0xOwner"
	supplier     Address = "0xA"
	manufacturer Address = "0xB"
	distributor  Address = "0xC"
	retailer     Address = "0xD"
	stranger     Address = "0xE"
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	ledger := NewInMemoryLedger(opts...)
	require.NoError(t, ledger.Initialize(context.Background(), owner))
	return ledger
}

func registerAllRoles(t *testing.T, ledger *Ledger) {
	t.Helper()
	ctx := context.Background()
	_, err := ledger.RegisterSupplier(ctx, owner, supplier, "Supplier", "Pune")
	require.NoError(t, err)
	_, err = ledger.RegisterManufacturer(ctx, owner, manufacturer, "Manufacturer", "Mumbai")
	require.NoError(t, err)
	_, err = ledger.RegisterDistributor(ctx, owner, distributor, "Distributor", "Delhi")
	require.NoError(t, err)
	_, err = ledger.RegisterRetailer(ctx, owner, retailer, "Retailer", "Chennai")
	require.NoError(t, err)
}

func TestLedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)

	product, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)
	require.Equal(t, 1, product.ID)
	require.Equal(t, StageInit, product.Stage)

	product, err = ledger.SupplyRawMaterial(ctx, supplier, 1)
	require.NoError(t, err)
	assert.Equal(t, StageRawMaterialSupply, product.Stage)
	assert.Equal(t, 1, product.RMSID)

	product, err = ledger.Manufacture(ctx, manufacturer, 1)
	require.NoError(t, err)
	assert.Equal(t, StageManufacture, product.Stage)
	assert.Equal(t, 1, product.ManID)

	product, err = ledger.Distribute(ctx, distributor, 1)
	require.NoError(t, err)
	assert.Equal(t, StageDistribution, product.Stage)
	assert.Equal(t, 1, product.DisID)

	product, err = ledger.Retail(ctx, retailer, 1)
	require.NoError(t, err)
	assert.Equal(t, StageRetail, product.Stage)
	assert.Equal(t, 1, product.RetID)

	product, err = ledger.MarkSold(ctx, retailer, 1)
	require.NoError(t, err)
	assert.Equal(t, StageSold, product.Stage)

	label, err := ledger.StageLabel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Sold", label)

	events, err := ledger.ListEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, domain.EventProductRegistered, events[0].Kind)
	assert.Equal(t, "X", events[0].Name)
	for i, op := range Operations() {
		ev := events[i+1]
		assert.Equal(t, domain.EventProductTransferred, ev.Kind)
		assert.Equal(t, op.From(), ev.FromStage)
		assert.Equal(t, op.To(), ev.ToStage)
		assert.Equal(t, 1, ev.ActorRoleID)
		assert.Equal(t, uint64(i+2), ev.Seq)
	}
}

func TestMarkSoldRequiresAssignedRetailer(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterRetailer(ctx, owner, stranger, "Other Retailer", "Kochi")
	require.NoError(t, err)

	_, err = ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)
	for _, step := range []struct {
		caller Address
		op     Operation
	}{
		{supplier, OpSupplyRawMaterial},
		{manufacturer, OpManufacture},
		{distributor, OpDistribute},
		{retailer, OpRetail},
	} {
		_, err := ledger.Transition(ctx, step.caller, step.op, 1)
		require.NoError(t, err, step.op)
	}

	_, err = ledger.MarkSold(ctx, stranger, 1)
	require.ErrorIs(t, err, domain.ErrNotAssignedActor)
	var notAssigned domain.NotAssignedActorError
	require.ErrorAs(t, err, &notAssigned)
	assert.Equal(t, 1, notAssigned.Expected)
	assert.Equal(t, 2, notAssigned.Actual)

	label, err := ledger.StageLabel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Retail", label)
}

func TestTransitionReplayFailsWithInvalidStage(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)

	_, err = ledger.SupplyRawMaterial(ctx, supplier, 1)
	require.NoError(t, err)
	_, err = ledger.SupplyRawMaterial(ctx, supplier, 1)
	require.ErrorIs(t, err, domain.ErrInvalidStage)
	var stageErr domain.InvalidStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageInit, stageErr.Expected)
	assert.Equal(t, StageRawMaterialSupply, stageErr.Actual)

	events, err := ledger.ListEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestManufactureBeforeSupplyFails(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)

	_, err = ledger.Manufacture(ctx, manufacturer, 1)
	var stageErr domain.InvalidStageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageRawMaterialSupply, stageErr.Expected)
	assert.Equal(t, StageInit, stageErr.Actual)
}

func TestTransitionCheckOrder(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)

	// Unregistered caller is reported before the missing product.
	_, err := ledger.SupplyRawMaterial(ctx, stranger, 99)
	require.ErrorIs(t, err, domain.ErrNotRegistered)
	var notRegistered domain.NotRegisteredError
	require.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, RoleSupplier, notRegistered.Role)

	// A registered caller of the wrong role is still not registered.
	_, err = ledger.SupplyRawMaterial(ctx, manufacturer, 1)
	require.ErrorIs(t, err, domain.ErrNotRegistered)

	for _, id := range []int{0, -1, 1} {
		_, err = ledger.SupplyRawMaterial(ctx, supplier, id)
		require.ErrorIs(t, err, domain.ErrProductNotFound, "id %d", id)
	}
}

func TestRegisterProductRequiresEveryRegistry(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.ErrorIs(t, err, domain.ErrRolesIncomplete)
	var incomplete domain.RolesIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, domain.RoleKinds(), incomplete.Missing)

	_, err = ledger.RegisterSupplier(ctx, owner, supplier, "S", "P")
	require.NoError(t, err)
	_, err = ledger.RegisterManufacturer(ctx, owner, manufacturer, "M", "P")
	require.NoError(t, err)
	_, err = ledger.RegisterDistributor(ctx, owner, distributor, "D", "P")
	require.NoError(t, err)
	_, err = ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []RoleKind{RoleRetailer}, incomplete.Missing)

	count, err := ledger.ProductCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	events, err := ledger.ListEvents(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOwnerOnlyOperations(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)

	for _, caller := range []Address{stranger, supplier, ""} {
		for _, kind := range domain.RoleKinds() {
			_, err := ledger.RegisterRole(ctx, caller, kind, "0xF", "n", "p")
			require.ErrorIs(t, err, domain.ErrUnauthorized)
		}
		_, err := ledger.RegisterProduct(ctx, caller, "Y", "desc")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = ledger.UpdateEvidenceReference(ctx, caller, 1, "QmHash")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}

	// The owner check precedes argument validation.
	_, err = ledger.UpdateEvidenceReference(ctx, stranger, 42, "QmHash")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	count, err := ledger.RoleCount(ctx, RoleSupplier)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUninitializedLedgerRejectsPrivilegedCalls(t *testing.T) {
	ctx := context.Background()
	ledger := NewInMemoryLedger()

	_, err := ledger.RegisterSupplier(ctx, "", supplier, "S", "P")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := ledger.Owner(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestInitializeIsSetOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	require.NoError(t, ledger.Initialize(ctx, owner))
	err := ledger.Initialize(ctx, stranger)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	require.ErrorIs(t, ledger.Initialize(ctx, ""), domain.ErrInvalidArgument)

	got, err := ledger.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestUpdateEvidenceReference(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)

	product, err := ledger.UpdateEvidenceReference(ctx, owner, 1, "QmFirst")
	require.NoError(t, err)
	assert.Equal(t, "QmFirst", product.EvidenceRef)
	assert.Equal(t, StageInit, product.Stage)

	_, err = ledger.SupplyRawMaterial(ctx, supplier, 1)
	require.NoError(t, err)
	product, err = ledger.UpdateEvidenceReference(ctx, owner, 1, "QmSecond")
	require.NoError(t, err)
	assert.Equal(t, "QmSecond", product.EvidenceRef)
	assert.Equal(t, 1, product.RMSID)

	_, err = ledger.UpdateEvidenceReference(ctx, owner, 7, "QmThird")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	// Evidence updates are not custody events.
	events, err := ledger.ListEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFindRoleByAddressFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)

	first, err := ledger.RegisterSupplier(ctx, owner, supplier, "First", "P")
	require.NoError(t, err)
	second, err := ledger.RegisterSupplier(ctx, owner, supplier, "Second", "P")
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	id, err := ledger.FindRoleByAddress(ctx, RoleSupplier, supplier)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = ledger.FindRoleByAddress(ctx, RoleSupplier, stranger)
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = ledger.FindRoleByAddress(ctx, RoleManufacturer, supplier)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestRoleLookups(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)

	rec, err := ledger.GetRole(ctx, RoleDistributor, 1)
	require.NoError(t, err)
	assert.Equal(t, distributor, rec.Address)
	assert.Equal(t, "Delhi", rec.Place)

	_, err = ledger.GetRole(ctx, RoleDistributor, 2)
	require.ErrorIs(t, err, domain.ErrRoleNotFound)

	records, err := ledger.ListRoles(ctx, RoleRetailer)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Retailer", records[0].Name)

	_, err = ledger.RegisterRole(ctx, owner, RoleKind("auditor"), "0xF", "n", "p")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = ledger.RegisterRole(ctx, owner, RoleSupplier, " ", "n", "p")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestListProductsAndEventsFilter(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)

	for _, name := range []string{"A", "B", "C"} {
		_, err := ledger.RegisterProduct(ctx, owner, name, "desc")
		require.NoError(t, err)
	}
	_, err := ledger.SupplyRawMaterial(ctx, supplier, 2)
	require.NoError(t, err)

	products, err := ledger.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{products[0].ID, products[1].ID, products[2].ID})
	assert.Equal(t, StageRawMaterialSupply, products[1].Stage)

	all, err := ledger.ListEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}

	forTwo, err := ledger.ListEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, forTwo, 2)
	assert.Equal(t, domain.EventProductTransferred, forTwo[1].Kind)

	_, err = ledger.ListEvents(ctx, -1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestTransitionUnknownOperation(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.Transition(context.Background(), supplier, Operation("recall"), 1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestVerifyStage(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	registerAllRoles(t, ledger)
	_, err := ledger.RegisterProduct(ctx, owner, "X", "desc")
	require.NoError(t, err)

	ok, _, err := VerifyStage(ctx, ledger, 1, StageRawMaterialSupply)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ledger.SupplyRawMaterial(ctx, supplier, 1)
	require.NoError(t, err)
	ok, product, err := VerifyStage(ctx, ledger, 1, StageRawMaterialSupply)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, product.RMSID)

	_, _, err = VerifyStage(ctx, ledger, 9, StageInit)
	require.True(t, errors.Is(err, domain.ErrProductNotFound))
}
