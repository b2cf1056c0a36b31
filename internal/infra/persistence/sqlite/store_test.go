package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"custodychain/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.SetOwner("0xOwner"); err != nil {
			return err
		}
		if _, err := tx.RegisterRole(domain.RoleRecord{Role: domain.RoleSupplier, Address: "0xA", Name: "Supplier"}); err != nil {
			return err
		}
		p, err := tx.CreateProduct(domain.Product{Name: "X", Description: "desc"})
		if err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.Event{Kind: domain.EventProductRegistered, ProductID: p.ID, Name: p.Name})
		return err
	})
	require.NoError(t, err)
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())
	seed(t, store)
	require.NoError(t, store.Close())

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	require.NoError(t, reloaded.View(context.Background(), func(v domain.TransactionView) error {
		assert.Equal(t, domain.Address("0xOwner"), v.Owner())
		assert.Equal(t, 1, v.FindRoleByAddress(domain.RoleSupplier, "0xA"))
		p, ok := v.FindProduct(1)
		require.True(t, ok)
		assert.Equal(t, "desc", p.Description)
		events := v.ListEvents(1)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		return nil
	}))
}

func TestSQLiteStoreWritesEveryBucket(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store)

	rows, err := store.DB().Query(`SELECT bucket FROM state ORDER BY bucket`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var buckets []string
	for rows.Next() {
		var bucket string
		require.NoError(t, rows.Scan(&bucket))
		buckets = append(buckets, bucket)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"events", "owner", "products", "roles"}, buckets)
}

func TestSQLiteStoreFailedTransactionIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	require.NoError(t, err)
	seed(t, store)

	boom := errors.New("boom")
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(domain.Product{Name: "Y"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, store.Close())

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })
	assert.Len(t, reloaded.ExportState().Products, 1)
}

func TestSQLiteStoreRevertsMemoryWhenPersistFails(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	require.NoError(t, err)
	seed(t, store)
	require.NoError(t, store.DB().Close())

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateProduct(domain.Product{Name: "Y"})
		return err
	})
	require.Error(t, err)
	assert.Len(t, store.ExportState().Products, 1, "memory state must match the last durable snapshot")
}

func TestSQLiteStoreReadersNeverSeeUnpersistedCommits(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	require.NoError(t, err)
	seed(t, store)
	require.NoError(t, store.DB().Close())

	var stop atomic.Bool
	var dirty atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() {
			_ = store.View(ctx, func(v domain.TransactionView) error {
				if v.ProductCount() != 1 {
					dirty.Add(1)
				}
				return nil
			})
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateProduct(domain.Product{Name: "Y"})
			return err
		})
		require.Error(t, err)
	}
	stop.Store(true)
	<-done

	assert.Zero(t, dirty.Load(), "reads observed products that were never persisted")
	assert.Len(t, store.ExportState().Products, 1)
}
