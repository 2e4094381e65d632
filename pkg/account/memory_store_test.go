package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

func TestMemStore_Get(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := account.NewMemStore()

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()

		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, account.ErrAccountNotFound)
	})

	t.Run("returns a copy", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		require.NoError(t, store.Create(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)

		got.Credits = 999
		again, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.DefaultAllotment, again.Credits)
	})
}

func TestMemStore_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := account.NewMemStore()
	rec := account.New(uuid.New(), "user@example.com")

	require.NoError(t, store.Create(ctx, rec))
	assert.ErrorIs(t, store.Create(ctx, rec), account.ErrAccountAlreadyExists)
}

func TestMemStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		_, err := store.Update(ctx, uuid.New(), func(rec *account.Record) error { return nil })
		assert.ErrorIs(t, err, account.ErrAccountNotFound)
	})

	t.Run("applies mutation and bumps updated_at", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		rec := account.New(uuid.New(), "user@example.com")
		rec.UpdatedAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.Create(ctx, rec))

		updated, err := store.Update(ctx, rec.ID, func(r *account.Record) error {
			r.Credits = 42
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), updated.Credits)
		assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))
	})

	t.Run("failed mutation leaves record untouched", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		rec := account.New(uuid.New(), "user@example.com")
		require.NoError(t, store.Create(ctx, rec))

		sentinel := errors.New("reject")
		_, err := store.Update(ctx, rec.ID, func(r *account.Record) error {
			r.Credits = 0
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.DefaultAllotment, got.Credits)
	})

	t.Run("concurrent updates serialize per account", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 0
		require.NoError(t, store.Create(ctx, rec))

		const workers = 50
		var wg sync.WaitGroup
		wg.Add(workers)
		for range workers {
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, rec.ID, func(r *account.Record) error {
					r.Credits++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), got.Credits)
	})
}

func TestRecord_Clone(t *testing.T) {
	t.Parallel()

	exp := time.Now().UTC().Add(time.Hour)
	rec := account.New(uuid.New(), "user@example.com")
	rec.Subscription = &account.Subscription{
		Tier:      catalog.TierStarter,
		Active:    true,
		ExpiresAt: &exp,
	}

	clone := rec.Clone()
	clone.Subscription.Active = false
	*clone.Subscription.ExpiresAt = exp.Add(time.Hour)

	assert.True(t, rec.Subscription.Active)
	assert.True(t, rec.Subscription.ExpiresAt.Equal(exp))
}

func TestSubscription_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&account.Subscription{ExpiresAt: &future}).Expired(now))
	assert.True(t, (&account.Subscription{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&account.Subscription{}).Expired(now))

	var nilSub *account.Subscription
	assert.False(t, nilSub.Expired(now))
}

func TestNew(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	rec := account.New(id, "user@example.com")

	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "user@example.com", rec.Email)
	assert.Equal(t, catalog.DefaultAllotment, rec.Credits)
	assert.Nil(t, rec.Subscription)
	assert.Empty(t, rec.PendingCheckoutToken)
}
