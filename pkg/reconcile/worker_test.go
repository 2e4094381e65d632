package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/checkout"
	"github.com/dmitrymomot/creditkit/pkg/reconcile"
)

type mockStatusSource struct {
	mock.Mock
}

func (m *mockStatusSource) QueryStatus(ctx context.Context, accountID uuid.UUID) (*checkout.ProviderStatus, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.ProviderStatus), args.Error(1)
}

func seedAccount(t *testing.T, store account.Store, mutate func(*account.Record)) uuid.UUID {
	t.Helper()

	rec := account.New(uuid.New(), "user@example.com")
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return rec.ID
}

func TestWorker_Reconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("lapses subscription without touching credits", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Credits = 120
			rec.Subscription = &account.Subscription{Tier: catalog.TierProfessional, Active: true, ExpiresAt: &exp}
		})

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{Active: false}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Subscription.Active)
		assert.Equal(t, catalog.TierProfessional, rec.Subscription.Tier)
		assert.Nil(t, rec.Subscription.ExpiresAt)
		assert.Equal(t, int64(120), rec.Credits)
	})

	t.Run("matching state is not rewritten", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Credits = 140
			rec.Subscription = &account.Subscription{Tier: catalog.TierProfessional, Active: true, ExpiresAt: &exp}
		})
		before, err := store.Get(ctx, id)
		require.NoError(t, err)

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{
			Tier:      catalog.TierProfessional,
			Active:    true,
			ExpiresAt: &exp,
		}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		after, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("never-subscribed account with inactive provider is untouched", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		id := seedAccount(t, store, nil)
		before, err := store.Get(ctx, id)
		require.NoError(t, err)

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{Active: false}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		after, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("tier mismatch adopts provider truth and clamps credits", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Credits = 140
			rec.Subscription = &account.Subscription{Tier: catalog.TierProfessional, Active: true, ExpiresAt: &exp}
		})

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{
			Tier:      catalog.TierStarter,
			Active:    true,
			ExpiresAt: &exp,
		}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, catalog.TierStarter, rec.Subscription.Tier)
		assert.Equal(t, int64(50), rec.Credits)
	})

	t.Run("adopting a tier never tops credits up", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Credits = 3
			rec.Subscription = &account.Subscription{Tier: catalog.TierStarter, Active: false}
		})

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{
			Tier:      catalog.TierStarter,
			Active:    true,
			ExpiresAt: &exp,
		}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Subscription.Active)
		assert.Equal(t, int64(3), rec.Credits)
	})

	t.Run("renewed billing period extends expiry", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		renewed := exp.Add(30 * 24 * time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Credits = 80
			rec.Subscription = &account.Subscription{Tier: catalog.TierProfessional, Active: true, ExpiresAt: &exp}
		})

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{
			Tier:      catalog.TierProfessional,
			Active:    true,
			ExpiresAt: &renewed,
		}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		require.NoError(t, w.Reconcile(ctx, id))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Subscription.ExpiresAt.Equal(renewed))
		assert.Equal(t, int64(80), rec.Credits)
	})

	t.Run("stale snapshot is discarded", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		exp := time.Now().UTC().Add(time.Hour)
		id := seedAccount(t, store, func(rec *account.Record) {
			rec.Subscription = &account.Subscription{Tier: catalog.TierStarter, Active: true, ExpiresAt: &exp}
		})

		// A checkout outcome lands after the snapshot was taken.
		_, err := store.Update(ctx, id, func(rec *account.Record) error { return nil })
		require.NoError(t, err)

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{Active: false}, nil)
		past := time.Now().UTC().Add(-time.Hour)
		w := reconcile.NewWorker(store, catalog.Default(), source,
			reconcile.WithClock(func() time.Time { return past }))

		require.NoError(t, w.Reconcile(ctx, id))

		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Subscription.Active)
	})

	t.Run("provider failure is reported, state untouched", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		id := seedAccount(t, store, nil)

		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).Return(nil, errors.New("timeout"))
		w := reconcile.NewWorker(store, catalog.Default(), source)

		err := w.Reconcile(ctx, id)
		assert.ErrorIs(t, err, checkout.ErrProviderUnavailable)
	})

	t.Run("refuses concurrent reconciliation of one account", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		id := seedAccount(t, store, nil)

		entered := make(chan struct{})
		release := make(chan struct{})
		source := &mockStatusSource{}
		source.On("QueryStatus", mock.Anything, id).
			Run(func(args mock.Arguments) {
				close(entered)
				<-release
			}).
			Return(&checkout.ProviderStatus{Active: false}, nil)
		w := reconcile.NewWorker(store, catalog.Default(), source)

		done := make(chan error, 1)
		go func() { done <- w.Reconcile(ctx, id) }()

		<-entered
		assert.ErrorIs(t, w.Reconcile(ctx, id), reconcile.ErrReconcileInProgress)
		close(release)
		require.NoError(t, <-done)
	})
}

func TestWorker_Run(t *testing.T) {
	t.Parallel()

	store := account.NewMemStore()
	exp := time.Now().UTC().Add(time.Hour)
	id := seedAccount(t, store, func(rec *account.Record) {
		rec.Subscription = &account.Subscription{Tier: catalog.TierStarter, Active: true, ExpiresAt: &exp}
	})

	source := &mockStatusSource{}
	source.On("QueryStatus", mock.Anything, id).Return(&checkout.ProviderStatus{Active: false}, nil)

	w := reconcile.NewWorker(store, catalog.Default(), source,
		reconcile.WithInterval(10*time.Millisecond))
	w.Watch(id)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), id)
		return err == nil && !rec.Subscription.Active
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
