package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
)

func newAccount(t *testing.T, store account.Store, credits int64) uuid.UUID {
	t.Helper()

	rec := account.New(uuid.New(), "user@example.com")
	rec.Credits = credits
	require.NoError(t, store.Create(context.Background(), rec))
	return rec.ID
}

func TestLedger_Debit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reduces balance", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 50)

		remaining, err := l.Debit(ctx, id, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(30), remaining)
	})

	t.Run("exact balance to zero", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 50)

		remaining, err := l.Debit(ctx, id, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining)
	})

	t.Run("insufficient credits leaves balance unchanged", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 10)

		_, err := l.Debit(ctx, id, 11)
		assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

		balance, err := l.Balance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance)
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 10)

		remaining, err := l.Debit(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(10), remaining)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 10)

		_, err := l.Debit(ctx, id, -1)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()

		l := ledger.New(account.NewMemStore())
		_, err := l.Debit(ctx, uuid.New(), 1)
		assert.ErrorIs(t, err, account.ErrAccountNotFound)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		t.Parallel()

		store := account.NewMemStore()
		l := ledger.New(store)
		id := newAccount(t, store, 10)

		const attempts = 30
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0

		wg.Add(attempts)
		for range attempts {
			go func() {
				defer wg.Done()
				if _, err := l.Debit(ctx, id, 1); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)

		balance, err := l.Balance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestGrant(t *testing.T) {
	t.Parallel()

	t.Run("replaces balance", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 10

		require.NoError(t, ledger.Grant(rec, 150))
		assert.Equal(t, int64(150), rec.Credits)
	})

	t.Run("negative balance rejected", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 10

		assert.ErrorIs(t, ledger.Grant(rec, -1), ledger.ErrInvalidBalance)
		assert.Equal(t, int64(10), rec.Credits)
	})
}

func TestClamp(t *testing.T) {
	t.Parallel()

	t.Run("lowers balance above ceiling", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 140

		require.NoError(t, ledger.Clamp(rec, 50))
		assert.Equal(t, int64(50), rec.Credits)
	})

	t.Run("never raises balance", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 30

		require.NoError(t, ledger.Clamp(rec, 50))
		assert.Equal(t, int64(30), rec.Credits)
	})

	t.Run("negative ceiling rejected", func(t *testing.T) {
		t.Parallel()

		rec := account.New(uuid.New(), "user@example.com")
		rec.Credits = 30

		assert.ErrorIs(t, ledger.Clamp(rec, -1), ledger.ErrInvalidBalance)
	})
}

func TestNew_PanicsOnNilStore(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { ledger.New(nil) })
}
