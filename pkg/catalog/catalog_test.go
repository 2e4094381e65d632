package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid entries", func(t *testing.T) {
		t.Parallel()

		c, err := catalog.New(
			catalog.Entry{Tier: catalog.TierStarter, Credits: 50, Price: catalog.Money{Amount: 500, Currency: "USD"}},
			catalog.Entry{Tier: catalog.TierProfessional, Credits: 150, Price: catalog.Money{Amount: 1500, Currency: "USD"}},
		)
		require.NoError(t, err)
		require.NotNil(t, c)
	})

	t.Run("empty catalog", func(t *testing.T) {
		t.Parallel()

		c, err := catalog.New()
		assert.ErrorIs(t, err, catalog.ErrEmptyCatalog)
		assert.Nil(t, c)
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()

		_, err := catalog.New(catalog.Entry{Tier: "platinum", Credits: 500})
		assert.ErrorIs(t, err, catalog.ErrInvalidEntry)
	})

	t.Run("non-positive allotment", func(t *testing.T) {
		t.Parallel()

		_, err := catalog.New(catalog.Entry{Tier: catalog.TierStarter, Credits: 0})
		assert.ErrorIs(t, err, catalog.ErrInvalidEntry)
	})

	t.Run("duplicate tier", func(t *testing.T) {
		t.Parallel()

		_, err := catalog.New(
			catalog.Entry{Tier: catalog.TierStarter, Credits: 50},
			catalog.Entry{Tier: catalog.TierStarter, Credits: 60},
		)
		assert.ErrorIs(t, err, catalog.ErrDuplicateEntry)
	})
}

func TestDefault(t *testing.T) {
	t.Parallel()

	c := catalog.Default()

	tests := []struct {
		tier    catalog.Tier
		credits int64
		amount  int64
	}{
		{catalog.TierStarter, 50, 500},
		{catalog.TierProfessional, 150, 1500},
		{catalog.TierEnterprise, 300, 2500},
	}
	for _, tt := range tests {
		allotment, err := c.AllotmentFor(tt.tier)
		require.NoError(t, err)
		assert.Equal(t, tt.credits, allotment)

		price, err := c.PriceFor(tt.tier)
		require.NoError(t, err)
		assert.Equal(t, tt.amount, price.Amount)
		assert.Equal(t, "USD", price.Currency)
	}
}

func TestCatalog_AllotmentFor(t *testing.T) {
	t.Parallel()

	c := catalog.Default()

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()

		_, err := c.AllotmentFor("platinum")
		assert.ErrorIs(t, err, catalog.ErrUnknownTier)
	})

	t.Run("empty tier", func(t *testing.T) {
		t.Parallel()

		_, err := c.AllotmentFor("")
		assert.ErrorIs(t, err, catalog.ErrUnknownTier)
	})
}

func TestCatalog_Entries(t *testing.T) {
	t.Parallel()

	entries := catalog.Default().Entries()
	require.Len(t, entries, 3)

	// Ordered by ascending allotment.
	assert.Equal(t, catalog.TierStarter, entries[0].Tier)
	assert.Equal(t, catalog.TierProfessional, entries[1].Tier)
	assert.Equal(t, catalog.TierEnterprise, entries[2].Tier)
}

func TestTier_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, catalog.TierStarter.Valid())
	assert.True(t, catalog.TierProfessional.Valid())
	assert.True(t, catalog.TierEnterprise.Valid())
	assert.False(t, catalog.Tier("platinum").Valid())
	assert.False(t, catalog.Tier("").Valid())
	assert.False(t, catalog.Tier("Starter").Valid())
}
