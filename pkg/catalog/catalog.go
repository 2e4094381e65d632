package catalog

import (
	"errors"
	"fmt"
	"slices"
)

// Tier identifies a subscription plan. The set of valid tiers is closed;
// every component resolves allotments through the catalog instead of
// hard-coding per-tier values.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether the tier is one of the closed enumeration.
func (t Tier) Valid() bool {
	switch t {
	case TierStarter, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $5.00 USD is Amount: 500, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// Entry describes a single tier: its monthly credit allotment and its
// informational price. Entries are immutable after the catalog is built.
type Entry struct {
	Tier    Tier   `yaml:"tier"`
	Name    string `yaml:"name"`
	Credits int64  `yaml:"credits"`
	Price   Money  `yaml:"price"`
}

// DefaultAllotment is the credit ceiling for accounts without an active
// subscription.
const DefaultAllotment int64 = 10

// Catalog is a static tier-to-allotment lookup table loaded at process
// start. It has no mutable state and is safe for concurrent use.
type Catalog struct {
	entries map[Tier]Entry
}

// New builds a catalog from the given entries. Entries are copied so later
// modifications by the caller cannot affect the catalog.
func New(entries ...Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}

	byTier := make(map[Tier]Entry, len(entries))
	for _, e := range entries {
		if !e.Tier.Valid() {
			return nil, errors.Join(ErrInvalidEntry, fmt.Errorf("tier %q is not a known tier", e.Tier))
		}
		if e.Credits <= 0 {
			return nil, errors.Join(ErrInvalidEntry, fmt.Errorf("tier %q has non-positive allotment %d", e.Tier, e.Credits))
		}
		if _, exists := byTier[e.Tier]; exists {
			return nil, errors.Join(ErrDuplicateEntry, fmt.Errorf("tier %q appears twice", e.Tier))
		}
		byTier[e.Tier] = e
	}

	return &Catalog{entries: byTier}, nil
}

// Default returns the built-in catalog matching the published pricing page:
// starter $5/50 credits, professional $15/150, enterprise $25/300.
func Default() *Catalog {
	c, err := New(
		Entry{Tier: TierStarter, Name: "Starter", Credits: 50, Price: Money{Amount: 500, Currency: "USD"}},
		Entry{Tier: TierProfessional, Name: "Professional", Credits: 150, Price: Money{Amount: 1500, Currency: "USD"}},
		Entry{Tier: TierEnterprise, Name: "Enterprise", Credits: 300, Price: Money{Amount: 2500, Currency: "USD"}},
	)
	if err != nil {
		panic("catalog: invalid built-in entries: " + err.Error())
	}
	return c
}

// AllotmentFor returns the credit allotment for a tier.
func (c *Catalog) AllotmentFor(tier Tier) (int64, error) {
	e, ok := c.entries[tier]
	if !ok {
		return 0, errors.Join(ErrUnknownTier, fmt.Errorf("tier %q", tier))
	}
	return e.Credits, nil
}

// PriceFor returns the informational price for a tier.
func (c *Catalog) PriceFor(tier Tier) (Money, error) {
	e, ok := c.entries[tier]
	if !ok {
		return Money{}, errors.Join(ErrUnknownTier, fmt.Errorf("tier %q", tier))
	}
	return e.Price, nil
}

// Entry returns the full catalog entry for a tier.
func (c *Catalog) Entry(tier Tier) (Entry, error) {
	e, ok := c.entries[tier]
	if !ok {
		return Entry{}, errors.Join(ErrUnknownTier, fmt.Errorf("tier %q", tier))
	}
	return e, nil
}

// Entries returns all entries ordered by ascending allotment, suitable for
// rendering a pricing list.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return int(a.Credits - b.Credits)
	})
	return out
}
