package catalog

import "errors"

var (
	ErrUnknownTier    = errors.New("unknown subscription tier")
	ErrInvalidEntry   = errors.New("invalid catalog entry")
	ErrEmptyCatalog   = errors.New("catalog requires at least one entry")
	ErrDuplicateEntry = errors.New("duplicate catalog entry for tier")

	ErrFailedToLoadCatalog = errors.New("failed to load tier catalog")
)
