package catalog

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML builds a catalog from a YAML document of the form:
//
//	tiers:
//	  - tier: starter
//	    name: Starter
//	    credits: 50
//	    price: {amount: 500, currency: USD}
//
// Keeping the table in one file avoids the tier-to-credit mapping drifting
// between callers.
func LoadYAML(r io.Reader) (*Catalog, error) {
	var doc struct {
		Tiers []Entry `yaml:"tiers"`
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}

	c, err := New(doc.Tiers...)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return c, nil
}

// LoadYAMLFile reads a catalog definition from the given path.
func LoadYAMLFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	defer f.Close()

	return LoadYAML(f)
}
