// Package catalog is the read-only lookup of draftable items.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Item struct {
	ID          string          `yaml:"id" json:"id"`
	Category    engine.Category `yaml:"-" json:"category"`
	Name        string          `yaml:"name" json:"name"`
	Image       string          `yaml:"image" json:"image"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
}

type file struct {
	Civilizations []Item `yaml:"civilizations"`
	Leaders       []Item `yaml:"leaders"`
	Souvenirs     []Item `yaml:"souvenirs"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	items map[string]Item
	ids   map[engine.Category][]string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog YAML file, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		items: make(map[string]Item),
		ids:   make(map[engine.Category][]string),
	}
	groups := []struct {
		cat   engine.Category
		items []Item
	}{
		{engine.CategoryCiv, f.Civilizations},
		{engine.CategoryLeader, f.Leaders},
		{engine.CategorySouvenir, f.Souvenirs},
	}
	for _, g := range groups {
		for _, it := range g.items {
			if it.ID == "" {
				return nil, fmt.Errorf("parse catalog: %s entry without id", g.cat)
			}
			if _, dup := c.items[it.ID]; dup {
				return nil, fmt.Errorf("parse catalog: duplicate id %q", it.ID)
			}
			it.Category = g.cat
			c.items[it.ID] = it
			c.ids[g.cat] = append(c.ids[g.cat], it.ID)
		}
	}
	return c, nil
}

// Get looks an item up by id across all categories.
func (c *Catalog) Get(id string) (Item, error) {
	it, ok := c.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: catalog item %q", engine.ErrNotFound, id)
	}
	return it, nil
}

// IDs lists a category's ids in catalog order. Callers must not modify it.
func (c *Catalog) IDs(cat engine.Category) []string {
	return c.ids[cat]
}

// Name resolves an id to its display name, falling back to the id.
func (c *Catalog) Name(id string) string {
	if it, ok := c.items[id]; ok {
		return it.Name
	}
	return id
}
