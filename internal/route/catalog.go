package route

import (
	"context"
	"fmt"
	"time"

	"github.com/bluele/gcache"
)

// Source loads variants from storage.
type Source interface {
	Variant(ctx context.Context, id string) (*Variant, error)
	VariantsForStop(ctx context.Context, stopID string) ([]*Variant, error)
}

// Catalog caches variant stop sequences. Ordinals never change for a loaded
// variant, so entries only expire to pick up newly imported variants.
type Catalog struct {
	src   Source
	cache gcache.Cache
}

func NewCatalog(src Source, size int, ttl time.Duration) *Catalog {
	if size <= 0 {
		size = 1024
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &Catalog{src: src, cache: b.Build()}
}

// Variant returns the variant with the given external id.
func (c *Catalog) Variant(ctx context.Context, id string) (*Variant, error) {
	if v, err := c.cache.Get(id); err == nil {
		return v.(*Variant), nil
	}
	v, err := c.src.Variant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load variant %s: %w", id, err)
	}
	_ = c.cache.Set(id, v)
	return v, nil
}

// VariantsForStop returns every variant serving stopID and refreshes the
// cache with them.
func (c *Catalog) VariantsForStop(ctx context.Context, stopID string) ([]*Variant, error) {
	vs, err := c.src.VariantsForStop(ctx, stopID)
	if err != nil {
		return nil, fmt.Errorf("load variants for stop %s: %w", stopID, err)
	}
	for _, v := range vs {
		_ = c.cache.Set(v.ID, v)
	}
	return vs, nil
}

// Purge drops every cached variant.
func (c *Catalog) Purge() { c.cache.Purge() }
