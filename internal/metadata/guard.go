// Package metadata keeps user supplied derivative metadata from shadowing the
// columns of the record schema.
package metadata

import (
	"context"
	"sort"
	"sync"

	"pictor/internal/apperr"
	"pictor/internal/metrics"
	"pictor/pkg/cache"
	"pictor/pkg/logger"
)

const columnsKey = "derivatives"

// ColumnSource lists the column names of the record schema.
type ColumnSource interface {
	Columns(ctx context.Context) ([]string, error)
}

// AssertNoCollision returns a MetadataCollisionError naming every key of
// candidate that is also a reserved column. Disjoint or empty sets pass.
func AssertNoCollision(candidate []string, reserved []string) error {
	if len(candidate) == 0 || len(reserved) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(reserved))
	for _, col := range reserved {
		set[col] = struct{}{}
	}

	var hits []string
	seen := make(map[string]struct{}, len(candidate))
	for _, key := range candidate {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := set[key]; ok {
			hits = append(hits, key)
		}
	}
	if len(hits) > 0 {
		return apperr.NewMetadataCollision(hits)
	}
	return nil
}

// Keys returns the sorted keys of meta.
func Keys(meta map[string]interface{}) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Guard checks metadata against the reserved column set, which it loads from
// the record store and caches for the cache TTL. A stale set is tolerated
// until it expires or Invalidate is called.
type Guard struct {
	source ColumnSource
	cache  *cache.MemoryCache[[]string]
	log    *logger.Logger

	// loadMu collapses concurrent reloads into one schema read.
	loadMu sync.Mutex
}

func NewGuard(source ColumnSource, c *cache.MemoryCache[[]string], log *logger.Logger) *Guard {
	return &Guard{source: source, cache: c, log: log}
}

// Reserved returns the reserved column names, reading the schema on a miss.
func (g *Guard) Reserved(ctx context.Context) ([]string, error) {
	if cols, ok := g.cache.Get(columnsKey); ok {
		return cols, nil
	}

	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if cols, ok := g.cache.Get(columnsKey); ok {
		return cols, nil
	}

	cols, err := g.source.Columns(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ReservedColumnLoads.Inc()
	g.log.Debug("Loaded %d reserved columns, cached for %s", len(cols), g.cache.TTL())

	g.cache.Set(columnsKey, cols)
	return cols, nil
}

// AssertNoCollision checks the keys of meta against the reserved columns.
func (g *Guard) AssertNoCollision(ctx context.Context, meta map[string]interface{}) error {
	if len(meta) == 0 {
		return nil
	}
	reserved, err := g.Reserved(ctx)
	if err != nil {
		return err
	}
	return AssertNoCollision(Keys(meta), reserved)
}

// Invalidate drops the cached column set so the next check rereads it.
func (g *Guard) Invalidate() {
	g.cache.Delete(columnsKey)
}
