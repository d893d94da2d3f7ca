package device

import (
	"github.com/wapanel/wapanel/internal/persist"
	"github.com/wapanel/wapanel/internal/store"
)

// Storage is the durable side of one device: either the per-device
// append-only log or a partition of the relational store. Exactly one
// backs a device, never both.
type Storage interface {
	Seen(msgID string) bool
	Append(rec persist.Record)
	SaveAliases(aliases, links map[string]string)
	LoadAliases() (aliases, links map[string]string, err error)
	Hydrate(cutoff int64, apply func(persist.Record)) error
	Compact(cutoff int64)
	Drain()
	Close() error
	Destroy() error
}

// Searcher is implemented by storage backends with full-text search.
type Searcher interface {
	Search(query, convoID string, limit int) ([]store.SearchResult, error)
}

// Backfiller is implemented by storage backends that can normalize
// previously persisted conversation rows against current alias evidence.
type Backfiller interface {
	Backfill() (int64, error)
}
