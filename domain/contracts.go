package domain

import (
	"context"

	"github.com/fllarpy/callprobe/domain/calls"
)

// Snapshot is a point-in-time, read-only copy of the store.
type Snapshot struct {
	CallTrees      []calls.Summary       `json:"call_trees"`
	NPlusOneEvents []calls.NPlusOneEvent `json:"n_plus_one_events"`
	Dropped        uint64                `json:"dropped"`
}

// StoreReader defines the contract for reading call trees from a store.
type StoreReader interface {
	GetSnapshot() *Snapshot
	Record(index int) (calls.Record, bool)
}

// StoreWriter defines the contract for writing call trees to a store.
type StoreWriter interface {
	AddRecord(record calls.Record)
	RecordNPlusOne(event calls.NPlusOneEvent)
	AddDropped(n uint64)
}

// Store is the combined interface for a call-tree store.
type Store interface {
	StoreReader
	StoreWriter
}

// RecordSink accepts finished call trees from a session boundary. Submit
// must not block; it reports false when the record was dropped.
type RecordSink interface {
	Submit(record calls.Record) bool
}

// Reporter ships a finished call tree somewhere: a log, a tracing backend, a
// message broker.
type Reporter interface {
	Report(ctx context.Context, record calls.Record) error
}

// Collector runs in the background until stopped.
type Collector interface {
	Start()
	Stop()
}
