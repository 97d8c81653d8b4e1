package inmemory

import (
	"sync"
	"time"

	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/domain/calls"
)

const (
	// DefaultRecordBufferSize is the number of call trees kept when none is
	// configured.
	DefaultRecordBufferSize = 100

	// Default buffer size for N+1 events.
	defaultEventBufferSize = 100
)

// Store is a thread-safe in-memory store for finished call trees.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

type Store struct {
	mu             sync.RWMutex
	records        *ringBuffer[calls.Record]
	nPlusOneEvents *ringBuffer[calls.NPlusOneEvent]
	dropped        uint64
}

// NewStore creates a Store keeping the last size call trees.
func NewStore(size int) *Store {
	if size <= 0 {
		size = DefaultRecordBufferSize
	}
	return &Store{
		records:        newRingBuffer[calls.Record](size),
		nPlusOneEvents: newRingBuffer[calls.NPlusOneEvent](defaultEventBufferSize),
	}
}

// AddRecord keeps record, evicting the oldest one when full.
func (s *Store) AddRecord(record calls.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.add(record)
}

// RecordNPlusOne adds a new N+1 event to the ring buffer.
func (s *Store) RecordNPlusOne(event calls.NPlusOneEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Description == "" {
		event.Description = "N+1 query detected"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nPlusOneEvents.add(event)
}

// AddDropped counts call trees that were discarded before reaching the
// store or a reporter.
func (s *Store) AddDropped(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped += n
}

// Record returns the call tree at index, 0 being the oldest one kept.
func (s *Store) Record(index int) (calls.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.get(index)
}

// GetSnapshot returns a read-only copy of the store's content.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records.getAll()
	snapshot := &domain.Snapshot{
		CallTrees:      make([]calls.Summary, 0, len(records)),
		NPlusOneEvents: s.nPlusOneEvents.getAll(),
		Dropped:        s.dropped,
	}
	for i, r := range records {
		snapshot.CallTrees = append(snapshot.CallTrees, r.Summarize(i))
	}
	return snapshot
}

// --- Ring Buffer ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// get returns the i-th oldest element.
func (rb *ringBuffer[T]) get(i int) (T, bool) {
	if i < 0 || i >= rb.count {
		var zero T
		return zero, false
	}
	return rb.buffer[(rb.start+i)%rb.size], true
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
