package tracer

import (
	"reflect"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultMemorySize is the buffer capacity used when NewMemoryStore is given
// a non-positive size.
const DefaultMemorySize = 100

// MemoryStore keeps the most recent completed records in a bounded circular
// buffer. Once full, the oldest record is evicted per insert. Intended for
// tests, examples and local retrieval; snapshots are not supported.
type MemoryStore struct {
	logger *zap.Logger
	size   int

	mu    sync.RWMutex
	buf   []*Trace
	start int
	count int

	evictions atomic.Int64
}

var (
	_ Persister = (*MemoryStore)(nil)
	_ Retriever = (*MemoryStore)(nil)
)

// NewMemoryStore creates a store holding up to size records. A non-positive
// size selects DefaultMemorySize.
func NewMemoryStore(size int, logger *zap.Logger) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		logger: logger,
		size:   size,
		buf:    make([]*Trace, size),
	}
}

// Persist appends the record, evicting the oldest one when the buffer is
// full.
func (m *MemoryStore) Persist(tc *Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == m.size {
		evicted := m.buf[m.start]
		m.buf[m.start] = nil
		m.start = (m.start + 1) % m.size
		m.count--
		m.evictions.Inc()
		m.logger.Debug("evicting trace from memory store at capacity",
			zap.String("trace_id", evicted.TraceID),
			zap.String("span_id", evicted.SpanID),
			zap.Int("size", m.size))
	}

	m.buf[(m.start+m.count)%m.size] = tc
	m.count++
	return nil
}

// Traces returns the stored records in insertion order, oldest first. With a
// filter, only records whose attributes contain every given key/value pair
// are returned. Stored records are never mutated.
func (m *MemoryStore) Traces(filter Filter) ([]*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Trace, 0, m.count)
	for i := 0; i < m.count; i++ {
		tc := m.buf[(m.start+i)%m.size]
		if matchesFilter(tc, filter) {
			out = append(out, tc)
		}
	}
	return out, nil
}

// Len returns the number of records currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Evictions returns how many records have been dropped to stay within the
// size bound.
func (m *MemoryStore) Evictions() int64 {
	return m.evictions.Load()
}

func matchesFilter(tc *Trace, filter Filter) bool {
	for k, want := range filter {
		got, ok := tc.Attr(k)
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
