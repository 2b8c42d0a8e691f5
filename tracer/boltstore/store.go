// Package boltstore persists spans in a bolt key-value database.
//
// Each record is stored under a key of its start time (big-endian nanos)
// followed by a 64-bit hash of its trace and span IDs, so a cursor scan
// returns records in time order. A secondary index keyed by the well-known
// conversation attribute allows retrieving every span of one logical
// conversation without scanning the primary bucket.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cespare/xxhash/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/deepaksharma/agenttrace/tracer"
)

var (
	bucketTraces       = []byte("traces")
	bucketConversation = []byte("conversation_idx")
)

// Store is a bolt-backed span store. It implements the persistence contract
// including snapshots (as idempotent upserts) and retrieval.
type Store struct {
	db     *bolt.DB
	cfg    Config
	logger *zap.Logger

	pruneCron *cron.Cron
	pruned    atomic.Int64
}

var (
	_ tracer.Persister         = (*Store)(nil)
	_ tracer.SnapshotPersister = (*Store)(nil)
	_ tracer.Retriever         = (*Store)(nil)
)

// Open opens or creates the store at cfg.Path and, when configured, starts
// the retention pruning job.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid boltstore config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open span database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTraces); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketConversation)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	s := &Store{db: db, cfg: cfg, logger: logger}

	if cfg.PruneSchedule != "" {
		s.pruneCron = cron.New()
		_, err := s.pruneCron.AddFunc(cfg.PruneSchedule, func() {
			if err := s.Prune(); err != nil {
				logger.Error("retention pruning failed", zap.Error(err))
			}
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to schedule pruning: %w", err)
		}
		s.pruneCron.Start()
		logger.Info("retention pruning scheduled",
			zap.String("schedule", cfg.PruneSchedule),
			zap.Duration("retention", cfg.Retention))
	}

	return s, nil
}

// Close stops background jobs and closes the database.
func (s *Store) Close() error {
	if s.pruneCron != nil {
		s.pruneCron.Stop()
	}
	return s.db.Close()
}

// Persist writes the completed record, replacing any snapshot previously
// stored for the same span.
func (s *Store) Persist(tc *tracer.Trace) error {
	return s.put(tc)
}

// PersistSnapshot upserts an in-progress copy of an open span. Repeated
// snapshots of one span overwrite each other; the completed record wins.
func (s *Store) PersistSnapshot(tc *tracer.Trace) error {
	return s.put(tc)
}

// SnapshotsEnabled reports the configured snapshot capability.
func (s *Store) SnapshotsEnabled() bool {
	return s.cfg.SnapshotsEnabled
}

func (s *Store) put(tc *tracer.Trace) error {
	key := recordKey(tc)
	value := serializeTrace(tc)

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTraces).Put(key, value); err != nil {
			return fmt.Errorf("failed to write span: %w", err)
		}
		if convID, ok := conversationID(tc); ok {
			idxKey := conversationKey(convID, key)
			if err := tx.Bucket(bucketConversation).Put(idxKey, key); err != nil {
				return fmt.Errorf("failed to write conversation index: %w", err)
			}
		}
		return nil
	})
}

// Traces returns stored records in time order, filtered by exact attribute
// match.
func (s *Store) Traces(filter tracer.Filter) ([]*tracer.Trace, error) {
	var out []*tracer.Trace
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTraces).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			tc, err := deserializeTrace(v)
			if err != nil {
				s.logger.Warn("skipping unreadable span record", zap.Error(err))
				continue
			}
			if matchesFilter(tc, filter) {
				out = append(out, tc)
			}
		}
		return nil
	})
	return out, err
}

// TracesByConversation returns every span carrying the given conversation
// identifier, in time order, via the secondary index.
func (s *Store) TracesByConversation(conversationID string) ([]*tracer.Trace, error) {
	var out []*tracer.Trace
	prefix := append([]byte(conversationID), 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		traces := tx.Bucket(bucketTraces)
		c := tx.Bucket(bucketConversation).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			raw := traces.Get(v)
			if raw == nil {
				continue
			}
			tc, err := deserializeTrace(raw)
			if err != nil {
				s.logger.Warn("skipping unreadable span record", zap.Error(err))
				continue
			}
			out = append(out, tc)
		}
		return nil
	})
	return out, err
}

// Prune deletes records older than the configured retention, index entries
// included. No-op when retention is unset.
func (s *Store) Prune() error {
	if s.cfg.Retention == 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.cfg.Retention).UnixNano()
	start := time.Now()

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		traces := tx.Bucket(bucketTraces)
		idx := tx.Bucket(bucketConversation)
		c := traces.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// Keys are time-prefixed, so the first fresh record ends the scan.
			if int64(binary.BigEndian.Uint64(k[:8])) >= cutoff {
				break
			}
			if tc, err := deserializeTrace(v); err == nil {
				if convID, ok := conversationID(tc); ok {
					if err := idx.Delete(conversationKey(convID, k)); err != nil {
						return fmt.Errorf("failed to delete index entry: %w", err)
					}
				}
			}
			if err := c.Delete(); err != nil {
				return fmt.Errorf("failed to delete span: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		s.pruned.Add(int64(removed))
		s.logger.Debug("pruned expired spans",
			zap.Int("removed", removed),
			zap.Duration("retention", s.cfg.Retention),
			zap.Duration("duration", time.Since(start)))
	}
	return nil
}

// Pruned returns the total number of records removed by retention pruning.
func (s *Store) Pruned() int64 {
	return s.pruned.Load()
}

// recordKey builds the primary key: start time for ordering, then a hash of
// the span identity so snapshots and the completed record share one slot.
func recordKey(tc *tracer.Trace) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(tc.StartedAt.UnixNano()))
	h := xxhash.New()
	_, _ = h.WriteString(tc.TraceID)
	_, _ = h.WriteString(tc.SpanID)
	binary.BigEndian.PutUint64(key[8:], h.Sum64())
	return key
}

func conversationKey(conversationID string, recordKey []byte) []byte {
	key := make([]byte, 0, len(conversationID)+1+len(recordKey))
	key = append(key, conversationID...)
	key = append(key, 0)
	return append(key, recordKey...)
}

func conversationID(tc *tracer.Trace) (string, bool) {
	v, ok := tc.Attr(tracer.AttrConversationID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func matchesFilter(tc *tracer.Trace, filter tracer.Filter) bool {
	for k, want := range filter {
		got, ok := tc.Attr(k)
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
