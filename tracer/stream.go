package tracer

import (
	"sync"

	"go.uber.org/zap"
)

type streamState int

const (
	streamOpen streamState = iota
	streamShuttingDown
	streamClosed
)

// Stream turns the span lifecycle into a consumable sequence: completed
// records and snapshots are enqueued in persistence order and read off the
// channel returned by C. Reading blocks while the stream is open and the
// queue is empty; the channel closes only after Shutdown has been called and
// every record enqueued before it has been delivered.
//
// Persisting to a stream that has been shut down fails with ErrStreamClosed;
// records are never silently dropped.
//
// The default consumption model is single-consumer. Multiple readers of C
// compete per record.
type Stream struct {
	logger *zap.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*Trace
	state streamState

	out chan *Trace
}

var _ SnapshotPersister = (*Stream)(nil)

// NewStream creates an open stream and starts its delivery goroutine.
func NewStream(logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		logger: logger,
		out:    make(chan *Trace),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C returns the channel completed records and snapshots are delivered on.
// The channel is closed once the stream has shut down and drained.
func (s *Stream) C() <-chan *Trace {
	return s.out
}

// Persist enqueues a completed record.
func (s *Stream) Persist(tc *Trace) error {
	return s.enqueue(tc)
}

// PersistSnapshot enqueues an in-progress snapshot record.
func (s *Stream) PersistSnapshot(tc *Trace) error {
	return s.enqueue(tc)
}

// SnapshotsEnabled reports snapshot capability; always true for streams.
func (s *Stream) SnapshotsEnabled() bool {
	return true
}

func (s *Stream) enqueue(tc *Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamOpen {
		return ErrStreamClosed
	}
	s.queue = append(s.queue, tc)
	s.cond.Signal()
	return nil
}

// Shutdown stops accepting records and lets consumption run the queue dry,
// after which the channel closes. Idempotent; it never discards records
// enqueued before the call.
func (s *Stream) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamOpen {
		return
	}
	s.state = streamShuttingDown
	s.logger.Debug("stream tracer shutting down", zap.Int("pending", len(s.queue)))
	// Closing the channel after drain is the sentinel; wake the pump in case
	// it is parked on an empty queue.
	s.cond.Broadcast()
}

func (s *Stream) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state == streamOpen {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			// Shutting down and fully drained.
			s.state = streamClosed
			s.mu.Unlock()
			close(s.out)
			return
		}
		tc := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- tc
	}
}
