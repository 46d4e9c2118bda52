// Package sequencer routes bursts of inbound events for many independent
// conversations through a shared process.
//
// Per conversation key it rate-limits submissions with a token bucket,
// guarantees at most one runner invocation in flight, cancels the active
// run when newer input arrives (supersession), and coalesces queued and
// superseded input into the next run so that no accepted event is ever
// dropped. Keys are fully independent and may run concurrently.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/convoflow-go/graph/emit"
	"github.com/dshills/convoflow-go/sequencer/store"
)

// Payload and Entry are the store package's types re-exported for
// convenience at the submission API.
type (
	Payload = store.Payload
	Entry   = store.Entry
)

// Runner executes one coalesced batch for a key. It is typically a
// compiled graph's Invoke wrapped by the caller; the sequencer knows
// nothing about what runs inside.
//
// ctx is cancelled when the run is superseded by newer input. A runner
// that returns after its ctx was cancelled has its input carried forward
// into the next batch; any other error ends the batch and is reported via
// Options.OnRunError.
type Runner func(ctx context.Context, runID string, payload Payload) error

// Options configures a Sequencer. Zero values select the defaults noted
// per field.
type Options struct {
	// BucketCapacity is the token bucket capacity per key. Default 5.
	BucketCapacity int

	// RefillPeriod is the time to regain one token. Default 8s.
	RefillPeriod time.Duration

	// SessionTTL is how long an idle key's state is kept before the
	// sweep evicts it. Default 1h.
	SessionTTL time.Duration

	// SweepInterval is how often the eviction sweep runs. Default 10m.
	// Set negative to disable the background sweeper.
	SweepInterval time.Duration

	// Coalescer merges a drained batch into one composite payload.
	// Default CoalescePayloads.
	Coalescer Coalescer

	// Emitter receives observability events. Optional.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics. Optional.
	Metrics *Metrics

	// OnRunError is called when a run fails for a reason other than
	// supersession. The sequencer's only obligation is not to hide the
	// failure; fallback behavior belongs to the caller. Optional.
	OnRunError func(key, runID string, err error)
}

const (
	defaultBucketCapacity = 5
	defaultRefillPeriod   = 8 * time.Second
	defaultSessionTTL     = time.Hour
	defaultSweepInterval  = 10 * time.Minute
)

// Sequencer enforces per-key rate limiting, single-flight execution,
// supersession, and coalescing over an injected Runner.
//
// Construct with New, feed it with Submit, and Close it on shutdown.
type Sequencer struct {
	runner Runner
	store  store.SessionStore
	opts   Options

	// now is the clock; replaced in tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
	closed   bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// liveSession is the runtime-only half of a key's state. It never leaves
// the process: cancel handles and generation markers are not serializable,
// and the carry-over buffer only exists between a cancelled run and the
// batch that absorbs it.
type liveSession struct {
	mu sync.Mutex

	// dead is set by the sweep when it evicts this session from the
	// map. A submission that raced the sweep sees the flag and fetches
	// a fresh session instead of resurrecting this one.
	dead bool

	// processing is true while a drain loop owns this key.
	processing bool

	// generation identifies the currently active run attempt.
	generation string

	// cancel aborts the active run; nil when no run is in flight.
	cancel context.CancelFunc

	// accumulated carries the input of a just-cancelled run into the
	// next batch.
	accumulated []store.Entry

	// lastActivity mirrors the stored session's timestamp for eviction.
	lastActivity time.Time
}

// New creates a Sequencer over the given runner and session store.
// A nil store defaults to an in-process MemStore.
func New(runner Runner, st store.SessionStore, opts Options) *Sequencer {
	if st == nil {
		st = store.NewMemStore()
	}
	if opts.BucketCapacity <= 0 {
		opts.BucketCapacity = defaultBucketCapacity
	}
	if opts.RefillPeriod <= 0 {
		opts.RefillPeriod = defaultRefillPeriod
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Coalescer == nil {
		opts.Coalescer = CoalescePayloads
	}

	s := &Sequencer{
		runner:    runner,
		store:     st,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*liveSession),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.sweepDone)
	}
	return s
}

// Submit accepts one inbound event for a conversation key.
//
// It takes a token from the key's bucket, enqueues the payload, and either
// starts the key's drain loop or cancels the run currently in flight so
// the new input supersedes it. Submit returns once the event is queued;
// execution is asynchronous.
//
// Returns *ValidationError for an empty key, *RateLimitError when the
// bucket is exhausted (with the refill delay), ErrClosed after Close, or
// a store error.
func (s *Sequencer) Submit(ctx context.Context, key string, payload Payload) error {
	if key == "" {
		s.opts.Metrics.recordSubmission("invalid")
		return &ValidationError{Message: "conversation key is required"}
	}
	if s.runner == nil {
		return &ValidationError{Message: "sequencer has no runner"}
	}

	// The sweep may evict the session between fetching it and locking
	// it; a dead session is abandoned and fetched anew.
	var ls *liveSession
	for {
		var err error
		ls, err = s.session(key)
		if err != nil {
			return err
		}
		ls.mu.Lock()
		if !ls.dead {
			break
		}
		ls.mu.Unlock()
	}

	now := s.now()
	sess, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		sess = store.Session{
			Key:             key,
			Tokens:          s.opts.BucketCapacity,
			BucketUpdatedAt: now,
		}
		err = nil
	}
	if err != nil {
		ls.mu.Unlock()
		return err
	}

	ok, resetAfter := takeToken(&sess, now, s.opts.BucketCapacity, s.opts.RefillPeriod)
	sess.LastActivity = now
	ls.lastActivity = now

	if !ok {
		// Persist refill bookkeeping even on rejection.
		putErr := s.store.Put(ctx, sess)
		ls.mu.Unlock()

		s.opts.Metrics.recordSubmission("rate_limited")
		s.emitEvent("", "rate_limited", map[string]interface{}{
			"key":            key,
			"reset_after_ms": resetAfter.Milliseconds(),
		})
		if putErr != nil {
			return putErr
		}
		return &RateLimitError{Key: key, ResetAfter: resetAfter}
	}

	entry := store.Entry{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: now,
	}
	sess.Queue = append(sess.Queue, entry)

	if err := s.store.Put(ctx, sess); err != nil {
		ls.mu.Unlock()
		return err
	}

	superseded := false
	if ls.processing {
		// Abort the active run immediately; the drain loop will fold
		// its input into the next batch. cancel is nil between runs,
		// in which case the loop picks the entry up on its own.
		if ls.cancel != nil {
			ls.cancel()
			superseded = true
		}
	} else {
		ls.processing = true
		go s.drain(key, ls)
	}
	ls.mu.Unlock()

	s.opts.Metrics.recordSubmission("accepted")
	s.emitEvent("", "submission_accepted", map[string]interface{}{
		"key":      key,
		"entry_id": entry.ID,
	})
	if superseded {
		s.opts.Metrics.recordSupersession()
		s.emitEvent("", "run_superseded", map[string]interface{}{"key": key})
	}
	return nil
}

// session returns the live session for key, creating it if needed. A
// session the sweep already marked dead is replaced rather than returned.
func (s *Sequencer) session(key string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if ls, exists := s.sessions[key]; exists {
		ls.mu.Lock()
		dead := ls.dead
		ls.mu.Unlock()
		if !dead {
			return ls, nil
		}
	}
	ls := &liveSession{}
	s.sessions[key] = ls
	s.opts.Metrics.setActiveSessions(len(s.sessions))
	return ls, nil
}

// drain is the per-key loop: it repeatedly snapshots and clears the queue,
// folds in carry-over from a superseded run, coalesces the batch, and
// invokes the runner under a fresh cancellation handle. The loop exits
// when the queue is empty and nothing is carried over.
func (s *Sequencer) drain(key string, ls *liveSession) {
	ctx := context.Background()

	for {
		ls.mu.Lock()

		sess, err := s.store.Get(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			ls.processing = false
			ls.cancel = nil
			ls.mu.Unlock()
			s.reportError(key, "", err)
			return
		}

		batch := append(ls.accumulated, sess.Queue...)
		ls.accumulated = nil

		if len(batch) == 0 {
			ls.processing = false
			ls.cancel = nil
			ls.mu.Unlock()
			return
		}

		if len(sess.Queue) > 0 {
			sess.Queue = nil
			if err := s.store.Put(ctx, sess); err != nil {
				// Leave the entries queued; the next submission's
				// drain retries them.
				ls.processing = false
				ls.cancel = nil
				ls.mu.Unlock()
				s.reportError(key, "", err)
				return
			}
		}

		generation := uuid.NewString()
		runCtx, cancel := context.WithCancel(ctx)
		ls.generation = generation
		ls.cancel = cancel

		payload := s.opts.Coalescer(batch)
		ls.mu.Unlock()

		s.emitEvent(generation, "batch_start", map[string]interface{}{
			"key":        key,
			"batch_size": len(batch),
		})

		runErr := s.runner(runCtx, generation, payload)
		superseded := runCtx.Err() != nil
		cancel()

		ls.mu.Lock()
		if ls.generation == generation {
			ls.cancel = nil
		}

		switch {
		case runErr == nil:
			// A late abort against a completed run is a no-op; the
			// reply already went out.
			ls.mu.Unlock()
			s.opts.Metrics.recordBatch("success", len(batch))
			s.emitEvent(generation, "batch_complete", map[string]interface{}{"key": key})

		case superseded:
			// Expected outcome of supersession: the cancelled run
			// produced no output, so its input feeds the next batch.
			// runCtx.Err() is the only trustworthy signal here; a
			// Canceled error from a run whose runCtx is intact came
			// from somewhere else and is a genuine failure.
			ls.accumulated = batch
			ls.mu.Unlock()
			s.opts.Metrics.recordBatch("superseded", len(batch))
			s.emitEvent(generation, "batch_superseded", map[string]interface{}{"key": key})

		default:
			// Genuine failure: surface it and end this batch. Entries
			// queued in the meantime still get a fresh loop iteration.
			ls.mu.Unlock()
			s.opts.Metrics.recordBatch("error", len(batch))
			s.emitEvent(generation, "batch_error", map[string]interface{}{
				"key":   key,
				"error": runErr.Error(),
			})
			s.reportError(key, generation, runErr)
		}
	}
}

func (s *Sequencer) reportError(key, runID string, err error) {
	if s.opts.OnRunError != nil {
		s.opts.OnRunError(key, runID, err)
	}
}

// sweepLoop evicts idle sessions on a fixed interval until Close.
func (s *Sequencer) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.sweepStop:
			return
		}
	}
}

// sweep removes per-key state idle for longer than the session TTL, both
// from the store and from the in-process map. Keys with a run in flight or
// carry-over pending are never evicted.
func (s *Sequencer) sweep() {
	cutoff := s.now().Add(-s.opts.SessionTTL)

	removed, err := s.store.Sweep(context.Background(), cutoff)
	if err != nil {
		s.emitEvent("", "sweep_error", map[string]interface{}{"error": err.Error()})
	}

	s.mu.Lock()
	for key, ls := range s.sessions {
		// Eviction and the dead mark happen under ls.mu so a submission
		// that already fetched this session cannot start a drain on it
		// afterwards; it observes dead and retries.
		ls.mu.Lock()
		if !ls.processing && len(ls.accumulated) == 0 && ls.lastActivity.Before(cutoff) {
			ls.dead = true
			delete(s.sessions, key)
		}
		ls.mu.Unlock()
	}
	active := len(s.sessions)
	s.mu.Unlock()

	s.opts.Metrics.setActiveSessions(active)
	s.opts.Metrics.recordEvictions(removed)
	s.emitEvent("", "sweep_complete", map[string]interface{}{"evicted": removed})
}

// Close stops the background sweeper and rejects further submissions.
// Runs already in flight are left to finish; cancel them by superseding
// before Close if immediate shutdown is needed.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.sweepStop)
	<-s.sweepDone
	return nil
}

func (s *Sequencer) emitEvent(runID, msg string, meta map[string]interface{}) {
	if s.opts.Emitter == nil {
		return
	}
	s.opts.Emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   msg,
		Meta:  meta,
	})
}
