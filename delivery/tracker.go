// Package delivery correlates asynchronous delivery-status notifications
// with the synchronous call sites awaiting them.
//
// An outbound send registers a waiter under its correlation id; status
// notifications arriving later (often on a webhook, out of band with the
// sender) resolve the waiter's "sent" and "delivered" stages. The tracker
// handles the race where a notification lands before the waiter exists by
// parking early statuses in a bounded, time-expiring cache.
//
// Confirmation is best-effort: waiting is bounded by per-stage timeouts
// and never returns an error for a status that simply never arrived.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/convoflow-go/graph/emit"
)

// Status is a delivery lifecycle status reported by the transport.
type Status string

// Status vocabulary. Sent resolves the sent stage; Delivered, Failed, and
// Undelivered all resolve the delivered stage (a terminal failure still
// means "stop waiting"). Queued and Sending are intermediate and ignored.
const (
	StatusQueued      Status = "queued"
	StatusSending     Status = "sending"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusUndelivered Status = "undelivered"
)

// terminal reports whether the status resolves the delivered stage.
func (s Status) terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusUndelivered
}

// Confirmation is the best-effort outcome of awaiting a send.
//
// A false Sent or Delivered means the corresponding stage timed out (or
// the context was cancelled) before any notification arrived, not that
// the message failed. A Delivered=true with Status StatusFailed or
// StatusUndelivered reports a confirmed terminal failure.
type Confirmation struct {
	// Sent reports whether the sent stage resolved before its timeout.
	Sent bool

	// Delivered reports whether the delivered stage resolved before its
	// timeout.
	Delivered bool

	// SentStatus and DeliveredStatus carry the statuses that resolved
	// each stage, when they resolved.
	SentStatus      Status
	DeliveredStatus Status

	// TimedOut reports that at least one stage hit its timeout rather
	// than resolving or being cancelled.
	TimedOut bool
}

// Options configures a Tracker. Zero values select the defaults noted per
// field.
type Options struct {
	// SentTimeout bounds the wait for the sent stage. Default 10s.
	SentTimeout time.Duration

	// DeliveredTimeout bounds the wait for the delivered stage, measured
	// from the start of AwaitConfirmation. Default 30s.
	DeliveredTimeout time.Duration

	// CleanupGrace is how long a waiter outlives its registration before
	// being removed regardless of notifications. Default
	// DeliveredTimeout + 30s.
	CleanupGrace time.Duration

	// CacheTTL bounds how long an early status is remembered for a
	// late-registering waiter. Default 5m.
	CacheTTL time.Duration

	// Emitter receives observability events. Optional.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics. Optional.
	Metrics *Metrics
}

const (
	defaultSentTimeout      = 10 * time.Second
	defaultDeliveredTimeout = 30 * time.Second
	defaultCacheTTL         = 5 * time.Minute

	// maxSeenEntries bounds the early-status cache.
	maxSeenEntries = 1024
)

// waiter holds the deferred stages for one correlation id. Each stage is a
// channel closed exactly once when its status arrives.
type waiter struct {
	sentCh      chan struct{}
	deliveredCh chan struct{}

	sentOnce      sync.Once
	deliveredOnce sync.Once

	// Stage statuses, written once before the corresponding channel
	// closes.
	sentStatus      Status
	deliveredStatus Status

	cleanup *time.Timer
}

func (w *waiter) resolveSent(status Status) {
	w.sentOnce.Do(func() {
		w.sentStatus = status
		close(w.sentCh)
	})
}

func (w *waiter) resolveDelivered(status Status) {
	w.deliveredOnce.Do(func() {
		w.deliveredStatus = status
		close(w.deliveredCh)
	})
}

// seenEntry records statuses observed before any waiter registered.
type seenEntry struct {
	statuses map[Status]struct{}
	seenAt   time.Time
}

// Tracker correlates delivery notifications with waiting senders.
//
// Safe for concurrent use. Construct with New.
type Tracker struct {
	opts Options

	// now is the clock; replaced in tests.
	now func() time.Time

	mu      sync.Mutex
	waiters map[string]*waiter
	seen    map[string]*seenEntry
}

// New creates a Tracker with the given options.
func New(opts Options) *Tracker {
	if opts.SentTimeout <= 0 {
		opts.SentTimeout = defaultSentTimeout
	}
	if opts.DeliveredTimeout <= 0 {
		opts.DeliveredTimeout = defaultDeliveredTimeout
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = opts.DeliveredTimeout + 30*time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Tracker{
		opts:    opts,
		now:     time.Now,
		waiters: make(map[string]*waiter),
		seen:    make(map[string]*seenEntry),
	}
}

// RegisterWait creates the deferred sent/delivered stages for a
// correlation id. Call it when the send is issued, before awaiting.
//
// If statuses for id already arrived (the notification beat the
// registration), the matching stages resolve immediately from the seen
// cache and the cache entry is cleared. Registering the same id twice
// replaces the earlier waiter.
func (t *Tracker) RegisterWait(id string) error {
	if id == "" {
		return &ValidationError{Message: "correlation id is required"}
	}

	w := &waiter{
		sentCh:      make(chan struct{}),
		deliveredCh: make(chan struct{}),
	}
	w.cleanup = time.AfterFunc(t.opts.CleanupGrace, func() {
		t.remove(id, w)
	})

	t.mu.Lock()
	if prev, exists := t.waiters[id]; exists && prev.cleanup != nil {
		prev.cleanup.Stop()
	}
	t.waiters[id] = w

	// Late-notification race: statuses may have arrived before the
	// waiter existed.
	if entry, exists := t.seen[id]; exists {
		for status := range entry.statuses {
			t.applyLocked(w, status)
		}
		delete(t.seen, id)
	}
	t.mu.Unlock()

	t.emitEvent(id, "wait_registered", nil)
	return nil
}

// Notify applies a delivery status for a correlation id.
//
// With a registered waiter, the matching stage resolves; re-applying a
// status after resolution is a no-op. Without one (not yet registered, or
// already cleaned up), the status is parked in the seen cache for a
// late-registering waiter. Intermediate statuses are ignored entirely.
func (t *Tracker) Notify(id string, status Status) {
	if id == "" {
		return
	}
	if status != StatusSent && !status.terminal() {
		// queued/sending and unknown vocabulary carry no signal.
		return
	}

	t.mu.Lock()
	if w, exists := t.waiters[id]; exists {
		t.applyLocked(w, status)
		t.mu.Unlock()

		t.opts.Metrics.recordNotification(string(status), "resolved")
		t.emitEvent(id, "delivery_status", map[string]interface{}{"status": string(status)})
		return
	}

	t.cacheLocked(id, status)
	t.mu.Unlock()

	t.opts.Metrics.recordNotification(string(status), "cached")
	t.emitEvent(id, "delivery_status_cached", map[string]interface{}{"status": string(status)})
}

// AwaitConfirmation waits, best-effort, for the sent and delivered stages
// of a registered correlation id.
//
// The sent stage is raced against SentTimeout and the delivered stage
// against DeliveredTimeout; both timeouts are measured from the call.
// Timeouts resolve the wait rather than failing it; the caller proceeds
// regardless and may log a warning. A cancelled ctx ends the wait early.
// An id with no registered waiter returns an empty Confirmation.
func (t *Tracker) AwaitConfirmation(ctx context.Context, id string) Confirmation {
	t.mu.Lock()
	w, exists := t.waiters[id]
	t.mu.Unlock()

	var conf Confirmation
	if !exists {
		return conf
	}

	sentTimer := time.NewTimer(t.opts.SentTimeout)
	defer sentTimer.Stop()
	deliveredTimer := time.NewTimer(t.opts.DeliveredTimeout)
	defer deliveredTimer.Stop()

	select {
	case <-w.sentCh:
		conf.Sent = true
		conf.SentStatus = w.sentStatus
	case <-sentTimer.C:
		conf.TimedOut = true
		t.opts.Metrics.recordConfirmation("sent", "timeout")
		t.emitEvent(id, "sent_confirmation_timeout", nil)
	case <-ctx.Done():
		return conf
	}
	if conf.Sent {
		t.opts.Metrics.recordConfirmation("sent", "confirmed")
	}

	select {
	case <-w.deliveredCh:
		conf.Delivered = true
		conf.DeliveredStatus = w.deliveredStatus
		t.opts.Metrics.recordConfirmation("delivered", "confirmed")
	case <-deliveredTimer.C:
		conf.TimedOut = true
		t.opts.Metrics.recordConfirmation("delivered", "timeout")
		t.emitEvent(id, "delivered_confirmation_timeout", nil)
	case <-ctx.Done():
	}

	return conf
}

// applyLocked resolves the waiter stage matching status. Caller holds t.mu.
func (t *Tracker) applyLocked(w *waiter, status Status) {
	switch {
	case status == StatusSent:
		w.resolveSent(status)
	case status.terminal():
		w.resolveDelivered(status)
	}
}

// cacheLocked parks an early status for a late-registering waiter,
// expiring stale entries and bounding the cache. Caller holds t.mu.
func (t *Tracker) cacheLocked(id string, status Status) {
	now := t.now()

	// Expire stale entries opportunistically.
	for key, entry := range t.seen {
		if now.Sub(entry.seenAt) > t.opts.CacheTTL {
			delete(t.seen, key)
		}
	}

	entry, exists := t.seen[id]
	if !exists {
		if len(t.seen) >= maxSeenEntries {
			// Cache full even after expiry; drop the oldest entry.
			var oldestKey string
			var oldestAt time.Time
			for key, e := range t.seen {
				if oldestKey == "" || e.seenAt.Before(oldestAt) {
					oldestKey = key
					oldestAt = e.seenAt
				}
			}
			delete(t.seen, oldestKey)
		}
		entry = &seenEntry{statuses: make(map[Status]struct{})}
		t.seen[id] = entry
	}
	entry.statuses[status] = struct{}{}
	entry.seenAt = now
}

// remove drops a waiter after its cleanup grace elapsed. Only the exact
// waiter is removed, so a re-registered id is unaffected by the old
// waiter's timer.
func (t *Tracker) remove(id string, w *waiter) {
	t.mu.Lock()
	if current, exists := t.waiters[id]; exists && current == w {
		delete(t.waiters, id)
	}
	t.mu.Unlock()

	t.emitEvent(id, "wait_expired", nil)
}

// PendingWaiters returns the number of registered waiters, for monitoring
// and tests.
func (t *Tracker) PendingWaiters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

func (t *Tracker) emitEvent(id, msg string, meta map[string]interface{}) {
	if t.opts.Emitter == nil {
		return
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["correlation_id"] = id
	t.opts.Emitter.Emit(emit.Event{Msg: msg, Meta: meta})
}

// ValidationError indicates a missing or malformed correlation id.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}
