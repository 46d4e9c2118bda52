// Package store provides persistence for per-conversation sequencing
// state: token-bucket counters, the pending entry queue, and activity
// timestamps.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists for a conversation key.
var ErrNotFound = errors.New("session not found")

// Payload is one inbound conversation event, or the coalesced composite of
// several. The sequencer treats it as opaque apart from the coalescing
// mechanics; it attaches no meaning to the content.
type Payload struct {
	// Text is the free-text body.
	Text string `json:"text,omitempty"`

	// MediaURL references an attached media object, if any.
	MediaURL string `json:"media_url,omitempty"`

	// Meta carries routing metadata (channel identifiers, provider ids).
	Meta map[string]string `json:"meta,omitempty"`
}

// Entry is a queued inbound event awaiting its run.
type Entry struct {
	// ID uniquely identifies this submission.
	ID string `json:"id"`

	// Payload is the submitted content.
	Payload Payload `json:"payload"`

	// EnqueuedAt records acceptance time; queue order is FIFO by
	// acceptance.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Session is the persistable half of a conversation's sequencing state:
// token bucket, pending queue, and last activity. Runtime-only state (the
// active run's cancel handle, generation id, carry-over buffer) never
// leaves the sequencer process.
type Session struct {
	// Key is the conversation key this session belongs to.
	Key string `json:"key"`

	// Tokens is the current token-bucket level.
	Tokens int `json:"tokens"`

	// BucketUpdatedAt is the bucket's refill reference point. Refill is
	// integral: the reference advances only by whole refill periods.
	BucketUpdatedAt time.Time `json:"bucket_updated_at"`

	// Queue holds accepted entries not yet drained into a run.
	Queue []Entry `json:"queue"`

	// LastActivity drives TTL eviction.
	LastActivity time.Time `json:"last_activity"`
}

// SessionStore persists sessions keyed by conversation key.
//
// The in-memory implementation serves single-process deployments. The
// SQLite and MySQL implementations let session state survive restarts or
// be shared; multi-instance deployments additionally require that the
// deployment serializes read-modify-write sequences per key (the sequencer
// does this in-process, not across processes).
type SessionStore interface {
	// Get returns the session for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Session, error)

	// Put creates or replaces the session for sess.Key.
	Put(ctx context.Context, sess Session) error

	// Delete removes the session for key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Sweep removes every session whose LastActivity is before cutoff,
	// returning the number removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
