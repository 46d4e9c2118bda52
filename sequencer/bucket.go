package sequencer

import (
	"time"

	"github.com/dshills/convoflow-go/sequencer/store"
)

// refillBucket applies integral token refill to the session's bucket.
//
// One token is granted per whole refill period elapsed since
// BucketUpdatedAt, capped at capacity; the reference point advances only
// by whole periods so partial progress toward the next token is never
// lost. Levels never exceed capacity and never go negative, regardless of
// how long the key sat idle.
func refillBucket(sess *store.Session, now time.Time, capacity int, period time.Duration) {
	elapsed := now.Sub(sess.BucketUpdatedAt)
	if elapsed < period {
		return
	}

	n := int64(elapsed / period)
	missing := int64(capacity - sess.Tokens)
	if n >= missing {
		// Bucket is full; the reference point still advances by whole
		// periods only.
		sess.Tokens = capacity
	} else {
		sess.Tokens += int(n)
	}
	sess.BucketUpdatedAt = sess.BucketUpdatedAt.Add(time.Duration(n) * period)
}

// takeToken refills the session's bucket and then attempts to consume one
// token. On rejection it reports how long until the next token becomes
// available.
func takeToken(sess *store.Session, now time.Time, capacity int, period time.Duration) (ok bool, resetAfter time.Duration) {
	refillBucket(sess, now, capacity, period)

	if sess.Tokens <= 0 {
		reset := period - now.Sub(sess.BucketUpdatedAt)
		if reset < 0 {
			reset = 0
		}
		return false, reset
	}

	sess.Tokens--
	return true, 0
}
