package ratelimit

import (
	"sync"
	"time"

	"confsfu/internal/core/domain"
)

// Category classifies a signaling event for rate-limiting purposes (§4.7).
type Category string

const (
	CategoryMedia   Category = "media"
	CategoryChat    Category = "chat"
	CategoryAdmin   Category = "admin"
	CategoryDefault Category = "default"
)

var limits = map[Category]int{
	CategoryMedia:   30,
	CategoryChat:    5,
	CategoryAdmin:   3,
	CategoryDefault: 10,
}

const window = time.Second

// bucket is a fixed-window counter: it resets on the first event observed
// after now >= resetAt, rather than continuously refilling like a token
// bucket. §4.7 and the silent-drop law in §8 require exactly this shape.
type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter holds per-(connId,category) fixed-window counters. Grounded on
// the teacher's rateLimiterStore map+mutex shape, but the per-key limiter
// itself is hand-rolled rather than golang.org/x/time/rate.Limiter — a
// token bucket continuously refills and cannot express "drop silently,
// reset exactly at the window boundary" without reimplementing a window
// on top of it anyway.
type Limiter struct {
	mu      sync.Mutex
	buckets map[domain.ConnID]map[Category]*bucket
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[domain.ConnID]map[Category]*bucket),
	}
}

// Allow reports whether an event in category from connID may proceed. A
// denied event must be silently dropped by the caller: no ack, no error.
func (l *Limiter) Allow(connID domain.ConnID, category Category) bool {
	limit, ok := limits[category]
	if !ok {
		limit = limits[CategoryDefault]
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	perConn, ok := l.buckets[connID]
	if !ok {
		perConn = make(map[Category]*bucket)
		l.buckets[connID] = perConn
	}

	b, ok := perConn[category]
	if !ok || now.After(b.resetAt) || now.Equal(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(window)}
		perConn[category] = b
	}

	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// Release frees every counter held for connID, called on disconnect.
func (l *Limiter) Release(connID domain.ConnID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, connID)
}

// ClassifyEvent maps a wire event name to its rate-limit category per the
// table in §4.7.
func ClassifyEvent(event string) Category {
	switch event {
	case "create-transport", "connect-transport", "produce", "consume",
		"resume-consumer", "set-preferred-layers", "pause-producer",
		"resume-producer", "close-producer":
		return CategoryMedia
	case "send-chat", "ask-question", "upvote-question":
		return CategoryChat
	case "kick-participant", "transfer-host", "lobby-admit", "lobby-reject",
		"move-to-lobby", "invite-participant", "create-breakout",
		"close-breakouts", "broadcast-to-breakouts", "end-meeting":
		return CategoryAdmin
	default:
		return CategoryDefault
	}
}
