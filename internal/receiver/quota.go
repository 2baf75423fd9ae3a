package receiver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// UsageCounter counts a sender's extraction attempts since a point in time.
// The SQLite extraction log implements it.
type UsageCounter interface {
	CountExtractions(ctx context.Context, senderID string, since time.Time) (int, error)
}

// QuotaConfig holds per-sender document limits. A zero limit is disabled.
type QuotaConfig struct {
	PerHour int
	PerDay  int
	Counter UsageCounter // nil keeps counts in memory
	Logger  *slog.Logger
}

// Usage is a sender's consumption against the configured limits.
type Usage struct {
	Hour    int
	Day     int
	PerHour int
	PerDay  int
}

// Exceeded names the window whose limit is used up: "hour", "day" or "".
func (u Usage) Exceeded() string {
	switch {
	case u.PerHour > 0 && u.Hour >= u.PerHour:
		return "hour"
	case u.PerDay > 0 && u.Day >= u.PerDay:
		return "day"
	}
	return ""
}

// Left returns the documents still allowed right now, or -1 when unlimited.
func (u Usage) Left() int {
	left := -1
	if u.PerHour > 0 {
		left = max(u.PerHour-u.Hour, 0)
	}
	if u.PerDay > 0 {
		d := max(u.PerDay-u.Day, 0)
		if left < 0 || d < left {
			left = d
		}
	}
	return left
}

// Quota enforces hourly and daily document limits per sender.
type Quota struct {
	perHour int
	perDay  int
	counter UsageCounter
	mem     *memoryCounter
	logger  *slog.Logger
	now     func() time.Time
}

func NewQuota(cfg QuotaConfig) *Quota {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Quota{
		perHour: cfg.PerHour,
		perDay:  cfg.PerDay,
		counter: cfg.Counter,
		logger:  cfg.Logger,
		now:     time.Now,
	}
	if q.counter == nil {
		q.mem = newMemoryCounter()
		q.counter = q.mem
	}
	return q
}

// Enabled reports whether any limit is configured.
func (q *Quota) Enabled() bool {
	return q != nil && (q.perHour > 0 || q.perDay > 0)
}

// Remaining returns the sender's current usage.
func (q *Quota) Remaining(ctx context.Context, senderID string) (Usage, error) {
	u := Usage{PerHour: q.perHour, PerDay: q.perDay}
	if !q.Enabled() {
		return u, nil
	}
	now := q.now()
	var err error
	if q.perHour > 0 {
		if u.Hour, err = q.counter.CountExtractions(ctx, senderID, now.Add(-time.Hour)); err != nil {
			return u, err
		}
	}
	if q.perDay > 0 {
		if u.Day, err = q.counter.CountExtractions(ctx, senderID, now.Add(-24*time.Hour)); err != nil {
			return u, err
		}
	}
	return u, nil
}

// Allow reports whether the sender may submit another document. Counting
// errors are logged and the document is allowed.
func (q *Quota) Allow(ctx context.Context, senderID string) (bool, Usage) {
	u, err := q.Remaining(ctx, senderID)
	if err != nil {
		q.logger.Warn("quota lookup failed, allowing", "sender", senderID, "error", err)
		return true, u
	}
	return u.Exceeded() == "", u
}

// Note records an attempt when counts are kept in memory. With a persistent
// counter the extraction log already holds the attempt.
func (q *Quota) Note(senderID string) {
	if q == nil || q.mem == nil {
		return
	}
	q.mem.add(senderID, q.now())
}

// memoryCounter keeps the last 24h of attempt timestamps per sender.
type memoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{hits: make(map[string][]time.Time)}
}

func (m *memoryCounter) add(senderID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[senderID] = append(m.prune(senderID, at), at)
}

func (m *memoryCounter) CountExtractions(_ context.Context, senderID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.hits[senderID] {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

// prune drops entries older than a day. Caller holds mu.
func (m *memoryCounter) prune(senderID string, now time.Time) []time.Time {
	cutoff := now.Add(-24 * time.Hour)
	kept := m.hits[senderID][:0]
	for _, t := range m.hits[senderID] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
