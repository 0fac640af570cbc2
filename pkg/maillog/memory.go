package maillog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps delivery attempts in process memory. It is used
// when no database is configured and in tests.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	attempts []Attempt
	now      func() time.Time
	// AppendErr, when set, is returned by Append instead of storing.
	AppendErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (r *MemoryRepository) EnsureSchema(context.Context) error { return nil }

func (r *MemoryRepository) Append(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppendErr != nil {
		return r.AppendErr
	}
	r.nextID++
	a.ID = r.nextID
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now()
	}
	a.Timestamp = a.Timestamp.UTC().Truncate(time.Second)
	if a.Status != StatusSuccess && a.Status != StatusFailed {
		a.Status = StatusFailed
		if a.ErrorMessage == "" {
			a.Status = StatusSuccess
		}
	}
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Attempt(nil), r.attempts...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit = NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepository) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = nil
	return nil
}

func (r *MemoryRepository) PruneOlderThan(_ context.Context, days int) (int64, error) {
	if days < 1 {
		days = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	kept := r.attempts[:0]
	var removed int64
	for _, a := range r.attempts {
		if a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return removed, nil
}

func (r *MemoryRepository) Close() error { return nil }
