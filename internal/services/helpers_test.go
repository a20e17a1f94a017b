package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/cache"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
)

var errStoreDown = errors.New("store down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore rejects every operation
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errStoreDown
}
func (failingStore) Put(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) Forever(context.Context, string, string) error { return errStoreDown }
func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (failingStore) Forget(context.Context, ...string) error   { return errStoreDown }
func (failingStore) Has(context.Context, string) (bool, error) { return false, errStoreDown }
func (failingStore) Add(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failingStore) Lock(context.Context, string, time.Duration) (func(), error) {
	return nil, errStoreDown
}
func (failingStore) Ping(context.Context) error { return errStoreDown }

var _ cache.Store = failingStore{}

// fakeDirectory is an in-memory account directory
type fakeDirectory struct {
	mu          sync.Mutex
	status      map[string]string
	reasons     map[string]string
	deactivated int
	activated   int
}

func newFakeDirectory(identities ...string) *fakeDirectory {
	d := &fakeDirectory{status: make(map[string]string), reasons: make(map[string]string)}
	for _, id := range identities {
		d.status[id] = models.UserStatusActive
	}
	return d
}

func (d *fakeDirectory) Deactivate(ctx context.Context, identity, reason string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.status[identity]
	if !ok {
		return false, models.ErrNotFound
	}
	if s == models.UserStatusDisabled {
		return false, nil
	}
	d.status[identity] = models.UserStatusDisabled
	d.reasons[identity] = reason
	d.deactivated++
	return true, nil
}

func (d *fakeDirectory) Activate(ctx context.Context, identity, reason string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.status[identity]
	if !ok {
		return false, models.ErrNotFound
	}
	if s == models.UserStatusActive || d.reasons[identity] != reason {
		return false, nil
	}
	d.status[identity] = models.UserStatusActive
	delete(d.reasons, identity)
	d.activated++
	return true, nil
}

// disable marks identity disabled with reason, as an administrator would
func (d *fakeDirectory) disable(identity, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[identity] = models.UserStatusDisabled
	d.reasons[identity] = reason
}

func (d *fakeDirectory) Status(identity string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[identity]
}

// fakeEventRepo is an in-memory security event log
type fakeEventRepo struct {
	mu        sync.Mutex
	events    []*models.SecurityEvent
	createErr error
}

func (r *fakeEventRepo) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	saved := *event
	saved.ID = uuid.New()
	r.events = append(r.events, &saved)
	return &saved, nil
}

func (r *fakeEventRepo) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	for _, e := range r.snapshot() {
		if e.IPAddress == ip && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeEventRepo) CountDistinctIPsByTypeSince(ctx context.Context, eventType models.EventType, since time.Time) (int64, error) {
	ips := make(map[string]struct{})
	for _, e := range r.snapshot() {
		if e.Type == eventType && e.IPAddress != "" && !e.CreatedAt.Before(since) {
			ips[e.IPAddress] = struct{}{}
		}
	}
	return int64(len(ips)), nil
}

func (r *fakeEventRepo) CountBySeveritySince(ctx context.Context, severity models.Severity, since time.Time) (int64, error) {
	var n int64
	for _, e := range r.snapshot() {
		if e.Severity == severity && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeEventRepo) List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	events := r.snapshot()
	out := make([]*models.SecurityEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if len(filter.Types) > 0 && !containsType(filter.Types, e.Type) {
			continue
		}
		if filter.IPAddress != "" && e.IPAddress != filter.IPAddress {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEventRepo) CountsByTypeSince(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.group(since, func(e *models.SecurityEvent) string { return string(e.Type) }, 0), nil
}

func (r *fakeEventRepo) CountsBySeveritySince(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.group(since, func(e *models.SecurityEvent) string { return string(e.Severity) }, 0), nil
}

func (r *fakeEventRepo) TopIPsSince(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error) {
	return r.group(since, func(e *models.SecurityEvent) string { return e.IPAddress }, limit), nil
}

func (r *fakeEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var deleted int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return deleted, nil
}

func (r *fakeEventRepo) group(since time.Time, key func(*models.SecurityEvent) string, limit int) []models.CountByKey {
	counts := make(map[string]int64)
	for _, e := range r.snapshot() {
		if e.CreatedAt.Before(since) || key(e) == "" {
			continue
		}
		counts[key(e)]++
	}
	out := make([]models.CountByKey, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.CountByKey{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *fakeEventRepo) snapshot() []*models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.SecurityEvent(nil), r.events...)
}

func (r *fakeEventRepo) OfType(t models.EventType) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, e := range r.snapshot() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func containsType(types []models.EventType, t models.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
