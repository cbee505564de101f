// Package registry guards the shared in-memory tracking snapshot.
//
// The registry and the poll cycle mutate the same snapshot concurrently;
// every mutation here happens under one mutex and is persisted before the
// operation returns, so registrations survive a restart even between poll
// cycles.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mangadex-notifier/pkg/tracker"
)

var (
	// ErrAlreadyTracked is returned when a series is registered twice in
	// the same community. Existing state is left untouched.
	ErrAlreadyTracked = errors.New("series already tracked")

	// ErrNotTracked is returned when an operation references a series the
	// community never registered.
	ErrNotTracked = errors.New("series not tracked")
)

// Store persists the full snapshot.
type Store interface {
	Save(ctx context.Context, snap tracker.Snapshot) error
}

// Entry is one tracked series together with its ID, for listings.
type Entry struct {
	ID     string
	Series tracker.Series
}

// Registry owns the canonical in-memory snapshot.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	snap tracker.Snapshot
}

// New creates a registry around a loaded snapshot.
func New(snap tracker.Snapshot, store Store, logger *slog.Logger) *Registry {
	if snap == nil {
		snap = tracker.Snapshot{}
	}
	return &Registry{
		store:  store,
		logger: logger,
		snap:   snap,
	}
}

// SetAnnounceChat binds a community to its delivery chat. Idempotent overwrite.
func (r *Registry) SetAnnounceChat(ctx context.Context, communityID string, chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap.Community(communityID).AnnounceChatID = chatID
	r.persistLocked(ctx)
	r.logger.Info("Announce chat configured", "community_id", communityID, "chat_id", chatID)
}

// AnnounceChat returns the community's delivery chat, 0 when unset.
func (r *Registry) AnnounceChat(communityID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.snap[communityID]
	if !ok {
		return 0
	}
	return c.AnnounceChatID
}

// Track registers a new series for a community with no watermark. Fails with
// ErrAlreadyTracked when the series is present; nothing is overwritten.
func (r *Registry) Track(ctx context.Context, communityID, seriesID, name, alertTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.snap.Community(communityID)
	if _, exists := c.Series[seriesID]; exists {
		return ErrAlreadyTracked
	}

	c.Series[seriesID] = &tracker.Series{Name: name, AlertTag: alertTag}
	r.persistLocked(ctx)
	r.logger.Info("Series tracked", "community_id", communityID, "series_id", seriesID, "name", name)
	return nil
}

// Untrack removes a series and returns the removed record.
func (r *Registry) Untrack(ctx context.Context, communityID, seriesID string) (tracker.Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.snap[communityID]
	if !ok {
		return tracker.Series{}, ErrNotTracked
	}
	s, ok := c.Series[seriesID]
	if !ok {
		return tracker.Series{}, ErrNotTracked
	}

	removed := *s
	delete(c.Series, seriesID)
	r.persistLocked(ctx)
	r.logger.Info("Series untracked", "community_id", communityID, "series_id", seriesID, "name", removed.Name)
	return removed, nil
}

// List returns a community's tracked series in lexical seriesID order. The
// order is stable across calls and restarts.
func (r *Registry) List(communityID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.snap[communityID]
	if !ok {
		return nil
	}

	entries := make([]Entry, 0, len(c.Series))
	for id, s := range c.Series {
		entries = append(entries, Entry{ID: id, Series: *s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// First returns the lexically first tracked series, for synthetic test
// notifications.
func (r *Registry) First(communityID string) (Entry, bool) {
	entries := r.List(communityID)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Cycle returns a deep copy of the communities eligible for polling: those
// with an announce chat and at least one tracked series. Items added or
// removed after the copy are picked up next cycle.
func (r *Registry) Cycle() tracker.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := r.snap.Clone()
	work := tracker.Snapshot{}
	for id, c := range r.snap {
		if c.AnnounceChatID == 0 || len(c.Series) == 0 {
			continue
		}
		work[id] = clone[id]
	}
	return work
}

// CommitWatermark advances a series watermark, never moving it backwards.
// A series untracked mid-cycle is ignored.
func (r *Registry) CommitWatermark(communityID, seriesID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.snap[communityID]
	if !ok {
		return
	}
	s, ok := c.Series[seriesID]
	if !ok {
		return
	}
	if s.LastSeenAt != nil && t.Before(*s.LastSeenAt) {
		return
	}
	seen := t
	s.LastSeenAt = &seen
}

// Flush persists the current snapshot. Called once per community at the end
// of each poll cycle; a failure leaves durable state stale until the next
// successful save.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Save(ctx, r.snap)
}

// persistLocked saves after a registry mutation. A write failure is logged
// rather than surfaced: the in-memory state is already applied and will be
// persisted again by the next cycle's flush.
func (r *Registry) persistLocked(ctx context.Context) {
	if err := r.store.Save(ctx, r.snap); err != nil {
		r.logger.Warn("Failed to persist snapshot after registry change", "error", err)
	}
}
