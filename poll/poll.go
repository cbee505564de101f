// Package poll drives the recurring release check across all communities.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mangadex-notifier/pkg/tracker"
)

// Index fetches candidate chapters for one series.
type Index interface {
	LatestChapters(ctx context.Context, seriesID string, since *time.Time) ([]tracker.Chapter, error)
}

// Tracker exposes the slice of registry state the cycle needs.
type Tracker interface {
	Cycle() tracker.Snapshot
	CommitWatermark(communityID, seriesID string, t time.Time)
	Flush(ctx context.Context) error
}

// Sender delivers one rendered announcement to a chat.
type Sender interface {
	Announce(ctx context.Context, chatID int64, series tracker.Series, ch tracker.Chapter) error
}

// Monitor runs the poll cycle: fetch, resolve, announce, commit.
type Monitor struct {
	index    Index
	registry Tracker
	sender   Sender
	denied   func(error) bool // classifies delivery errors as permission problems
	logger   *slog.Logger
}

// New creates a poll monitor. denied distinguishes permission-denied delivery
// failures from transient ones, for logging; both abort the series' batch.
func New(index Index, registry Tracker, sender Sender, denied func(error) bool, logger *slog.Logger) *Monitor {
	if denied == nil {
		denied = func(error) bool { return false }
	}
	return &Monitor{
		index:    index,
		registry: registry,
		sender:   sender,
		denied:   denied,
		logger:   logger,
	}
}

// Run drives CheckAll on a fixed interval until the context is cancelled.
// The first cycle happens one full interval after start, which keeps startup
// (command registration, chat resolution) ahead of any fetch traffic.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.logger.Info("Release checker started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Release checker stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := m.CheckAll(ctx); err != nil {
				m.logger.Error("Poll cycle failed", "error", err)
			}
		}
	}
}

// CheckAll sweeps every community with an announce chat and tracked series.
// Failures in one series or community never abort the others; the snapshot is
// persisted once per community.
func (m *Monitor) CheckAll(ctx context.Context) error {
	work := m.registry.Cycle()

	communityIDs := make([]string, 0, len(work))
	for id := range work {
		communityIDs = append(communityIDs, id)
	}
	sort.Strings(communityIDs)

	m.logger.Info("Checking tracked series", "communities", len(communityIDs))

	var checked, announced int
	for _, communityID := range communityIDs {
		community := work[communityID]

		seriesIDs := make([]string, 0, len(community.Series))
		for id := range community.Series {
			seriesIDs = append(seriesIDs, id)
		}
		sort.Strings(seriesIDs)

		for _, seriesID := range seriesIDs {
			select {
			case <-ctx.Done():
				m.logger.Info("Context cancelled, stopping poll cycle", "error", ctx.Err())
				return ctx.Err()
			default:
			}

			checked++
			n, err := m.checkSeries(ctx, communityID, community.AnnounceChatID, seriesID, community.Series[seriesID])
			announced += n
			if err != nil {
				m.logger.Warn("Series check failed", "community_id", communityID, "series_id", seriesID, "error", err)
				// Continue with other series despite errors
			}
		}

		if err := m.registry.Flush(ctx); err != nil {
			m.logger.Warn("Failed to persist snapshot, retrying next cycle", "community_id", communityID, "error", err)
		}
	}

	m.logger.Info("Poll cycle completed", "series_checked", checked, "chapters_announced", announced)
	return nil
}

// checkSeries runs one series through fetch, resolve and delivery, and
// returns how many chapters were announced.
func (m *Monitor) checkSeries(ctx context.Context, communityID string, chatID int64, seriesID string, series *tracker.Series) (int, error) {
	candidates, err := m.index.LatestChapters(ctx, seriesID, series.LastSeenAt)
	if err != nil {
		// Non-fatal: the watermark is untouched and the series is retried
		// next cycle.
		return 0, fmt.Errorf("fetch chapters: %w", err)
	}

	batch, next := Resolve(candidates, series.LastSeenAt)

	// Priming: first successful fetch records the newest chapter and
	// announces nothing.
	if series.LastSeenAt == nil {
		if next == nil {
			return 0, nil
		}
		m.registry.CommitWatermark(communityID, seriesID, *next)
		m.logger.Info("Series primed",
			"community_id", communityID,
			"series_id", seriesID,
			"watermark", next.Format(time.RFC3339))
		return 0, nil
	}

	if len(batch) == 0 {
		return 0, nil
	}

	m.logger.Info("New chapters detected",
		"community_id", communityID,
		"series_id", seriesID,
		"count", len(batch),
		"previous", series.LastSeenAt.Format(time.RFC3339))

	var delivered int
	for _, ch := range batch {
		if err := m.sender.Announce(ctx, chatID, *series, ch); err != nil {
			// Abort the rest of this series' batch; the watermark stays at
			// the last chapter that actually went out.
			if m.denied(err) {
				m.logger.Warn("No permission to announce in chat",
					"community_id", communityID,
					"chat_id", chatID,
					"series_id", seriesID)
			} else {
				m.logger.Warn("Failed to announce chapter",
					"community_id", communityID,
					"chat_id", chatID,
					"series_id", seriesID,
					"chapter_id", ch.ID,
					"error", err)
			}
			break
		}
		m.registry.CommitWatermark(communityID, seriesID, ch.PublishedAt)
		delivered++
	}

	m.logger.Info("Chapters announced",
		"community_id", communityID,
		"series_id", seriesID,
		"delivered", delivered,
		"pending", len(batch)-delivered)
	return delivered, nil
}
