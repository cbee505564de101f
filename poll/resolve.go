package poll

import (
	"sort"
	"time"

	"mangadex-notifier/pkg/tracker"
)

// Resolve turns a raw candidate list and the current watermark into the
// ordered batch of genuinely new chapters plus the next watermark. It is a
// pure function: identical inputs always produce identical outputs.
//
// With no watermark (first sight of a series) the newest candidate primes the
// watermark and nothing is announced, so a freshly tracked series never spams
// its backlog. An empty candidate list leaves the series unprimed.
//
// With a watermark, only candidates published strictly after it survive,
// sorted oldest to newest. Equal timestamps are broken by chapter ID so the
// order never depends on map iteration or the index's response order.
func Resolve(candidates []tracker.Chapter, since *time.Time) (batch []tracker.Chapter, next *time.Time) {
	if since == nil {
		latest, ok := newest(candidates)
		if !ok {
			return nil, nil
		}
		t := latest.PublishedAt
		return nil, &t
	}

	for _, ch := range candidates {
		if ch.PublishedAt.After(*since) {
			batch = append(batch, ch)
		}
	}
	if len(batch) == 0 {
		return nil, since
	}

	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].PublishedAt.Equal(batch[j].PublishedAt) {
			return batch[i].PublishedAt.Before(batch[j].PublishedAt)
		}
		return batch[i].ID < batch[j].ID
	})

	t := batch[len(batch)-1].PublishedAt
	return batch, &t
}

// newest picks the candidate with the latest publish time, breaking ties by
// chapter ID for determinism.
func newest(candidates []tracker.Chapter) (tracker.Chapter, bool) {
	if len(candidates) == 0 {
		return tracker.Chapter{}, false
	}
	best := candidates[0]
	for _, ch := range candidates[1:] {
		if ch.PublishedAt.After(best.PublishedAt) ||
			(ch.PublishedAt.Equal(best.PublishedAt) && ch.ID > best.ID) {
			best = ch
		}
	}
	return best, true
}
