package poll

import (
	"testing"
	"time"

	"mangadex-notifier/pkg/tracker"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return parsed
}

// TestResolvePriming verifies the first sight of a series records the newest
// candidate without announcing any backlog.
func TestResolvePriming(t *testing.T) {
	candidates := []tracker.Chapter{
		{ID: "b", Number: "2", PublishedAt: ts(t, "2024-05-02T00:00:00Z")},
		{ID: "c", Number: "3", PublishedAt: ts(t, "2024-05-03T00:00:00Z")},
		{ID: "a", Number: "1", PublishedAt: ts(t, "2024-05-01T00:00:00Z")},
	}

	batch, next := Resolve(candidates, nil)

	if len(batch) != 0 {
		t.Errorf("Resolve() announced %d chapters on priming, want 0", len(batch))
	}
	if next == nil {
		t.Fatal("Resolve() returned nil watermark on priming with candidates")
	}
	if want := ts(t, "2024-05-03T00:00:00Z"); !next.Equal(want) {
		t.Errorf("Resolve() watermark = %v, want %v", next, want)
	}
}

// TestResolvePrimingEmpty verifies an empty feed leaves the series unprimed.
func TestResolvePrimingEmpty(t *testing.T) {
	batch, next := Resolve(nil, nil)
	if len(batch) != 0 || next != nil {
		t.Errorf("Resolve(nil, nil) = (%v, %v), want (nil, nil)", batch, next)
	}
}

// TestResolvePrimingTieBreak verifies the primed watermark is deterministic
// when candidates share a publish time.
func TestResolvePrimingTieBreak(t *testing.T) {
	same := ts(t, "2024-05-01T00:00:00Z")
	candidates := []tracker.Chapter{
		{ID: "aaa", PublishedAt: same},
		{ID: "zzz", PublishedAt: same},
		{ID: "mmm", PublishedAt: same},
	}

	_, first := Resolve(candidates, nil)
	for range 10 {
		_, again := Resolve(candidates, nil)
		if !first.Equal(*again) {
			t.Fatal("Resolve() priming watermark not deterministic")
		}
	}
}

// TestResolveSteadyState verifies strict-greater filtering and ascending
// delivery order regardless of the index's response order.
func TestResolveSteadyState(t *testing.T) {
	since := ts(t, "2024-05-01T00:00:00Z")
	candidates := []tracker.Chapter{
		{ID: "d", Number: "13", PublishedAt: ts(t, "2024-05-04T00:00:00Z")},
		{ID: "b", Number: "11", PublishedAt: ts(t, "2024-05-02T00:00:00Z")},
		{ID: "c", Number: "12", PublishedAt: ts(t, "2024-05-03T00:00:00Z")},
		{ID: "a", Number: "10", PublishedAt: since}, // not strictly newer
	}

	batch, next := Resolve(candidates, &since)

	want := []string{"11", "12", "13"}
	if len(batch) != len(want) {
		t.Fatalf("Resolve() batch size = %d, want %d", len(batch), len(want))
	}
	for i, num := range want {
		if batch[i].Number != num {
			t.Errorf("batch[%d].Number = %q, want %q", i, batch[i].Number, num)
		}
	}
	if wantNext := ts(t, "2024-05-04T00:00:00Z"); !next.Equal(wantNext) {
		t.Errorf("Resolve() watermark = %v, want %v", next, wantNext)
	}
}

// TestResolveSteadyStateTieBreak verifies equal publish times fall back to
// lexical chapter ID order.
func TestResolveSteadyStateTieBreak(t *testing.T) {
	since := ts(t, "2024-05-01T00:00:00Z")
	same := ts(t, "2024-05-02T00:00:00Z")
	candidates := []tracker.Chapter{
		{ID: "zzz", PublishedAt: same},
		{ID: "aaa", PublishedAt: same},
	}

	batch, _ := Resolve(candidates, &since)

	if len(batch) != 2 {
		t.Fatalf("Resolve() batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != "aaa" || batch[1].ID != "zzz" {
		t.Errorf("batch order = [%s %s], want [aaa zzz]", batch[0].ID, batch[1].ID)
	}
}

// TestResolveNoNewChapters verifies the watermark never moves backwards when
// nothing new arrived.
func TestResolveNoNewChapters(t *testing.T) {
	since := ts(t, "2024-05-05T00:00:00Z")
	candidates := []tracker.Chapter{
		{ID: "a", PublishedAt: ts(t, "2024-05-01T00:00:00Z")},
		{ID: "b", PublishedAt: ts(t, "2024-05-02T00:00:00Z")},
	}

	batch, next := Resolve(candidates, &since)

	if len(batch) != 0 {
		t.Errorf("Resolve() announced %d chapters, want 0", len(batch))
	}
	if next == nil || !next.Equal(since) {
		t.Errorf("Resolve() watermark = %v, want unchanged %v", next, since)
	}
}
