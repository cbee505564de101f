// Package mangadex fetches chapter feeds from the MangaDex API.
package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"mangadex-notifier/pkg/tracker"
)

const (
	// DefaultBaseURL is the production MangaDex API endpoint.
	DefaultBaseURL = "https://api.mangadex.org"

	chapterSite = "https://mangadex.org/chapter/"
	fetchLimit  = "20"
)

// APIError indicates a non-2xx response from the index.
type APIError struct {
	URL    string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mangadex: HTTP %d: %s", e.Status, e.URL)
}

// IsUnavailable reports whether an error came back as an index-side HTTP
// failure rather than a local one.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client fetches recent chapters for tracked series.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
	lang    string
}

// New creates a MangaDex client. The service tracks a single translated
// language stream; other languages are never surfaced.
func New(client *http.Client, baseURL, lang string, logger *slog.Logger) *Client {
	return &Client{
		client:  client,
		logger:  logger,
		baseURL: baseURL,
		lang:    lang,
	}
}

// chapterFeed mirrors the subset of the /chapter response the tracker needs.
type chapterFeed struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Chapter    string `json:"chapter"`
			ReadableAt string `json:"readableAt"`
		} `json:"attributes"`
	} `json:"data"`
}

// LatestChapters requests the most recent chapters for one series. When since
// is non-nil only chapters published strictly after it are returned; a nil
// since returns everything the index offers (used for priming). Entries
// missing an ID or a publish timestamp are dropped.
func (c *Client) LatestChapters(ctx context.Context, seriesID string, since *time.Time) ([]tracker.Chapter, error) {
	q := url.Values{}
	q.Set("manga", seriesID)
	q.Set("limit", fetchLimit)
	q.Set("order[readableAt]", "desc")
	q.Set("translatedLanguage[]", c.lang)
	q.Set("includeFutureUpdates", "0")
	feedURL := c.baseURL + "/chapter?" + q.Encode()

	var feed chapterFeed

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Index request failed, will retry",
					"series_id", seriesID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode/100 != 2 {
				apiErr := &APIError{Status: resp.StatusCode, URL: feedURL}
				// Client-side rejections won't heal on retry.
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(apiErr)
				}
				c.logger.Warn("Index returned non-OK status, will retry",
					"series_id", seriesID,
					"status_code", resp.StatusCode)
				return apiErr
			}

			feed = chapterFeed{}
			if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
				c.logger.Warn("Failed to decode chapter feed, will retry", "series_id", seriesID, "error", err)
				return fmt.Errorf("decode chapter feed: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.logger.Info("Retrying chapter fetch after error", "attempt", n, "series_id", seriesID, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch chapter feed: %w", err)
	}

	chapters := make([]tracker.Chapter, 0, len(feed.Data))
	var dropped int
	for _, entry := range feed.Data {
		if entry.ID == "" || entry.Attributes.ReadableAt == "" {
			dropped++
			continue
		}
		publishedAt, parseErr := time.Parse(time.RFC3339, entry.Attributes.ReadableAt)
		if parseErr != nil {
			dropped++
			continue
		}
		if since != nil && !publishedAt.After(*since) {
			continue
		}
		number := entry.Attributes.Chapter
		if number == "" {
			number = "?"
		}
		chapters = append(chapters, tracker.Chapter{
			ID:          entry.ID,
			Number:      number,
			PublishedAt: publishedAt,
			URL:         chapterSite + entry.ID,
		})
	}

	if dropped > 0 {
		c.logger.Debug("Dropped malformed feed entries", "series_id", seriesID, "count", dropped)
	}
	c.logger.Debug("Chapter feed fetched",
		"series_id", seriesID,
		"total", len(feed.Data),
		"usable", len(chapters))

	return chapters, nil
}
