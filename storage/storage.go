// Package storage handles persistence of the tracking snapshot.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"mangadex-notifier/pkg/tracker"
)

// objectName is the single snapshot document; all tracking state lives in it.
const objectName = "tracker-state.json"

// ErrCorrupt indicates the persisted snapshot exists but cannot be parsed.
// It is fatal at startup: guessing prior state would risk re-announcing
// already delivered chapters.
var ErrCorrupt = errors.New("snapshot is corrupt")

// Store persists the full snapshot to Cloud Storage or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a snapshot store. When localPath is non-empty the bucket client
// is ignored and state is kept in a local file (development mode).
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Load reads the snapshot from durable storage. A missing document yields an
// empty snapshot; an unparseable one yields ErrCorrupt.
func (s *Store) Load(ctx context.Context) (tracker.Snapshot, error) {
	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		raw, err := os.ReadFile(filepath.Join(s.localPath, objectName))
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Info("No prior snapshot, starting empty", "path", s.localPath)
				return tracker.Snapshot{}, nil
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		data = raw
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying snapshot load after error", "attempt", n, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				s.logger.Info("No prior snapshot, starting empty", "bucket", s.bucket)
				return tracker.Snapshot{}, nil
			}
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var snap tracker.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if snap == nil {
		snap = tracker.Snapshot{}
	}

	s.logger.Info("Snapshot loaded", "communities", len(snap))
	return snap, nil
}

// Save atomically replaces durable storage with the full snapshot.
func (s *Store) Save(ctx context.Context, snap tracker.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Local filesystem storage: write-then-rename so a reader never observes
	// a half-written snapshot.
	if s.localPath != "" {
		path := filepath.Join(s.localPath, objectName)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("replace local snapshot: %w", err)
		}

		s.logger.Debug("Snapshot saved to local storage", "path", path, "communities", len(snap))
		return nil
	}

	// Cloud Storage with retry logic; object writes only become visible on a
	// successful Close, which gives the same no-torn-read guarantee.
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot save after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Snapshot saved", "bucket", s.bucket, "communities", len(snap))
	return nil
}
