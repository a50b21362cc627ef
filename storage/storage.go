// Package storage handles persistence of the offer snapshot.
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
	"sort"
	"time"

	"funpay-notifier/pkg/offer"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const (
	snapshotKey   = "offer-state.json"
	backupPrefix  = "offer-state-backup-"
	backupsToKeep = 10
)

// Store persists the offer snapshot to Cloud Storage, or to a local
// directory when localPath is set (development mode).
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new snapshot store.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Load returns the persisted snapshot. A missing or corrupt snapshot yields
// an empty one and is never fatal; only transport failures after retries
// return an error, and callers are expected to log it and start fresh.
func (s *Store) Load(ctx context.Context) (offer.Snapshot, error) {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, snapshotKey))
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Info("No snapshot file found, starting fresh", "path", s.localPath)
				return offer.Snapshot{}, nil
			}
			return offer.Snapshot{}, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(snapshotKey).NewReader(ctx)
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
			retry.MaxDelay(time.Minute),
			retry.MaxJitter(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying snapshot load after error", "attempt", n, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				s.logger.Info("No snapshot object found, starting fresh", "bucket", s.bucket)
				return offer.Snapshot{}, nil
			}
			return offer.Snapshot{}, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	return s.decode(data), nil
}

// decode is the single schema-validating boundary between persisted bytes
// and the in-memory snapshot. Entries with incompatible shapes are dropped
// individually; a document that isn't an object at all yields an empty
// snapshot.
func (s *Store) decode(data []byte) offer.Snapshot {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("Snapshot file is corrupt, starting with empty state", "error", err)
		return offer.Snapshot{}
	}

	snap := make(offer.Snapshot, len(raw))
	var inactive int
	for id, entry := range raw {
		var st offer.State
		if err := json.Unmarshal(entry, &st); err != nil {
			s.logger.Warn("Dropping snapshot entry with invalid shape", "offer_id", id, "error", err)
			continue
		}
		if st.ID == "" {
			st.ID = id
		}
		if st.RemovalNotifiedAt != nil {
			inactive++
		}
		snap[id] = &st
	}

	s.logger.Info("Snapshot loaded", "offers", len(snap), "inactive", inactive)
	return snap
}

// Save overwrites the persisted snapshot wholesale. Serialization is
// deterministic (sorted keys) so successive state files diff cleanly. The
// local path writes via temp file + rename; the bucket path also writes a
// timestamped backup and prunes old ones.
func (s *Store) Save(ctx context.Context, snap offer.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if s.localPath != "" {
		target := filepath.Join(s.localPath, snapshotKey)
		tmp := target + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write snapshot temp file: %w", err)
		}
		if err := os.Rename(tmp, target); err != nil {
			return fmt.Errorf("rename snapshot into place: %w", err)
		}
		s.logger.Info("Snapshot saved to local storage", "path", target, "offers", len(snap))
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(snapshotKey).NewWriter(ctx)
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
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot save after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Snapshot saved", "bucket", s.bucket, "offers", len(snap))

	// Backups are best-effort; the canonical object is already written.
	if backupErr := s.writeBackup(ctx, data); backupErr != nil {
		s.logger.Warn("Failed to write snapshot backup", "error", backupErr)
	}

	return nil
}

func (s *Store) writeBackup(ctx context.Context, data []byte) error {
	key := backupPrefix + time.Now().UTC().Format("20060102T150405Z") + ".json"
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			s.logger.Warn("Failed to close backup writer after error", "error", closeErr)
		}
		return fmt.Errorf("write backup: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close backup writer: %w", err)
	}

	if err := s.pruneBackups(ctx); err != nil {
		s.logger.Warn("Failed to prune snapshot backups", "error", err)
	}
	return nil
}

// pruneBackups deletes all but the newest backupsToKeep backup objects.
func (s *Store) pruneBackups(ctx context.Context) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: backupPrefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("iterate backups: %w", err)
		}
		names = append(names, attrs.Name)
	}

	if len(names) <= backupsToKeep {
		return nil
	}

	// Backup names embed a sortable timestamp.
	sort.Strings(names)
	for _, name := range names[:len(names)-backupsToKeep] {
		if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
			s.logger.Warn("Failed to delete old backup", "object", name, "error", err)
			continue
		}
		s.logger.Debug("Deleted old snapshot backup", "object", name)
	}
	return nil
}
