package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// VersionFunc reads a change token from the database. Two calls returning
// different values mean another writer touched the file.
type VersionFunc func(ctx context.Context, db *sql.DB) (int64, error)

// DataVersion reads PRAGMA data_version, which increments whenever a
// different connection writes to the same database file, which is exactly
// what happens when the settings UI edits the settings scope out-of-process.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// WatchOptions tunes Watch behaviour.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before reload
	// fires; further changes reset the window. 0 fires immediately.
	Debounce time.Duration
	// Version overrides the default DataVersion token reader.
	Version VersionFunc
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Version == nil {
		o.Version = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watch polls the scope for out-of-process writes and calls reload after
// each detected change (debounced). It blocks until ctx is cancelled.
// A reload error leaves the token unadvanced so the reload is retried on
// the next poll cycle.
func (s *Store) Watch(ctx context.Context, opts WatchOptions, reload func() error) {
	opts.defaults()
	log := opts.Logger

	last, err := opts.Version(ctx, s.db)
	if err != nil {
		log.Warn("store: initial version read failed", "error", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			cur, err := opts.Version(ctx, s.db)
			if err != nil {
				log.Warn("store: version read failed", "error", err)
				continue
			}
			if cur == last || cur == pending {
				continue
			}
			pending = cur
			if opts.Debounce <= 0 {
				if err := reload(); err != nil {
					log.Error("store: reload failed", "error", err)
					pending = -1
					continue
				}
				last = cur
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(opts.Debounce)
			fire = debounce.C

		case <-fire:
			fire = nil
			if pending < 0 {
				continue
			}
			if err := reload(); err != nil {
				log.Error("store: reload failed", "error", err)
				pending = -1
				continue
			}
			last = pending
			pending = -1
		}
	}
}
