package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ClearStats reports how many rows ClearDatabase removed.
type ClearStats struct {
	Frames     int64
	Satellites int64
}

// ClearDatabase empties the frame log and the satellite table in one
// transaction, then vacuums so the file shrinks on disk.
func ClearDatabase(ctx context.Context, db *sql.DB) (ClearStats, error) {
	var stats ClearStats
	if db == nil {
		return stats, fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	targets := []struct {
		table string
		rows  *int64
	}{
		{table: "frames", rows: &stats.Frames},
		{table: "satellites", rows: &stats.Satellites},
	}
	for _, target := range targets {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+target.table)
		if err != nil {
			return ClearStats{}, fmt.Errorf("clear %s: %w", target.table, err)
		}
		if *target.rows, err = res.RowsAffected(); err != nil {
			return ClearStats{}, fmt.Errorf("count cleared %s: %w", target.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ClearStats{}, fmt.Errorf("commit clear database tx: %w", err)
	}
	if _, err := db.ExecContext(ctx, `VACUUM;`); err != nil {
		return stats, fmt.Errorf("vacuum after clear: %w", err)
	}

	return stats, nil
}

type frameDeleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartFrameRetention prunes the frame log once immediately and then every interval.
// A non-positive retention disables pruning.
func StartFrameRetention(ctx context.Context, logger *slog.Logger, repo frameDeleter, retention, interval time.Duration, now func() time.Time) {
	if retention <= 0 || repo == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}

	prune := func() {
		n, err := repo.DeleteOlderThan(ctx, now().Add(-retention))
		if err != nil {
			logger.Warn("frame retention failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned frame log", "deleted", n, "retention", retention)
		}
	}

	go func() {
		prune()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prune()
			}
		}
	}()
}
