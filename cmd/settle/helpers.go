package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/settle/internal/common"
	"github.com/Veraticus/settle/internal/config"
	"github.com/Veraticus/settle/internal/metrics"
	"github.com/Veraticus/settle/internal/model"
	"github.com/Veraticus/settle/internal/review"
	"github.com/Veraticus/settle/internal/settlement"
	"github.com/Veraticus/settle/internal/statement"
	"github.com/Veraticus/settle/internal/storage"
)

// app wires the ledger services for one command invocation.
type app struct {
	cfg     *config.Config
	store   *storage.SQLiteStorage
	metrics *metrics.Collector
	linker  *settlement.Linker
}

// openApp opens and migrates the database and builds the linker.
func openApp(ctx context.Context) (*app, error) {
	cfg := appConfig
	if cfg == nil {
		return nil, common.ErrMissingConfig
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	collector := metrics.New()
	return &app{
		cfg:     cfg,
		store:   store,
		metrics: collector,
		linker: settlement.NewLinker(store,
			settlement.WithTolerance(cfg.Tolerance),
			settlement.WithObserver(collector)),
	}, nil
}

func (a *app) statements() *statement.Service {
	opts := []statement.Option{statement.WithObserver(a.metrics)}
	if a.cfg.CheckpointBeforeRollback {
		manager, err := a.store.NewCheckpointManager()
		switch {
		case err == nil:
			opts = append(opts, statement.WithCheckpointer(manager))
		case errors.Is(err, storage.ErrCheckpointUnsupported):
			slog.Debug("Rollback checkpoints disabled", "reason", err)
		default:
			slog.Warn("Rollback checkpoints disabled", "error", err)
		}
	}
	return statement.NewService(a.store, a.linker, opts...)
}

func (a *app) review() *review.Service {
	return review.NewService(a.store, a.linker, a.cfg.Retry)
}

// Close publishes metrics when configured and closes the database.
func (a *app) Close(ctx context.Context) {
	if a.cfg.MetricsTextfile != "" {
		if files, err := a.store.ListStatementFiles(ctx); err == nil {
			counts := make(map[model.ReconciliationStatus]int)
			for _, f := range files {
				for status, n := range f.RecordCounts {
					counts[status] += n
				}
			}
			a.metrics.SetRecordCounts(counts)
		}
		if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
			common.LogError(err, "Failed to write metrics", common.Fields{"path": a.cfg.MetricsTextfile})
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
