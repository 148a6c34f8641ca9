package state

import (
	"context"
	"log/slog"
)

// SlogObserver implements Observer using Go's structured logging (log/slog).
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	ctrl := state.NewController(provider, state.WithObserver(state.NewSlogObserver(logger, slog.LevelInfo)))
type SlogObserver struct {
	logger   *slog.Logger
	minLevel slog.Level
}

// NewSlogObserver creates an observer that logs to the given slog.Logger.
// Only events at or above minLevel will be logged.
func NewSlogObserver(logger *slog.Logger, minLevel slog.Level) *SlogObserver {
	return &SlogObserver{
		logger:   logger,
		minLevel: minLevel,
	}
}

func (o *SlogObserver) OnStoreResolve(ctx context.Context, event *StoreResolveEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "store resolution failed",
				slog.String("store", event.Store),
				slog.String("id_type", event.IDType),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "store resolved",
			slog.String("store", event.Store),
			slog.String("id_type", event.IDType),
			slog.Duration("latency", event.Latency),
		)
	}
}

func (o *SlogObserver) OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "handle allocation refused",
				slog.String("store", event.Store),
				slog.String("entity_id", event.EntityID),
				slog.String("flags", event.Flags.String()),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "handle allocated",
			slog.String("handle_id", event.HandleID.String()),
			slog.String("store", event.Store),
			slog.String("entity_id", event.EntityID),
			slog.String("flags", event.Flags.String()),
			slog.Int("live", event.Live),
		)
	}
}

func (o *SlogObserver) OnHandleDispose(ctx context.Context, event *HandleDisposeEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "handle disposal failed",
				slog.String("handle_id", event.HandleID.String()),
				slog.String("store", event.Store),
				slog.String("entity_id", event.EntityID),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "handle disposed",
			slog.String("handle_id", event.HandleID.String()),
			slog.String("store", event.Store),
			slog.String("entity_id", event.EntityID),
			slog.Bool("removed", event.Removed),
			slog.Int("live", event.Live),
			slog.Duration("duration", event.Duration),
		)
	}
}

func (o *SlogObserver) OnCleanupStart(ctx context.Context, event *CleanupStartEvent) {
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "cleanup pass started",
			slog.Uint64("pass", event.Pass),
			slog.Int("queued", event.Queued),
		)
	}
}

func (o *SlogObserver) OnCleanupTask(ctx context.Context, event *CleanupTaskEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "cleanup task failed",
				slog.Uint64("pass", event.Pass),
				slog.String("task", event.Name),
				slog.Bool("sweep", event.Sweep),
				slog.Bool("panicked", event.Panicked),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "cleanup task completed",
			slog.Uint64("pass", event.Pass),
			slog.String("task", event.Name),
			slog.Bool("sweep", event.Sweep),
			slog.Duration("duration", event.Duration),
		)
	}
}

func (o *SlogObserver) OnCleanupEnd(ctx context.Context, event *CleanupEndEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "cleanup pass failed",
				slog.Uint64("pass", event.Pass),
				slog.Int("tasks", event.Tasks),
				slog.Int("failures", event.Failures),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelInfo {
		o.logger.InfoContext(ctx, "cleanup pass completed",
			slog.Uint64("pass", event.Pass),
			slog.Int("tasks", event.Tasks),
			slog.Duration("duration", event.Duration),
		)
	}
}
