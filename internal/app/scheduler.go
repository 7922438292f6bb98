package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"flexreport/internal/config"
	"flexreport/internal/loader"
)

// scheduledRefreshTimeout bounds one unattended refresh run.
const scheduledRefreshTimeout = 30 * time.Minute

// scheduler drives cron-based cache refreshes for sources that declare a
// refresh_schedule. A failing refresh is logged and retried on the next
// tick; it never takes the process down.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(ld *loader.Loader, registry *config.Registry, logger *slog.Logger) *scheduler {
	s := &scheduler{
		cron:   cron.New(),
		logger: logger.With("component", "scheduler"),
	}
	for _, src := range registry.All() {
		if src.RefreshSchedule == "" {
			continue
		}
		name := src.DisplayName
		spec := src.RefreshSchedule
		_, err := s.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), scheduledRefreshTimeout)
			defer cancel()
			start := time.Now()
			if _, err := ld.Refresh(ctx, name, nil); err != nil {
				s.logger.Warn("scheduled refresh failed", "source", name, "error", err)
				return
			}
			s.logger.Info("scheduled refresh complete", "source", name, "elapsed", time.Since(start))
		})
		if err != nil {
			s.logger.Warn("invalid refresh schedule, source skipped", "source", name, "schedule", spec, "error", err)
			continue
		}
		s.logger.Info("refresh scheduled", "source", name, "schedule", spec)
	}
	return s
}

func (s *scheduler) start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

func (s *scheduler) stop() {
	s.cron.Stop()
}
