package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deskrelay/auth-session-service/internal/repository"
)

// Scheduler runs the background hygiene jobs: closing overdue sessions and
// pruning expired token records. Both jobs are idempotent, so overlapping
// runs across replicas are wasteful but harmless.
type Scheduler struct {
	cron      *cron.Cron
	sessions  repository.SessionRepository
	tokens    repository.TokenRepository
	retention time.Duration
	logger    *slog.Logger
}

func NewScheduler(
	sessions repository.SessionRepository,
	tokens repository.TokenRepository,
	retention time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		sessions:  sessions,
		tokens:    tokens,
		retention: retention,
		logger:    logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.cleanupSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", s.cleanupTokens); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) cleanupSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	count, err := s.sessions.CleanupExpired(ctx, s.retention)
	if err != nil {
		s.logger.Error("session cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("session cleanup done", "closed", count)
	}
}

func (s *Scheduler) cleanupTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	count, err := s.tokens.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("token record cleanup failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("token record cleanup done", "deleted", count)
	}
}
