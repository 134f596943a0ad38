// Package scheduler drives periodic syncs: every interval each tracked
// repository becomes one job for a fixed worker pool, and team aggregates are
// refreshed after the repositories of a team have been visited.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devpulse/devpulse/internal/storage"
	ghsync "github.com/devpulse/devpulse/internal/sync"
)

// SyncRunner runs one sync pass for a repository.
type SyncRunner interface {
	Run(ctx context.Context, teamID uint, repoFullName string, mode ghsync.Mode) (ghsync.Result, error)
}

// WeeklyAggregator refreshes a team's weekly rollups.
type WeeklyAggregator interface {
	AggregateTeamWeek(ctx context.Context, teamID uint, ref time.Time) error
}

// CorrelationRecomputer rebuilds a team's reviewer correlation pairs.
type CorrelationRecomputer interface {
	Recompute(ctx context.Context, teamID uint) error
}

// Scheduler owns the tick loop and the worker pool.
type Scheduler struct {
	Store        storage.Store
	Runner       SyncRunner
	Weekly       WeeklyAggregator
	Correlations CorrelationRecomputer
	Leaser       Leaser
	Logger       *zap.Logger

	Interval time.Duration
	Workers  int
	LeaseTTL time.Duration
	Now      func() time.Time
}

type job struct {
	teamID       uint
	repoFullName string
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Run ticks until the context is canceled. The first pass starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger().Error("scheduled pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every tracked repository through the worker pool, then
// refreshes aggregates once per team that had a repository in the pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	repos, err := s.Store.ListTrackedRepositories(ctx)
	if err != nil {
		return fmt.Errorf("list tracked repositories: %w", err)
	}
	if len(repos) == 0 {
		return nil
	}

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s.syncOne(ctx, j)
			}
		}()
	}

	teams := make(map[uint]struct{})
	for _, repo := range repos {
		teams[repo.TeamID] = struct{}{}
		select {
		case <-ctx.Done():
		case jobs <- job{teamID: repo.TeamID, repoFullName: repo.FullName}:
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	for teamID := range teams {
		s.aggregateTeam(ctx, teamID)
	}
	return nil
}

func (s *Scheduler) syncOne(ctx context.Context, j job) {
	logger := s.logger().With(zap.Uint("team_id", j.teamID), zap.String("repo", j.repoFullName))

	key := leaseKey(j.teamID, j.repoFullName)
	acquired, err := s.Leaser.Acquire(ctx, key, s.LeaseTTL)
	if err != nil {
		logger.Error("lease acquire failed", zap.Error(err))
		return
	}
	if !acquired {
		logger.Info("sync already running elsewhere, skipping")
		return
	}
	defer func() {
		if err := s.Leaser.Release(ctx, key); err != nil {
			logger.Warn("lease release failed", zap.Error(err))
		}
	}()

	result, err := s.Runner.Run(ctx, j.teamID, j.repoFullName, ghsync.ModeIncremental)
	if err != nil {
		logger.Error("sync failed", zap.Error(err))
		return
	}
	logger.Info("sync finished",
		zap.Int("prs_synced", result.PRsSynced),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("rate_limited", result.RateLimited),
	)
}

func (s *Scheduler) aggregateTeam(ctx context.Context, teamID uint) {
	logger := s.logger().With(zap.Uint("team_id", teamID))
	if err := s.Weekly.AggregateTeamWeek(ctx, teamID, s.now()); err != nil {
		logger.Error("weekly aggregation failed", zap.Error(err))
	}
	if err := s.Correlations.Recompute(ctx, teamID); err != nil {
		logger.Error("correlation recompute failed", zap.Error(err))
	}
}

func leaseKey(teamID uint, repoFullName string) string {
	return fmt.Sprintf("sync:%d:%s", teamID, repoFullName)
}
