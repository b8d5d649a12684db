// Package scheduler runs the periodic background jobs: refreshing the
// cached season-mapping table so long-running hosts pick up community edits.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"anisync/logger"
)

// defaultRefreshSpec re-downloads the season-mapping table weekly, off-peak.
const defaultRefreshSpec = "0 4 * * 1"

// Refresher is the season-map surface the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Service owns the cron runner. Start and Stop are idempotent.
type Service struct {
	seasons Refresher
	spec    string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewService(seasons Refresher) *Service {
	return &Service{seasons: seasons, spec: defaultRefreshSpec}
}

// NewServiceWithSpec overrides the refresh schedule, for hosts that want
// their own cadence.
func NewServiceWithSpec(seasons Refresher, spec string) *Service {
	return &Service{seasons: seasons, spec: spec}
}

// Start schedules the refresh job and begins running it.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.refresh); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	logger.Infof("[scheduler] season-map refresh scheduled (%s)", s.spec)
	return nil
}

// Stop halts the schedule, waiting for a running refresh to finish or the
// context to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	select {
	case <-s.cron.Stop().Done():
		logger.Infof("[scheduler] stopped")
	case <-ctx.Done():
		logger.Warnf("[scheduler] stop timed out with a refresh still running")
	}
	s.running = false
}

func (s *Service) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.seasons.Refresh(ctx); err != nil {
		logger.Errorf("[scheduler] season-map refresh failed: %v", err)
		return
	}
	logger.Infof("[scheduler] season-map refreshed")
}
