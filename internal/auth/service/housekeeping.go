package service

import (
	"context"
	"log/slog"
	"time"
)

// HousekeepingService periodically drops dangling ids from every user's
// legacy session index. Session records expire on their own in the KV
// store but the indexes do not shrink without this.
type HousekeepingService struct {
	Sessions *SessionRegistry
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0
// or negative, it defaults to 1 hour.
func NewHousekeepingService(sessions *SessionRegistry, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Sessions: sessions,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one reconciliation pass and returns the number of dangling
// ids removed. A failing user is logged and skipped.
func (s *HousekeepingService) Sweep(ctx context.Context) int {
	users, err := s.Sessions.IndexedUsers(ctx)
	if err != nil {
		s.Logger.Error("failed to list session indexes", "error", err)
		return 0
	}

	var total int
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		n, err := s.Sessions.CleanExpiredSessions(ctx, userID)
		if err != nil {
			s.Logger.Error("failed to clean session index", "user_id", userID, "error", err)
			continue
		}
		total += n
	}

	s.Logger.Info("housekeeping sweep completed", "users", len(users), "dropped", total)
	return total
}
