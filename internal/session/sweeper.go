package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultSweepInterval = 10 * time.Minute

// Sweeper periodically deletes expired upload sessions. Expired sessions are
// already unredeemable, the sweep only reclaims rows.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	ticker   *time.Ticker
	done     chan bool
}

func NewSweeper(repo Repository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		repo:     repo,
		interval: interval,
		done:     make(chan bool),
	}
}

// Start begins the periodic sweep in a background goroutine.
func (s *Sweeper) Start() {
	s.ticker = time.NewTicker(s.interval)
	log.Info().Dur("interval", s.interval).Msg("Upload session sweeper started")

	go s.loop()
}

func (s *Sweeper) loop() {
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.done:
			s.ticker.Stop()
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to sweep expired upload sessions")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deletedCount", deleted).Msg("Expired upload sessions swept")
	}
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	log.Info().Msg("Stopping upload session sweeper")
	if s.ticker != nil {
		s.done <- true
	}
}

// RunNow executes one sweep immediately.
func (s *Sweeper) RunNow() {
	s.sweep()
}
