package stream

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically reclaims dead streams from a registry.
type Sweeper struct {
	registry *Registry
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper for registry using its configured interval.
func NewSweeper(registry *Registry) *Sweeper {
	return &Sweeper{
		registry: registry,
		cron:     cron.New(),
	}
}

// Start schedules the sweep and runs one immediately.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("stream sweeper is already running")
	}

	interval := s.registry.Config().SweepInterval
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.registry.Sweep()
	}))
	s.cron.Start()
	s.running = true

	s.registry.Sweep()

	log.Info().Dur("interval", interval).Msg("Stream sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("stream sweeper is not running")
	}

	<-s.cron.Stop().Done()
	s.running = false

	log.Info().Msg("Stream sweeper stopped")
	return nil
}

// IsRunning returns whether the sweeper is scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
