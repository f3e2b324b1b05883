package sequence

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultCleanerInterval is the sweep period when none is configured.
const DefaultCleanerInterval = 5 * time.Minute

// Cleaner runs IdleSweep on every registered manager at a fixed interval.
// A sequence is evicted after being idle for between one and two intervals.
type Cleaner struct {
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	managers map[*Manager]struct{}
	cron     *cron.Cron
	running  sync.Mutex
}

// NewCleaner returns a stopped cleaner.
func NewCleaner(interval time.Duration, logger zerolog.Logger) *Cleaner {
	if interval <= 0 {
		interval = DefaultCleanerInterval
	}
	return &Cleaner{
		interval: interval,
		log:      logger.With().Str("component", "sequence_cleaner").Logger(),
		managers: map[*Manager]struct{}{},
	}
}

func (c *Cleaner) Interval() time.Duration { return c.interval }

// Register adds m to the sweep set.
func (c *Cleaner) Register(m *Manager) {
	c.mu.Lock()
	c.managers[m] = struct{}{}
	c.mu.Unlock()
}

// Unregister removes m from the sweep set.
func (c *Cleaner) Unregister(m *Manager) {
	c.mu.Lock()
	delete(c.managers, m)
	c.mu.Unlock()
}

// Start schedules the sweep. Calling Start on a running cleaner is a no-op.
func (c *Cleaner) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", c.interval), c.tick); err != nil {
		return fmt.Errorf("sequence cleaner: schedule: %w", err)
	}
	cr.Start()
	c.cron = cr
	c.log.Info().Dur("interval", c.interval).Msg("sequence cleaner started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return
	}
	<-cr.Stop().Done()
	c.log.Info().Msg("sequence cleaner stopped")
}

// Running reports whether the sweep is scheduled.
func (c *Cleaner) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cron != nil
}

func (c *Cleaner) tick() {
	if !c.running.TryLock() {
		c.log.Warn().Msg("previous sweep still running, skipping tick")
		return
	}
	defer c.running.Unlock()
	c.sweep()
}

// Sweep runs one pass over every registered manager and returns the total
// number of erased sequences.
func (c *Cleaner) Sweep() int {
	c.running.Lock()
	defer c.running.Unlock()
	return c.sweep()
}

func (c *Cleaner) sweep() int {
	c.mu.Lock()
	ms := make([]*Manager, 0, len(c.managers))
	for m := range c.managers {
		ms = append(ms, m)
	}
	c.mu.Unlock()
	total := 0
	for _, m := range ms {
		total += m.IdleSweep()
	}
	return total
}
