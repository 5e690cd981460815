package plan

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically sweeps terminal plans out of the manager so a
// long-lived process does not accumulate finished plan state.
type Janitor struct {
	manager  *Manager
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor creates a janitor sweeping terminal plans older than ttl
// every interval.
func NewJanitor(m *Manager, ttl, interval time.Duration) *Janitor {
	return &Janitor{manager: m, ttl: ttl, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Dur("ttl", j.ttl).Dur("interval", j.interval).Msg("Plan janitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Plan janitor stopped")
			return
		case <-ticker.C:
			if removed := j.manager.SweepTerminal(j.ttl); removed > 0 {
				log.Debug().Int("removed", removed).Msg("Swept terminal plans")
			}
		}
	}
}
