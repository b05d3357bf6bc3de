// Package cleanup periodically removes expired records from the stores.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper removes expired records and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Manager runs named sweepers on a fixed interval
type Manager struct {
	sweepers map[string]Sweeper
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewManager creates a cleanup manager
func NewManager(interval time.Duration, sweepers map[string]Sweeper) *Manager {
	return &Manager{
		sweepers: sweepers,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine. A non-positive interval
// disables it.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		close(m.doneChan)
		return
	}
	zerolog.Ctx(ctx).Info().Dur("interval", m.interval).Msg("starting cleanup manager")
	go m.run(ctx)
}

// Stop ends the cleanup loop and waits for it to finish
func (m *Manager) Stop() {
	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}
	<-m.doneChan
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneChan)

	// Records left over from a previous run are removed straight away
	m.cleanup(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) cleanup(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	for name, s := range m.sweepers {
		count, err := s.Sweep(ctx)
		if err != nil {
			logger.Err(err).Str("store", name).Msg("cleanup failed")
			continue
		}
		if count > 0 {
			logger.Debug().Str("store", name).Int("count", count).Msg("expired records removed")
		}
	}
}
