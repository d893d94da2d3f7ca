// Package retention periodically expires messages older than the
// configured horizon, in memory and in durable storage.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Target is one device the manager can sweep. Prune drops expired
// in-memory messages and schedules the matching storage compaction.
type Target interface {
	Prune() (int, error)
}

// Manager runs periodic retention sweeps over all registered devices.
type Manager struct {
	targets  func() []Target
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewManager creates a manager. targets is re-evaluated every sweep so
// devices added later are covered.
func NewManager(targets func() []Target, interval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{targets: targets, interval: interval, logger: logger}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("retention disabled")
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweep loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Sweep prunes every device once and returns the total number of
// in-memory messages removed.
func (m *Manager) Sweep() int {
	total := 0
	for _, t := range m.targets() {
		n, err := t.Prune()
		if err != nil {
			m.logger.Error("retention sweep", zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		m.logger.Info("retention sweep complete", zap.Int("expired", total))
	}
	return total
}
