package devices

import (
	"context"
	"time"

	"go.uber.org/zap"

	"device-hub/internal/models"
)

// Scanner runs time-bounded discovery passes. It never mutates connection
// state; discovered devices come back with StatusDisconnected.
type Scanner struct {
	t   Transport
	log *zap.Logger
}

// NewScanner wraps the transport.
func NewScanner(t Transport, log *zap.Logger) *Scanner {
	return &Scanner{t: t, log: log}
}

// Scan discovers devices for at most duration.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration) ([]models.Device, error) {
	found, err := s.t.Scan(ctx, duration)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range found {
		found[i].Status = models.StatusDisconnected
		if found[i].LastSeen.IsZero() {
			found[i].LastSeen = now
		}
	}
	s.log.Info("scan complete", zap.Int("devices", len(found)), zap.Duration("duration", duration))
	return found, nil
}
