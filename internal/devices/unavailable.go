package devices

import (
	"context"
	"fmt"
	"time"

	"device-hub/internal/models"
)

// Unavailable is the Transport used when no wireless link could be brought
// up. Every operation fails with the recorded reason, letting the manager
// run in degraded mode instead of aborting startup.
type Unavailable struct {
	Reason string
}

// Available marks this transport for the capability probe.
func (u Unavailable) Available() bool { return false }

func (u Unavailable) Scan(context.Context, time.Duration) ([]models.Device, error) {
	return nil, u.err()
}

func (u Unavailable) Connect(context.Context, string) error { return u.err() }

func (u Unavailable) Disconnect(string) error { return u.err() }

func (u Unavailable) Stream(string, func(models.HealthDataPoint)) error { return u.err() }

func (u Unavailable) Close() {}

func (u Unavailable) err() error {
	return fmt.Errorf("devices: transport unavailable: %s", u.Reason)
}
