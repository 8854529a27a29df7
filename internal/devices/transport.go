// Package devices discovers external health devices and maintains their
// connections over a wireless transport.
package devices

import (
	"context"
	"errors"
	"time"

	"device-hub/internal/models"
)

var (
	// ErrNotConnected is returned when an operation targets a device that
	// has no active connection.
	ErrNotConnected = errors.New("devices: device not connected")

	// ErrConnectFailed is returned when every connect attempt was exhausted.
	ErrConnectFailed = errors.New("devices: connect attempts exhausted")
)

// Transport is the wireless link to external devices. Scan is bounded by
// the given duration (an upper bound, the transport may finish early).
// Stream attaches the inbound reading handler for a connected device.
type Transport interface {
	Scan(ctx context.Context, duration time.Duration) ([]models.Device, error)
	Connect(ctx context.Context, deviceID string) error
	Disconnect(deviceID string) error
	Stream(deviceID string, fn func(models.HealthDataPoint)) error
	Close()
}
