package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

var connectRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "device_connect_retries_total",
	Help: "Total failed device connect attempts",
})

// Connector owns the connected-device registry. A device appears in the
// registry only while its transport connection is live.
type Connector struct {
	mu        sync.Mutex
	t         Transport
	attempts  int
	backoff   time.Duration
	devices   map[string]*models.Device
	callbacks map[string]func(models.HealthDataPoint)
	log       *zap.Logger
}

// NewConnector builds a connector with bounded retry settings.
func NewConnector(t Transport, attempts int, backoff time.Duration, log *zap.Logger) *Connector {
	return &Connector{
		t:         t,
		attempts:  attempts,
		backoff:   backoff,
		devices:   make(map[string]*models.Device),
		callbacks: make(map[string]func(models.HealthDataPoint)),
		log:       log,
	}
}

// Connect opens a connection with bounded retry. Exhausting the attempts
// yields ErrConnectFailed wrapped with the last transport error; expected
// failures never panic.
func (c *Connector) Connect(ctx context.Context, deviceID string) (*models.Device, error) {
	c.mu.Lock()
	if d, ok := c.devices[deviceID]; ok {
		c.mu.Unlock()
		return cloneDevice(d), nil
	}
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lastErr = c.t.Connect(ctx, deviceID)
		if lastErr == nil {
			break
		}
		connectRetries.Inc()
		c.log.Warn("connect attempt failed",
			zap.String("device", deviceID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < c.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: device %s after %d attempts: %v", ErrConnectFailed, deviceID, c.attempts, lastErr)
	}

	d := &models.Device{
		ID:       deviceID,
		Name:     deviceID,
		Type:     models.DeviceWearable,
		Status:   models.StatusConnected,
		LastSeen: time.Now(),
	}
	c.mu.Lock()
	c.devices[deviceID] = d
	c.mu.Unlock()

	if err := c.t.Stream(deviceID, func(p models.HealthDataPoint) { c.dispatch(deviceID, p) }); err != nil {
		c.log.Warn("stream attach failed", zap.String("device", deviceID), zap.Error(err))
	}

	c.log.Info("device connected", zap.String("device", deviceID))
	return cloneDevice(d), nil
}

func (c *Connector) dispatch(deviceID string, p models.HealthDataPoint) {
	c.mu.Lock()
	d, connected := c.devices[deviceID]
	if connected {
		d.LastSeen = time.Now()
	}
	fn := c.callbacks[deviceID]
	c.mu.Unlock()

	if !connected || fn == nil {
		return
	}
	if p.DeviceID == "" {
		p.DeviceID = deviceID
	}
	fn(p)
}

// SetDataCallback attaches the per-device inbound handler. Re-registering
// replaces the prior handler; at most one is active per device.
func (c *Connector) SetDataCallback(deviceID string, fn func(models.HealthDataPoint)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[deviceID]; !ok {
		return ErrNotConnected
	}
	c.callbacks[deviceID] = fn
	return nil
}

// Disconnect closes the transport handle and removes the device. Returns
// false when the device was not connected.
func (c *Connector) Disconnect(deviceID string) bool {
	c.mu.Lock()
	_, ok := c.devices[deviceID]
	delete(c.devices, deviceID)
	delete(c.callbacks, deviceID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := c.t.Disconnect(deviceID); err != nil {
		c.log.Warn("transport disconnect failed", zap.String("device", deviceID), zap.Error(err))
	}
	c.log.Info("device disconnected", zap.String("device", deviceID))
	return true
}

// Connected returns a snapshot of the connected devices.
func (c *Connector) Connected() []models.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	return out
}

// Count returns the number of connected devices.
func (c *Connector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

// DisconnectAll tears down every connection. Safe to call twice.
func (c *Connector) DisconnectAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Disconnect(id)
	}
}

func cloneDevice(d *models.Device) *models.Device {
	cp := *d
	return &cp
}
