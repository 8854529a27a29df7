package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

// fakeTransport simulates the wireless link. failuresBefore controls how
// many connect attempts fail before one succeeds.
type fakeTransport struct {
	mu             sync.Mutex
	discovered     []models.Device
	failuresBefore int
	attempts       int
	streams        map[string]func(models.HealthDataPoint)
	disconnected   []string
}

func newFakeTransport(discovered ...models.Device) *fakeTransport {
	return &fakeTransport{
		discovered: discovered,
		streams:    make(map[string]func(models.HealthDataPoint)),
	}
}

func (f *fakeTransport) Scan(_ context.Context, _ time.Duration) ([]models.Device, error) {
	out := make([]models.Device, len(f.discovered))
	copy(out, f.discovered)
	return out, nil
}

func (f *fakeTransport) Connect(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failuresBefore {
		return errors.New("device busy")
	}
	return nil
}

func (f *fakeTransport) Disconnect(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, deviceID)
	delete(f.streams, deviceID)
	return nil
}

func (f *fakeTransport) Stream(deviceID string, fn func(models.HealthDataPoint)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[deviceID] = fn
	return nil
}

func (f *fakeTransport) Close() {}

func (f *fakeTransport) push(deviceID string, p models.HealthDataPoint) {
	f.mu.Lock()
	fn := f.streams[deviceID]
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func TestScanReturnsDiscoveredAsDisconnected(t *testing.T) {
	tr := newFakeTransport(
		models.Device{ID: "dev-1", Name: "Band A", Type: models.DeviceWearable},
		models.Device{ID: "dev-2", Name: "Scale B", Type: models.DeviceWearable},
	)
	s := NewScanner(tr, zap.NewNop())

	found, err := s.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, d := range found {
		assert.Equal(t, models.StatusDisconnected, d.Status)
		assert.False(t, d.LastSeen.IsZero())
	}
}

func TestConnectSucceedsAfterRetry(t *testing.T) {
	tr := newFakeTransport()
	tr.failuresBefore = 2
	c := NewConnector(tr, 3, time.Millisecond, zap.NewNop())

	d, err := c.Connect(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, d.Status)
	assert.Equal(t, 1, c.Count())
}

func TestConnectExhaustsRetries(t *testing.T) {
	tr := newFakeTransport()
	tr.failuresBefore = 100
	c := NewConnector(tr, 3, time.Millisecond, zap.NewNop())

	_, err := c.Connect(context.Background(), "dev-1")
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, 3, tr.attempts, "exactly max attempts")
	assert.Equal(t, 0, c.Count())
}

func TestDataCallbackDispatchAndReplace(t *testing.T) {
	tr := newFakeTransport()
	c := NewConnector(tr, 1, 0, zap.NewNop())
	_, err := c.Connect(context.Background(), "dev-1")
	require.NoError(t, err)

	var first, second int
	require.NoError(t, c.SetDataCallback("dev-1", func(models.HealthDataPoint) { first++ }))
	tr.push("dev-1", models.HealthDataPoint{Metric: models.MetricHeartRate, Value: 72})
	require.Equal(t, 1, first)

	// Re-registering replaces the prior callback.
	require.NoError(t, c.SetDataCallback("dev-1", func(models.HealthDataPoint) { second++ }))
	tr.push("dev-1", models.HealthDataPoint{Metric: models.MetricHeartRate, Value: 74})
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestSetDataCallbackRequiresConnection(t *testing.T) {
	tr := newFakeTransport()
	c := NewConnector(tr, 1, 0, zap.NewNop())
	err := c.SetDataCallback("ghost", func(models.HealthDataPoint) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectSemantics(t *testing.T) {
	tr := newFakeTransport()
	c := NewConnector(tr, 1, 0, zap.NewNop())
	_, err := c.Connect(context.Background(), "dev-1")
	require.NoError(t, err)

	assert.True(t, c.Disconnect("dev-1"))
	assert.False(t, c.Disconnect("dev-1"), "second disconnect reports false")
	assert.False(t, c.Disconnect("never-seen"))
	assert.Empty(t, c.Connected())
}

func TestDisconnectAllIdempotent(t *testing.T) {
	tr := newFakeTransport()
	c := NewConnector(tr, 1, 0, zap.NewNop())
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Connect(context.Background(), id)
		require.NoError(t, err)
	}
	c.DisconnectAll()
	assert.Equal(t, 0, c.Count())
	c.DisconnectAll()
}
