// Package sensors manages platform sensor subscriptions and buffers their
// readings in a bounded in-memory cache.
package sensors

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

var (
	readingsCached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_readings_cached_total",
		Help: "Total sensor readings inserted into the cache",
	}, []string{"sensor"})

	readingsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_readings_evicted_total",
		Help: "Total sensor readings evicted from the cache",
	})
)

const (
	motionInterval = time.Second
	// Barometric pressure changes slowly; sampling it at the motion rate
	// wastes power.
	barometerInterval = 5 * time.Second
)

// Manager owns the sensor subscriptions and the reading cache.
type Manager struct {
	mu     sync.Mutex
	source Source
	cache  *Cache
	subs   map[models.SensorType]Subscription
	onData func(models.SensorData)
	log    *zap.Logger
}

// NewManager builds a manager around the given source with a cache of the
// given capacity. onData, if non-nil, is invoked for every cached reading
// (the integration manager uses it to feed the sync queue).
func NewManager(source Source, capacity int, onData func(models.SensorData), log *zap.Logger) *Manager {
	return &Manager{
		source: source,
		cache:  NewCache(capacity),
		subs:   make(map[models.SensorType]Subscription),
		onData: onData,
		log:    log,
	}
}

// Initialize starts monitoring for every enabled sensor that the platform
// reports available. Unavailable sensors are skipped, not an error.
func (m *Manager) Initialize(enabled []models.SensorType) {
	for _, t := range enabled {
		if !m.source.Available(t) {
			m.log.Info("sensor unavailable, skipping", zap.String("sensor", string(t)))
			continue
		}
		m.StartMonitoring(t)
	}
}

// StartMonitoring subscribes to the sensor stream. Idempotent: a second call
// for an already-monitored sensor returns true without a new subscription.
func (m *Manager) StartMonitoring(t models.SensorType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[t]; ok {
		return true
	}
	if !m.source.Available(t) {
		return false
	}
	sub, err := m.source.Subscribe(t, sampleInterval(t), m.ingest)
	if err != nil {
		m.log.Warn("sensor subscribe failed", zap.String("sensor", string(t)), zap.Error(err))
		return false
	}
	m.subs[t] = sub
	m.log.Info("sensor monitoring started", zap.String("sensor", string(t)))
	return true
}

// StopMonitoring unsubscribes. Returns false if the sensor was not being
// monitored.
func (m *Manager) StopMonitoring(t models.SensorType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(t)
}

func (m *Manager) stopLocked(t models.SensorType) bool {
	sub, ok := m.subs[t]
	if !ok {
		return false
	}
	delete(m.subs, t)
	if err := sub.Unsubscribe(); err != nil {
		m.log.Warn("sensor unsubscribe failed", zap.String("sensor", string(t)), zap.Error(err))
	}
	m.log.Info("sensor monitoring stopped", zap.String("sensor", string(t)))
	return true
}

func (m *Manager) ingest(d models.SensorData) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	if m.cache.Add(d) {
		readingsEvicted.Inc()
	}
	readingsCached.WithLabelValues(string(d.Sensor)).Inc()
	if m.onData != nil {
		m.onData(d)
	}
}

// CachedData returns cached readings within [start, end], sorted ascending.
func (m *Manager) CachedData(start, end time.Time) []models.SensorData {
	return m.cache.Range(start, end)
}

// Available reports platform support for the sensor type.
func (m *Manager) Available(t models.SensorType) bool {
	return m.source.Available(t)
}

// UpdateEnabled diffs the new enabled set against the currently monitored
// one: removed sensors stop, added sensors start, the rest keep running.
func (m *Manager) UpdateEnabled(newSet []models.SensorType) {
	want := make(map[models.SensorType]bool, len(newSet))
	for _, t := range newSet {
		want[t] = true
	}

	m.mu.Lock()
	var toStop []models.SensorType
	for t := range m.subs {
		if !want[t] {
			toStop = append(toStop, t)
		}
	}
	for _, t := range toStop {
		m.stopLocked(t)
	}
	m.mu.Unlock()

	for _, t := range newSet {
		m.StartMonitoring(t)
	}
}

// Monitored returns the currently subscribed sensor types.
func (m *Manager) Monitored() []models.SensorType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SensorType, 0, len(m.subs))
	for t := range m.subs {
		out = append(out, t)
	}
	return out
}

// CacheSize returns the number of cached readings.
func (m *Manager) CacheSize() int {
	return m.cache.Size()
}

// StopAll unsubscribes everything and clears the cache. Safe to call twice.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for t := range m.subs {
		m.stopLocked(t)
	}
	m.mu.Unlock()
	m.cache.Clear()
}

func sampleInterval(t models.SensorType) time.Duration {
	if t == models.SensorBarometer {
		return barometerInterval
	}
	return motionInterval
}
