// Package manager composes the sensor, health, device and sync subsystems
// behind a single facade. It is the error-containment boundary: component
// failures come back as typed results or accumulate on the error list,
// never as panics across the facade.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"device-hub/internal/analytics"
	"device-hub/internal/config"
	"device-hub/internal/devices"
	"device-hub/internal/health"
	"device-hub/internal/models"
	"device-hub/internal/sensors"
	"device-hub/internal/storage"
	"device-hub/internal/syncer"
)

var (
	// ErrNotInitialized is returned by every operation that needs a ready
	// manager.
	ErrNotInitialized = errors.New("manager: not initialized")

	// ErrInvalidWindow is returned for non-positive aggregation windows.
	ErrInvalidWindow = errors.New("manager: window days must be positive")
)

var (
	aggregations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "health_aggregations_total",
		Help: "Total aggregation requests served",
	})

	deviceReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_readings_ingested_total",
		Help: "Total readings ingested from connected devices",
	})
)

// State is the manager lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateCleaningUp    State = "cleaning_up"
)

const (
	keyConfig       = "config"
	keyCapabilities = "capabilities"
)

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State            State                     `json:"state"`
	Initialized      bool                      `json:"initialized"`
	Capabilities     models.Capabilities       `json:"capabilities"`
	ConnectedDevices int                       `json:"connected_devices"`
	CacheSize        int                       `json:"cache_size"`
	QueueSize        int                       `json:"queue_size"`
	Online           bool                      `json:"online"`
	LastSyncTime     time.Time                 `json:"last_sync_time"`
	Errors           []models.IntegrationError `json:"errors"`
}

// Broadcaster pushes live readings toward the UI. Nil is allowed.
type Broadcaster interface {
	Broadcast(kind string, payload any)
}

// Manager is the device-integration facade. Construct exactly one per
// running application and inject it; tests build isolated instances.
type Manager struct {
	mu    sync.Mutex
	state State
	cfg   *config.Config
	caps  models.Capabilities
	errs  []models.IntegrationError

	sensors   *sensors.Manager
	provider  health.Provider
	transport devices.Transport
	scanner   *devices.Scanner
	connector *devices.Connector
	syncer    *syncer.Synchronizer
	local     *storage.Store
	analyzer  *analytics.Analyzer
	bc        Broadcaster

	wmu      sync.Mutex
	wearable []models.HealthDataPoint // bounded, drop-oldest

	log *zap.Logger
}

// New wires the subsystems together. The source, provider, transport and
// remote store are capabilities: production implementations in cmd, fakes
// in tests.
func New(cfg *config.Config, source sensors.Source, provider health.Provider,
	transport devices.Transport, remote syncer.RemoteStore, local *storage.Store,
	bc Broadcaster, log *zap.Logger) *Manager {

	m := &Manager{
		state:     StateUninitialized,
		cfg:       cfg,
		provider:  provider,
		transport: transport,
		local:     local,
		analyzer:  analytics.NewAnalyzer(0),
		bc:        bc,
		log:       log,
	}

	// Runtime config changes and last-known capabilities carry across
	// restarts. The persisted config wins over the loaded one; it has to be
	// overlaid before the subsystems are sized off it.
	if local != nil {
		var stored config.Config
		switch err := local.Get(keyConfig, &stored); {
		case err == nil:
			if verr := stored.Validate(); verr != nil {
				log.Warn("ignoring invalid config snapshot", zap.Error(verr))
			} else {
				*cfg = stored
			}
		case !errors.Is(err, storage.ErrNotFound):
			log.Warn("could not restore config snapshot", zap.Error(err))
		}
		if err := local.Get(keyCapabilities, &m.caps); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn("could not restore capability snapshot", zap.Error(err))
		}
	}

	m.sensors = sensors.NewManager(source, cfg.CacheCapacity, m.onSensorData, log.Named("sensors"))
	m.scanner = devices.NewScanner(transport, log.Named("scanner"))
	m.connector = devices.NewConnector(transport, cfg.ConnectAttempts, cfg.ConnectBackoff, log.Named("connector"))
	m.syncer = syncer.New(remote, log.Named("syncer"))
	return m
}

// Initialize probes capabilities, brings up the subsystems and starts the
// periodic sync. Sub-initialization failures degrade the manager instead of
// aborting it.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady || m.state == StateDegraded {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	cfg := m.cfg.Clone()
	m.mu.Unlock()

	caps := models.Capabilities{
		Sensors:         make(map[models.SensorType]bool, len(models.AllSensorTypes)),
		DeviceTransport: transportAvailable(m.transport),
		ProbedAt:        time.Now(),
	}
	for _, t := range models.AllSensorTypes {
		caps.Sensors[t] = m.sensors.Available(t)
	}
	if !caps.DeviceTransport {
		m.recordError("transport", errors.New("device transport unavailable"))
	}

	if err := m.provider.Initialize(ctx); err != nil {
		m.recordError("health", err)
		caps.HealthRecords = false
	} else {
		caps.HealthRecords = true
	}

	m.sensors.Initialize(cfg.EnabledSensors)

	if !cfg.Offline {
		m.syncer.Start(cfg.SyncInterval)
	}

	m.mu.Lock()
	m.caps = caps
	if len(m.errs) > 0 {
		m.state = StateDegraded
	} else {
		m.state = StateReady
	}
	m.mu.Unlock()

	if m.local != nil {
		if err := m.local.Set(keyCapabilities, caps); err != nil {
			m.log.Warn("could not persist capability snapshot", zap.Error(err))
		}
	}

	m.log.Info("manager initialized",
		zap.Bool("health_records", caps.HealthRecords),
		zap.Int("enabled_sensors", len(cfg.EnabledSensors)),
		zap.Bool("offline", cfg.Offline))
	return nil
}

// ScanForDevices runs a discovery pass with the configured scan duration.
// It does not mutate connection state.
func (m *Manager) ScanForDevices(ctx context.Context) ([]models.Device, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	duration := m.cfg.ScanDuration
	m.mu.Unlock()

	found, err := m.scanner.Scan(ctx, duration)
	if err != nil {
		m.recordError("scanner", err)
		return nil, err
	}
	return found, nil
}

// ConnectToDevice connects and wires the device's readings into the
// ingestion path. Expected connect failures come back as errors, not panics.
func (m *Manager) ConnectToDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	d, err := m.connector.Connect(ctx, deviceID)
	if err != nil {
		m.recordError("connector", err)
		return nil, err
	}
	if err := m.connector.SetDataCallback(deviceID, m.onDeviceData); err != nil {
		m.recordError("connector", err)
	}
	return d, nil
}

// DisconnectFromDevice closes the connection. Returns false when the device
// was not connected.
func (m *Manager) DisconnectFromDevice(deviceID string) (bool, error) {
	if err := m.requireReady(); err != nil {
		return false, err
	}
	return m.connector.Disconnect(deviceID), nil
}

// GetConnectedDevices snapshots the connection registry.
func (m *Manager) GetConnectedDevices() ([]models.Device, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	return m.connector.Connected(), nil
}

// GetHealthData queries one metric over a date range.
func (m *Manager) GetHealthData(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.HealthDataPoint, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric type %q", metric)
	}
	return m.provider.Query(ctx, metric, start, end)
}

// GetAggregatedHealthData pools every source over a trailing window of
// windowDays and computes the summary. The four provider queries run
// concurrently; an individual failure empties that series and lands on the
// error list without aborting the rest.
func (m *Manager) GetAggregatedHealthData(ctx context.Context, windowDays int) (*models.AggregatedHealthData, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		return nil, ErrInvalidWindow
	}

	end := time.Now()
	start := end.AddDate(0, 0, -windowDays)
	agg := &models.AggregatedHealthData{
		WindowStart:    start,
		WindowEnd:      end,
		HeartRate:      []models.HealthDataPoint{},
		Steps:          []models.HealthDataPoint{},
		Sleep:          []models.HealthDataPoint{},
		Weight:         []models.HealthDataPoint{},
		SensorReadings: []models.SensorData{},
		Wearable:       []models.HealthDataPoint{},
	}

	targets := map[models.MetricType]*[]models.HealthDataPoint{
		models.MetricHeartRate: &agg.HeartRate,
		models.MetricSteps:     &agg.Steps,
		models.MetricSleep:     &agg.Sleep,
		models.MetricWeight:    &agg.Weight,
	}

	g, gctx := errgroup.WithContext(ctx)
	for metric, target := range targets {
		metric, target := metric, target
		g.Go(func() error {
			points, err := m.provider.Query(gctx, metric, start, end)
			if err != nil {
				// Partial results are acceptable; keep the series empty.
				m.recordError("health:"+string(metric), err)
				return nil
			}
			*target = points
			return nil
		})
	}
	g.Go(func() error {
		agg.SensorReadings = m.sensors.CachedData(start, end)
		return nil
	})
	g.Go(func() error {
		agg.Wearable = m.wearableRange(start, end)
		return nil
	})
	g.Wait() // workers never return errors

	agg.Summary = m.analyzer.GenerateHealthSummary(agg)
	aggregations.Inc()
	return agg, nil
}

// StartSensorMonitoring starts sampling one sensor. Idempotent.
func (m *Manager) StartSensorMonitoring(t models.SensorType) (bool, error) {
	if err := m.requireReady(); err != nil {
		return false, err
	}
	if !t.Valid() {
		return false, fmt.Errorf("unknown sensor type %q", t)
	}
	return m.sensors.StartMonitoring(t), nil
}

// StopSensorMonitoring stops sampling one sensor. Stopping a sensor that is
// not monitored reports false, not an error.
func (m *Manager) StopSensorMonitoring(t models.SensorType) (bool, error) {
	if err := m.requireReady(); err != nil {
		return false, err
	}
	if !t.Valid() {
		return false, fmt.Errorf("unknown sensor type %q", t)
	}
	return m.sensors.StopMonitoring(t), nil
}

// GetStatus snapshots the manager. Usable in every lifecycle state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := make([]models.IntegrationError, len(m.errs))
	copy(errs, m.errs)
	return Status{
		State:            m.state,
		Initialized:      m.state == StateReady || m.state == StateDegraded,
		Capabilities:     m.caps,
		ConnectedDevices: m.connector.Count(),
		CacheSize:        m.sensors.CacheSize(),
		QueueSize:        m.syncer.QueueSize(),
		Online:           !m.cfg.Offline,
		LastSyncTime:     m.syncer.LastSyncTime(),
		Errors:           errs,
	}
}

// UpdateConfiguration merges the partial update, re-applies live subsystem
// settings and persists the merged config.
func (m *Manager) UpdateConfiguration(upd config.Update) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if upd.EnabledSensors != nil {
		for _, t := range *upd.EnabledSensors {
			if !t.Valid() {
				return fmt.Errorf("unknown sensor type %q", t)
			}
		}
	}
	if upd.SyncInterval != nil && *upd.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", *upd.SyncInterval)
	}
	if upd.CacheCapacity != nil && *upd.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", *upd.CacheCapacity)
	}

	m.mu.Lock()
	wasOffline := m.cfg.Offline
	sensorsChanged, syncChanged := m.cfg.Apply(upd)
	cfg := m.cfg.Clone()
	m.mu.Unlock()

	if sensorsChanged {
		m.sensors.UpdateEnabled(cfg.EnabledSensors)
	}
	switch {
	case wasOffline && !cfg.Offline:
		m.syncer.Start(cfg.SyncInterval)
	case !wasOffline && cfg.Offline:
		m.syncer.Stop()
	case syncChanged && !cfg.Offline:
		m.syncer.UpdateInterval(cfg.SyncInterval)
	}

	if m.local != nil {
		if err := m.local.Set(keyConfig, cfg); err != nil {
			return fmt.Errorf("persist config: %w", err)
		}
	}
	m.log.Info("configuration updated", zap.Bool("sensors_changed", sensorsChanged), zap.Bool("sync_changed", syncChanged))
	return nil
}

// Cleanup stops every subscription, disconnects devices, halts the sync
// timer and clears all caches. Safe to call repeatedly and before
// Initialize.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	m.state = StateCleaningUp
	m.mu.Unlock()

	m.sensors.StopAll()
	m.connector.DisconnectAll()
	m.syncer.Stop()
	m.syncer.Clear()

	m.wmu.Lock()
	m.wearable = nil
	m.wmu.Unlock()

	m.mu.Lock()
	m.errs = nil
	m.state = StateUninitialized
	m.mu.Unlock()

	m.log.Info("manager cleaned up")
}

func (m *Manager) requireReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReady || m.state == StateDegraded {
		return nil
	}
	return ErrNotInitialized
}

func (m *Manager) recordError(component string, err error) {
	m.mu.Lock()
	m.errs = append(m.errs, models.IntegrationError{
		Component: component,
		Message:   err.Error(),
		Time:      time.Now(),
	})
	if m.state == StateReady {
		m.state = StateDegraded
	}
	m.mu.Unlock()
	m.log.Warn("integration error recorded", zap.String("component", component), zap.Error(err))
}

// onSensorData is the sensor ingestion path: readings are already cached by
// the sensor manager; here they enter the sync queue and the live stream.
func (m *Manager) onSensorData(d models.SensorData) {
	m.syncer.Add(models.SyncSensorData, d)
	if m.bc != nil {
		m.bc.Broadcast("sensor_data", d)
	}
}

// onDeviceData is the wearable ingestion path: buffer, record, enqueue,
// broadcast.
func (m *Manager) onDeviceData(p models.HealthDataPoint) {
	deviceReadings.Inc()

	m.mu.Lock()
	capacity := m.cfg.CacheCapacity
	healthRecords := m.caps.HealthRecords
	m.mu.Unlock()

	m.wmu.Lock()
	// Loop so the buffer converges after a runtime capacity decrease.
	for len(m.wearable) >= capacity {
		m.wearable = m.wearable[1:]
	}
	m.wearable = append(m.wearable, p)
	m.wmu.Unlock()

	if healthRecords {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.provider.Record(ctx, p); err != nil {
			m.log.Warn("could not record device reading", zap.String("device", p.DeviceID), zap.Error(err))
		}
		cancel()
	}

	m.syncer.Add(models.SyncHealthData, p)
	if m.bc != nil {
		m.bc.Broadcast("health_data", p)
	}
}

func (m *Manager) wearableRange(start, end time.Time) []models.HealthDataPoint {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	out := make([]models.HealthDataPoint, 0, len(m.wearable))
	for _, p := range m.wearable {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Syncer exposes the synchronizer for the API layer's flush endpoint.
func (m *Manager) Syncer() *syncer.Synchronizer {
	return m.syncer
}

// transportAvailable honors an optional Available method on the transport;
// transports without one are assumed present.
func transportAvailable(t devices.Transport) bool {
	if t == nil {
		return false
	}
	if a, ok := t.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}
