package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"device-hub/internal/config"
	"device-hub/internal/health"
	"device-hub/internal/models"
	"device-hub/internal/sensors"
	"device-hub/internal/storage"
)

// --- fakes -----------------------------------------------------------------

type stubProvider struct {
	*health.MemoryProvider
	initErr  error
	queryErr map[models.MetricType]error
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		MemoryProvider: health.NewMemoryProvider(),
		queryErr:       make(map[models.MetricType]error),
	}
}

func (p *stubProvider) Initialize(ctx context.Context) error { return p.initErr }

func (p *stubProvider) Query(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.HealthDataPoint, error) {
	if err := p.queryErr[metric]; err != nil {
		return nil, err
	}
	return p.MemoryProvider.Query(ctx, metric, start, end)
}

type stubSource struct {
	mu        sync.Mutex
	active    map[models.SensorType]int
	callbacks map[models.SensorType]func(models.SensorData)
}

func newStubSource() *stubSource {
	return &stubSource{
		active:    make(map[models.SensorType]int),
		callbacks: make(map[models.SensorType]func(models.SensorData)),
	}
}

func (s *stubSource) Available(models.SensorType) bool { return true }

func (s *stubSource) Subscribe(t models.SensorType, _ time.Duration, fn func(models.SensorData)) (sensors.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[t]++
	s.callbacks[t] = fn
	return stubSub{s, t}, nil
}

func (s *stubSource) activeCount(t models.SensorType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[t]
}

func (s *stubSource) emit(t models.SensorType, d models.SensorData) {
	s.mu.Lock()
	fn := s.callbacks[t]
	s.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

type stubSub struct {
	s *stubSource
	t models.SensorType
}

func (x stubSub) Unsubscribe() error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	x.s.active[x.t]--
	return nil
}

type stubTransport struct {
	mu         sync.Mutex
	discovered []models.Device
	connectErr error
	streams    map[string]func(models.HealthDataPoint)
}

func newStubTransport(discovered ...models.Device) *stubTransport {
	return &stubTransport{discovered: discovered, streams: make(map[string]func(models.HealthDataPoint))}
}

func (f *stubTransport) Scan(context.Context, time.Duration) ([]models.Device, error) {
	return append([]models.Device(nil), f.discovered...), nil
}

func (f *stubTransport) Connect(_ context.Context, id string) error { return f.connectErr }

func (f *stubTransport) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, id)
	return nil
}

func (f *stubTransport) Stream(id string, fn func(models.HealthDataPoint)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[id] = fn
	return nil
}

func (f *stubTransport) Close() {}

func (f *stubTransport) push(id string, p models.HealthDataPoint) {
	f.mu.Lock()
	fn := f.streams[id]
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

type stubRemote struct {
	mu   sync.Mutex
	fail bool
	n    int
}

func (r *stubRemote) WriteBatch(_ context.Context, entries []models.SyncEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("remote unavailable")
	}
	r.n += len(entries)
	return nil
}

// --- helpers ---------------------------------------------------------------

type fixture struct {
	mgr       *Manager
	provider  *stubProvider
	source    *stubSource
	transport *stubTransport
	remote    *stubRemote
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		EnabledSensors:  []models.SensorType{models.SensorAccelerometer},
		ScanDuration:    10 * time.Millisecond,
		SyncInterval:    time.Hour,
		RetentionDays:   30,
		CacheCapacity:   10,
		ConnectAttempts: 2,
		ConnectBackoff:  time.Millisecond,
	}
	f := &fixture{
		provider:  newStubProvider(),
		source:    newStubSource(),
		transport: newStubTransport(),
		remote:    &stubRemote{},
		cfg:       cfg,
	}
	local, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	f.mgr = New(cfg, f.source, f.provider, f.transport, f.remote, local, nil, zap.NewNop())
	t.Cleanup(f.mgr.Cleanup)
	return f
}

// --- tests -----------------------------------------------------------------

func TestOperationsRequireInitialization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.ScanForDevices(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.mgr.ConnectToDevice(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.mgr.GetAggregatedHealthData(ctx, 7)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.mgr.StartSensorMonitoring(models.SensorGyroscope)
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, f.mgr.UpdateConfiguration(config.Update{}), ErrNotInitialized)
}

func TestInitializeReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))

	st := f.mgr.GetStatus()
	assert.Equal(t, StateReady, st.State)
	assert.True(t, st.Initialized)
	assert.True(t, st.Capabilities.HealthRecords)
	assert.True(t, st.Capabilities.DeviceTransport)
	assert.Empty(t, st.Errors)
	assert.Equal(t, 1, f.source.activeCount(models.SensorAccelerometer), "enabled sensor started")
}

func TestInitializeDegradedOnHealthFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.initErr = errors.New("no permission")
	require.NoError(t, f.mgr.Initialize(context.Background()), "health failure must not abort initialization")

	st := f.mgr.GetStatus()
	assert.Equal(t, StateDegraded, st.State)
	assert.True(t, st.Initialized, "degraded manager stays usable")
	assert.False(t, st.Capabilities.HealthRecords)
	require.NotEmpty(t, st.Errors)
	assert.Equal(t, "health", st.Errors[0].Component)
}

func TestInitializeIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))
	require.NoError(t, f.mgr.Initialize(context.Background()))
	assert.Equal(t, 1, f.source.activeCount(models.SensorAccelerometer))
}

func TestScanConnectDisconnectScenario(t *testing.T) {
	f := newFixture(t)
	f.transport.discovered = []models.Device{
		{ID: "dev-1", Name: "Band"},
		{ID: "dev-2", Name: "Scale"},
	}
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	found, err := f.mgr.ScanForDevices(ctx)
	require.NoError(t, err)
	require.Len(t, found, 2)

	d, err := f.mgr.ConnectToDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, d.Status)

	connected, err := f.mgr.GetConnectedDevices()
	require.NoError(t, err)
	require.Len(t, connected, 1)

	ok, err := f.mgr.DisconnectFromDevice("dev-1")
	require.NoError(t, err)
	assert.True(t, ok)

	connected, err = f.mgr.GetConnectedDevices()
	require.NoError(t, err)
	assert.Empty(t, connected)

	ok, err = f.mgr.DisconnectFromDevice("dev-1")
	require.NoError(t, err)
	assert.False(t, ok, "disconnecting a non-connected device reports false")
}

func TestConnectFailureIsResultNotPanic(t *testing.T) {
	f := newFixture(t)
	f.transport.connectErr = errors.New("timeout")
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	_, err := f.mgr.ConnectToDevice(ctx, "dev-9")
	require.Error(t, err)

	st := f.mgr.GetStatus()
	assert.Equal(t, StateDegraded, st.State)
	assert.NotEmpty(t, st.Errors)
}

func TestAggregatedPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	now := time.Now()
	for _, m := range []models.MetricType{models.MetricSteps, models.MetricSleep, models.MetricWeight} {
		require.NoError(t, f.provider.Record(ctx, models.HealthDataPoint{
			Metric: m, Value: 1, Timestamp: now.Add(-time.Hour),
		}))
	}
	f.provider.queryErr[models.MetricHeartRate] = errors.New("query failed")

	agg, err := f.mgr.GetAggregatedHealthData(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Empty(t, agg.HeartRate, "failed series defaults to empty")
	assert.Len(t, agg.Steps, 1)
	assert.Len(t, agg.Sleep, 1)
	assert.Len(t, agg.Weight, 1)

	var sawHeartRate bool
	for _, e := range f.mgr.GetStatus().Errors {
		if e.Component == "health:heart_rate" {
			sawHeartRate = true
		}
	}
	assert.True(t, sawHeartRate, "heart-rate failure lands on the error list")
}

func TestAggregatedIncludesCachedSensorAndWearableData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	f.source.emit(models.SensorAccelerometer, models.SensorData{
		Sensor: models.SensorAccelerometer, X: 1, Timestamp: time.Now(),
	})

	_, err := f.mgr.ConnectToDevice(ctx, "dev-1")
	require.NoError(t, err)
	f.transport.push("dev-1", models.HealthDataPoint{
		Metric: models.MetricHeartRate, Value: 71, Timestamp: time.Now(),
	})

	agg, err := f.mgr.GetAggregatedHealthData(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, agg.SensorReadings, 1)
	require.Len(t, agg.Wearable, 1)
	assert.Equal(t, "dev-1", agg.Wearable[0].DeviceID, "connector stamps the source device")
}

func TestAggregatedWindowValidation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))

	_, err := f.mgr.GetAggregatedHealthData(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = f.mgr.GetAggregatedHealthData(context.Background(), -3)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestSensorMonitoringIdempotence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))

	ok, err := f.mgr.StartSensorMonitoring(models.SensorGyroscope)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.mgr.StartSensorMonitoring(models.SensorGyroscope)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.source.activeCount(models.SensorGyroscope))

	stopped, err := f.mgr.StopSensorMonitoring(models.SensorGyroscope)
	require.NoError(t, err)
	assert.True(t, stopped)

	stopped, err = f.mgr.StopSensorMonitoring(models.SensorGyroscope)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestIngestionFeedsSyncQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	_, err := f.mgr.ConnectToDevice(ctx, "dev-1")
	require.NoError(t, err)
	f.transport.push("dev-1", models.HealthDataPoint{Metric: models.MetricHeartRate, Value: 70, Timestamp: time.Now()})
	f.source.emit(models.SensorAccelerometer, models.SensorData{Sensor: models.SensorAccelerometer, Timestamp: time.Now()})

	assert.Equal(t, 2, f.mgr.GetStatus().QueueSize)

	require.NoError(t, f.mgr.Syncer().Flush(ctx))
	assert.Equal(t, 0, f.mgr.GetStatus().QueueSize)
	assert.False(t, f.mgr.GetStatus().LastSyncTime.IsZero())
}

func TestUpdateConfigurationAppliesSensorDiff(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))
	require.Equal(t, 1, f.source.activeCount(models.SensorAccelerometer))

	newSet := []models.SensorType{models.SensorGyroscope}
	require.NoError(t, f.mgr.UpdateConfiguration(config.Update{EnabledSensors: &newSet}))

	assert.Equal(t, 0, f.source.activeCount(models.SensorAccelerometer))
	assert.Equal(t, 1, f.source.activeCount(models.SensorGyroscope))
}

func TestUpdatedConfigurationSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewStore(dir)
	require.NoError(t, err)

	baseConfig := func() *config.Config {
		return &config.Config{
			EnabledSensors:  []models.SensorType{models.SensorAccelerometer},
			ScanDuration:    10 * time.Millisecond,
			SyncInterval:    time.Hour,
			RetentionDays:   30,
			CacheCapacity:   10,
			ConnectAttempts: 2,
			ConnectBackoff:  time.Millisecond,
		}
	}

	first := New(baseConfig(), newStubSource(), newStubProvider(), newStubTransport(), &stubRemote{}, local, nil, zap.NewNop())
	require.NoError(t, first.Initialize(context.Background()))

	newSet := []models.SensorType{models.SensorGyroscope}
	newInterval := 42 * time.Minute
	require.NoError(t, first.UpdateConfiguration(config.Update{
		EnabledSensors: &newSet,
		SyncInterval:   &newInterval,
	}))
	first.Cleanup()

	// A fresh process loads file defaults, then overlays the snapshot.
	cfg := baseConfig()
	second := New(cfg, newStubSource(), newStubProvider(), newStubTransport(), &stubRemote{}, local, nil, zap.NewNop())
	t.Cleanup(second.Cleanup)

	assert.Equal(t, newSet, cfg.EnabledSensors)
	assert.Equal(t, newInterval, cfg.SyncInterval)
}

func TestUpdateConfigurationRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(context.Background()))

	bad := []models.SensorType{"thermometer"}
	assert.Error(t, f.mgr.UpdateConfiguration(config.Update{EnabledSensors: &bad}))

	zero := time.Duration(0)
	assert.Error(t, f.mgr.UpdateConfiguration(config.Update{SyncInterval: &zero}))
}

func TestWearableBufferShrinksToLoweredCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	_, err := f.mgr.ConnectToDevice(ctx, "dev-1")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 10; i++ {
		f.transport.push("dev-1", models.HealthDataPoint{
			Metric: models.MetricHeartRate, Value: float64(60 + i), Timestamp: now,
		})
	}

	smaller := 3
	require.NoError(t, f.mgr.UpdateConfiguration(config.Update{CacheCapacity: &smaller}))
	f.transport.push("dev-1", models.HealthDataPoint{
		Metric: models.MetricHeartRate, Value: 99, Timestamp: now,
	})

	agg, err := f.mgr.GetAggregatedHealthData(ctx, 1)
	require.NoError(t, err)
	require.Len(t, agg.Wearable, 3, "buffer converges to the new capacity, not just bounded at the old one")
	assert.Equal(t, float64(99), agg.Wearable[2].Value)
}

func TestCleanupResetsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Initialize(ctx))

	_, err := f.mgr.ConnectToDevice(ctx, "dev-1")
	require.NoError(t, err)
	f.source.emit(models.SensorAccelerometer, models.SensorData{Sensor: models.SensorAccelerometer, Timestamp: time.Now()})

	f.mgr.Cleanup()

	st := f.mgr.GetStatus()
	assert.False(t, st.Initialized)
	assert.Equal(t, StateUninitialized, st.State)
	assert.Equal(t, 0, st.ConnectedDevices)
	assert.Equal(t, 0, st.CacheSize)
	assert.Equal(t, 0, st.QueueSize)

	require.NotPanics(t, f.mgr.Cleanup, "cleanup is safe to repeat")

	_, err = f.mgr.ScanForDevices(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCleanupBeforeInitializeIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NotPanics(t, f.mgr.Cleanup)
	assert.Equal(t, StateUninitialized, f.mgr.GetStatus().State)
}
