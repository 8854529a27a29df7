package models

import "time"

// SensorType identifies one of the on-device motion/environment sensors.
type SensorType string

const (
	SensorAccelerometer SensorType = "accelerometer"
	SensorGyroscope     SensorType = "gyroscope"
	SensorMagnetometer  SensorType = "magnetometer"
	SensorBarometer     SensorType = "barometer"
)

// AllSensorTypes lists every sensor this service knows how to sample.
var AllSensorTypes = []SensorType{
	SensorAccelerometer,
	SensorGyroscope,
	SensorMagnetometer,
	SensorBarometer,
}

// Valid reports whether t is one of the known sensor types.
func (t SensorType) Valid() bool {
	switch t {
	case SensorAccelerometer, SensorGyroscope, SensorMagnetometer, SensorBarometer:
		return true
	}
	return false
}

// DeviceType classifies where a device's readings come from.
type DeviceType string

const (
	DeviceHealthApp DeviceType = "health_app"
	DeviceWearable  DeviceType = "wearable"
	DeviceSensor    DeviceType = "sensor"
)

// ConnectionStatus is the lifecycle state of a discovered device.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// MetricType identifies a health-record metric.
type MetricType string

const (
	MetricHeartRate MetricType = "heart_rate"
	MetricSteps     MetricType = "steps"
	MetricSleep     MetricType = "sleep"
	MetricWeight    MetricType = "weight"
)

// AllMetricTypes lists the metrics the aggregation path queries.
var AllMetricTypes = []MetricType{MetricHeartRate, MetricSteps, MetricSleep, MetricWeight}

// Valid reports whether m is one of the known metric types.
func (m MetricType) Valid() bool {
	switch m {
	case MetricHeartRate, MetricSteps, MetricSleep, MetricWeight:
		return true
	}
	return false
}

// Device describes a discovered or connected external data source.
type Device struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Type     DeviceType       `json:"type"`
	Status   ConnectionStatus `json:"status"`
	LastSeen time.Time        `json:"last_seen"`
}

// HealthDataPoint is a single timestamped health reading. Immutable once
// created; producers hand it off and never touch it again.
type HealthDataPoint struct {
	DeviceID  string     `json:"device_id"`
	Metric    MetricType `json:"metric"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SensorData is a single three-axis sensor sample.
type SensorData struct {
	Sensor    SensorType `json:"sensor"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Z         float64    `json:"z"`
	Accuracy  int        `json:"accuracy,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Trend is the direction of a metric over the aggregation window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// SleepQuality buckets mean nightly sleep duration.
type SleepQuality string

const (
	SleepUnknown   SleepQuality = "unknown"
	SleepPoor      SleepQuality = "poor"
	SleepFair      SleepQuality = "fair"
	SleepGood      SleepQuality = "good"
	SleepExcellent SleepQuality = "excellent"
)

// ActivityLevel buckets mean daily step counts.
type ActivityLevel string

const (
	ActivityUnknown   ActivityLevel = "unknown"
	ActivitySedentary ActivityLevel = "sedentary"
	ActivityLight     ActivityLevel = "light"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityActive    ActivityLevel = "active"
)

// HealthSummary is the derived statistics block of an aggregation result.
// Every field has a neutral default so the summary is computable even when
// all input series are empty.
type HealthSummary struct {
	AvgHeartRate  float64              `json:"avg_heart_rate"`
	AvgDailySteps float64              `json:"avg_daily_steps"`
	SleepQuality  SleepQuality         `json:"sleep_quality"`
	ActivityLevel ActivityLevel        `json:"activity_level"`
	Trends        map[MetricType]Trend `json:"trends"`
}

// AggregatedHealthData is an ephemeral per-request view over a trailing
// time window. It is recomputed on every aggregation call, never persisted.
type AggregatedHealthData struct {
	WindowStart    time.Time         `json:"window_start"`
	WindowEnd      time.Time         `json:"window_end"`
	HeartRate      []HealthDataPoint `json:"heart_rate"`
	Steps          []HealthDataPoint `json:"steps"`
	Sleep          []HealthDataPoint `json:"sleep"`
	Weight         []HealthDataPoint `json:"weight"`
	SensorReadings []SensorData      `json:"sensor_readings"`
	Wearable       []HealthDataPoint `json:"wearable"`
	Summary        HealthSummary     `json:"summary"`
}

// Capabilities records what the capability probe found at startup.
type Capabilities struct {
	Sensors         map[SensorType]bool `json:"sensors" yaml:"sensors"`
	HealthRecords   bool                `json:"health_records" yaml:"health_records"`
	DeviceTransport bool                `json:"device_transport" yaml:"device_transport"`
	ProbedAt        time.Time           `json:"probed_at" yaml:"probed_at"`
}

// SyncEntryKind tags the payload type of an outbound sync entry.
type SyncEntryKind string

const (
	SyncHealthData SyncEntryKind = "health_data"
	SyncSensorData SyncEntryKind = "sensor_data"
)

// SyncEntry is one pending outbound record in the sync queue.
type SyncEntry struct {
	ID         string        `json:"id"`
	Kind       SyncEntryKind `json:"kind"`
	Payload    any           `json:"payload"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// IntegrationError is one accumulated non-fatal failure, surfaced through
// the manager status.
type IntegrationError struct {
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}
