package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"device-hub/internal/models"
)

// Config is the process-wide device-integration configuration. A single
// instance is loaded at startup and owned by the manager; runtime changes go
// through Apply.
type Config struct {
	EnabledSensors []models.SensorType `mapstructure:"enabled_sensors" yaml:"enabled_sensors"`
	ScanDuration   time.Duration       `mapstructure:"scan_duration" yaml:"scan_duration"`
	SyncInterval   time.Duration       `mapstructure:"sync_interval" yaml:"sync_interval"`
	RetentionDays  int                 `mapstructure:"retention_days" yaml:"retention_days"`
	CacheCapacity  int                 `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	Offline        bool                `mapstructure:"offline" yaml:"offline"`

	ConnectAttempts int           `mapstructure:"connect_attempts" yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff" yaml:"connect_backoff"`

	Server struct {
		Port int `mapstructure:"port" yaml:"port"`
	} `mapstructure:"server" yaml:"server"`

	Redis struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Password string `mapstructure:"password" yaml:"password"`
		DB       int    `mapstructure:"db" yaml:"db"`
	} `mapstructure:"redis" yaml:"redis"`

	MQTT struct {
		Broker        string `mapstructure:"broker" yaml:"broker"`
		ClientID      string `mapstructure:"client_id" yaml:"client_id"`
		AnnounceTopic string `mapstructure:"announce_topic" yaml:"announce_topic"`
		DataTopic     string `mapstructure:"data_topic" yaml:"data_topic"` // printf pattern, device id substituted
	} `mapstructure:"mqtt" yaml:"mqtt"`

	StatePath string `mapstructure:"state_path" yaml:"state_path"`
}

// Update carries a partial runtime configuration change. Nil fields are
// left untouched by Apply.
type Update struct {
	EnabledSensors *[]models.SensorType `json:"enabled_sensors,omitempty"`
	ScanDuration   *time.Duration       `json:"scan_duration,omitempty"`
	SyncInterval   *time.Duration       `json:"sync_interval,omitempty"`
	RetentionDays  *int                 `json:"retention_days,omitempty"`
	CacheCapacity  *int                 `json:"cache_capacity,omitempty"`
	Offline        *bool                `json:"offline,omitempty"`
}

// Load reads config.yaml from path, falling back to defaults for anything
// missing. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("DEVICEHUB")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file is fine, defaults carry the service.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled_sensors", []string{string(models.SensorAccelerometer), string(models.SensorGyroscope)})
	v.SetDefault("scan_duration", "10s")
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("retention_days", 30)
	v.SetDefault("cache_capacity", 1000)
	v.SetDefault("offline", false)
	v.SetDefault("connect_attempts", 3)
	v.SetDefault("connect_backoff", "500ms")
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "device-hub")
	v.SetDefault("mqtt.announce_topic", "devices/announce")
	v.SetDefault("mqtt.data_topic", "devices/%s/data")
	v.SetDefault("state_path", "./state")
}

// Validate checks the invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval)
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("connect_attempts must be positive, got %d", c.ConnectAttempts)
	}
	for _, s := range c.EnabledSensors {
		if !s.Valid() {
			return fmt.Errorf("unknown sensor type %q in enabled_sensors", s)
		}
	}
	return nil
}

// Apply merges upd into c and reports which live subsystems need
// reconfiguration.
func (c *Config) Apply(upd Update) (sensorsChanged, syncChanged bool) {
	if upd.EnabledSensors != nil {
		c.EnabledSensors = append([]models.SensorType(nil), (*upd.EnabledSensors)...)
		sensorsChanged = true
	}
	if upd.ScanDuration != nil {
		c.ScanDuration = *upd.ScanDuration
	}
	if upd.SyncInterval != nil && *upd.SyncInterval != c.SyncInterval {
		c.SyncInterval = *upd.SyncInterval
		syncChanged = true
	}
	if upd.RetentionDays != nil {
		c.RetentionDays = *upd.RetentionDays
	}
	if upd.CacheCapacity != nil {
		c.CacheCapacity = *upd.CacheCapacity
	}
	if upd.Offline != nil {
		c.Offline = *upd.Offline
	}
	return sensorsChanged, syncChanged
}

// Clone returns a copy safe to hand to callers.
func (c *Config) Clone() Config {
	out := *c
	out.EnabledSensors = append([]models.SensorType(nil), c.EnabledSensors...)
	return out
}
