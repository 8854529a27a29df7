package sensors

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"device-hub/internal/models"
)

// Source is the platform sensor capability: an availability check plus
// subscribe-with-interval. Exactly one production implementation exists per
// deployment; tests supply fakes.
type Source interface {
	Available(t models.SensorType) bool
	Subscribe(t models.SensorType, interval time.Duration, fn func(models.SensorData)) (Subscription, error)
}

// Subscription is an active sensor stream handle.
type Subscription interface {
	Unsubscribe() error
}

// SimSource is the built-in sensor source: it synthesizes plausible axis
// readings on a ticker. Used on hosts without real sensor hardware.
type SimSource struct {
	available map[models.SensorType]bool
}

// NewSimSource makes the given sensor types available.
func NewSimSource(available ...models.SensorType) *SimSource {
	m := make(map[models.SensorType]bool, len(available))
	for _, t := range available {
		m[t] = true
	}
	return &SimSource{available: m}
}

// Available implements Source.
func (s *SimSource) Available(t models.SensorType) bool {
	return s.available[t]
}

// Subscribe implements Source.
func (s *SimSource) Subscribe(t models.SensorType, interval time.Duration, fn func(models.SensorData)) (Subscription, error) {
	if !s.available[t] {
		return nil, fmt.Errorf("sensor %s not available", t)
	}
	done := make(chan struct{})
	sub := &simSubscription{done: done}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				fn(synthReading(t, now))
			}
		}
	}()
	return sub, nil
}

type simSubscription struct {
	once sync.Once
	done chan struct{}
}

func (s *simSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func synthReading(t models.SensorType, now time.Time) models.SensorData {
	jitter := func(base, spread float64) float64 { return base + (rand.Float64()-0.5)*spread }
	d := models.SensorData{Sensor: t, Timestamp: now, Accuracy: 3}
	switch t {
	case models.SensorAccelerometer:
		d.X, d.Y, d.Z = jitter(0, 0.2), jitter(0, 0.2), jitter(9.81, 0.2)
	case models.SensorGyroscope:
		d.X, d.Y, d.Z = jitter(0, 0.05), jitter(0, 0.05), jitter(0, 0.05)
	case models.SensorMagnetometer:
		d.X, d.Y, d.Z = jitter(22, 4), jitter(5, 4), jitter(-43, 4)
	case models.SensorBarometer:
		d.X = jitter(1013.25, 1.5) // hPa on the first axis, others unused
	}
	return d
}
