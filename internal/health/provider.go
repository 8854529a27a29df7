// Package health exposes the health-records capability: timestamped metric
// readings queryable by type and date range.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"device-hub/internal/models"
)

// Provider is the health-records capability. Initialize establishes the
// session with the backing store; Query returns readings of one metric type
// within the inclusive range, ascending by capture time.
type Provider interface {
	Initialize(ctx context.Context) error
	Query(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.HealthDataPoint, error)
	Record(ctx context.Context, point models.HealthDataPoint) error
}

// MemoryProvider keeps readings in process memory. It backs offline mode
// and tests.
type MemoryProvider struct {
	mu     sync.RWMutex
	points map[models.MetricType][]models.HealthDataPoint
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{points: make(map[models.MetricType][]models.HealthDataPoint)}
}

// Initialize implements Provider. Memory needs no session.
func (p *MemoryProvider) Initialize(ctx context.Context) error { return nil }

// Record implements Provider.
func (p *MemoryProvider) Record(ctx context.Context, point models.HealthDataPoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[point.Metric] = append(p.points[point.Metric], point)
	return nil
}

// Query implements Provider. An inverted range yields an empty slice.
func (p *MemoryProvider) Query(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.HealthDataPoint, error) {
	if start.After(end) {
		return []models.HealthDataPoint{}, nil
	}
	p.mu.RLock()
	var out []models.HealthDataPoint
	for _, pt := range p.points[metric] {
		if pt.Timestamp.Before(start) || pt.Timestamp.After(end) {
			continue
		}
		out = append(out, pt)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if out == nil {
		out = []models.HealthDataPoint{}
	}
	return out, nil
}
