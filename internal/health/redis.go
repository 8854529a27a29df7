package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"device-hub/internal/models"
)

// RedisProvider stores health readings in one sorted set per metric type,
// scored by capture time in unix milliseconds.
type RedisProvider struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisProvider wraps an already-configured client.
func NewRedisProvider(client *redis.Client, log *zap.Logger) *RedisProvider {
	return &RedisProvider{client: client, log: log}
}

// Initialize implements Provider: it verifies the store is reachable.
func (p *RedisProvider) Initialize(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("health store unreachable: %w", err)
	}
	return nil
}

// Record implements Provider.
func (p *RedisProvider) Record(ctx context.Context, point models.HealthDataPoint) error {
	data, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("marshal health point: %w", err)
	}
	err = p.client.ZAdd(ctx, metricKey(point.Metric), &redis.Z{
		Score:  float64(point.Timestamp.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("store health point: %w", err)
	}
	return nil
}

// Query implements Provider. An inverted range yields an empty slice.
func (p *RedisProvider) Query(ctx context.Context, metric models.MetricType, start, end time.Time) ([]models.HealthDataPoint, error) {
	if start.After(end) {
		return []models.HealthDataPoint{}, nil
	}
	members, err := p.client.ZRangeByScore(ctx, metricKey(metric), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", metric, err)
	}

	out := make([]models.HealthDataPoint, 0, len(members))
	for _, m := range members {
		var pt models.HealthDataPoint
		if err := json.Unmarshal([]byte(m), &pt); err != nil {
			p.log.Warn("dropping undecodable health point", zap.String("metric", string(metric)), zap.Error(err))
			continue
		}
		out = append(out, pt)
	}
	// ZRangeByScore is score-ordered already; keep the explicit sort as the
	// contract, scores can collide at millisecond granularity.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func metricKey(metric models.MetricType) string {
	return fmt.Sprintf("health:%s", metric)
}
