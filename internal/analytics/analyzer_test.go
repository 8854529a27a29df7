package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-hub/internal/models"
)

func points(metric models.MetricType, values ...float64) []models.HealthDataPoint {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	out := make([]models.HealthDataPoint, len(values))
	for i, v := range values {
		out[i] = models.HealthDataPoint{
			Metric:    metric,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSummaryEmptyInputIsNeutral(t *testing.T) {
	a := NewAnalyzer(0)
	require.NotPanics(t, func() {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{})
		assert.Zero(t, s.AvgHeartRate)
		assert.Zero(t, s.AvgDailySteps)
		assert.Equal(t, models.SleepUnknown, s.SleepQuality)
		assert.Equal(t, models.ActivityUnknown, s.ActivityLevel)
		for _, metric := range models.AllMetricTypes {
			assert.Equal(t, models.TrendStable, s.Trends[metric])
		}
	})
}

func TestAvgHeartRate(t *testing.T) {
	a := NewAnalyzer(0)
	s := a.GenerateHealthSummary(&models.AggregatedHealthData{
		HeartRate: points(models.MetricHeartRate, 60, 70, 80),
	})
	assert.InDelta(t, 70, s.AvgHeartRate, 1e-9)
}

func TestAvgDailyStepsNormalizedByDistinctDays(t *testing.T) {
	day1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	steps := []models.HealthDataPoint{
		{Metric: models.MetricSteps, Value: 3000, Timestamp: day1},
		{Metric: models.MetricSteps, Value: 5000, Timestamp: day1.Add(4 * time.Hour)},
		{Metric: models.MetricSteps, Value: 4000, Timestamp: day2},
	}
	a := NewAnalyzer(0)
	s := a.GenerateHealthSummary(&models.AggregatedHealthData{Steps: steps})
	assert.InDelta(t, 6000, s.AvgDailySteps, 1e-9) // 12000 over 2 days
}

func TestSleepBuckets(t *testing.T) {
	cases := []struct {
		hours float64
		want  models.SleepQuality
	}{
		{4.5, models.SleepPoor},
		{6.5, models.SleepFair},
		{8.0, models.SleepGood},
		{9.5, models.SleepExcellent},
	}
	a := NewAnalyzer(0)
	for _, tc := range cases {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			Sleep: points(models.MetricSleep, tc.hours),
		})
		assert.Equal(t, tc.want, s.SleepQuality, "%.1f hours", tc.hours)
	}
}

func TestActivityBuckets(t *testing.T) {
	cases := []struct {
		steps float64
		want  models.ActivityLevel
	}{
		{2000, models.ActivitySedentary},
		{6000, models.ActivityLight},
		{10000, models.ActivityModerate},
		{15000, models.ActivityActive},
	}
	a := NewAnalyzer(0)
	for _, tc := range cases {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			Steps: points(models.MetricSteps, tc.steps),
		})
		assert.Equal(t, tc.want, s.ActivityLevel, "%.0f steps", tc.steps)
	}
}

func TestTrendDirection(t *testing.T) {
	a := NewAnalyzer(0.05)

	t.Run("increasing", func(t *testing.T) {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			HeartRate: points(models.MetricHeartRate, 60, 60, 80, 80),
		})
		assert.Equal(t, models.TrendIncreasing, s.Trends[models.MetricHeartRate])
	})

	t.Run("decreasing", func(t *testing.T) {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			Weight: points(models.MetricWeight, 90, 90, 80, 80),
		})
		assert.Equal(t, models.TrendDecreasing, s.Trends[models.MetricWeight])
	})

	t.Run("stable within deadband", func(t *testing.T) {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			HeartRate: points(models.MetricHeartRate, 70, 70, 71, 71), // ~1.4% change
		})
		assert.Equal(t, models.TrendStable, s.Trends[models.MetricHeartRate])
	})

	t.Run("single point is stable", func(t *testing.T) {
		s := a.GenerateHealthSummary(&models.AggregatedHealthData{
			Sleep: points(models.MetricSleep, 7),
		})
		assert.Equal(t, models.TrendStable, s.Trends[models.MetricSleep])
	})
}
