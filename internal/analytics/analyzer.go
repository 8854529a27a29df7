// Package analytics derives summary statistics from aggregated health data.
// Everything here is pure computation over the caller's snapshot.
package analytics

import (
	"math"

	"device-hub/internal/models"
)

// DefaultTrendDeadband is the relative change between half-window means
// below which a metric reports stable. 5% sits above sensor noise for every
// metric this service carries.
const DefaultTrendDeadband = 0.05

// Sleep-quality thresholds in mean hours per night.
const (
	sleepPoorBelow = 6.0
	sleepFairBelow = 7.0
	sleepGoodBelow = 9.0 // above this is excellent
)

// Activity-level thresholds in mean steps per day.
const (
	activitySedentaryBelow = 4000.0
	activityLightBelow     = 8000.0
	activityModerateBelow  = 12000.0
)

// Analyzer computes health summaries. Zero-value fields fall back to
// defaults via NewAnalyzer.
type Analyzer struct {
	trendDeadband float64
}

// NewAnalyzer builds an analyzer with the given trend deadband; pass 0 for
// the default.
func NewAnalyzer(trendDeadband float64) *Analyzer {
	if trendDeadband <= 0 {
		trendDeadband = DefaultTrendDeadband
	}
	return &Analyzer{trendDeadband: trendDeadband}
}

// GenerateHealthSummary fills the summary block for an aggregation window.
// It never divides by zero: empty inputs produce neutral values.
func (a *Analyzer) GenerateHealthSummary(agg *models.AggregatedHealthData) models.HealthSummary {
	summary := models.HealthSummary{
		SleepQuality:  models.SleepUnknown,
		ActivityLevel: models.ActivityUnknown,
		Trends:        make(map[models.MetricType]models.Trend, len(models.AllMetricTypes)),
	}

	summary.AvgHeartRate = mean(agg.HeartRate)
	summary.AvgDailySteps = avgDailySteps(agg.Steps)

	if len(agg.Sleep) > 0 {
		summary.SleepQuality = sleepBucket(mean(agg.Sleep))
	}
	if len(agg.Steps) > 0 {
		summary.ActivityLevel = activityBucket(summary.AvgDailySteps)
	}

	series := map[models.MetricType][]models.HealthDataPoint{
		models.MetricHeartRate: agg.HeartRate,
		models.MetricSteps:     agg.Steps,
		models.MetricSleep:     agg.Sleep,
		models.MetricWeight:    agg.Weight,
	}
	for metric, points := range series {
		summary.Trends[metric] = a.trend(points)
	}
	return summary
}

// trend compares the first-half mean against the second-half mean of the
// series (split by point order, which the providers keep ascending by time).
// Changes within the deadband report stable.
func (a *Analyzer) trend(points []models.HealthDataPoint) models.Trend {
	if len(points) < 2 {
		return models.TrendStable
	}
	mid := len(points) / 2
	first := mean(points[:mid])
	second := mean(points[mid:])

	if first == 0 {
		if second == 0 {
			return models.TrendStable
		}
		if second > 0 {
			return models.TrendIncreasing
		}
		return models.TrendDecreasing
	}

	change := (second - first) / math.Abs(first)
	switch {
	case change > a.trendDeadband:
		return models.TrendIncreasing
	case change < -a.trendDeadband:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func mean(points []models.HealthDataPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// avgDailySteps totals step readings and normalizes by the number of
// distinct calendar days represented, not by reading count.
func avgDailySteps(points []models.HealthDataPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	days := make(map[string]struct{}, len(points))
	var total float64
	for _, p := range points {
		total += p.Value
		days[p.Timestamp.Format("2006-01-02")] = struct{}{}
	}
	return total / float64(len(days))
}

func sleepBucket(hours float64) models.SleepQuality {
	switch {
	case hours < sleepPoorBelow:
		return models.SleepPoor
	case hours < sleepFairBelow:
		return models.SleepFair
	case hours <= sleepGoodBelow:
		return models.SleepGood
	default:
		return models.SleepExcellent
	}
}

func activityBucket(steps float64) models.ActivityLevel {
	switch {
	case steps < activitySedentaryBelow:
		return models.ActivitySedentary
	case steps < activityLightBelow:
		return models.ActivityLight
	case steps < activityModerateBelow:
		return models.ActivityModerate
	default:
		return models.ActivityActive
	}
}
