package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSensitivity is the std-dev multiplier used when none is given.
const DefaultSensitivity = 2.0

// Std-dev distances above which an anomaly is high or medium severity.
const (
	highSeverityStdDevs   = 3.0
	mediumSeverityStdDevs = 2.5
)

// Summarize computes population statistics over values
func Summarize(values []float64) StatisticalSummary {
	n := len(values)
	if n == 0 {
		return StatisticalSummary{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiffSum float64
	for _, v := range values {
		diff := v - mean
		sqDiffSum += diff * diff
	}

	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	return StatisticalSummary{
		Mean:         mean,
		Median:       median,
		StdDeviation: math.Sqrt(sqDiffSum / float64(n)),
		Min:          sorted[0],
		Max:          sorted[n-1],
	}
}

// DetectAnomalies flags points outside mean ± sensitivity·stddev. A
// non-positive sensitivity falls back to DefaultSensitivity.
func DetectAnomalies(metricName string, series []TimeSeriesPoint, sensitivity float64) (*AnomalyDetectionResult, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}
	if sensitivity <= 0 || math.IsNaN(sensitivity) {
		sensitivity = DefaultSensitivity
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	stats := Summarize(values)

	upper := stats.Mean + sensitivity*stats.StdDeviation
	lower := math.Max(0, stats.Mean-sensitivity*stats.StdDeviation)

	anomalies := []Anomaly{}
	for _, p := range series {
		var kind AnomalyType
		switch {
		case p.Value > upper:
			kind = AnomalySpike
		case p.Value < lower:
			kind = AnomalyDrop
		default:
			continue
		}

		deviation := p.Value - stats.Mean
		var deviationPercent float64
		if stats.Mean != 0 {
			deviationPercent = deviation / stats.Mean * 100
		}
		var stdDevsAway float64
		if stats.StdDeviation > 0 {
			stdDevsAway = math.Abs(deviation) / stats.StdDeviation
		}

		anomalies = append(anomalies, Anomaly{
			Period:           p.Period,
			Value:            p.Value,
			ExpectedValue:    stats.Mean,
			Deviation:        round2(deviation),
			DeviationPercent: round2(deviationPercent),
			Severity:         severityFor(stdDevsAway),
			Type:             kind,
		})
	}

	return &AnomalyDetectionResult{
		MetricName:         metricName,
		TotalPeriods:       len(series),
		AnomaliesDetected:  len(anomalies),
		Anomalies:          anomalies,
		StatisticalSummary: stats,
		Thresholds: Thresholds{
			Upper: upper,
			Lower: lower,
		},
		Sensitivity:    sensitivity,
		AnalysisPeriod: analysisPeriod(series),
	}, nil
}

func severityFor(stdDevsAway float64) Severity {
	switch {
	case stdDevsAway > highSeverityStdDevs:
		return SeverityHigh
	case stdDevsAway > mediumSeverityStdDevs:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// GetAnomalyDetection builds the series for metric and runs the detector on it
func (e *Engine) GetAnomalyDetection(ctx context.Context, metric Metric, months int, sensitivity float64) (*AnomalyDetectionResult, error) {
	sensitivity = e.sensitivity(sensitivity)
	series, err := e.GetTimeSeries(ctx, metric, months)
	if err != nil {
		return nil, failure(fmt.Sprintf("%s anomaly detection", metric), err)
	}

	_, span := e.startSpan(ctx, "anomaly_detection",
		attribute.String("metric", string(metric)),
		attribute.Float64("sensitivity", sensitivity),
	)
	result, err := DetectAnomalies(string(metric), series, sensitivity)
	endSpan(span, err)
	if err != nil {
		e.log.WithField("metric", metric).WithContext(ctx).WithError(err).Warn("anomaly detection failed")
		return nil, failure(fmt.Sprintf("%s anomaly detection", metric), err)
	}

	if result.AnomaliesDetected > 0 {
		e.log.WithFields(logrus.Fields{
			"metric":    metric,
			"anomalies": result.AnomaliesDetected,
		}).Info("anomalies detected")
	}
	return result, nil
}
