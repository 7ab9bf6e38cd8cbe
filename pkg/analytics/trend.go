package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// stableSlope is the |slope| under which a series is considered flat.
const stableSlope = 0.01

// MovingAverages returns the trailing moving average of values for window w,
// clamped to len(values). Points before the first full window keep their raw
// value.
func MovingAverages(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if window > n {
		window = n
	}
	if window < 1 {
		window = 1
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i < window-1 {
			out[i] = v
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// LinearFit is an ordinary least squares fit of y against x = 0..n-1.
type LinearFit struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// FitLine fits values against their index. A series with no variance has
// R² = 0.
func FitLine(values []float64) LinearFit {
	n := float64(len(values))
	if n == 0 {
		return LinearFit{}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return LinearFit{Intercept: sumY / n}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range values {
		predicted := slope*float64(i) + intercept
		ssRes += (y - predicted) * (y - predicted)
		ssTot += (y - meanY) * (y - meanY)
	}

	var r2 float64
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return LinearFit{Slope: slope, Intercept: intercept, RSquared: r2}
}

// AnalyzeTrend computes moving averages, a linear trend and a one-period
// prediction over an already gap-filled series.
func AnalyzeTrend(metricName string, series []TimeSeriesPoint) (*TrendAnalysis, error) {
	if len(series) == 0 {
		return nil, ErrNoData
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}

	ma7 := MovingAverages(values, 7)
	ma30 := MovingAverages(values, 30)

	points := make([]TrendDataPoint, len(series))
	for i, p := range series {
		points[i] = TrendDataPoint{
			TimeSeriesPoint: p,
			MovingAverage:   round2(ma7[i]),
			MovingAverage7:  round2(ma7[i]),
			MovingAverage30: round2(ma30[i]),
		}
	}

	fit := FitLine(values)

	direction := TrendStable
	if math.Abs(fit.Slope) >= stableSlope {
		if fit.Slope > 0 {
			direction = TrendIncreasing
		} else {
			direction = TrendDecreasing
		}
	}

	prediction := math.Round(values[len(values)-1] + fit.Slope)
	if prediction < 0 {
		prediction = 0
	}

	return &TrendAnalysis{
		MetricName:           metricName,
		DataPoints:           points,
		TrendDirection:       direction,
		TrendStrength:        round2(math.Min(100, math.Abs(fit.RSquared)*100)),
		Velocity:             fit.Slope,
		PredictionNextPeriod: prediction,
		AnalysisPeriod:       analysisPeriod(series),
	}, nil
}

func analysisPeriod(series []TimeSeriesPoint) string {
	if len(series) == 0 {
		return ""
	}
	return fmt.Sprintf("%s to %s (%d months)", series[0].Period, series[len(series)-1].Period, len(series))
}

// GetTrendAnalysis builds the series for metric and analyzes it
func (e *Engine) GetTrendAnalysis(ctx context.Context, metric Metric, months int) (*TrendAnalysis, error) {
	series, err := e.GetTimeSeries(ctx, metric, months)
	if err != nil {
		return nil, failure(fmt.Sprintf("%s trend analysis", metric), err)
	}

	_, span := e.startSpan(ctx, "trend_analysis", attribute.String("metric", string(metric)))
	analysis, err := AnalyzeTrend(string(metric), series)
	endSpan(span, err)
	if err != nil {
		e.log.WithField("metric", metric).WithContext(ctx).WithError(err).Warn("trend analysis failed")
		return nil, failure(fmt.Sprintf("%s trend analysis", metric), err)
	}

	e.log.WithFields(logrus.Fields{
		"metric":    metric,
		"direction": analysis.TrendDirection,
		"velocity":  analysis.Velocity,
	}).Debug("trend analysis computed")
	return analysis, nil
}
