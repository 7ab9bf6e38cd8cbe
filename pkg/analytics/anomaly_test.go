package analytics

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spikeSeries has mean 10 and population std-dev 2 with a single point at 20.
func spikeSeries() []TimeSeriesPoint {
	values := make([]float64, 26)
	values[0] = 20
	for i := 1; i < len(values); i++ {
		values[i] = 9.6
	}
	return seriesOf(values...)
}

func TestSummarize(t *testing.T) {
	odd := Summarize([]float64{3, 1, 2})
	assert.Equal(t, 2.0, odd.Mean)
	assert.Equal(t, 2.0, odd.Median)
	assert.Equal(t, 1.0, odd.Min)
	assert.Equal(t, 3.0, odd.Max)

	even := Summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 2.5, even.Median)
	assert.InDelta(t, 1.118033988, even.StdDeviation, 1e-9)

	assert.Equal(t, StatisticalSummary{}, Summarize(nil))
}

func TestDetectAnomalies_Spike(t *testing.T) {
	result, err := DetectAnomalies("volunteer_hours", spikeSeries(), 2.0)
	require.NoError(t, err)

	assert.InDelta(t, 10, result.StatisticalSummary.Mean, 1e-9)
	assert.InDelta(t, 2, result.StatisticalSummary.StdDeviation, 1e-9)
	assert.InDelta(t, 14, result.Thresholds.Upper, 1e-9)
	assert.InDelta(t, 6, result.Thresholds.Lower, 1e-9)
	assert.Equal(t, 26, result.TotalPeriods)

	require.Equal(t, 1, result.AnomaliesDetected)
	require.Len(t, result.Anomalies, 1)
	a := result.Anomalies[0]
	assert.Equal(t, result.AnomaliesDetected, len(result.Anomalies))
	assert.Equal(t, AnomalySpike, a.Type)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.Equal(t, 20.0, a.Value)
	assert.Equal(t, 10.0, a.Deviation)
	assert.Equal(t, 100.0, a.DeviationPercent)
	assert.Equal(t, spikeSeries()[0].Period, a.Period)
}

func TestDetectAnomalies_Drop(t *testing.T) {
	result, err := DetectAnomalies("donations", seriesOf(10, 10, 10, 10, 10, 10, 10, 10, 10, 0), 2.0)
	require.NoError(t, err)

	require.Len(t, result.Anomalies, 1)
	a := result.Anomalies[0]
	assert.Equal(t, AnomalyDrop, a.Type)
	assert.Equal(t, SeverityMedium, a.Severity)
	assert.Equal(t, 0.0, a.Value)
	assert.Equal(t, -9.0, a.Deviation)
	assert.Equal(t, -100.0, a.DeviationPercent)
}

func TestDetectAnomalies_FlaggedPointsLieOutsideThresholds(t *testing.T) {
	series := seriesOf(12, 15, 11, 40, 13, 14, 0, 12, 16, 13, 12, 55)
	for _, sensitivity := range []float64{1, 1.5, 2, 3} {
		result, err := DetectAnomalies("donations", series, sensitivity)
		require.NoError(t, err)

		assert.LessOrEqual(t, result.Thresholds.Lower, result.StatisticalSummary.Mean)
		assert.LessOrEqual(t, result.StatisticalSummary.Mean, result.Thresholds.Upper)
		assert.Equal(t, len(result.Anomalies), result.AnomaliesDetected)

		flagged := map[string]bool{}
		for _, a := range result.Anomalies {
			flagged[a.Period] = true
			assert.True(t, a.Value > result.Thresholds.Upper || a.Value < result.Thresholds.Lower)
		}
		for _, p := range series {
			if !flagged[p.Period] {
				assert.True(t, p.Value <= result.Thresholds.Upper && p.Value >= result.Thresholds.Lower)
			}
		}
	}
}

func TestDetectAnomalies_LowerThresholdFloor(t *testing.T) {
	result, err := DetectAnomalies("donations", seriesOf(0, 0, 0, 100), 2.0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Thresholds.Lower)
	for _, a := range result.Anomalies {
		assert.NotEqual(t, AnomalyDrop, a.Type)
	}
}

func TestDetectAnomalies_FlatSeries(t *testing.T) {
	result, err := DetectAnomalies("donations", seriesOf(5, 5, 5), 2.0)
	require.NoError(t, err)
	assert.Zero(t, result.AnomaliesDetected)
	assert.NotNil(t, result.Anomalies)
	assert.Equal(t, 5.0, result.Thresholds.Upper)
	assert.Equal(t, 5.0, result.Thresholds.Lower)
}

func TestDetectAnomalies_DefaultSensitivity(t *testing.T) {
	result, err := DetectAnomalies("donations", spikeSeries(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSensitivity, result.Sensitivity)
}

func TestDetectAnomalies_Empty(t *testing.T) {
	_, err := DetectAnomalies("donations", nil, 2.0)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityHigh, severityFor(5))
	assert.Equal(t, SeverityMedium, severityFor(3))
	assert.Equal(t, SeverityMedium, severityFor(2.6))
	assert.Equal(t, SeverityLow, severityFor(2.5))
	assert.Equal(t, SeverityLow, severityFor(2.1))
}

func TestGetAnomalyDetection(t *testing.T) {
	engine, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{"period", "hours"})
	for _, p := range spikeSeries() {
		rows.AddRow(p.Period, p.Value)
	}
	mock.ExpectQuery(hoursSeriesSQL).WillReturnRows(rows)

	result, err := engine.GetAnomalyDetection(context.Background(), MetricVolunteerHours, 26, 0)
	require.NoError(t, err)

	assert.Equal(t, "volunteer_hours", result.MetricName)
	assert.Equal(t, DefaultSensitivity, result.Sensitivity)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, SeverityHigh, result.Anomalies[0].Severity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
