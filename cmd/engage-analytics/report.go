package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/engage/pkg/analytics"
)

// reportRequest describes a single report run from the command line
type reportRequest struct {
	Report      string
	Metric      string
	Months      int
	Sensitivity float64
	Period      string
	ID          string
	From        string
	To          string
}

// runReport computes the requested report and writes it to out as JSON
func runReport(ctx context.Context, reports *analytics.CachedEngine, req reportRequest, out io.Writer) error {
	result, err := computeReport(ctx, reports, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func computeReport(ctx context.Context, reports *analytics.CachedEngine, req reportRequest) (interface{}, error) {
	switch req.Report {
	case analytics.ReportSeries, analytics.ReportTrend, analytics.ReportAnomaly:
		metric, err := analytics.ParseMetric(req.Metric)
		if err != nil {
			return nil, err
		}
		switch req.Report {
		case analytics.ReportSeries:
			return reports.GetTimeSeries(ctx, metric, req.Months)
		case analytics.ReportTrend:
			return reports.GetTrendAnalysis(ctx, metric, req.Months)
		default:
			return reports.GetAnomalyDetection(ctx, metric, req.Months, req.Sensitivity)
		}

	case analytics.ReportComparative:
		period, err := analytics.ParsePeriodType(req.Period)
		if err != nil {
			return nil, err
		}
		return reports.GetComparativeAnalytics(ctx, period)

	case analytics.ReportSummary:
		r, err := parseSummaryRange(req.From, req.To)
		if err != nil {
			return nil, err
		}
		return reports.GetSummary(ctx, r)

	case analytics.ReportContact, analytics.ReportAccount:
		id, err := uuid.Parse(req.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s id %q", analytics.ErrInvalidInput, req.Report, req.ID)
		}
		if req.Report == analytics.ReportContact {
			return reports.GetContactAnalytics(ctx, id)
		}
		return reports.GetAccountAnalytics(ctx, id)

	default:
		return nil, fmt.Errorf("%w: unknown report %q", analytics.ErrInvalidInput, req.Report)
	}
}

// parseSummaryRange parses optional YYYY-MM-DD bounds. Both empty means
// year to date.
func parseSummaryRange(from, to string) (analytics.SummaryRange, error) {
	var r analytics.SummaryRange
	var err error
	if from != "" {
		if r.From, err = time.Parse("2006-01-02", from); err != nil {
			return r, fmt.Errorf("%w: invalid from date %q", analytics.ErrInvalidInput, from)
		}
	}
	if to != "" {
		if r.To, err = time.Parse("2006-01-02", to); err != nil {
			return r, fmt.Errorf("%w: invalid to date %q", analytics.ErrInvalidInput, to)
		}
	}
	return r, nil
}
