// Package analytics computes constituent engagement analytics for a nonprofit
// CRM from its relational store.
//
// # Overview
//
// The Engine is stateless over an injected Querier (a *sql.DB or the
// replica-routing connection manager). Every operation computes an
// independent result; concurrency is fan-out/fan-in within a single call.
//
// # Reports
//
// Per-entity metric collectors:
//   - Donations (totals, payment method and yearly breakdowns, recent gifts)
//   - Event registrations (attendance, no-shows, by event type)
//   - Volunteering (hours, assignments, hours by month); absent for contacts
//     without an active volunteer record
//   - Tasks (status and priority buckets, overdue, completion rate)
//
// Organization-wide reports:
//   - Gap-filled monthly time series per metric
//   - Trend analysis (moving averages, linear fit, one-period prediction)
//   - Anomaly detection (mean ± k·σ band with severity)
//   - Comparative analytics between consecutive calendar periods
//   - Organization summary with engagement distribution
//
// # Engagement Score
//
// Contacts and accounts are scored 0-100 from four capped categories:
// donations (40), events (30), volunteering (20) and tasks (10). Levels are
// high (>= 60), medium (>= 30), low (> 0) and inactive.
//
// # Caching
//
// CachedEngine decorates an Engine with a read-through cache keyed
// analytics:<report>:<params>. Cache failures are logged and served as
// misses. Entity analytics are never cached.
//
//	engine := analytics.NewEngine(db, analytics.WithLogger(log))
//	reports := analytics.NewCachedEngine(engine, store, analytics.WithRecorder(metrics))
//	trend, err := reports.GetTrendAnalysis(ctx, analytics.MetricDonations, 12)
//
// # Errors
//
// Missing entities match ErrNotFound. Every other failure is a
// *ComputationError whose message is safe to show to users; the underlying
// cause is available through errors.Is and errors.As.
package analytics
