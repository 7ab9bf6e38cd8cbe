package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType selects which side of the donor graph a collector aggregates.
type EntityType string

const (
	EntityAccount EntityType = "account"
	EntityContact EntityType = "contact"
)

// Valid reports whether t is a known entity type
func (t EntityType) Valid() bool {
	return t == EntityAccount || t == EntityContact
}

// Metric names a population-wide monthly series.
type Metric string

const (
	MetricDonations       Metric = "donations"
	MetricEventAttendance Metric = "event_attendance"
	MetricVolunteerHours  Metric = "volunteer_hours"
)

// Metrics lists every series the engine can build, in display order.
var Metrics = []Metric{MetricDonations, MetricEventAttendance, MetricVolunteerHours}

// Breakdown is a count/total pair for one value of a categorical dimension.
type Breakdown struct {
	Key   string  `json:"key"`
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// YearlyTotal summarizes donations in one calendar year.
type YearlyTotal struct {
	Year  int     `json:"year"`
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// DonationSummary is one entry of the recent donations sample.
type DonationSummary struct {
	ID            uuid.UUID `json:"id"`
	Amount        float64   `json:"amount"`
	Date          time.Time `json:"date"`
	PaymentMethod string    `json:"payment_method"`
	IsRecurring   bool      `json:"is_recurring"`
}

// DonationMetrics aggregates completed donations for one entity.
type DonationMetrics struct {
	TotalAmount       float64           `json:"total_amount"`
	DonationCount     int64             `json:"donation_count"`
	AverageAmount     float64           `json:"average_amount"`
	FirstDonationDate *time.Time        `json:"first_donation_date"`
	LastDonationDate  *time.Time        `json:"last_donation_date"`
	LargestDonation   float64           `json:"largest_donation"`
	RecurringCount    int64             `json:"recurring_count"`
	RecurringTotal    float64           `json:"recurring_total"`
	ByPaymentMethod   []Breakdown       `json:"by_payment_method"`
	ByYear            []YearlyTotal     `json:"by_year"`
	RecentDonations   []DonationSummary `json:"recent_donations"`
}

// HasRecurring reports whether any completed donation is recurring
func (m DonationMetrics) HasRecurring() bool {
	return m.RecurringCount > 0
}

// EventSummary is one entry of the recent events sample.
type EventSummary struct {
	EventID   uuid.UUID `json:"event_id"`
	Name      string    `json:"name"`
	EventType string    `json:"event_type"`
	StartDate time.Time `json:"start_date"`
	Status    string    `json:"status"`
	CheckedIn bool      `json:"checked_in"`
}

// EventMetrics aggregates event registrations for one entity.
type EventMetrics struct {
	TotalRegistrations int64          `json:"total_registrations"`
	EventsAttended     int64          `json:"events_attended"`
	NoShows            int64          `json:"no_shows"`
	AttendanceRate     float64        `json:"attendance_rate"`
	ByEventType        []Breakdown    `json:"by_event_type"`
	RecentEvents       []EventSummary `json:"recent_events"`
}

// VolunteerActivity is one logged volunteer_hours entry.
type VolunteerActivity struct {
	ID           uuid.UUID `json:"id"`
	Hours        float64   `json:"hours"`
	ActivityDate time.Time `json:"activity_date"`
	Description  string    `json:"description"`
	Verified     bool      `json:"verified"`
}

// VolunteerMetrics aggregates the volunteer record of one contact.
type VolunteerMetrics struct {
	VolunteerID          uuid.UUID           `json:"volunteer_id"`
	Status               string              `json:"status"`
	Skills               []string            `json:"skills"`
	VolunteerSince       time.Time           `json:"volunteer_since"`
	TotalHours           float64             `json:"total_hours"`
	TotalAssignments     int64               `json:"total_assignments"`
	CompletedAssignments int64               `json:"completed_assignments"`
	ActiveAssignments    int64               `json:"active_assignments"`
	HoursByMonth         []TimeSeriesPoint   `json:"hours_by_month"`
	RecentActivities     []VolunteerActivity `json:"recent_activities"`
}

// OptionalVolunteerMetrics is either a volunteer record or explicitly absent.
// It serializes to null when absent.
type OptionalVolunteerMetrics struct {
	present bool
	metrics VolunteerMetrics
}

// SomeVolunteer wraps a present volunteer record
func SomeVolunteer(m VolunteerMetrics) OptionalVolunteerMetrics {
	return OptionalVolunteerMetrics{present: true, metrics: m}
}

// NoVolunteer is the absent value
func NoVolunteer() OptionalVolunteerMetrics {
	return OptionalVolunteerMetrics{}
}

// Get returns the record and whether it is present
func (o OptionalVolunteerMetrics) Get() (VolunteerMetrics, bool) {
	return o.metrics, o.present
}

// Present reports whether the contact is a volunteer
func (o OptionalVolunteerMetrics) Present() bool {
	return o.present
}

func (o OptionalVolunteerMetrics) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.metrics)
}

func (o *OptionalVolunteerMetrics) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = NoVolunteer()
		return nil
	}
	var m VolunteerMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*o = SomeVolunteer(m)
	return nil
}

// TaskMetrics counts tasks related to one entity.
type TaskMetrics struct {
	TotalTasks     int64            `json:"total_tasks"`
	CompletedTasks int64            `json:"completed_tasks"`
	OverdueTasks   int64            `json:"overdue_tasks"`
	CompletionRate float64          `json:"completion_rate"`
	ByStatus       map[string]int64 `json:"by_status"`
	ByPriority     map[string]int64 `json:"by_priority"`
}

// TimeSeriesPoint is one calendar month of a series. Period is YYYY-MM.
type TimeSeriesPoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// TrendDataPoint extends a series point with its moving averages.
type TrendDataPoint struct {
	TimeSeriesPoint
	MovingAverage   float64 `json:"moving_average"`
	MovingAverage7  float64 `json:"moving_average_7"`
	MovingAverage30 float64 `json:"moving_average_30"`
}

// TrendDirection classifies the slope of a linear fit.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// TrendAnalysis is the output of the trend engine.
type TrendAnalysis struct {
	MetricName           string           `json:"metric_name"`
	DataPoints           []TrendDataPoint `json:"data_points"`
	TrendDirection       TrendDirection   `json:"trend_direction"`
	TrendStrength        float64          `json:"trend_strength"`
	Velocity             float64          `json:"velocity"`
	PredictionNextPeriod float64          `json:"prediction_next_period"`
	AnalysisPeriod       string           `json:"analysis_period"`
}

// StatisticalSummary uses population formulas.
type StatisticalSummary struct {
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
}

// Severity of an anomaly, derived from its distance to the mean in std-devs.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyType tells on which side of the band a point fell.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyDrop  AnomalyType = "drop"
	// AnomalyUnusualPattern is reserved for detectors beyond the threshold band.
	AnomalyUnusualPattern AnomalyType = "unusual_pattern"
)

// Anomaly is one flagged point.
type Anomaly struct {
	Period           string      `json:"period"`
	Value            float64     `json:"value"`
	ExpectedValue    float64     `json:"expected_value"`
	Deviation        float64     `json:"deviation"`
	DeviationPercent float64     `json:"deviation_percent"`
	Severity         Severity    `json:"severity"`
	Type             AnomalyType `json:"type"`
}

// Thresholds is the accepted band [Lower, Upper].
type Thresholds struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// AnomalyDetectionResult is the output of the anomaly detector.
type AnomalyDetectionResult struct {
	MetricName         string             `json:"metric_name"`
	TotalPeriods       int                `json:"total_periods"`
	AnomaliesDetected  int                `json:"anomalies_detected"`
	Anomalies          []Anomaly          `json:"anomalies"`
	StatisticalSummary StatisticalSummary `json:"statistical_summary"`
	Thresholds         Thresholds         `json:"thresholds"`
	Sensitivity        float64            `json:"sensitivity"`
	AnalysisPeriod     string             `json:"analysis_period"`
}

// ComparisonTrend is the direction of a period comparison.
type ComparisonTrend string

const (
	ComparisonUp     ComparisonTrend = "up"
	ComparisonDown   ComparisonTrend = "down"
	ComparisonStable ComparisonTrend = "stable"
)

// PeriodComparison is the current-vs-previous delta of one metric.
type PeriodComparison struct {
	Current       float64         `json:"current"`
	Previous      float64         `json:"previous"`
	Change        float64         `json:"change"`
	ChangePercent float64         `json:"change_percent"`
	Trend         ComparisonTrend `json:"trend"`
}

// PeriodType is the calendar granularity of a comparison.
type PeriodType string

const (
	PeriodMonth   PeriodType = "month"
	PeriodQuarter PeriodType = "quarter"
	PeriodYear    PeriodType = "year"
)

// PeriodRange is a half-open [Start, End) calendar range.
type PeriodRange struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ComparativeAnalytics bundles one comparison per tracked metric.
type ComparativeAnalytics struct {
	PeriodType      PeriodType       `json:"period_type"`
	CurrentPeriod   PeriodRange      `json:"current_period"`
	PreviousPeriod  PeriodRange      `json:"previous_period"`
	DonationTotal   PeriodComparison `json:"donation_total"`
	DonationCount   PeriodComparison `json:"donation_count"`
	AverageDonation PeriodComparison `json:"average_donation"`
	NewContacts     PeriodComparison `json:"new_contacts"`
	Events          PeriodComparison `json:"events"`
	VolunteerHours  PeriodComparison `json:"volunteer_hours"`
}

// EngagementLevel buckets an engagement score.
type EngagementLevel string

const (
	EngagementHigh     EngagementLevel = "high"
	EngagementMedium   EngagementLevel = "medium"
	EngagementLow      EngagementLevel = "low"
	EngagementInactive EngagementLevel = "inactive"
)

// ContactAnalytics is the per-contact analytics record.
type ContactAnalytics struct {
	ContactID       uuid.UUID                `json:"contact_id"`
	ContactName     string                   `json:"contact_name"`
	AccountID       *uuid.UUID               `json:"account_id,omitempty"`
	Donations       DonationMetrics          `json:"donations"`
	Events          EventMetrics             `json:"events"`
	Volunteer       OptionalVolunteerMetrics `json:"volunteer"`
	Tasks           TaskMetrics              `json:"tasks"`
	EngagementScore int                      `json:"engagement_score"`
	EngagementLevel EngagementLevel          `json:"engagement_level"`
	GeneratedAt     time.Time                `json:"generated_at"`
}

// AccountAnalytics is the per-account analytics record. Volunteering is
// contact-only, so accounts never carry a volunteer term.
type AccountAnalytics struct {
	AccountID       uuid.UUID       `json:"account_id"`
	AccountName     string          `json:"account_name"`
	ContactCount    int64           `json:"contact_count"`
	Donations       DonationMetrics `json:"donations"`
	Events          EventMetrics    `json:"events"`
	Tasks           TaskMetrics     `json:"tasks"`
	EngagementScore int             `json:"engagement_score"`
	EngagementLevel EngagementLevel `json:"engagement_level"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// EngagementDistribution counts active contacts per engagement level.
type EngagementDistribution struct {
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
	Inactive int64 `json:"inactive"`
}

// SummaryRange bounds the in-range figures of an organization summary.
// A zero range means year to date.
type SummaryRange struct {
	From time.Time
	To   time.Time
}

// OrganizationSummary is the organization-wide snapshot.
type OrganizationSummary struct {
	PeriodStart            time.Time              `json:"period_start"`
	PeriodEnd              time.Time              `json:"period_end"`
	TotalAccounts          int64                  `json:"total_accounts"`
	ActiveAccounts         int64                  `json:"active_accounts"`
	TotalContacts          int64                  `json:"total_contacts"`
	ActiveContacts         int64                  `json:"active_contacts"`
	NewContactsYTD         int64                  `json:"new_contacts_ytd"`
	DonationTotal          float64                `json:"donation_total"`
	DonationCount          int64                  `json:"donation_count"`
	AverageDonation        float64                `json:"average_donation"`
	UniqueDonors           int64                  `json:"unique_donors"`
	EventCount             int64                  `json:"event_count"`
	EventRegistrations     int64                  `json:"event_registrations"`
	EventAttendees         int64                  `json:"event_attendees"`
	VolunteerHours         float64                `json:"volunteer_hours"`
	ActiveVolunteers       int64                  `json:"active_volunteers"`
	EngagementDistribution EngagementDistribution `json:"engagement_distribution"`
	GeneratedAt            time.Time              `json:"generated_at"`
}
