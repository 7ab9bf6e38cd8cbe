package analytics

import "math"

// Category caps of the engagement score.
const (
	donationCap  = 40
	eventCap     = 30
	volunteerCap = 20
	taskCap      = 10
	maxScore     = 100
)

// Score combines the four metric records into an engagement score in
// [0, 100]. An absent volunteer record contributes nothing.
func Score(donations DonationMetrics, events EventMetrics, volunteer OptionalVolunteerMetrics, tasks TaskMetrics) int {
	score := donationScore(donations) + eventScore(events) + taskScore(tasks)
	if v, ok := volunteer.Get(); ok {
		score += volunteerScore(v)
	}
	return clamp(score, 0, maxScore)
}

func donationScore(m DonationMetrics) int {
	s := min(15, int(m.DonationCount)*3)
	if m.HasRecurring() {
		s += 15
	}
	s += min(10, int(math.Floor(m.TotalAmount/1000)))
	return clamp(s, 0, donationCap)
}

func eventScore(m EventMetrics) int {
	s := min(15, int(m.EventsAttended)*3)
	s += min(15, int(math.Floor(m.AttendanceRate*15)))
	return clamp(s, 0, eventCap)
}

func volunteerScore(m VolunteerMetrics) int {
	s := min(10, int(math.Floor(m.TotalHours/10)))
	s += min(10, int(m.CompletedAssignments)*2)
	return clamp(s, 0, volunteerCap)
}

func taskScore(m TaskMetrics) int {
	var rate float64
	if m.TotalTasks > 0 {
		rate = float64(m.CompletedTasks) / float64(m.TotalTasks)
	}
	return clamp(int(math.Floor(rate*10)), 0, taskCap)
}

// LevelFor derives the engagement level of a score
func LevelFor(score int) EngagementLevel {
	switch {
	case score >= 60:
		return EngagementHigh
	case score >= 30:
		return EngagementMedium
	case score > 0:
		return EngagementLow
	default:
		return EngagementInactive
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
