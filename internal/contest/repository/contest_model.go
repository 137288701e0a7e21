package repository

import "time"

// Phase is where a contest sits relative to now.
type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseOngoing  Phase = "ongoing"
	PhaseEnded    Phase = "ended"
)

// Contest is the scheduling and membership view of a contest.
type Contest struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

// EndTime is StartTime plus the duration.
func (c Contest) EndTime() time.Time {
	return c.StartTime.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// PhaseAt reports the contest phase at now. The window is [start, end).
func (c Contest) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(c.StartTime):
		return PhaseUpcoming
	case now.Before(c.EndTime()):
		return PhaseOngoing
	default:
		return PhaseEnded
	}
}

// RegistrationOpen reports whether registration is allowed at now (strictly before start).
func (c Contest) RegistrationOpen(now time.Time) bool {
	return now.Before(c.StartTime)
}
