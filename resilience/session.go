package resilience

import "time"

// Session is the request budget of one identity. It is replaced on
// rotation.
type Session struct {
	ID            string
	Started       time.Time
	Requests      int
	RequestLimit  int
	DurationLimit time.Duration
}

// Age returns how long the session has been active at now.
func (s Session) Age(now time.Time) time.Duration { return now.Sub(s.Started) }

// Stale reports whether the session reached its age or request limit.
func (s Session) Stale(now time.Time) bool {
	return s.Age(now) >= s.DurationLimit || s.Requests >= s.RequestLimit
}
