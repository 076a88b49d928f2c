package lobby

import "time"

// TTLs bounds how long a lobby may linger. A zero field disables that rule.
type TTLs struct {
	// Idle applies to WAITING and ACTIVE lobbies with no connection attached.
	Idle time.Duration
	// Closed applies to CLOSED lobbies, counted from the end of the game.
	Closed time.Duration
}

// Stale reports whether a lobby described by s should be retired at now.
func (t TTLs) Stale(s Summary, now time.Time) bool {
	switch s.Status {
	case StatusClosed:
		return t.Closed > 0 && !s.ClosedAt.IsZero() && now.Sub(s.ClosedAt) >= t.Closed
	case StatusWaiting, StatusActive:
		return t.Idle > 0 && s.Connected == 0 && !s.IdleSince.IsZero() && now.Sub(s.IdleSince) >= t.Idle
	default:
		return false
	}
}
