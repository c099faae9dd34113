package domain

import "time"

// Backend is a Clash-compatible proxy router that clashwatch collects
// connection stats from over its WebSocket /connections endpoint.
type Backend struct {
	ID        string
	Name      string
	URL       string
	Secret    string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStatus describes the health of a Backend's Collector Session.
type SessionStatus string

const (
	SessionHealthy   SessionStatus = "healthy"
	SessionUnhealthy SessionStatus = "unhealthy"
	SessionUnknown   SessionStatus = "unknown"
)

func (s SessionStatus) String() string {
	if s == "" {
		return string(SessionUnknown)
	}
	return string(s)
}

// SessionState is the Collector Session's connection lifecycle state,
// distinct from SessionStatus: a session reports SessionUnknown until its
// first connection attempt ends, SessionHealthy as soon as a handshake
// succeeds (before any frame arrives), and SessionUnhealthy after a failed
// dial or a disconnect. Status does not depend on how recently a frame
// arrived.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateOpen       SessionState = "open"
	SessionStateBackoff    SessionState = "backoff"
	SessionStateStopped    SessionState = "stopped"
)

// SessionHealth is the Collector Supervisor's view of one Backend's
// Collector Session, surfaced on the /health route.
type SessionHealth struct {
	BackendID     string
	State         SessionState
	Status        SessionStatus
	LastFrameAt   time.Time
	LastError     string
	ConnectedAt   time.Time
	Attempt       int
	NextRetryAt   time.Time
}
