package ota

import "time"

// Phase is the coarse step an attempt is in.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePreparing  Phase = "preparing"
	PhaseApplying   Phase = "applying"
	PhaseDecrypting Phase = "decrypting"
	PhaseInstalling Phase = "installing"
	PhaseSubmitted  Phase = "submitted"
	PhaseInstalled  Phase = "installed"
	PhaseCancelled  Phase = "cancelled"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further status follows in the same attempt.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSubmitted, PhaseInstalled, PhaseCancelled, PhaseFailed:
		return true
	default:
		return false
	}
}

// Status is the human-readable state of the current attempt.
type Status struct {
	// SessionID links the status to an attempt; empty before the first one.
	SessionID string
	// Phase is the step the attempt is in.
	Phase Phase
	// Message is the text shown to users, e.g. "Preparing update...".
	Message string
	// Strategy is the install path once chosen.
	Strategy Strategy
	// UpdatedAt is when the status was published.
	UpdatedAt time.Time
}

// Clone returns a copy of the status.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}
