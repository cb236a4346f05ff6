// Package session keeps one negotiation session per remote peer.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/webrtc-camera/internal/media"
)

var (
	ErrDuplicateSession = errors.New("session: duplicate identifier")
	ErrSessionNotFound  = errors.New("session: not found")
	ErrPhaseRegression  = errors.New("session: phase cannot move backwards")
	ErrSessionFailed    = errors.New("session: failed")
)

// Role is which side of the offer/answer exchange the camera plays.
type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	if r == Answerer {
		return "answerer"
	}
	return "offerer"
}

// Phase is the negotiation progress of one session. Phases only move forward;
// Failed is terminal.
type Phase int

const (
	NotStarted Phase = iota
	OfferCreated
	LocalDescriptionSet
	RemoteDescriptionPending
	RemoteDescriptionSet
	Active
	Failed
)

var phaseNames = [...]string{
	NotStarted:               "not-started",
	OfferCreated:             "offer-created",
	LocalDescriptionSet:      "local-description-set",
	RemoteDescriptionPending: "remote-description-pending",
	RemoteDescriptionSet:     "remote-description-set",
	Active:                   "active",
	Failed:                   "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Session is one peer's negotiation state and media branch. Sessions are owned
// by the Registry and must be looked up by identifier, never retained.
type Session struct {
	ID         string
	Role       Role
	Branch     media.Branch
	Generation uuid.UUID
	CreatedAt  time.Time

	phase Phase
}

func (s *Session) Phase() Phase { return s.phase }

// Advance moves the session to p. Moving to the current phase is a no-op and
// Failed is always reachable.
func (s *Session) Advance(p Phase) error {
	switch {
	case p == Failed:
	case s.phase == Failed:
		return fmt.Errorf("%w: %s cannot move to %s", ErrSessionFailed, s.ID, p)
	case p < s.phase:
		return fmt.Errorf("%w: %s is %s, not %s", ErrPhaseRegression, s.ID, s.phase, p)
	}
	s.phase = p
	return nil
}
