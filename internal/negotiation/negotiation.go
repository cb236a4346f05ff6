// Package negotiation sequences the SDP offer/answer and ICE exchange for every
// peer session. All methods run on the event loop.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/internal/media"
	"github.com/mossy-p/webrtc-camera/internal/models"
	"github.com/mossy-p/webrtc-camera/internal/session"
	"github.com/mossy-p/webrtc-camera/internal/state"
)

var (
	ErrNotRegistered         = errors.New("negotiation: not registered with the signalling server")
	ErrCallInactive          = errors.New("negotiation: no call in progress")
	ErrUnexpectedDescription = errors.New("negotiation: unexpected description type")
	ErrUnexpectedPhase       = errors.New("negotiation: message does not fit session phase")
	ErrInvalidSDP            = errors.New("negotiation: invalid SDP")
)

// Sender delivers a message to the signalling server.
type Sender interface {
	Send(msg models.SignalMessage) error
}

// Engine drives per-peer negotiation. Failures are scoped to the peer: its
// session is marked Failed and removed while every other peer carries on.
type Engine struct {
	media    media.Engine
	sessions *session.Registry
	state    *state.Machine
	sender   Sender
	log      logrus.FieldLogger
}

func New(m media.Engine, sessions *session.Registry, st *state.Machine, sender Sender, log logrus.FieldLogger) *Engine {
	return &Engine{
		media:    m,
		sessions: sessions,
		state:    st,
		sender:   sender,
		log:      log.WithField("component", "negotiation"),
	}
}

// Call creates an offerer session for peerID. The offer is produced once the
// media branch asks for negotiation.
func (e *Engine) Call(peerID string) error {
	if !e.state.IsRegistered() {
		e.peerLog(peerID).Warn("Ignoring call while not registered")
		return ErrNotRegistered
	}

	e.enterCall(state.CallNegotiating)
	if _, err := e.sessions.Create(peerID, session.Offerer, e); err != nil {
		e.peerLog(peerID).Warnf("Cannot start call: %v", err)
		e.settle()
		return err
	}
	e.peerLog(peerID).Info("Call started")
	return nil
}

// HandleAnswer applies the remote answer to an offer previously sent to peerID.
func (e *Engine) HandleAnswer(peerID string, desc models.SessionDescription) error {
	s, ok := e.sessions.Lookup(peerID)
	if !ok {
		e.peerLog(peerID).Warn("Dropping answer for unknown peer")
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, peerID)
	}
	if s.Role == session.Offerer && s.Phase() >= session.RemoteDescriptionPending {
		e.peerLog(peerID).Warnf("Ignoring repeated answer while %s", s.Phase())
		return nil
	}

	switch {
	case !e.state.CanOffer():
		return e.fail(s, ErrCallInactive)
	case s.Role != session.Offerer || s.Phase() != session.LocalDescriptionSet:
		return e.fail(s, fmt.Errorf("%w: answer while %s %s", ErrUnexpectedPhase, s.Role, s.Phase()))
	case desc.Type != models.SDPTypeAnswer:
		return e.fail(s, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedDescription, desc.Type, models.SDPTypeAnswer))
	}
	if err := validateSDP(desc.SDP); err != nil {
		return e.fail(s, err)
	}

	if err := s.Advance(session.RemoteDescriptionPending); err != nil {
		return e.fail(s, err)
	}
	e.media.SetRemoteDescription(s.Branch, media.Description{Type: media.TypeAnswer, SDP: desc.SDP}, e.answerApplied(s.ID, s.Generation))
	return nil
}

// HandleOffer answers an offer from peerID, creating an answerer session.
func (e *Engine) HandleOffer(peerID string, desc models.SessionDescription) error {
	if !e.state.IsRegistered() {
		e.peerLog(peerID).Warn("Ignoring offer while not registered")
		return ErrNotRegistered
	}
	if desc.Type != models.SDPTypeOffer {
		e.peerLog(peerID).Warnf("Dropping remote description of type %q", desc.Type)
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedDescription, desc.Type, models.SDPTypeOffer)
	}
	if err := validateSDP(desc.SDP); err != nil {
		e.peerLog(peerID).Warnf("Dropping offer: %v", err)
		return err
	}

	e.enterCall(state.CallAnswering)
	s, err := e.sessions.Create(peerID, session.Answerer, e)
	if err != nil {
		e.peerLog(peerID).Warnf("Cannot answer: %v", err)
		e.settle()
		return err
	}

	if err := s.Advance(session.RemoteDescriptionPending); err != nil {
		return e.fail(s, err)
	}
	e.media.SetRemoteDescription(s.Branch, media.Description{Type: media.TypeOffer, SDP: desc.SDP}, e.offerApplied(s.ID, s.Generation))
	return nil
}

// HandleRemoteCandidate hands a remote ICE candidate to peerID's branch.
func (e *Engine) HandleRemoteCandidate(peerID string, lineIndex uint16, candidate string) error {
	s, ok := e.sessions.Lookup(peerID)
	if !ok {
		e.peerLog(peerID).Warn("Dropping ICE candidate for unknown peer")
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, peerID)
	}
	if err := e.media.AddRemoteCandidate(s.Branch, lineIndex, candidate); err != nil {
		e.peerLog(peerID).Warnf("Rejected remote candidate: %v", err)
		return err
	}
	return nil
}

// HangUp ends the session with peerID, telling the server when notify is set.
// It reports whether a session existed.
func (e *Engine) HangUp(peerID string, notify bool) bool {
	if !e.sessions.Remove(peerID) {
		return false
	}
	e.peerLog(peerID).Info("Call ended")
	if notify {
		if err := e.sender.Send(models.NewHangUp(peerID)); err != nil {
			e.peerLog(peerID).Warnf("Failed to send hangup: %v", err)
		}
	}
	e.settle()
	return true
}

// Fail marks peerID's session Failed and removes it.
func (e *Engine) Fail(peerID string, err error) {
	if s, ok := e.sessions.Lookup(peerID); ok {
		e.fail(s, err)
	}
}

// NegotiationNeeded starts the offer for a fresh offerer session.
func (e *Engine) NegotiationNeeded(s *session.Session) {
	if s.Role != session.Offerer || s.Phase() != session.NotStarted {
		e.peerLog(s.ID).Debugf("Ignoring renegotiation request in phase %s", s.Phase())
		return
	}
	e.enterCall(state.CallOffering)
	e.media.CreateOffer(s.Branch, e.offerCreated(s.ID, s.Generation))
}

// LocalCandidate forwards a gathered candidate to the peer.
func (e *Engine) LocalCandidate(s *session.Session, lineIndex uint16, candidate string) {
	if err := e.sender.Send(models.NewICECandidate(s.ID, lineIndex, candidate)); err != nil {
		e.fail(s, fmt.Errorf("failed to send ICE candidate: %w", err))
	}
}

// BranchClosed removes a session whose transport went away.
func (e *Engine) BranchClosed(s *session.Session, reason string) {
	e.peerLog(s.ID).Infof("Peer connection %s", reason)
	e.HangUp(s.ID, false)
}

func (e *Engine) offerCreated(id string, gen uuid.UUID) func(media.Description, error) {
	return func(desc media.Description, err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		switch {
		case err != nil:
			e.fail(s, fmt.Errorf("failed to create offer: %w", err))
			return
		case !e.state.CanOffer():
			e.fail(s, ErrCallInactive)
			return
		case desc.Type != media.TypeOffer:
			e.fail(s, fmt.Errorf("%w: created %q, want %q", ErrUnexpectedDescription, desc.Type, media.TypeOffer))
			return
		}
		if err := s.Advance(session.OfferCreated); err != nil {
			e.fail(s, err)
			return
		}
		e.media.SetLocalDescription(s.Branch, desc, e.offerSet(id, gen, desc))
	}
}

func (e *Engine) offerSet(id string, gen uuid.UUID, desc media.Description) func(error) {
	return func(err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		if err != nil {
			e.fail(s, fmt.Errorf("failed to set local offer: %w", err))
			return
		}
		if err := s.Advance(session.LocalDescriptionSet); err != nil {
			e.fail(s, err)
			return
		}
		if err := e.sender.Send(models.NewSDPOffer(id, desc.SDP)); err != nil {
			e.fail(s, fmt.Errorf("failed to send offer: %w", err))
			return
		}
		e.peerLog(id).Debug("Offer sent")
	}
}

func (e *Engine) answerApplied(id string, gen uuid.UUID) func(error) {
	return func(err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		if err != nil {
			e.fail(s, fmt.Errorf("failed to set remote answer: %w", err))
			return
		}
		e.activate(s)
	}
}

func (e *Engine) offerApplied(id string, gen uuid.UUID) func(error) {
	return func(err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		switch {
		case err != nil:
			e.fail(s, fmt.Errorf("failed to set remote offer: %w", err))
			return
		case !e.state.CanAnswer():
			e.fail(s, ErrCallInactive)
			return
		}
		if err := s.Advance(session.RemoteDescriptionSet); err != nil {
			e.fail(s, err)
			return
		}
		e.media.CreateAnswer(s.Branch, e.answerCreated(id, gen))
	}
}

func (e *Engine) answerCreated(id string, gen uuid.UUID) func(media.Description, error) {
	return func(desc media.Description, err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		switch {
		case err != nil:
			e.fail(s, fmt.Errorf("failed to create answer: %w", err))
			return
		case !e.state.CanAnswer():
			e.fail(s, ErrCallInactive)
			return
		case desc.Type != media.TypeAnswer:
			e.fail(s, fmt.Errorf("%w: created %q, want %q", ErrUnexpectedDescription, desc.Type, media.TypeAnswer))
			return
		}
		e.media.SetLocalDescription(s.Branch, desc, e.answerSet(id, gen, desc))
	}
}

func (e *Engine) answerSet(id string, gen uuid.UUID, desc media.Description) func(error) {
	return func(err error) {
		s, ok := e.live(id, gen)
		if !ok {
			return
		}
		if err != nil {
			e.fail(s, fmt.Errorf("failed to set local answer: %w", err))
			return
		}
		if err := e.sender.Send(models.NewSDPAnswer(id, desc.SDP)); err != nil {
			e.fail(s, fmt.Errorf("failed to send answer: %w", err))
			return
		}
		e.activate(s)
	}
}

func (e *Engine) activate(s *session.Session) {
	if err := s.Advance(session.RemoteDescriptionSet); err != nil {
		e.fail(s, err)
		return
	}
	if err := s.Advance(session.Active); err != nil {
		e.fail(s, err)
		return
	}
	e.state.SetCall(state.CallStarted)
	e.peerLog(s.ID).Info("Streaming")
}

// live re-resolves a session captured by a completion. Completions for removed
// or replaced sessions are dropped.
func (e *Engine) live(id string, gen uuid.UUID) (*session.Session, bool) {
	s, ok := e.sessions.Lookup(id)
	if !ok || s.Generation != gen {
		e.peerLog(id).Debug("Dropping completion for stale session")
		return nil, false
	}
	return s, true
}

func (e *Engine) fail(s *session.Session, err error) error {
	_ = s.Advance(session.Failed)
	e.peerLog(s.ID).Warnf("Negotiation failed: %v", err)
	e.sessions.Remove(s.ID)
	e.settle()
	return err
}

// enterCall moves the call state forward to target. A call in progress is
// never moved backwards, and Started is kept once reached.
func (e *Engine) enterCall(target state.CallState) {
	cur := e.state.Call()
	if !e.state.IsNegotiating() || (target > cur && cur < state.CallStarted) {
		e.state.SetCall(target)
	}
}

// settle stops the call once its last session is gone.
func (e *Engine) settle() {
	if e.sessions.Len() > 0 {
		return
	}
	switch c := e.state.Call(); {
	case c >= state.CallNegotiating && c <= state.CallStarted:
		e.state.SetCall(state.CallStopping)
		e.state.SetCall(state.CallStopped)
	}
}

func (e *Engine) peerLog(id string) logrus.FieldLogger {
	return e.log.WithField("peer", id)
}

func validateSDP(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrInvalidSDP)
	}
	return nil
}
