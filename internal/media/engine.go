// Package media owns the outgoing media graph: one shared source fanned out to a
// detachable branch per accepted peer.
//
// Every completion callback and branch event is delivered through the Post
// function the engine was built with, so consumers running on a single event
// loop never see concurrent calls.
package media

import (
	"context"
	"errors"
)

// Package errors.
var (
	ErrUnknownBranch     = errors.New("media: unknown branch")
	ErrNotStarted        = errors.New("media: pipeline not started")
	ErrClosed            = errors.New("media: engine closed")
	ErrUnsupportedSource = errors.New("media: unsupported source")
	ErrInvalidPayload    = errors.New("media: invalid payload description")
)

// DescriptionType is the SDP type of a Description.
type DescriptionType string

const (
	TypeOffer  DescriptionType = "offer"
	TypeAnswer DescriptionType = "answer"
)

// Description is a session description independent of the media library.
type Description struct {
	Type DescriptionType
	SDP  string
}

// Branch is an opaque handle to one peer's part of the media graph.
type Branch interface {
	ID() string
}

// BranchEvents are fired on the event loop for a single branch. Nil fields are
// ignored.
type BranchEvents struct {
	// NegotiationNeeded fires once the branch has media attached and needs an
	// offer.
	NegotiationNeeded func()

	// LocalCandidate fires for every gathered local ICE candidate, in gathering
	// order.
	LocalCandidate func(lineIndex uint16, candidate string)

	// Closed fires when the branch's transport failed or was closed remotely.
	Closed func(reason string)
}

// Engine is the media graph the negotiation layer drives.
type Engine interface {
	// Start brings the shared source up. Branches may only be created after
	// Start succeeds.
	Start(ctx context.Context) error

	CreateBranch(identifier string, events BranchEvents) (Branch, error)

	// DestroyBranch detaches the branch from the shared source and releases
	// it. Destroying an unknown branch returns ErrUnknownBranch.
	DestroyBranch(b Branch) error

	CreateOffer(b Branch, done func(Description, error))
	CreateAnswer(b Branch, done func(Description, error))
	SetLocalDescription(b Branch, desc Description, done func(error))
	SetRemoteDescription(b Branch, desc Description, done func(error))

	// AddRemoteCandidate hands a remote ICE candidate to the branch. Candidates
	// that arrive before the remote description are held until it is set.
	AddRemoteCandidate(b Branch, lineIndex uint16, candidate string) error

	// Close destroys every branch and stops the shared source.
	Close() error
}

// Post schedules fn on the consumer's event loop. It reports false when the
// loop is gone and fn will never run.
type Post func(fn func()) bool
