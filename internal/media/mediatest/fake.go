// Package mediatest provides a scriptable media.Engine for tests.
package mediatest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mossy-p/webrtc-camera/internal/media"
)

// OfferSDP and AnswerSDP are minimal descriptions that parse as valid SDP.
var (
	OfferSDP  = sdp("4215775240449105457")
	AnswerSDP = sdp("7021648238745210871")
)

func sdp(sessionID string) string {
	return strings.Join([]string{
		"v=0",
		"o=- " + sessionID + " 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=mid:0",
		"a=sendrecv",
		"a=rtpmap:96 VP8/90000",
		"",
	}, "\r\n")
}

// OpKind names an asynchronous engine operation.
type OpKind int

const (
	OpCreateOffer OpKind = iota
	OpCreateAnswer
	OpSetLocal
	OpSetRemote
)

func (k OpKind) String() string {
	switch k {
	case OpCreateOffer:
		return "create-offer"
	case OpCreateAnswer:
		return "create-answer"
	case OpSetLocal:
		return "set-local"
	case OpSetRemote:
		return "set-remote"
	default:
		return "unknown"
	}
}

// Op is an operation waiting for the test to complete it.
type Op struct {
	Kind   OpKind
	Branch *Branch
	Desc   media.Description

	engine   *Engine
	withDesc func(media.Description, error)
	plain    func(error)
}

// Resolve completes a set operation.
func (op *Op) Resolve(err error) {
	op.engine.deliver(func() { op.plain(err) })
}

// ResolveDescription completes a create operation.
func (op *Op) ResolveDescription(d media.Description, err error) {
	op.engine.deliver(func() { op.withDesc(d, err) })
}

// Candidate is a remote candidate handed to a branch.
type Candidate struct {
	LineIndex uint16
	Text      string
}

// Branch records what was done to one branch.
type Branch struct {
	id         string
	Identifier string
	Events     media.BranchEvents
	Destroyed  bool
	Local      *media.Description
	Remote     *media.Description
	Candidates []Candidate
}

func (b *Branch) ID() string { return b.id }

// Engine is a fake media.Engine. With AutoComplete set, every operation
// completes successfully through Post, the way the real engine does. Otherwise
// operations queue until the test resolves them.
type Engine struct {
	// Post routes completions and events. Nil calls them directly.
	Post media.Post

	AutoComplete bool

	StartErr     error
	CreateErr    error
	OfferErr     error
	SetRemoteErr error

	// OnDestroy runs synchronously inside DestroyBranch.
	OnDestroy func(b *Branch)

	mu        sync.Mutex
	started   bool
	closed    bool
	seq       int
	branches  []*Branch
	ops       []*Op
	destroyed int
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return e.StartErr
	}
	if e.closed {
		return media.ErrClosed
	}
	e.started = true
	return nil
}

func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) CreateBranch(identifier string, events media.BranchEvents) (media.Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	if e.closed {
		return nil, media.ErrClosed
	}
	if !e.started {
		return nil, media.ErrNotStarted
	}
	e.seq++
	b := &Branch{id: fmt.Sprintf("%s#%d", identifier, e.seq), Identifier: identifier, Events: events}
	e.branches = append(e.branches, b)
	return b, nil
}

func (e *Engine) DestroyBranch(br media.Branch) error {
	b, err := e.live(br)
	if err != nil {
		return err
	}
	e.mu.Lock()
	b.Destroyed = true
	e.destroyed++
	hook := e.OnDestroy
	e.mu.Unlock()

	if hook != nil {
		hook(b)
	}
	return nil
}

// Destroyed counts DestroyBranch calls that hit a live branch.
func (e *Engine) Destroyed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) CreateOffer(br media.Branch, done func(media.Description, error)) {
	e.enqueue(&Op{Kind: OpCreateOffer, withDesc: done}, br)
}

func (e *Engine) CreateAnswer(br media.Branch, done func(media.Description, error)) {
	e.enqueue(&Op{Kind: OpCreateAnswer, withDesc: done}, br)
}

func (e *Engine) SetLocalDescription(br media.Branch, desc media.Description, done func(error)) {
	e.enqueue(&Op{Kind: OpSetLocal, Desc: desc, plain: done}, br)
}

func (e *Engine) SetRemoteDescription(br media.Branch, desc media.Description, done func(error)) {
	e.enqueue(&Op{Kind: OpSetRemote, Desc: desc, plain: done}, br)
}

func (e *Engine) AddRemoteCandidate(br media.Branch, lineIndex uint16, candidate string) error {
	b, err := e.live(br)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b.Candidates = append(b.Candidates, Candidate{LineIndex: lineIndex, Text: candidate})
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, b := range e.branches {
		b.Destroyed = true
	}
	return nil
}

// Branches returns every branch ever created for identifier, oldest first.
func (e *Engine) Branches(identifier string) []*Branch {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Branch
	for _, b := range e.branches {
		if b.Identifier == identifier {
			out = append(out, b)
		}
	}
	return out
}

// Branch returns the newest live branch for identifier.
func (e *Engine) Branch(identifier string) *Branch {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.branches) - 1; i >= 0; i-- {
		if b := e.branches[i]; b.Identifier == identifier && !b.Destroyed {
			return b
		}
	}
	return nil
}

// Take removes and returns the oldest pending op of kind for identifier, or nil.
func (e *Engine) Take(kind OpKind, identifier string) *Op {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, op := range e.ops {
		if op.Kind == kind && op.Branch.Identifier == identifier {
			e.ops = append(e.ops[:i], e.ops[i+1:]...)
			return op
		}
	}
	return nil
}

// Pending returns the number of queued ops.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ops)
}

func (e *Engine) FireNegotiationNeeded(identifier string) {
	if b := e.Branch(identifier); b != nil && b.Events.NegotiationNeeded != nil {
		e.deliver(b.Events.NegotiationNeeded)
	}
}

func (e *Engine) FireCandidate(identifier string, lineIndex uint16, candidate string) {
	if b := e.Branch(identifier); b != nil && b.Events.LocalCandidate != nil {
		e.deliver(func() { b.Events.LocalCandidate(lineIndex, candidate) })
	}
}

func (e *Engine) FireClosed(identifier, reason string) {
	if b := e.Branch(identifier); b != nil && b.Events.Closed != nil {
		e.deliver(func() { b.Events.Closed(reason) })
	}
}

func (e *Engine) enqueue(op *Op, br media.Branch) {
	op.engine = e
	b, err := e.live(br)
	if err != nil {
		if op.withDesc != nil {
			e.deliver(func() { op.withDesc(media.Description{}, err) })
		} else {
			e.deliver(func() { op.plain(err) })
		}
		return
	}
	op.Branch = b

	e.mu.Lock()
	switch op.Kind {
	case OpSetLocal:
		d := op.Desc
		b.Local = &d
	case OpSetRemote:
		d := op.Desc
		b.Remote = &d
	}
	if !e.AutoComplete {
		e.ops = append(e.ops, op)
		e.mu.Unlock()
		return
	}
	offerErr, remoteErr := e.OfferErr, e.SetRemoteErr
	e.mu.Unlock()

	switch op.Kind {
	case OpCreateOffer:
		op.ResolveDescription(media.Description{Type: media.TypeOffer, SDP: OfferSDP}, offerErr)
	case OpCreateAnswer:
		op.ResolveDescription(media.Description{Type: media.TypeAnswer, SDP: AnswerSDP}, nil)
	case OpSetRemote:
		op.Resolve(remoteErr)
	default:
		op.Resolve(nil)
	}
}

func (e *Engine) live(br media.Branch) (*Branch, error) {
	b, ok := br.(*Branch)
	if !ok || b == nil {
		return nil, media.ErrUnknownBranch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.Destroyed {
		return nil, media.ErrUnknownBranch
	}
	return b, nil
}

func (e *Engine) deliver(fn func()) {
	if e.Post != nil {
		e.Post(fn)
		return
	}
	fn()
}

var _ media.Engine = (*Engine)(nil)
