package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/internal/media"
	"github.com/mossy-p/webrtc-camera/internal/models"
)

// Hooks receive branch events for live sessions. Events for a session that has
// been removed, or replaced under the same identifier, are dropped before they
// reach the hooks.
type Hooks interface {
	NegotiationNeeded(s *Session)
	LocalCandidate(s *Session, lineIndex uint16, candidate string)
	BranchClosed(s *Session, reason string)
}

// Registry maps peer identifiers to sessions. It is owned by the event loop and
// takes no locks.
type Registry struct {
	engine   media.Engine
	sessions map[string]*Session
	onChange func(ids []string)
	log      logrus.FieldLogger
}

func NewRegistry(engine media.Engine, log logrus.FieldLogger) *Registry {
	return &Registry{
		engine:   engine,
		sessions: make(map[string]*Session),
		log:      log.WithField("component", "sessions"),
	}
}

// OnChange registers fn to be called with the sorted identifiers after every
// insert or removal.
func (r *Registry) OnChange(fn func(ids []string)) {
	r.onChange = fn
}

// Create allocates a media branch for identifier and registers the session.
func (r *Registry) Create(identifier string, role Role, hooks Hooks) (*Session, error) {
	if _, ok := r.sessions[identifier]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, identifier)
	}

	gen := uuid.New()
	branch, err := r.engine.CreateBranch(identifier, r.events(identifier, gen, hooks))
	if err != nil {
		return nil, fmt.Errorf("failed to create media branch for %s: %w", identifier, err)
	}

	s := &Session{
		ID:         identifier,
		Role:       role,
		Branch:     branch,
		Generation: gen,
		CreatedAt:  time.Now(),
	}
	r.sessions[identifier] = s
	r.log.WithField("peer", identifier).Debugf("Session created as %s", role)
	r.changed()
	return s, nil
}

// events builds branch callbacks that capture only the key and generation.
func (r *Registry) events(identifier string, gen uuid.UUID, hooks Hooks) media.BranchEvents {
	if hooks == nil {
		return media.BranchEvents{}
	}
	return media.BranchEvents{
		NegotiationNeeded: func() {
			if s, ok := r.resolve(identifier, gen); ok {
				hooks.NegotiationNeeded(s)
			}
		},
		LocalCandidate: func(lineIndex uint16, candidate string) {
			if s, ok := r.resolve(identifier, gen); ok {
				hooks.LocalCandidate(s, lineIndex, candidate)
			}
		},
		Closed: func(reason string) {
			if s, ok := r.resolve(identifier, gen); ok {
				hooks.BranchClosed(s, reason)
			}
		},
	}
}

func (r *Registry) resolve(identifier string, gen uuid.UUID) (*Session, bool) {
	s, ok := r.sessions[identifier]
	if !ok || s.Generation != gen {
		r.log.WithField("peer", identifier).Debug("Dropping event for stale session")
		return nil, false
	}
	return s, true
}

func (r *Registry) Lookup(identifier string) (*Session, bool) {
	s, ok := r.sessions[identifier]
	return s, ok
}

// Remove unregisters identifier and destroys its branch. It reports whether a
// session was removed. The entry is gone before the branch is destroyed, so a
// nested Remove for the same identifier is a no-op.
func (r *Registry) Remove(identifier string) bool {
	s, ok := r.sessions[identifier]
	if !ok {
		return false
	}
	delete(r.sessions, identifier)

	if s.Branch != nil {
		if err := r.engine.DestroyBranch(s.Branch); err != nil {
			r.log.WithField("peer", identifier).Warnf("Failed to destroy media branch: %v", err)
		}
	}
	r.log.WithField("peer", identifier).Debug("Session removed")
	r.changed()
	return true
}

// Clear removes every session.
func (r *Registry) Clear() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}

func (r *Registry) Len() int { return len(r.sessions) }

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot describes every session, sorted by identifier.
func (r *Registry) Snapshot() []models.SessionStatus {
	out := make([]models.SessionStatus, 0, len(r.sessions))
	for _, id := range r.IDs() {
		s := r.sessions[id]
		out = append(out, models.SessionStatus{
			Identifier: s.ID,
			Role:       s.Role.String(),
			Phase:      s.phase.String(),
			Generation: s.Generation.String(),
			CreatedAt:  s.CreatedAt,
		})
	}
	return out
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange(r.IDs())
	}
}
