// Package camera ties the signalling connection, the state machine and the
// negotiation engine together on one event loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/loop"
	"github.com/mossy-p/webrtc-camera/internal/media"
	"github.com/mossy-p/webrtc-camera/internal/models"
	"github.com/mossy-p/webrtc-camera/internal/negotiation"
	"github.com/mossy-p/webrtc-camera/internal/session"
	"github.com/mossy-p/webrtc-camera/internal/signalling"
	"github.com/mossy-p/webrtc-camera/internal/state"
)

// ErrStartup marks failures that happen before the camera could serve peers:
// the server was unreachable, registration failed or the media pipeline did not
// start.
var ErrStartup = errors.New("camera: startup failed")

// Channel is the connection to the signalling server.
type Channel interface {
	Connect(ctx context.Context) error
	Send(msg models.SignalMessage) error
	Close() error
}

// Presence receives state and peer changes. Implementations must not block.
type Presence interface {
	PublishState(runID, connection, call string)
	PublishPeers(ids []string)
	Close()
}

type Deps struct {
	Loop  *loop.Loop
	Media media.Engine

	// Dial builds the signalling channel around the camera's handlers.
	Dial func(h signalling.Handlers) Channel

	// Presence is optional.
	Presence Presence
	Log      logrus.FieldLogger
}

// Camera owns all process state for one run. Everything except Run, Snapshot
// and HangUp executes on the event loop.
type Camera struct {
	id        string
	serverURL string
	runID     uuid.UUID

	loop     *loop.Loop
	media    media.Engine
	channel  Channel
	presence Presence
	state    *state.Machine
	sessions *session.Registry
	neg      *negotiation.Engine
	log      logrus.FieldLogger

	ctx          context.Context
	shutdownOnce sync.Once
	err          error
}

func New(cfg *config.Config, deps Deps) *Camera {
	c := &Camera{
		id:        cfg.CameraID,
		serverURL: cfg.ServerURL,
		runID:     uuid.New(),
		loop:      deps.Loop,
		media:     deps.Media,
		presence:  deps.Presence,
		ctx:       context.Background(),
	}
	c.log = deps.Log.WithFields(logrus.Fields{"camera": c.id, "run": c.runID.String()})

	c.channel = deps.Dial(signalling.Handlers{
		OnOpen: func() { c.loop.Post(c.opened) },
		OnMessage: func(data []byte) {
			c.loop.Post(func() { c.dispatch(data) })
		},
		OnClose: func(err error) {
			c.loop.Post(func() { c.closed(err) })
		},
	})

	c.state = state.New(c.log, c)
	c.sessions = session.NewRegistry(c.media, c.log)
	if c.presence != nil {
		c.sessions.OnChange(c.presence.PublishPeers)
	}
	c.neg = negotiation.New(c.media, c.sessions, c.state, c.channel, c.log)
	return c
}

func (c *Camera) RunID() string { return c.runID.String() }

// Run connects to the signalling server and processes events until the
// connection closes, a fatal error occurs or ctx is cancelled. It returns nil
// after an orderly close.
func (c *Camera) Run(ctx context.Context) error {
	c.ctx = ctx
	c.log.Infof("Starting camera, signalling server %s", c.serverURL)

	c.loop.Post(c.connect)
	if err := c.loop.Run(ctx); err != nil {
		c.log.Infof("Stopping: %v", err)
	}

	// Only reached with the loop stopped, so no other goroutine touches state.
	c.shutdown(nil)
	return c.err
}

// Snapshot reports the camera's state as seen from the event loop.
func (c *Camera) Snapshot(ctx context.Context) (models.CameraStatus, error) {
	var status models.CameraStatus
	err := c.loop.Do(ctx, func() {
		status = models.CameraStatus{
			CameraID:   c.id,
			RunID:      c.runID.String(),
			Connection: c.state.Connection().String(),
			Call:       c.state.Call().String(),
			Sessions:   c.sessions.Snapshot(),
		}
	})
	return status, err
}

// HangUp ends the session with peerID and notifies the server.
func (c *Camera) HangUp(ctx context.Context, peerID string) (bool, error) {
	var removed bool
	err := c.loop.Do(ctx, func() {
		removed = c.neg.HangUp(peerID, true)
	})
	return removed, err
}

// Fail ends the run with err. It must be called on the event loop.
func (c *Camera) Fail(err error) {
	failure := c.state.Fail()
	c.log.WithField("failure", failure.String()).Errorf("Fatal error: %v", err)
	if failure == state.FailureConnection || failure == state.FailureRegistration {
		err = fmt.Errorf("%w: %w", ErrStartup, err)
	}
	c.shutdown(fmt.Errorf("%s failure: %w", failure, err))
}

// StateChanged implements state.Observer.
func (c *Camera) StateChanged(conn state.ConnectionState, call state.CallState) {
	c.log.Infof("State: connection=%s call=%s", conn, call)
	if c.presence != nil {
		c.presence.PublishState(c.runID.String(), conn.String(), call.String())
	}
}

func (c *Camera) connect() {
	c.state.SetConnection(state.Connecting)
	ctx := c.ctx
	go func() {
		if err := c.channel.Connect(ctx); err != nil {
			c.loop.Post(func() {
				c.Fail(fmt.Errorf("failed to connect to %s: %w", c.serverURL, err))
			})
		}
	}()
}

func (c *Camera) opened() {
	if c.state.Connection() != state.Connecting {
		return
	}
	c.state.SetConnection(state.Connected)
	c.state.SetConnection(state.Registering)
	if err := c.channel.Send(models.NewJoinCamera(c.id)); err != nil {
		c.Fail(fmt.Errorf("failed to send %s: %w", models.CommandJoinCamera, err))
		return
	}
	c.log.Info("Registering with signalling server")
}

func (c *Camera) registered() {
	if c.state.Connection() != state.Registering {
		c.log.Warnf("Ignoring %s while %s", models.CommandJoinedCamera, c.state.Connection())
		return
	}
	c.state.SetConnection(state.Registered)
	c.log.Info("Registered")

	if err := c.media.Start(c.ctx); err != nil {
		c.Fail(fmt.Errorf("%w: media pipeline: %v", ErrStartup, err))
	}
}

func (c *Camera) closed(err error) {
	if err != nil {
		c.Fail(err)
		return
	}
	c.log.Info("Signalling connection closed")
	c.shutdown(nil)
}

// shutdown releases everything once. cause is nil for an orderly close.
func (c *Camera) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.err = cause

		c.sessions.Clear()
		if call := c.state.Call(); call != state.CallIdle && call != state.CallError {
			c.state.SetCall(state.CallStopped)
		}
		if c.state.Connection() != state.ConnectionError && c.state.Connection() != state.RegistrationError {
			c.state.SetConnection(state.Closed)
		}
		if err := c.channel.Close(); err != nil {
			c.log.Warnf("Failed to close signalling channel: %v", err)
		}
		if err := c.media.Close(); err != nil {
			c.log.Warnf("Failed to close media pipeline: %v", err)
		}
		if c.presence != nil {
			c.presence.Close()
		}
		c.loop.Stop()
		c.log.Info("Shut down")
	})
}
