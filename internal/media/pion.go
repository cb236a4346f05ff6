package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Options configures a Pion engine.
type Options struct {
	ICEServers []string

	// LoggerFactory receives pion's internal logs. Nil uses pion's default.
	LoggerFactory logging.LoggerFactory

	// SourceFailed is posted when the shared source stops with an error after
	// Start.
	SourceFailed func(err error)
}

// Pion implements Engine with one PeerConnection per branch, all sending the
// same local track.
type Pion struct {
	api    *webrtc.API
	pcConf webrtc.Configuration
	source Source
	post   Post
	opts   Options
	log    logrus.FieldLogger

	mu       sync.Mutex
	branches map[string]*pionBranch
	seq      uint64
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type pionBranch struct {
	id         string
	identifier string
	pc         *webrtc.PeerConnection
	events     BranchEvents
	log        *logrus.Entry
	destroyed  atomic.Bool

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (b *pionBranch) ID() string { return b.id }

// NewPion builds the webrtc API for payload. Nothing is opened until Start.
func NewPion(payload Payload, source Source, post Post, opts Options, log logrus.FieldLogger) (*Pion, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(payload.Codec, payload.Kind); err != nil {
		return nil, fmt.Errorf("failed to register codec: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var pcConf webrtc.Configuration
	if len(opts.ICEServers) > 0 {
		pcConf.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &Pion{
		api:      api,
		pcConf:   pcConf,
		source:   source,
		post:     post,
		opts:     opts,
		log:      log.WithField("component", "media"),
		branches: make(map[string]*pionBranch),
	}, nil
}

func (e *Pion) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.source.Run(runCtx)
		if err == nil || runCtx.Err() != nil {
			return
		}
		e.log.Errorf("Media source stopped: %v", err)
		if e.opts.SourceFailed != nil {
			e.post(func() { e.opts.SourceFailed(err) })
		}
	}()

	e.log.Info("Media pipeline started")
	return nil
}

func (e *Pion) CreateBranch(identifier string, events BranchEvents) (Branch, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	e.seq++
	id := fmt.Sprintf("%s#%d", identifier, e.seq)
	e.mu.Unlock()

	pc, err := e.api.NewPeerConnection(e.pcConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	b := &pionBranch{
		id:         id,
		identifier: identifier,
		pc:         pc,
		events:     events,
		log:        e.log.WithField("branch", id),
	}

	// Must be registered before the track is added or the first event is lost.
	pc.OnNegotiationNeeded(func() {
		e.post(func() {
			if b.destroyed.Load() || b.events.NegotiationNeeded == nil {
				return
			}
			b.events.NegotiationNeeded()
		})
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		var idx uint16
		if cand.SDPMLineIndex != nil {
			idx = *cand.SDPMLineIndex
		}
		e.post(func() {
			if b.destroyed.Load() || b.events.LocalCandidate == nil {
				return
			}
			b.events.LocalCandidate(idx, cand.Candidate)
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		b.log.Debugf("Peer connection state: %s", s)
		if s != webrtc.PeerConnectionStateFailed && s != webrtc.PeerConnectionStateClosed {
			return
		}
		e.post(func() {
			if b.destroyed.Load() || b.events.Closed == nil {
				return
			}
			b.events.Closed(s.String())
		})
	})

	sender, err := pc.AddTrack(e.source.Track())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to attach track: %w", err)
	}
	go b.readRTCP(sender)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		b.destroyed.Store(true)
		_ = pc.Close()
		return nil, ErrClosed
	}
	e.branches[id] = b
	e.mu.Unlock()

	b.log.Debug("Branch created")
	return b, nil
}

func (e *Pion) DestroyBranch(br Branch) error {
	b, err := e.branch(br)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		// Close already owns every branch it found.
		e.mu.Unlock()
		return nil
	}
	delete(e.branches, b.id)
	e.wg.Add(1)
	e.mu.Unlock()

	b.destroyed.Store(true)
	go func() {
		defer e.wg.Done()
		if err := b.pc.Close(); err != nil {
			b.log.Warnf("Failed to close peer connection: %v", err)
		}
	}()
	b.log.Debug("Branch destroyed")
	return nil
}

func (e *Pion) CreateOffer(br Branch, done func(Description, error)) {
	e.createDescription(br, TypeOffer, done)
}

func (e *Pion) CreateAnswer(br Branch, done func(Description, error)) {
	e.createDescription(br, TypeAnswer, done)
}

func (e *Pion) createDescription(br Branch, typ DescriptionType, done func(Description, error)) {
	b, err := e.branch(br)
	if err != nil {
		e.post(func() { done(Description{}, err) })
		return
	}

	go func() {
		var sd webrtc.SessionDescription
		var err error
		if typ == TypeOffer {
			sd, err = b.pc.CreateOffer(nil)
		} else {
			sd, err = b.pc.CreateAnswer(nil)
		}
		e.post(func() {
			if b.destroyed.Load() {
				done(Description{}, ErrUnknownBranch)
				return
			}
			if err != nil {
				done(Description{}, err)
				return
			}
			done(fromPion(sd), nil)
		})
	}()
}

func (e *Pion) SetLocalDescription(br Branch, desc Description, done func(error)) {
	b, err := e.branch(br)
	if err != nil {
		e.post(func() { done(err) })
		return
	}

	go func() {
		err := b.pc.SetLocalDescription(toPion(desc))
		e.post(func() { done(b.complete(err)) })
	}()
}

func (e *Pion) SetRemoteDescription(br Branch, desc Description, done func(error)) {
	b, err := e.branch(br)
	if err != nil {
		e.post(func() { done(err) })
		return
	}

	go func() {
		err := b.pc.SetRemoteDescription(toPion(desc))
		if err == nil {
			b.flushCandidates()
		}
		e.post(func() { done(b.complete(err)) })
	}()
}

func (e *Pion) AddRemoteCandidate(br Branch, lineIndex uint16, candidate string) error {
	b, err := e.branch(br)
	if err != nil {
		return err
	}

	ci := webrtc.ICECandidateInit{Candidate: candidate, SDPMLineIndex: &lineIndex}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.remoteSet {
		b.pending = append(b.pending, ci)
		return nil
	}
	if err := b.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

func (e *Pion) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	branches := make([]*pionBranch, 0, len(e.branches))
	for _, b := range e.branches {
		branches = append(branches, b)
	}
	e.branches = make(map[string]*pionBranch)
	cancel := e.cancel
	e.mu.Unlock()

	var errs []error
	for _, b := range branches {
		b.destroyed.Store(true)
		if err := b.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("branch %s: %w", b.id, err))
		}
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.log.Info("Media pipeline stopped")
	return errors.Join(errs...)
}

func (e *Pion) branch(br Branch) (*pionBranch, error) {
	b, ok := br.(*pionBranch)
	if !ok || b == nil {
		return nil, ErrUnknownBranch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.branches[b.id] != b {
		return nil, ErrUnknownBranch
	}
	return b, nil
}

// complete maps a completion on a destroyed branch to ErrUnknownBranch.
func (b *pionBranch) complete(err error) error {
	if b.destroyed.Load() {
		return ErrUnknownBranch
	}
	return err
}

func (b *pionBranch) flushCandidates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remoteSet = true
	for _, c := range b.pending {
		if err := b.pc.AddICECandidate(c); err != nil {
			b.log.Warnf("Failed to add buffered remote candidate: %v", err)
		}
	}
	b.pending = nil
}

func (b *pionBranch) readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				b.log.Debugf("PLI for ssrc %d", p.MediaSSRC)
			case *rtcp.FullIntraRequest:
				b.log.Debugf("FIR for ssrc %d", p.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				b.log.Tracef("REMB %.0f bps", p.Bitrate)
			}
		}
	}
}

func toPion(d Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(d.Type)), SDP: d.SDP}
}

func fromPion(sd webrtc.SessionDescription) Description {
	return Description{Type: DescriptionType(sd.Type.String()), SDP: sd.SDP}
}
