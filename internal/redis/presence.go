package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout = 2 * time.Second
	writeBacklog = 64
)

// Presence publishes the camera's state under camera:<id> and its connected
// peers under camera:<id>:peers. Writes are applied in order on a background
// goroutine; callers never block on Redis. A nil *Presence is a valid no-op.
type Presence struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	log    logrus.FieldLogger

	writes chan func(ctx context.Context) error
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func StateKey(cameraID string) string { return "camera:" + cameraID }
func PeersKey(cameraID string) string { return "camera:" + cameraID + ":peers" }

func NewPresence(client redis.Cmdable, cameraID string, ttl time.Duration, log logrus.FieldLogger) *Presence {
	p := &Presence{
		client: client,
		key:    cameraID,
		ttl:    ttl,
		log:    log.WithField("component", "presence"),
		writes: make(chan func(ctx context.Context) error, writeBacklog),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishState records the connection and call state.
func (p *Presence) PublishState(runID, connection, call string) {
	if p == nil {
		return
	}
	key := StateKey(p.key)
	p.enqueue(func(ctx context.Context) error {
		_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"run_id", runID,
				"connection", connection,
				"call", call,
				"updated_at", time.Now().UTC().Format(time.RFC3339),
			)
			pipe.Expire(ctx, key, p.ttl)
			return nil
		})
		return err
	})
}

// PublishPeers replaces the published peer set.
func (p *Presence) PublishPeers(ids []string) {
	if p == nil {
		return
	}
	key := PeersKey(p.key)
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	p.enqueue(func(ctx context.Context) error {
		_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(members) > 0 {
				pipe.SAdd(ctx, key, members...)
				pipe.Expire(ctx, key, p.ttl)
			}
			return nil
		})
		return err
	})
}

// Close drains pending writes, deletes both keys and stops the writer.
func (p *Presence) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.writes)
	p.mu.Unlock()
	<-p.done

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.client.Del(ctx, StateKey(p.key), PeersKey(p.key)).Err(); err != nil {
		p.log.Warnf("Failed to clear presence: %v", err)
	}
}

func (p *Presence) enqueue(write func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.writes <- write:
	default:
		p.log.Warn("Presence backlog full, dropping write")
	}
}

func (p *Presence) run() {
	defer close(p.done)
	for write := range p.writes {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := write(ctx); err != nil {
			p.log.Warnf("Presence write failed: %v", err)
		}
		cancel()
	}
}
