// Package signalling is the websocket connection to the signalling server.
package signalling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/models"
)

var (
	ErrSendQueueFull = errors.New("signalling: send queue full")
	ErrClosed        = errors.New("signalling: connection closed")
)

// Handlers are called from the client's goroutines. OnOpen runs before the
// first OnMessage. OnClose runs at most once, only when the connection ends
// without a local Close; err is nil for a normal close by the server.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Client is a single websocket connection. It does not reconnect.
type Client struct {
	url      string
	header   http.Header
	cfg      config.SignallingConfig
	handlers Handlers
	log      logrus.FieldLogger

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(url string, header http.Header, cfg config.SignallingConfig, handlers Handlers, log logrus.FieldLogger) *Client {
	return &Client{
		url:      url,
		header:   header,
		cfg:      cfg,
		handlers: handlers,
		log:      log.WithField("component", "signalling"),
		send:     make(chan []byte, cfg.SendQueue),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts the pumps. It blocks for at most the
// handshake timeout.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	// Added under mu so a Close that already saw closed never races wg.Wait.
	c.wg.Add(2)
	c.mu.Unlock()

	c.log.Infof("Connected to %s", c.url)
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	go c.writePump(conn)
	go c.readPump(conn)
	return nil
}

// Send queues msg for the write pump.
func (c *Client) Send(msg models.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close flushes queued messages, sends a close frame and waits for the pumps
// to exit.
func (c *Client) Close() error {
	c.terminate()

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(c.cfg.WriteTimeout + time.Second):
		c.log.Warn("Close timed out waiting for pumps")
	}
	return nil
}

// terminate stops both pumps. It reports whether this call did so.
func (c *Client) terminate() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return first
}

// lost handles a read or write failure.
func (c *Client) lost(conn *websocket.Conn, err error) {
	if !c.terminate() {
		return
	}
	conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info("Server closed the connection")
		err = nil
	} else {
		c.log.Errorf("Connection lost: %v", err)
		err = fmt.Errorf("signalling connection lost: %w", err)
	}
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(err)
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		c.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, websocket.TextMessage, message); err != nil {
				c.lost(conn, err)
				return
			}

		case <-ticker.C:
			if err := c.write(conn, websocket.PingMessage, nil); err != nil {
				c.lost(conn, err)
				return
			}

		case <-c.done:
			c.flush(conn)
			c.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before the client closed.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case message := <-c.send:
			if err := c.write(conn, websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}
