package signalling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	transporttest "github.com/pion/transport/v3/test"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/models"
)

func testConfig() config.SignallingConfig {
	return config.SignallingConfig{
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     time.Second,
		PongWait:         5 * time.Second,
		PingPeriod:       4 * time.Second,
		SendQueue:        8,
	}
}

// mockServer upgrades every request and hands the connection to serve.
func mockServer(t *testing.T, serve func(r *http.Request, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		serve(r, conn)
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientExchange(t *testing.T) {
	defer transporttest.CheckRoutines(t)()

	received := make(chan models.SignalMessage, 1)
	auth := make(chan string, 1)
	srv := mockServer(t, func(r *http.Request, conn *websocket.Conn) {
		auth <- r.Header.Get("Authorization")

		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("server read failed: %v", err)
			return
		}
		received <- msg

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"JOINED_CAMERA"}`)); err != nil {
			t.Errorf("server write failed: %v", err)
			return
		}
		// Wait for the client's close frame.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	log, _ := test.NewNullLogger()
	opened := make(chan struct{})
	messages := make(chan []byte, 1)
	closed := make(chan error, 1)

	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	c := NewClient(wsURL(srv), header, testConfig(), Handlers{
		OnOpen:    func() { close(opened) },
		OnMessage: func(data []byte) { messages <- data },
		OnClose:   func(err error) { closed <- err },
	}, log)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-opened:
	default:
		t.Fatal("OnOpen should run before Connect returns")
	}
	if got := <-auth; got != "Bearer token" {
		t.Errorf("Authorization = %q", got)
	}

	if err := c.Send(models.NewJoinCamera("cam-1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg := <-received
	if msg.Command != models.CommandJoinCamera || msg.Identifier != "cam-1" {
		t.Errorf("server received %+v", msg)
	}

	select {
	case data := <-messages:
		var in models.SignalMessage
		if err := json.Unmarshal(data, &in); err != nil || in.Command != models.CommandJoinedCamera {
			t.Errorf("client received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received a message")
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := c.Send(models.NewHangUp("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	select {
	case err := <-closed:
		t.Errorf("OnClose called for a local close: %v", err)
	default:
	}
}

func TestClientServerClose(t *testing.T) {
	tests := []struct {
		name    string
		close   func(conn *websocket.Conn)
		wantErr bool
	}{
		{
			name: "normal close",
			close: func(conn *websocket.Conn) {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			},
		},
		{
			name:    "dropped",
			close:   func(conn *websocket.Conn) { conn.UnderlyingConn().Close() },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mockServer(t, func(_ *http.Request, conn *websocket.Conn) { tt.close(conn) })
			defer srv.Close()

			log, _ := test.NewNullLogger()
			closed := make(chan error, 2)
			c := NewClient(wsURL(srv), nil, testConfig(), Handlers{
				OnClose: func(err error) { closed <- err },
			}, log)
			if err := c.Connect(context.Background()); err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			select {
			case err := <-closed:
				if (err != nil) != tt.wantErr {
					t.Errorf("OnClose(%v), wantErr %v", err, tt.wantErr)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("OnClose never called")
			}

			c.Close()
			if len(closed) != 0 {
				t.Error("OnClose called more than once")
			}
			if err := c.Send(models.NewHangUp("x")); !errors.Is(err, ErrClosed) {
				t.Errorf("Send after server close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestCloseRacingConnect(t *testing.T) {
	defer transporttest.CheckRoutines(t)()

	srv := mockServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	log, _ := test.NewNullLogger()
	closeDone := make(chan struct{})
	var c *Client
	c = NewClient(wsURL(srv), nil, testConfig(), Handlers{
		OnOpen: func() {
			go func() {
				c.Close()
				close(closeDone)
			}()
		},
	}, log)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-closeDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Close never returned")
	}
	// Both pumps must be gone once Close has returned.
	c.wg.Wait()
}

func TestSendQueueFull(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.SendQueue = 1
	c := NewClient("ws://127.0.0.1:1", nil, cfg, Handlers{}, log)

	if err := c.Send(models.NewJoinCamera("cam")); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := c.Send(models.NewJoinCamera("cam")); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("second Send = %v, want ErrSendQueueFull", err)
	}
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	c := NewClient(wsURL(srv), nil, testConfig(), Handlers{}, log)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect should fail when the upgrade is refused")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry the status: %v", err)
	}
}
