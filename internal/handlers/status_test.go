package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/auth"
	"github.com/mossy-p/webrtc-camera/internal/loop"
	"github.com/mossy-p/webrtc-camera/internal/models"
)

type stubCamera struct {
	status  models.CameraStatus
	err     error
	removed map[string]bool
	hungUp  []string
}

func (s *stubCamera) Snapshot(ctx context.Context) (models.CameraStatus, error) {
	return s.status, s.err
}

func (s *stubCamera) HangUp(ctx context.Context, peerID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.hungUp = append(s.hungUp, peerID)
	return s.removed[peerID], nil
}

func newTestRouter(cam Camera) (*gin.Engine, *config.Config) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JWTSecret:      "secret",
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	return NewRouter(cfg, cam), cfg
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(&stubCamera{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGetStatus(t *testing.T) {
	cam := &stubCamera{status: models.CameraStatus{
		CameraID:   "cam-1",
		Connection: "registered",
		Call:       "started",
		Sessions: []models.SessionStatus{
			{Identifier: "alice", Role: "offerer", Phase: "active", CreatedAt: time.Unix(0, 0).UTC()},
		},
	}}
	router, _ := newTestRouter(cam)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	var got models.CameraStatus
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Connection != "registered" || len(got.Sessions) != 1 || got.Sessions[0].Phase != "active" {
		t.Errorf("body = %+v", got)
	}
}

func TestGetStatusWhenStopped(t *testing.T) {
	router, _ := newTestRouter(&stubCamera{err: loop.ErrStopped})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHangUpSession(t *testing.T) {
	cam := &stubCamera{removed: map[string]bool{"alice": true}}
	router, cfg := newTestRouter(cam)

	token, err := auth.IssueToken(cfg.JWTSecret, "cam-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no token", "/api/sessions/alice", "", http.StatusUnauthorized},
		{"bad scheme", "/api/sessions/alice", "Token " + token, http.StatusUnauthorized},
		{"bad token", "/api/sessions/alice", "Bearer nope", http.StatusUnauthorized},
		{"unknown peer", "/api/sessions/bob", "Bearer " + token, http.StatusNotFound},
		{"removed", "/api/sessions/alice", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
		})
	}

	if len(cam.hungUp) != 2 {
		t.Errorf("camera saw %d hangups, want 2 authenticated ones", len(cam.hungUp))
	}
}

func TestOriginFilter(t *testing.T) {
	router, _ := newTestRouter(&stubCamera{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", w.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
