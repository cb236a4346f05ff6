package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-camera/internal/auth"
)

func newEngine(h ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(h...)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("camera_id"))
	})
	return r
}

func TestOriginFilter(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    int
	}{
		{"no origin header", []string{"http://a"}, "", http.StatusOK},
		{"listed origin", []string{"http://a"}, "http://a", http.StatusOK},
		{"foreign origin", []string{"http://a"}, "http://b", http.StatusForbidden},
		{"wildcard", []string{"*"}, "http://b", http.StatusOK},
		{"nothing allowed", nil, "http://a", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(OriginFilter(tt.allowed))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && tt.origin != "" {
				if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.origin {
					t.Errorf("Allow-Origin = %q", got)
				}
			}
		})
	}
}

func TestJWTAuthSetsCameraID(t *testing.T) {
	token, err := auth.IssueToken("secret", "cam-7", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	r := newEngine(JWTAuth("secret"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "cam-7" {
		t.Errorf("got %d %q", w.Code, w.Body)
	}
}
