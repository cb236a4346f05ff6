package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken("secret", "cam-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.CameraID != "cam-1" || claims.Subject != "cam-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	valid, err := IssueToken("secret", "cam-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := IssueToken("secret", "cam-1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{CameraID: "cam-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", valid},
		{"expired", "secret", expired},
		{"unsigned", "secret", none},
		{"garbage", "secret", "not.a.token"},
		{"no secret configured", "", valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.secret, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseToken = %v, want ErrInvalidToken", err)
			}
		})
	}
}
