package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Hour)
	p := models.Principal{ID: "u1", Role: models.RoleDriver}
	tok, err := m.Issue(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestVerifyRejects(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, _ := m.Issue(models.Principal{ID: "u1", Role: models.RolePassenger})

	other := NewManager("other", time.Hour)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	expired := NewManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue(models.Principal{ID: "u1", Role: models.RolePassenger})
	if _, err := m.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}

	admin := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, _ := admin.SignedString([]byte("secret"))
	if _, err := m.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown role: expected ErrInvalidToken, got %v", err)
	}

	if _, err := m.Issue(models.Principal{ID: "x", Role: "admin"}); err == nil {
		t.Fatal("issued a token for an unknown role")
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := BearerToken(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("BearerToken(%q) = %q, %v", c.in, got, ok)
		}
	}
}
