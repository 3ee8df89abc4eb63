package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
)

func TestIssueVerify(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	raw, err := iss.Issue(domain.User{ID: "alice", Username: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := iss.Verify(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "alice" || u.Username != "Alice" {
		t.Fatalf("user = %+v", u)
	}
}

func TestVerifyRejects(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	good, _ := iss.Issue(domain.User{ID: "alice"})

	expired := NewIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue(domain.User{ID: "alice"})

	other, _ := NewIssuer("other", time.Hour).Issue(domain.User{ID: "alice"})

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", other},
		{"expired", old},
		{"tampered", good + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iss.Verify(tt.raw); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestVerifyDefaultsUsername(t *testing.T) {
	iss := NewIssuer("secret", 0)
	raw, _ := iss.Issue(domain.User{ID: "bob"})
	u, err := iss.Verify(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "bob" {
		t.Fatalf("username = %q", u.Username)
	}
}

func TestPeek(t *testing.T) {
	raw, err := NewIssuer("whatever", time.Hour).Issue(domain.User{ID: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	uid, err := Peek(raw)
	if err != nil {
		t.Fatal(err)
	}
	if uid != "bob" {
		t.Fatalf("uid = %q", uid)
	}
	if _, err := Peek("nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: %v", err)
	}
}
