package app

import (
	"context"
	"slices"
	"testing"

	"github.com/dkeye/voicecall/internal/domain"
)

type stubConn struct {
	id     string
	sent   [][]byte
	closed bool
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) TrySend(data []byte) error {
	c.sent = append(c.sent, data)
	return nil
}

func (c *stubConn) Close() { c.closed = true }

func TestRegistryBindUnbind(t *testing.T) {
	r := NewRegistry()
	alice := domain.User{ID: "alice", Username: "Alice"}
	phone, laptop := &stubConn{id: "phone"}, &stubConn{id: "laptop"}

	if !r.Bind(alice, phone, nil) {
		t.Fatal("first bind not reported as first")
	}
	if r.Bind(alice, laptop, nil) {
		t.Fatal("second bind reported as first")
	}
	if got := len(r.Conns("alice")); got != 2 {
		t.Fatalf("conns = %d", got)
	}
	if u, ok := r.User("alice"); !ok || u.Username != "Alice" {
		t.Fatalf("user = %+v, %v", u, ok)
	}

	if r.Unbind("alice", phone) {
		t.Fatal("unbind with a connection left reported as last")
	}
	if r.Unbind("alice", phone) {
		t.Fatal("double unbind reported as last")
	}
	if !r.Unbind("alice", laptop) {
		t.Fatal("last unbind not reported")
	}
	if _, ok := r.User("alice"); ok {
		t.Fatal("user kept after last unbind")
	}
}

func TestRegistryAllAndOnline(t *testing.T) {
	r := NewRegistry()
	r.Bind(domain.User{ID: "carol"}, &stubConn{id: "c1"}, nil)
	r.Bind(domain.User{ID: "alice"}, &stubConn{id: "a1"}, nil)
	r.Bind(domain.User{ID: "bob"}, &stubConn{id: "b1"}, nil)
	r.Bind(domain.User{ID: "bob"}, &stubConn{id: "b2"}, nil)

	if got := len(r.All("bob")); got != 2 {
		t.Fatalf("all except bob = %d", got)
	}
	want := []domain.UserID{"alice", "bob", "carol"}
	if got := r.Online(); !slices.Equal(got, want) {
		t.Fatalf("online = %v", got)
	}
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	r.Bind(domain.User{ID: "alice"}, &stubConn{id: "a1"}, cancel1)
	r.Bind(domain.User{ID: "bob"}, &stubConn{id: "b1"}, cancel2)

	if r.Cancel("alice", "nope") {
		t.Fatal("canceled unknown connection")
	}
	if !r.Cancel("alice", "a1") {
		t.Fatal("cancel failed")
	}
	if ctx1.Err() == nil {
		t.Fatal("context not canceled")
	}
	if ctx2.Err() != nil {
		t.Fatal("other connection canceled")
	}
	r.CancelAll()
	if ctx2.Err() == nil {
		t.Fatal("CancelAll missed a connection")
	}
}
