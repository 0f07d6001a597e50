package server

import (
	"testing"
	"time"

	"github.com/diprog/systemd-panel/internal/testsupport/redisstub"
)

func TestRedisStoreAllow(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	store := newRedisStore(srv.Addr(), "secret", time.Second)
	allowed, retry, err := store.Allow("login:test", 2, time.Minute)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("first allow unexpected: allowed=%v retry=%v err=%v", allowed, retry, err)
	}
	allowed, _, err = store.Allow("login:test", 2, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("second allow unexpected: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err = store.Allow("login:test", 2, time.Minute)
	if err != nil {
		t.Fatalf("third allow err: %v", err)
	}
	if allowed {
		t.Fatal("expected throttle on third attempt")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry, got %v", retry)
	}

	// A different key has its own window.
	allowed, _, err = store.Allow("login:other", 2, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("unrelated key throttled: allowed=%v err=%v", allowed, err)
	}
}

func TestRedisStoreRejectsBadPassword(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	store := newRedisStore(srv.Addr(), "wrong", time.Second)
	if _, _, err := store.Allow("login:test", 2, time.Minute); err == nil {
		t.Fatal("expected auth failure")
	}
}
