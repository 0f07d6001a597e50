package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeCredentialStore struct {
	calls chan struct{}
	err   error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{calls: make(chan struct{}, 1)}
}

func (f *fakeCredentialStore) PurgeExpired() error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.err
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartCredentialPurgeWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	credentials := newFakeCredentialStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startCredentialPurgeWorkerWithTicker(ctx, logger, credentials, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-credentials.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartCredentialPurgeWorkerStopIsIdempotent(t *testing.T) {
	ctx := context.Background()

	ticker := newManualTicker()
	credentials := newFakeCredentialStore()
	credentials.err = errors.New("store unavailable")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startCredentialPurgeWorkerWithTicker(ctx, logger, credentials, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-credentials.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to run even when the store errors")
	}

	stop()
	stop()

	select {
	case <-ticker.stopped:
	default:
		t.Fatal("expected ticker to stop")
	}
}

func TestStartCredentialPurgeWorkerNoopWithoutStore(t *testing.T) {
	stop := startCredentialPurgeWorker(context.Background(), nil, nil, time.Minute)
	stop()
	stop()
}
