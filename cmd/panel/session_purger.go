package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type credentialPurger interface {
	PurgeExpired() error
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) purgeTicker

// startCredentialPurgeWorker periodically discards expired sessions and
// unredeemed challenges so the auth store does not grow without bound.
func startCredentialPurgeWorker(ctx context.Context, logger *slog.Logger, credentials credentialPurger, interval time.Duration) func() {
	return startCredentialPurgeWorkerWithTicker(ctx, logger, credentials, interval, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startCredentialPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	credentials credentialPurger,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if credentials == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := credentials.PurgeExpired(); err != nil && logger != nil {
					logger.Error("failed to purge expired credentials", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
