package etcdstore

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
)

// ResistantSession creates an etcd session with retries.
// If there is a longer network outage and the session expires, then a new session is created.
// Ephemeral nodes of the expired session are deleted by etcd together with the lease.
//
// Each session creation is reported via the onSession callback.
// The callback must not be blocking.
//
// The ResistantSession function waits for:
// - The first session creation.
// - The first keep-alive request.
// - The completion of the first OnSession callback call.
//
// Any initialization error is reported via the error channel.
// After successful initialization, a new session is created after each failure until the context ends.
func ResistantSession(ctx context.Context, wg *sync.WaitGroup, logger log.Logger, client *etcd.Client, ttlSeconds int, onSession func(session *concurrency.Session) error) <-chan error {
	b := newSessionBackoff()
	startTime := time.Now()
	logger = logger.WithComponent("etcd.session")
	logger.Info(ctx, `creating etcd session`)

	wg.Add(1)
	initDone := make(chan error, 1)
	initDoneOut := initDone
	go func() {
		defer wg.Done()
		for {
			// Wait before re-creation attempt, except the initialization
			if initDone == nil {
				delay := b.NextBackOff()
				logger.Infof(ctx, "re-creating etcd session, backoff delay %s", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}

			session, err := concurrency.NewSession(client, concurrency.WithTTL(ttlSeconds))
			if err != nil {
				if initDone == nil {
					logger.Errorf(ctx, `cannot create etcd session: %s`, err)
					continue
				}
				initDone <- err
				close(initDone)
				return
			}

			// Check connection, wait for the first keep-alive
			if initDone != nil {
				if _, err = session.Client().KeepAliveOnce(ctx, session.Lease()); err != nil {
					_ = session.Close()
					initDone <- err
					close(initDone)
					return
				}
			}

			b.Reset()
			logger.WithDuration(time.Since(startTime)).Info(ctx, "created etcd session")

			// Start session dependent work
			if err := onSession(session); err != nil {
				if initDone == nil {
					logger.Errorf(ctx, `etcd session callback failed: %s`, err)
				} else {
					_ = session.Close()
					initDone <- err
					close(initDone)
					return
				}
			}

			// Mark initialization done
			if initDone != nil {
				close(initDone)
				initDone = nil
			}

			select {
			case <-ctx.Done():
				startTime := time.Now()
				logger.Info(context.Background(), "closing etcd session")
				if err := session.Close(); err != nil {
					logger.Warnf(context.Background(), "cannot close etcd session: %s", err)
				} else {
					logger.WithDuration(time.Since(startTime)).Info(context.Background(), "closed etcd session")
				}
				return
			case <-session.Done():
				// Re-create ...
				startTime = time.Now()
			}
		}
	}()

	return initDoneOut
}

func newSessionBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 1 * time.Minute
	b.MaxElapsedTime = 0 // never stop
	b.Reset()
	return b
}
