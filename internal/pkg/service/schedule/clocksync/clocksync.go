// Package clocksync provides a clock synchronized with the coordination store.
//
// On creation, a marker node is created and its creation time, recorded by the store, is compared with the local time.
// All expiration checks then use the local clock shifted by the measured offset.
package clocksync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/key"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/schedule/scheduleerr"
)

// MaxSkew is the offset above which a warning is logged.
const MaxSkew = 5 * time.Second

type Clock struct {
	clock clockwork.Clock
	skew  time.Duration
}

type config struct {
	clock clockwork.Clock
}

type Option func(c *config)

func WithClock(v clockwork.Clock) Option {
	return func(c *config) {
		c.clock = v
	}
}

func New(ctx context.Context, logger log.Logger, store coordstore.Store, scheme key.Scheme, opts ...Option) (*Clock, error) {
	cfg := config{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(&cfg)
	}

	logger = logger.WithComponent("clock")

	if err := coordstore.EnsurePath(ctx, store, scheme.Root()); err != nil {
		return nil, scheduleerr.WrapStore("create root", err)
	}

	localBase := cfg.clock.Now()
	marker, err := store.Create(ctx, scheme.TimeMarker(), nil, coordstore.EphemeralSequential)
	if err != nil {
		return nil, scheduleerr.WrapStore("create time marker", err)
	}

	_, stat, err := store.Get(ctx, marker)
	if err != nil {
		return nil, scheduleerr.WrapStore("read time marker", err)
	}

	if err := store.Delete(ctx, marker, coordstore.AnyVersion); err != nil && !coordstore.IsNoNode(err) {
		return nil, scheduleerr.WrapStore("delete time marker", err)
	}

	c := &Clock{clock: cfg.clock, skew: stat.Ctime.Sub(localBase)}
	if c.skew.Abs() > MaxSkew {
		logger.With(attribute.String("skew", c.skew.String())).Warnf(ctx, `local clock differs from the store clock by "%s"`, c.skew)
	} else {
		logger.Debugf(ctx, `clock synchronized, skew "%s"`, c.skew)
	}

	return c, nil
}

// NewForTest returns a clock without an offset.
func NewForTest(clock clockwork.Clock) *Clock {
	return &Clock{clock: clock}
}

// Now returns the synchronized time.
func (c *Clock) Now() time.Time {
	return c.clock.Now().Add(c.skew)
}

func (c *Clock) NowMillis() int64 {
	return c.Now().UnixMilli()
}

// Skew is the store time minus the local time, measured on creation.
func (c *Clock) Skew() time.Duration {
	return c.skew
}

// Local returns the underlying local clock, it is used for timers.
func (c *Clock) Local() clockwork.Clock {
	return c.clock
}
