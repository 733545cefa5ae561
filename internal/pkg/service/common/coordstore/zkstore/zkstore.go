// Package zkstore implements the coordstore.Store on top of ZooKeeper.
//
// The client of the go-zookeeper library reconnects automatically.
// Ephemeral nodes are removed by the server when the session expires.
package zkstore

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

type Config struct {
	Servers        []string      `configKey:"servers" configUsage:"ZooKeeper servers, host:port."`
	SessionTimeout time.Duration `configKey:"sessionTimeout" configUsage:"ZooKeeper session timeout, a crashed worker disappears after this time." validate:"required,minDuration=1s,maxDuration=5m"`
	Username       string        `configKey:"username" configUsage:"ZooKeeper digest username."`
	Password       string        `configKey:"password" configUsage:"ZooKeeper digest password." sensitive:"true"`
}

func NewConfig() Config {
	return Config{
		SessionTimeout: 60 * time.Second,
	}
}

func (c *Config) Normalize() {
	servers := c.Servers[:0]
	for _, server := range c.Servers {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}
	c.Servers = servers
}

type Store struct {
	conn *zk.Conn
	acl  []zk.ACL
}

// zkLogger routes messages of the ZooKeeper client to our logger.
type zkLogger struct {
	ctx    context.Context
	logger log.Logger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.logger.Debugf(l.ctx, format, args...)
}

// New connects to ZooKeeper. The connection is closed when the context is cancelled.
func New(ctx context.Context, logger log.Logger, cfg Config) (*Store, error) {
	cfg.Normalize()
	if len(cfg.Servers) == 0 {
		return nil, errors.New("zookeeper servers are not set")
	}

	logger = logger.WithComponent("zookeeper")
	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout, zk.WithLogger(zkLogger{ctx: ctx, logger: logger}))
	if err != nil {
		return nil, errors.Errorf("cannot connect to zookeeper: %w", err)
	}

	// Wait for the session
	if err := waitForSession(ctx, events); err != nil {
		conn.Close()
		return nil, err
	}

	s := &Store{conn: conn, acl: zk.WorldACL(zk.PermAll)}
	if cfg.Username != "" {
		auth := []byte(cfg.Username + ":" + cfg.Password)
		if err := conn.AddAuth("digest", auth); err != nil {
			conn.Close()
			return nil, errors.Errorf("cannot authenticate to zookeeper: %w", err)
		}
		s.acl = zk.DigestACL(zk.PermAll, cfg.Username, cfg.Password)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Type == zk.EventSession {
					logger.Infof(ctx, "zookeeper session state %s", event.State)
				}
			}
		}
	}()

	logger.Infof(ctx, `connected to zookeeper "%s"`, strings.Join(cfg.Servers, ","))
	return s, nil
}

func waitForSession(ctx context.Context, events <-chan zk.Event) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Errorf("cannot connect to zookeeper: %w", ctx.Err())
		case event, ok := <-events:
			if !ok {
				return errors.New("cannot connect to zookeeper: connection closed")
			}
			switch event.State {
			case zk.StateHasSession:
				return nil
			case zk.StateAuthFailed:
				return errors.New("cannot connect to zookeeper: authentication failed")
			default:
				// Wait for the next event
			}
		}
	}
}

func (s *Store) Create(ctx context.Context, p string, data []byte, mode coordstore.CreateMode) (string, error) {
	if err := check(ctx, p); err != nil {
		return "", err
	}

	var flags int32
	if mode.IsEphemeral() {
		flags |= zk.FlagEphemeral
	}
	if mode.IsSequential() {
		flags |= zk.FlagSequence
	}

	created, err := s.conn.Create(p, data, flags, s.acl)
	if err != nil {
		return "", wrapError("cannot create", p, err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, p string) ([]byte, coordstore.Stat, error) {
	if err := check(ctx, p); err != nil {
		return nil, coordstore.Stat{}, err
	}

	data, stat, err := s.conn.Get(p)
	if err != nil {
		return nil, coordstore.Stat{}, wrapError("cannot get", p, err)
	}
	if len(data) == 0 {
		data = nil
	}
	return data, mapStat(stat), nil
}

func (s *Store) Set(ctx context.Context, p string, data []byte, version int64) (coordstore.Stat, error) {
	if err := check(ctx, p); err != nil {
		return coordstore.Stat{}, err
	}

	stat, err := s.conn.Set(p, data, int32(version))
	if err != nil {
		return coordstore.Stat{}, wrapError("cannot set", p, err)
	}
	return mapStat(stat), nil
}

func (s *Store) Exists(ctx context.Context, p string) (coordstore.Stat, bool, error) {
	if err := check(ctx, p); err != nil {
		return coordstore.Stat{}, false, err
	}

	found, stat, err := s.conn.Exists(p)
	if err != nil {
		return coordstore.Stat{}, false, wrapError("cannot check", p, err)
	}
	if !found {
		return coordstore.Stat{}, false, nil
	}
	return mapStat(stat), true, nil
}

func (s *Store) Children(ctx context.Context, p string) ([]string, error) {
	if err := check(ctx, p); err != nil {
		return nil, err
	}

	children, _, err := s.conn.Children(p)
	if err != nil {
		return nil, wrapError("cannot list children of", p, err)
	}
	return children, nil
}

func (s *Store) Delete(ctx context.Context, p string, version int64) error {
	if err := check(ctx, p); err != nil {
		return err
	}

	if err := s.conn.Delete(p, int32(version)); err != nil {
		return wrapError("cannot delete", p, err)
	}
	return nil
}

// DeleteTree deletes the descendants first, depth-first.
func (s *Store) DeleteTree(ctx context.Context, p string) error {
	if err := check(ctx, p); err != nil {
		return err
	}

	children, err := s.Children(ctx, p)
	if errors.Is(err, coordstore.ErrNoNode) {
		return nil
	} else if err != nil {
		return err
	}

	for _, child := range children {
		if err := s.DeleteTree(ctx, path.Join(p, child)); err != nil {
			return err
		}
	}

	if p == coordstore.Separator {
		return nil
	}
	if err := s.Delete(ctx, p, coordstore.AnyVersion); err != nil && !errors.Is(err, coordstore.ErrNoNode) {
		return err
	}
	return nil
}

func check(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return coordstore.ValidatePath(p)
}

func mapStat(stat *zk.Stat) coordstore.Stat {
	if stat == nil {
		return coordstore.Stat{}
	}
	return coordstore.Stat{
		Version:   int64(stat.Version),
		Ctime:     time.UnixMilli(stat.Ctime).UTC(),
		Mtime:     time.UnixMilli(stat.Mtime).UTC(),
		Ephemeral: stat.EphemeralOwner != 0,
	}
}

func wrapError(op, p string, err error) error {
	var sentinel error
	switch {
	case errors.Is(err, zk.ErrNoNode):
		sentinel = coordstore.ErrNoNode
	case errors.Is(err, zk.ErrNodeExists):
		sentinel = coordstore.ErrNodeExists
	case errors.Is(err, zk.ErrBadVersion):
		sentinel = coordstore.ErrBadVersion
	case errors.Is(err, zk.ErrNotEmpty):
		sentinel = coordstore.ErrNotEmpty
	case errors.Is(err, zk.ErrSessionExpired), errors.Is(err, zk.ErrNoServer), errors.Is(err, zk.ErrConnectionClosed):
		sentinel = coordstore.ErrNoSession
	default:
		return errors.Errorf(`%s "%s": %w`, op, p, err)
	}
	return errors.Errorf(`%s "%s": %w`, op, p, sentinel)
}
