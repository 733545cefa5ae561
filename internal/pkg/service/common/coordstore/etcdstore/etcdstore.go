// Package etcdstore implements the coordstore.Store on top of etcd v3.
//
// Each node is one etcd key "node<path>", the value is a JSON envelope with the payload and timestamps.
// Ephemeral nodes are bound to the lease of the current ResistantSession.
// Sequence numbers are taken from the version of the "seq<parent>" key.
//
// Etcd does not provide a server time, so the timestamps are taken from the clock of the writing client.
package etcdstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/keboola/schedule-coordinator/internal/pkg/log"
	"github.com/keboola/schedule-coordinator/internal/pkg/service/common/coordstore"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

const (
	nodePrefix = "node"
	seqPrefix  = "seq"
)

type Store struct {
	client *etcd.Client
	clock  clockwork.Clock

	lock    sync.RWMutex
	session *concurrency.Session
}

type envelope struct {
	Data  []byte `json:"d,omitempty"`
	Ctime int64  `json:"c"`
	Mtime int64  `json:"m"`
}

type Option func(s *Store)

func WithClock(v clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = v
	}
}

// New creates the store and waits for the first session.
// The session is closed when the context is cancelled, the wait group waits for it.
func New(ctx context.Context, wg *sync.WaitGroup, logger log.Logger, client *etcd.Client, sessionTTL time.Duration, opts ...Option) (*Store, error) {
	s := &Store{client: client, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}

	ttlSeconds := int(sessionTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	errCh := ResistantSession(ctx, wg, logger, client, ttlSeconds, func(session *concurrency.Session) error {
		s.lock.Lock()
		s.session = session
		s.lock.Unlock()
		return nil
	})
	if err := <-errCh; err != nil {
		return nil, errors.Errorf("cannot create etcd store: %w", err)
	}

	return s, nil
}

func (s *Store) Create(ctx context.Context, path string, data []byte, mode coordstore.CreateMode) (string, error) {
	if err := coordstore.ValidatePath(path); err != nil {
		return "", err
	}
	if path == coordstore.Separator {
		return "", errors.Errorf(`cannot create "%s": %w`, path, coordstore.ErrNodeExists)
	}

	parent := coordstore.Parent(path)
	if mode.IsSequential() {
		resp, err := s.client.Put(ctx, seqKey(parent), "", etcd.WithPrevKV())
		if err != nil {
			return "", errors.Errorf(`cannot create "%s": cannot get sequence: %w`, path, err)
		}
		seq := int64(0)
		if resp.PrevKv != nil {
			seq = resp.PrevKv.Version
		}
		path += fmt.Sprintf(coordstore.SequenceFormat, seq)
	}

	var putOpts []etcd.OpOption
	if mode.IsEphemeral() {
		session, err := s.currentSession()
		if err != nil {
			return "", errors.Errorf(`cannot create "%s": %w`, path, err)
		}
		putOpts = append(putOpts, etcd.WithLease(session.Lease()))
	}

	now := s.clock.Now().UnixMilli()
	value, err := encodeEnvelope(envelope{Data: data, Ctime: now, Mtime: now})
	if err != nil {
		return "", err
	}

	key := nodeKey(path)
	cmps := []etcd.Cmp{etcd.Compare(etcd.CreateRevision(key), "=", 0)}
	if parent != coordstore.Separator {
		cmps = append(cmps, etcd.Compare(etcd.CreateRevision(nodeKey(parent)), ">", 0))
	}

	resp, err := s.client.Txn(ctx).
		If(cmps...).
		Then(etcd.OpPut(key, value, putOpts...)).
		Else(etcd.OpGet(key, etcd.WithCountOnly())).
		Commit()
	if err != nil {
		return "", errors.Errorf(`cannot create "%s": %w`, path, err)
	}
	if !resp.Succeeded {
		if resp.Responses[0].GetResponseRange().Count > 0 {
			return "", errors.Errorf(`cannot create "%s": %w`, path, coordstore.ErrNodeExists)
		}
		return "", errors.Errorf(`cannot create "%s", parent: %w`, path, coordstore.ErrNoNode)
	}

	return path, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, coordstore.Stat, error) {
	kv, err := s.get(ctx, path)
	if err != nil {
		return nil, coordstore.Stat{}, err
	}
	if kv == nil {
		return nil, coordstore.Stat{}, errors.Errorf(`cannot get "%s": %w`, path, coordstore.ErrNoNode)
	}
	return decodeNode(kv)
}

func (s *Store) Set(ctx context.Context, path string, data []byte, version int64) (coordstore.Stat, error) {
	for {
		kv, err := s.get(ctx, path)
		if err != nil {
			return coordstore.Stat{}, err
		}
		if kv == nil {
			return coordstore.Stat{}, errors.Errorf(`cannot set "%s": %w`, path, coordstore.ErrNoNode)
		}

		_, stat, err := decodeNode(kv)
		if err != nil {
			return coordstore.Stat{}, err
		}
		if version != coordstore.AnyVersion && version != stat.Version {
			return coordstore.Stat{}, errors.Errorf(`cannot set "%s": expected version %d, found %d: %w`, path, version, stat.Version, coordstore.ErrBadVersion)
		}

		now := s.clock.Now().UnixMilli()
		value, err := encodeEnvelope(envelope{Data: data, Ctime: stat.Ctime.UnixMilli(), Mtime: now})
		if err != nil {
			return coordstore.Stat{}, err
		}

		key := nodeKey(path)
		resp, err := s.client.Txn(ctx).
			If(etcd.Compare(etcd.ModRevision(key), "=", kv.ModRevision)).
			Then(etcd.OpPut(key, value, etcd.WithIgnoreLease())).
			Commit()
		if err != nil {
			return coordstore.Stat{}, errors.Errorf(`cannot set "%s": %w`, path, err)
		}
		if resp.Succeeded {
			stat.Version++
			stat.Mtime = time.UnixMilli(now).UTC()
			return stat, nil
		}

		// The node has been modified concurrently, check the version again
	}
}

func (s *Store) Exists(ctx context.Context, path string) (coordstore.Stat, bool, error) {
	kv, err := s.get(ctx, path)
	if err != nil || kv == nil {
		return coordstore.Stat{}, false, err
	}
	_, stat, err := decodeNode(kv)
	if err != nil {
		return coordstore.Stat{}, false, err
	}
	return stat, true, nil
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := coordstore.ValidatePath(path); err != nil {
		return nil, err
	}

	key := nodeKey(path)
	prefix := key + coordstore.Separator
	resp, err := s.client.Txn(ctx).
		Then(
			etcd.OpGet(key, etcd.WithCountOnly()),
			etcd.OpGet(prefix, etcd.WithPrefix(), etcd.WithKeysOnly()),
		).
		Commit()
	if err != nil {
		return nil, errors.Errorf(`cannot list children of "%s": %w`, path, err)
	}
	if path != coordstore.Separator && resp.Responses[0].GetResponseRange().Count == 0 {
		return nil, errors.Errorf(`cannot list children of "%s": %w`, path, coordstore.ErrNoNode)
	}

	var out []string
	for _, kv := range resp.Responses[1].GetResponseRange().Kvs {
		name := strings.TrimPrefix(string(kv.Key), prefix)
		if !strings.Contains(name, coordstore.Separator) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, path string, version int64) error {
	if err := coordstore.ValidatePath(path); err != nil {
		return err
	}

	key := nodeKey(path)
	children, err := s.client.Get(ctx, key+coordstore.Separator, etcd.WithPrefix(), etcd.WithCountOnly())
	if err != nil {
		return errors.Errorf(`cannot delete "%s": %w`, path, err)
	}
	if children.Count > 0 {
		return errors.Errorf(`cannot delete "%s": %w`, path, coordstore.ErrNotEmpty)
	}

	cmps := []etcd.Cmp{etcd.Compare(etcd.CreateRevision(key), ">", 0)}
	if version != coordstore.AnyVersion {
		// Etcd version starts at 1
		cmps = append(cmps, etcd.Compare(etcd.Version(key), "=", version+1))
	}

	resp, err := s.client.Txn(ctx).
		If(cmps...).
		Then(etcd.OpDelete(key)).
		Else(etcd.OpGet(key, etcd.WithCountOnly())).
		Commit()
	if err != nil {
		return errors.Errorf(`cannot delete "%s": %w`, path, err)
	}
	if !resp.Succeeded {
		if resp.Responses[0].GetResponseRange().Count == 0 {
			return errors.Errorf(`cannot delete "%s": %w`, path, coordstore.ErrNoNode)
		}
		return errors.Errorf(`cannot delete "%s": expected version %d: %w`, path, version, coordstore.ErrBadVersion)
	}
	return nil
}

func (s *Store) DeleteTree(ctx context.Context, path string) error {
	if err := coordstore.ValidatePath(path); err != nil {
		return err
	}

	var ops []etcd.Op
	if path == coordstore.Separator {
		ops = append(ops,
			etcd.OpDelete(nodePrefix+coordstore.Separator, etcd.WithPrefix()),
			etcd.OpDelete(seqPrefix+coordstore.Separator, etcd.WithPrefix()),
		)
	} else {
		ops = append(ops,
			etcd.OpDelete(nodeKey(path)),
			etcd.OpDelete(nodeKey(path)+coordstore.Separator, etcd.WithPrefix()),
			etcd.OpDelete(seqKey(path)),
			etcd.OpDelete(seqKey(path)+coordstore.Separator, etcd.WithPrefix()),
		)
	}

	if _, err := s.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return errors.Errorf(`cannot delete tree "%s": %w`, path, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, path string) (*mvccpb.KeyValue, error) {
	if err := coordstore.ValidatePath(path); err != nil {
		return nil, err
	}
	resp, err := s.client.Get(ctx, nodeKey(path))
	if err != nil {
		return nil, errors.Errorf(`cannot get "%s": %w`, path, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0], nil
}

func (s *Store) currentSession() (*concurrency.Session, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.session == nil {
		return nil, coordstore.ErrNoSession
	}
	select {
	case <-s.session.Done():
		return nil, coordstore.ErrNoSession
	default:
		return s.session, nil
	}
}

func nodeKey(path string) string {
	if path == coordstore.Separator {
		return nodePrefix
	}
	return nodePrefix + path
}

func seqKey(path string) string {
	if path == coordstore.Separator {
		return seqPrefix
	}
	return seqPrefix + path
}

func encodeEnvelope(v envelope) (string, error) {
	bytes, err := jsoniter.ConfigFastest.Marshal(v)
	if err != nil {
		return "", errors.Errorf("cannot encode node: %w", err)
	}
	return string(bytes), nil
}

func decodeNode(kv *mvccpb.KeyValue) ([]byte, coordstore.Stat, error) {
	var v envelope
	if err := jsoniter.ConfigFastest.Unmarshal(kv.Value, &v); err != nil {
		return nil, coordstore.Stat{}, errors.Errorf(`cannot decode node "%s": %w`, string(kv.Key), err)
	}
	stat := coordstore.Stat{
		Version:   kv.Version - 1,
		Ctime:     time.UnixMilli(v.Ctime).UTC(),
		Mtime:     time.UnixMilli(v.Mtime).UTC(),
		Ephemeral: kv.Lease != 0,
	}
	if len(v.Data) == 0 {
		return nil, stat, nil
	}
	return v.Data, stat, nil
}
