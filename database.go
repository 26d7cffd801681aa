package main

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3 "go.etcd.io/etcd/client/v3"
)

const (
	EtcdRunningSuffix  = "/running"
	EtcdRevisionSuffix = "/revision"
	EtcdRequestPrefix  = "/request/"
	EtcdReplyPrefix    = "/reply/"
)

// RunningConfig is the persisted running configuration. Revision counts
// saves and guards against concurrent writers.
type RunningConfig struct {
	Revision int
	Edits    []Edit
}

// ConfigStore persists the running configuration and carries commit
// requests and their replies between the CLI and the daemon.
type ConfigStore interface {
	Load(ctx context.Context) (RunningConfig, error)
	// Save replaces the running configuration if it is still at revision.
	Save(ctx context.Context, revision int, edits []Edit) error
	Requests(ctx context.Context) (<-chan CommitRequest, error)
	Reply(ctx context.Context, reply CommitReply) error
	Submit(ctx context.Context, req CommitRequest) (CommitReply, error)
	Close() error
}

type EtcdStore struct {
	client  *v3.Client
	prefix  string
	timeout time.Duration
}

func NewEtcdStore(config EtcdConfig) (*EtcdStore, error) {
	client, err := v3.New(v3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.Timeout.Duration,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create etcd client")
	}
	return &EtcdStore{client: client, prefix: strings.TrimSuffix(config.Prefix, "/"), timeout: config.Timeout.Duration}, nil
}

func (s *EtcdStore) Close() error {
	return errors.Wrap(s.client.Close(), "could not close client")
}

func (s *EtcdStore) Load(ctx context.Context) (RunningConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Txn(ctx).Then(
		v3.OpGet(s.prefix+EtcdRunningSuffix),
		v3.OpGet(s.prefix+EtcdRevisionSuffix),
	).Commit()
	if err != nil {
		return RunningConfig{}, errors.Wrap(err, "could not get from etcd")
	}

	config := RunningConfig{}
	if kvs := resp.Responses[0].GetResponseRange().Kvs; len(kvs) > 0 {
		var doc editDocument
		if err := toml.Unmarshal(kvs[0].Value, &doc); err != nil {
			return RunningConfig{}, errors.Wrap(err, "could not decode running configuration")
		}
		config.Edits = doc.Edits
	}
	if kvs := resp.Responses[1].GetResponseRange().Kvs; len(kvs) > 0 {
		config.Revision, err = strconv.Atoi(string(kvs[0].Value))
		if err != nil || config.Revision < 0 {
			return RunningConfig{}, errors.New("invalid revision")
		}
	}
	log.Debug().Int("revision", config.Revision).Int("leaves", len(config.Edits)).Msg("store: loaded running configuration")
	return config, nil
}

func (s *EtcdStore) Save(ctx context.Context, revision int, edits []Edit) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := toml.Marshal(editDocument{Edits: edits})
	if err != nil {
		return errors.Wrap(err, "could not encode running configuration")
	}

	revisionKey := s.prefix + EtcdRevisionSuffix
	var condition v3.Cmp
	if revision == 0 {
		condition = v3.Compare(v3.CreateRevision(revisionKey), "=", 0)
	} else {
		condition = v3.Compare(v3.Value(revisionKey), "=", strconv.Itoa(revision))
	}

	resp, err := s.client.Txn(ctx).If(condition).Then(
		v3.OpPut(s.prefix+EtcdRunningSuffix, string(value)),
		v3.OpPut(revisionKey, strconv.Itoa(revision+1)),
	).Commit()
	if err != nil {
		return errors.Wrap(err, "could not put to etcd")
	}
	if !resp.Succeeded {
		return ErrTransactionFailed
	}
	log.Debug().Int("revision", revision+1).Msg("store: saved running configuration")
	return nil
}

func (s *EtcdStore) requestFromKv(kv *mvccpb.KeyValue) (CommitRequest, error) {
	var req CommitRequest
	if err := toml.Unmarshal(kv.Value, &req); err != nil {
		return req, errors.Wrapf(err, "could not decode request %s", string(kv.Key))
	}
	id := strings.TrimPrefix(string(kv.Key), s.prefix+EtcdRequestPrefix)
	if req.ID != id {
		return req, errors.Errorf("request id %q does not match key %s", req.ID, string(kv.Key))
	}
	return req, nil
}

// Requests returns pending requests followed by new ones as they arrive.
func (s *EtcdStore) Requests(ctx context.Context) (<-chan CommitRequest, error) {
	prefix := s.prefix + EtcdRequestPrefix
	getCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.client.Get(getCtx, prefix, v3.WithPrefix())
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "could not get from etcd")
	}

	requests := make(chan CommitRequest)
	watchChan := s.client.Watch(ctx, prefix, v3.WithPrefix(), v3.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(requests)
		send := func(kv *mvccpb.KeyValue) bool {
			req, err := s.requestFromKv(kv)
			if err != nil {
				log.Error().Err(err).Msg("request-watcher: ignoring request")
				return true
			}
			select {
			case requests <- req:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, kv := range resp.Kvs {
			if !send(kv) {
				return
			}
		}
		for e := range watchChan {
			if err := e.Err(); err != nil {
				log.Error().Err(err).Msg("request-watcher: watch failed")
				return
			}
			for _, ev := range e.Events {
				if ev.Type != v3.EventTypePut {
					continue
				}
				if !send(ev.Kv) {
					return
				}
			}
		}
	}()
	return requests, nil
}

// Reply removes the request and publishes its reply atomically.
func (s *EtcdStore) Reply(ctx context.Context, reply CommitReply) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := toml.Marshal(reply)
	if err != nil {
		return errors.Wrap(err, "could not encode reply")
	}
	_, err = s.client.Txn(ctx).Then(
		v3.OpDelete(s.prefix+EtcdRequestPrefix+reply.ID),
		v3.OpPut(s.prefix+EtcdReplyPrefix+reply.ID, string(value)),
	).Commit()
	return errors.Wrap(err, "could not put to etcd")
}

// Submit publishes a request and waits for the daemon's reply.
func (s *EtcdStore) Submit(ctx context.Context, req CommitRequest) (CommitReply, error) {
	value, err := toml.Marshal(req)
	if err != nil {
		return CommitReply{}, errors.Wrap(err, "could not encode request")
	}
	putCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.client.Put(putCtx, s.prefix+EtcdRequestPrefix+req.ID, string(value))
	cancel()
	if err != nil {
		return CommitReply{}, errors.Wrap(err, "could not put to etcd")
	}

	replyKey := s.prefix + EtcdReplyPrefix + req.ID
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	for e := range s.client.Watch(watchCtx, replyKey, v3.WithRev(resp.Header.Revision+1)) {
		if err := e.Err(); err != nil {
			return CommitReply{}, errors.Wrap(err, "could not watch reply")
		}
		for _, ev := range e.Events {
			if ev.Type != v3.EventTypePut {
				continue
			}
			var reply CommitReply
			if err := toml.Unmarshal(ev.Kv.Value, &reply); err != nil {
				return CommitReply{}, errors.Wrap(err, "could not decode reply")
			}
			delCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if _, err := s.client.Delete(delCtx, replyKey); err != nil {
				log.Error().Err(err).Str("id", req.ID).Msg("store: could not delete reply")
			}
			cancel()
			return reply, nil
		}
	}
	if ctx.Err() != nil {
		return CommitReply{}, errors.Wrap(ctx.Err(), "no reply received")
	}
	return CommitReply{}, errors.New("reply watch closed")
}

// MemoryStore is a ConfigStore kept in process memory.
type MemoryStore struct {
	lock     *sync.Mutex
	running  RunningConfig
	requests chan CommitRequest
	replies  map[string]chan CommitReply
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lock:     &sync.Mutex{},
		requests: make(chan CommitRequest, 16),
		replies:  make(map[string]chan CommitReply),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (RunningConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	edits := make([]Edit, len(s.running.Edits))
	copy(edits, s.running.Edits)
	return RunningConfig{Revision: s.running.Revision, Edits: edits}, nil
}

func (s *MemoryStore) Save(ctx context.Context, revision int, edits []Edit) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running.Revision != revision {
		return ErrTransactionFailed
	}
	s.running = RunningConfig{Revision: revision + 1, Edits: append([]Edit(nil), edits...)}
	return nil
}

func (s *MemoryStore) Requests(ctx context.Context) (<-chan CommitRequest, error) {
	return s.requests, nil
}

func (s *MemoryStore) Reply(ctx context.Context, reply CommitReply) error {
	s.lock.Lock()
	ch, ok := s.replies[reply.ID]
	delete(s.replies, reply.ID)
	s.lock.Unlock()
	if !ok {
		return errors.Errorf("no pending request %s", reply.ID)
	}
	ch <- reply
	return nil
}

func (s *MemoryStore) Submit(ctx context.Context, req CommitRequest) (CommitReply, error) {
	ch := make(chan CommitReply, 1)
	s.lock.Lock()
	s.replies[req.ID] = ch
	s.lock.Unlock()

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return CommitReply{}, ctx.Err()
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return CommitReply{}, ctx.Err()
	}
}

func (s *MemoryStore) Close() error {
	return nil
}
