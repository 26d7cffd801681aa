package main

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// https://stackoverflow.com/questions/22892120/how-to-generate-a-random-string-of-a-fixed-length-in-go
var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func RandStringRunes(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

var testEdits = []Edit{
	{Op: EditSet, XPath: testOSPF + "/write-multiplier", Value: "30"},
	{Op: EditSet, XPath: ifOSPF("eth0") + "/area", Value: "0.0.0.0"},
}

// testStores returns the in-memory store and, if OSPFNBD_TEST_ETCD names an
// endpoint, an etcd store below a fresh prefix.
func testStores(t *testing.T) map[string]ConfigStore {
	stores := map[string]ConfigStore{"memory": NewMemoryStore()}
	endpoint := os.Getenv("OSPFNBD_TEST_ETCD")
	if endpoint == "" {
		return stores
	}
	config := EtcdConfig{
		Endpoints: []string{endpoint},
		Prefix:    "/ospfnbd-test-" + RandStringRunes(10),
		Timeout:   Duration{5 * time.Second},
	}
	s, err := NewEtcdStore(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := s.client.Delete(context.Background(), config.Prefix, clientv3.WithPrefix())
		if err != nil {
			t.Errorf("s.client.Delete(ctx, %q, clientv3.WithPrefix()) = %v; want nil", config.Prefix, err)
		}
		_ = s.Close()
	})
	stores["etcd"] = s
	return stores
}

func TestStoreSaveLoad(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			running, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, running.Revision)
			assert.Empty(t, running.Edits)

			require.NoError(t, s.Save(ctx, 0, testEdits))
			err = s.Save(ctx, 0, testEdits[:1])
			assert.True(t, errors.Is(err, ErrTransactionFailed))

			running, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, running.Revision)
			assert.Equal(t, testEdits, running.Edits)

			require.NoError(t, s.Save(ctx, 1, nil))
			running, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, running.Revision)
			assert.Empty(t, running.Edits)
		})
	}
}

func TestStoreSubmitReply(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			requests, err := s.Requests(ctx)
			require.NoError(t, err)

			go func() {
				select {
				case req := <-requests:
					if err := s.Reply(ctx, CommitReply{ID: req.ID, Result: ResultOK.String()}); err != nil {
						t.Errorf("s.Reply(ctx, %s) = %v; want nil", req.ID, err)
					}
				case <-ctx.Done():
				}
			}()

			req := NewCommitRequest("node-test", testEdits)
			reply, err := s.Submit(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, CommitReply{ID: req.ID, Result: "ok"}, reply)
		})
	}
}

func TestMemoryStoreReplyWithoutRequest(t *testing.T) {
	s := NewMemoryStore()
	assert.Error(t, s.Reply(context.Background(), CommitReply{ID: "unknown"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < cap(s.requests); i++ {
		s.requests <- CommitRequest{}
	}
	_, err := s.Submit(ctx, NewCommitRequest("node-test", nil))
	assert.ErrorIs(t, err, context.Canceled)
}
