package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const EtcdOwnerSuffix = "/owner"

// Own makes the daemon the only one serving the store prefix. It blocks
// until ownership is won and returns a context that is cancelled when it is
// lost, together with a function that gives it up.
func (s *EtcdStore) Own(ctx context.Context, node string) (context.Context, func(), error) {
	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(int(s.timeout.Seconds())+1))
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create session")
	}
	election := concurrency.NewElection(session, s.prefix+EtcdOwnerSuffix)
	log.Info().Str("node", node).Msg("owner: campaigning")
	if err := election.Campaign(ctx, node); err != nil {
		_ = session.Close()
		return nil, nil, errors.Wrap(err, "campaign failed")
	}
	log.Info().Str("key", election.Key()).Msg("owner: got elected")

	ownedCtx, cancel := context.WithCancel(ctx)
	go func() {
		observeChan := election.Observe(ownedCtx)
		for {
			select {
			case <-ownedCtx.Done():
				return
			case <-session.Done():
				log.Error().Msg("owner: session expired")
				cancel()
				return
			case value, ok := <-observeChan:
				if !ok {
					return
				}
				if len(value.Kvs) > 0 && string(value.Kvs[0].Value) == node {
					continue
				}
				log.Error().Msg("owner: lost election")
				cancel()
				return
			}
		}
	}()

	release := func() {
		cancel()
		resignCtx, cancelResign := context.WithTimeout(context.Background(), s.timeout)
		defer cancelResign()
		if err := election.Resign(resignCtx); err != nil {
			log.Error().Err(err).Msg("owner: failed to resign")
		}
		if err := session.Close(); err != nil {
			log.Error().Err(err).Msg("owner: failed to close session")
		}
	}
	return ownedCtx, release, nil
}
