package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// EventIngestor feeds one kind of event into the daemon's event loop. Ingest
// closes ready once it receives events and then runs until ctx is done. An
// error returned before ready is closed aborts startup.
type EventIngestor[E any] interface {
	Ingest(ctx context.Context, d *Daemon, events chan<- E, ready chan<- struct{}) error
}

// startIngestor runs ingestor in the background and blocks until it is ready
// or has failed.
func startIngestor[E any](ctx context.Context, d *Daemon, name string, ingestor EventIngestor[E], events chan<- E, wg *sync.WaitGroup) error {
	ready := make(chan struct{})
	exited := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		exited <- ingestor.Ingest(ctx, d, events, ready)
	}()
	select {
	case <-ready:
		return nil
	case err := <-exited:
		select {
		case <-ready:
			return nil
		default:
		}
		if err == nil {
			return errors.Errorf("%s stopped before it was ready", name)
		}
		return errors.Wrapf(err, "could not start %s", name)
	}
}
