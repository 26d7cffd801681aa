package main

import (
	"context"
	"sync"
	"testing"
)

type stoppedIngestor struct{}

func (stoppedIngestor) Ingest(ctx context.Context, d *Daemon, events chan<- int, ready chan<- struct{}) error {
	return nil
}

type readyIngestor struct{}

func (readyIngestor) Ingest(ctx context.Context, d *Daemon, events chan<- int, ready chan<- struct{}) error {
	close(ready)
	<-ctx.Done()
	return nil
}

func TestStartIngestor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := new(sync.WaitGroup)

	if err := startIngestor[int](ctx, nil, "stopped", stoppedIngestor{}, make(chan int), wg); err == nil {
		t.Errorf("startIngestor(stopped) = nil; want error")
	}
	if err := startIngestor[int](ctx, nil, "ready", readyIngestor{}, make(chan int), wg); err != nil {
		t.Errorf("startIngestor(ready) = %v; want nil", err)
	}
	cancel()
	wg.Wait()
}
