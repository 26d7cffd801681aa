package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type Daemon struct {
	Config          Configuration
	store           ConfigStore
	interfaces      InterfaceSource
	scheduler       *TaskScheduler
	router          *Router
	northbound      *Northbound
	metrics         *Metrics
	revision        int
	requestIngestor RequestEventIngestor
}

func NewDaemon(config Configuration, store ConfigStore, interfaces InterfaceSource, metrics *Metrics) *Daemon {
	scheduler := NewTaskScheduler()
	engine := NewDeferredEngine(scheduler, config.SPFDelay.Duration, config.ASBRDelay.Duration, metrics)
	router := NewRouter(engine)
	northbound := NewNorthbound(router, config.BindingContext(), metrics)
	northbound.RegisterAll(OSPFCallbacks())
	return &Daemon{
		Config:          config,
		store:           store,
		interfaces:      interfaces,
		scheduler:       scheduler,
		router:          router,
		northbound:      northbound,
		metrics:         metrics,
		requestIngestor: RequestEventIngestor{},
	}
}

// Setup discovers interfaces and replays the persisted running
// configuration.
func (d *Daemon) Setup(ctx context.Context) error {
	infos, err := d.interfaces.Interfaces(ctx)
	if err != nil {
		return errors.Wrap(err, "could not discover interfaces")
	}
	for _, info := range infos {
		d.router.AddInterface(info)
	}

	running, err := d.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load running configuration")
	}
	d.revision = running.Revision
	if len(running.Edits) == 0 {
		log.Info().Int("interfaces", len(infos)).Msg("daemon: starting with empty configuration")
		return nil
	}
	err = d.northbound.CommitEdits(running.Edits)
	if !ResultOf(err).Success() {
		return errors.Wrap(err, "could not restore running configuration")
	}
	log.Info().Int("interfaces", len(infos)).Int("revision", d.revision).Msg("daemon: restored running configuration")
	return nil
}

// Commit applies edits and persists the resulting running configuration.
func (d *Daemon) Commit(ctx context.Context, edits []Edit) error {
	before := d.northbound.Running()
	err := d.northbound.CommitEdits(edits)
	if d.northbound.Running() == before {
		return err
	}
	for _, e := range LeafDiff(before, d.northbound.Running()) {
		log.Debug().Str("op", string(e.Op)).Str("xpath", e.XPath).Str("value", e.Value).Msg("daemon: running configuration changed")
	}
	saveErr := d.store.Save(ctx, d.revision, d.northbound.Running().Leaves())
	if saveErr != nil {
		log.Error().Err(saveErr).Int("revision", d.revision).Msg("daemon: could not persist running configuration")
		return multierr.Append(err, errors.Wrap(saveErr, "could not persist running configuration"))
	}
	d.revision++
	return err
}

func (d *Daemon) handleRequest(ctx context.Context, req CommitRequest) {
	reply := replyFor(req.ID, d.Commit(ctx, req.Edits))
	d.metrics.RequestsHandled.WithLabelValues(reply.Result).Inc()
	log.Info().Str("id", req.ID).Str("result", reply.Result).Msg("daemon: handled request")
	if err := d.store.Reply(ctx, reply); err != nil {
		log.Error().Err(err).Str("id", req.ID).Msg("daemon: could not reply")
	}
}

// Run serializes commit requests and fired timer tasks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Setup(ctx); err != nil {
		return err
	}

	requestChan := make(chan CommitRequest)
	timerChan := make(chan TimerEvent)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg := new(sync.WaitGroup)
	err := startIngestor[CommitRequest](ctx, d, "request-watcher", d.requestIngestor, requestChan, wg)
	if err == nil {
		err = startIngestor[TimerEvent](ctx, d, "timer", d.scheduler, timerChan, wg)
	}
	if err != nil {
		cancel()
		d.scheduler.Stop()
		wg.Wait()
		return err
	}
	log.Info().Uint16("instance", d.Config.Instance).Msg("daemon: running")

	for {
		select {
		case <-ctx.Done():
			d.scheduler.Stop()
			wg.Wait()
			log.Info().Msg("daemon: exiting")
			return nil
		case req := <-requestChan:
			d.handleRequest(ctx, req)
		case event := <-timerChan:
			d.scheduler.Run(event)
		}
	}
}
