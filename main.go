package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func setupLogging(level string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli})
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

func interfaceSource(config Configuration) InterfaceSource {
	if config.InterfaceSource == InterfaceSourceStatic {
		return NewStaticInterfaceSource(config.Interfaces)
	}
	return NewSystemInterfaceSource()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics: server failed")
		}
	}()
}

func runDaemon(configPath string) error {
	config, err := LoadConfiguration(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(config.LogLevel); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serveMetrics(ctx, config.MetricsAddr, reg)

	store, err := NewEtcdStore(config.Etcd)
	if err != nil {
		return errors.Wrap(err, "could not open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("could not close store")
		}
	}()

	ownedCtx, release, err := store.Own(ctx, config.Node)
	if err != nil {
		return errors.Wrap(err, "could not take ownership of store")
	}
	defer release()

	d := NewDaemon(config, store, interfaceSource(config), NewMetrics(reg))
	return d.Run(ownedCtx)
}

func submitEdits(configPath string, editsPath string, timeout time.Duration) error {
	config, err := LoadConfiguration(configPath)
	if err != nil {
		return err
	}
	if err := setupLogging(config.LogLevel); err != nil {
		return err
	}
	f, err := os.Open(editsPath)
	if err != nil {
		return errors.Wrap(err, "could not open edits")
	}
	defer f.Close()
	edits, err := DecodeEdits(f)
	if err != nil {
		return err
	}

	store, err := NewEtcdStore(config.Etcd)
	if err != nil {
		return errors.Wrap(err, "could not open store")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reply, err := store.Submit(ctx, NewCommitRequest(config.Node, edits))
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", reply.ID, reply.Result)
	if reply.Message != "" {
		fmt.Println(reply.Message)
	}
	if reply.Result != ResultOK.String() && reply.Result != ResultErrNoChanges.String() {
		return errors.Errorf("commit failed with %s", reply.Result)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "ospfnbd",
		Short:         "OSPF northbound configuration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/ospfnbd/ospfnbd.toml", "configuration file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}

	var editsPath string
	var timeout time.Duration
	commit := &cobra.Command{
		Use:   "commit",
		Short: "Submit a batch of configuration edits and wait for the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitEdits(configPath, editsPath, timeout)
		},
	}
	commit.Flags().StringVarP(&editsPath, "edits", "e", "", "TOML file with [[edit]] entries")
	commit.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the daemon")
	_ = commit.MarkFlagRequired("edits")

	sample := &cobra.Command{
		Use:   "sample",
		Short: "Print a sample configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return WriteSample(cmd.OutOrStdout())
		},
	}

	root.AddCommand(run, commit, sample)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("ospfnbd failed")
	}
}
