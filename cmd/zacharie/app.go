package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"zacharie/internal/audit"
	"zacharie/internal/blob"
	"zacharie/internal/config"
	"zacharie/internal/core"
	"zacharie/internal/infra/notify"
	"zacharie/internal/logging"
	"zacharie/internal/metrics"
)

// app holds what every command shares. Components are opened lazily so a
// command only touches the backends it needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	out      io.Writer

	closers []io.Closer
	notify  *notify.RedisBus
	tracer  *core.JSONTraceTracer
}

func newApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.New(cfg.LoggingConfig(), nil)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
		out:      cmd.OutOrStdout(),
		closers:  []io.Closer{closer},
	}, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (a *app) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// service opens storage behind a service reporting to the shared logger,
// metrics, tracer and custody bus.
func (a *app) service(storage core.StorageConfig, extra ...core.Option) (*core.Service, error) {
	tracer, err := a.traces()
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(storage, core.NewDefaultRulesEngine(a.cfg.Rules.Strict))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", storage.Driver, err)
	}
	a.track(store)
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(a.metrics),
	}
	if tracer != nil {
		opts = append(opts, core.WithTracer(tracer))
	}
	if bus := a.bus(); bus != nil {
		opts = append(opts, core.WithNotifier(bus))
	}
	return core.NewService(store, append(opts, extra...)...), nil
}

func (a *app) archive(ctx context.Context) (*audit.Archive, error) {
	store, err := blob.Open(ctx, a.cfg.BlobConfig())
	if err != nil {
		return nil, fmt.Errorf("open audit archive: %w", err)
	}
	return audit.NewArchive(store, audit.WithObserver(a.metrics)), nil
}

// traces returns nil when no trace file is configured. Both services of a
// sync share the file.
func (a *app) traces() (*core.JSONTraceTracer, error) {
	path := a.cfg.Tracing.File
	if path == "" || a.tracer != nil {
		return a.tracer, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	a.closers = append(a.closers, f)
	a.tracer = core.NewJSONTracer(f)
	return a.tracer, nil
}

// bus returns nil when no redis address is configured.
func (a *app) bus() *notify.RedisBus {
	opts := a.cfg.RedisOptions()
	if opts == nil {
		return nil
	}
	if a.notify == nil {
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client)
		a.notify = notify.NewRedisBus(client, a.cfg.Redis.Channel, a.logger)
	}
	return a.notify
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "zacharie",
		Short:         "Chain of custody for wild game carcasses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default ./zacharie.yaml)")

	run := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd, configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()
			if err := fn(cmd, a, args); err != nil {
				a.logger.Error(cmd.Name()+" failed", "error", err)
				return err
			}
			return nil
		}
	}

	root.AddCommand(
		newVerifyCmd(run),
		newArchiveCmd(run),
		newLoadReferenceCmd(run),
		newSyncCmd(run),
	)
	return root
}

type runner func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error
