package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zacharie/internal/audit"
	"zacharie/internal/core"
	"zacharie/internal/reconcile"
)

func newVerifyCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every stored carcass status matches its derived status",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			svc, err := a.service(a.cfg.StorageConfig())
			if err != nil {
				return err
			}
			found, err := svc.VerifyDerivations(cmd.Context())
			if err != nil {
				return err
			}
			for _, inc := range found {
				fmt.Fprintln(a.out, inc.Error())
			}
			if len(found) > 0 {
				return fmt.Errorf("%d carcass status inconsistencies", len(found))
			}
			fmt.Fprintln(a.out, "all carcass statuses match their dispositions")
			return nil
		}),
	}
}

func newArchiveCmd(run runner) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "archive-audit [numero...]",
		Short: "Copy audit trails not yet archived to the object store",
		Long:  "Copies the audit entries of the given FEIs, or of every stored FEI, that are missing from the archive.",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			svc, err := a.service(a.cfg.StorageConfig())
			if err != nil {
				return err
			}
			archive, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			numeros := args
			if len(numeros) == 0 {
				if numeros, err = svc.ListFeiNumeros(cmd.Context()); err != nil {
					return err
				}
			}
			total, err := archiveAll(cmd.Context(), archive, svc, numeros, concurrency)
			fmt.Fprintf(a.out, "archived %d audit entries from %d FEIs\n", total, len(numeros))
			return err
		}),
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "FEIs archived in parallel")
	return cmd
}

func archiveAll(ctx context.Context, archive *audit.Archive, src audit.Source, numeros []string, concurrency int) (int64, error) {
	var total atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, numero := range numeros {
		g.Go(func() error {
			n, err := archive.ArchiveFei(ctx, src, numero)
			if err != nil {
				return fmt.Errorf("archive %s: %w", numero, err)
			}
			total.Add(int64(n))
			return nil
		})
	}
	err := g.Wait()
	return total.Load(), err
}

func newLoadReferenceCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "load-reference FILE",
		Short: "Load entities, users and relations from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var data core.ReferenceData
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			svc, err := a.service(a.cfg.StorageConfig())
			if err != nil {
				return err
			}
			if _, err := svc.LoadReferenceData(cmd.Context(), data); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "loaded %d entities, %d users, %d relations\n", len(data.Entities), len(data.Users), len(data.Relations))
			return nil
		}),
	}
}

func newSyncCmd(run runner) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued device changes to the server and pull its state",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
			if a.cfg.Sync.UserID == "" {
				return errors.New("sync.user_id is required")
			}
			if a.cfg.Sync.RemoteDSN == "" {
				return errors.New("sync.remote_dsn is required")
			}
			archive, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			sink := audit.NewSink(archive, a.logger)

			device := a.cfg.StorageConfig()
			device.Outbox = true
			local, err := a.service(device, core.WithAuditSink(sink))
			if err != nil {
				return err
			}
			remote, err := a.service(core.StorageConfig{Driver: core.StoragePostgres, PostgresDSN: a.cfg.Sync.RemoteDSN})
			if err != nil {
				return err
			}
			engine := reconcile.NewEngine(local, reconcile.NewServiceTransport(remote), a.cfg.Sync.UserID,
				reconcile.WithLogger(a.logger), reconcile.WithObserver(a.metrics))

			if once {
				report, err := engine.Sync(cmd.Context())
				fmt.Fprintf(a.out, "accepted %d, conflicts %d, rejected %d, failed %d\n", len(report.Accepted), len(report.Conflicts), len(report.Rejected), len(report.Failed))
				return errors.Join(err, sink.Flush(cmd.Context()))
			}
			return a.runSyncLoop(cmd.Context(), engine, sink)
		}),
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sync round and exit")
	return cmd
}

// runSyncLoop runs the sync worker until interrupted, alongside the audit
// flusher, the custody subscription and the metrics endpoint when they are
// configured.
func (a *app) runSyncLoop(ctx context.Context, engine *reconcile.Engine, sink *audit.Sink) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := reconcile.NewWorker(engine, a.cfg.WorkerConfig(), a.logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return sink.Run(ctx, a.cfg.Audit.FlushInterval) })

	if bus := a.bus(); bus != nil {
		g.Go(func() error {
			err := bus.Subscribe(ctx, func(event core.CustodyEvent) {
				a.logger.Debug("custody event received", "type", event.Type, "fei_numero", event.FeiNumero)
				worker.Notify()
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.logger.Info("sync loop started", "user_id", a.cfg.Sync.UserID)
	return g.Wait()
}
