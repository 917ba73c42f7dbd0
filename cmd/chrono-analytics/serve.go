package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linksmith/chrono-scraper-sub007/internal/compact"
	"github.com/linksmith/chrono-scraper-sub007/internal/events"
)

// serveCmd runs the pipeline as a long-lived process: periodic sync,
// background compaction, the event buffer with its system sampler, and
// the Prometheus metrics endpoint.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run sync, compaction and event collection until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			buf := events.NewBuffer(a.st, a.opts, a.cfg.Events, a.log)
			host, _ := os.Hostname()
			sampler := events.NewSystemSampler(buf, a.cfg.Events.SampleInterval, host, a.log)
			mgr := compact.New(a.st, a.cfg.Compaction, a.opts, a.log)
			eng := a.engine(syncContext(ctx, a.cfg), a.pool)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return eng.Run(gctx) })
			g.Go(func() error { return mgr.Run(gctx) })
			g.Go(func() error { return sampler.Run(gctx) })

			if a.cfg.Metrics.Enabled {
				srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: metricsMux()}
				g.Go(func() error {
					a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer scancel()
					return srv.Shutdown(sctx)
				})
			}

			a.log.Info("serve started",
				zap.String("stream", a.cfg.Sync.Stream),
				zap.Duration("sync_interval", a.cfg.Sync.Interval),
				zap.Duration("compaction_interval", a.cfg.Compaction.Interval))

			err = g.Wait()

			fctx, fcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer fcancel()
			if cerr := buf.Close(fctx); cerr != nil {
				a.log.Warn("final event flush failed", zap.Error(cerr))
			}

			if errors.Is(err, context.Canceled) {
				a.log.Info("serve stopped")
				return nil
			}
			return err
		},
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
