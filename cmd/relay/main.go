package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parley/internal/app"
	"parley/internal/config"
	"parley/internal/relay"
)

func main() {
	var (
		listen        string
		metricsListen string
		debug         bool
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Run the in-memory parley relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := app.NewLogger(config.Logging{Level: "info", Development: debug})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			requests := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "parley_relay_requests_total",
				Help: "Relay HTTP requests by status code and method.",
			}, []string{"code", "method"})
			reg.MustRegister(requests)

			dir := relay.NewMemoryDirectory()
			bus := relay.NewBus()
			handler := promhttp.InstrumentHandlerCounter(requests, relay.NewServer(dir, bus, log.Named("http")))

			servers := []*http.Server{{Addr: listen, Handler: handler, ReadHeaderTimeout: 5 * time.Second}}
			if metricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
				servers = append(servers, &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, len(servers))
			for _, srv := range servers {
				go func(srv *http.Server) {
					log.Info("listening", zap.String("addr", srv.Addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errc <- err
					}
				}(srv)
			}

			select {
			case <-ctx.Done():
			case err = <-errc:
				log.Error("server failed", zap.Error(err))
			}

			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, srv := range servers {
				_ = srv.Shutdown(shutdown)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "relay listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&debug, "debug", false, "development logging")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
