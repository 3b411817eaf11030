package commands

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watch: poll the mailbox until interrupted, printing decrypted messages.
func watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll for messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := appCtx.Logger.Named("watch")

			if addr := settings.Metrics.Listen; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(appCtx.Registry, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn("metrics listener failed", zap.Error(err))
					}
				}()
				defer func() { _ = srv.Close() }()
			}

			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				msgs, err := appCtx.Messages.ReceiveMessages(ctx, 0)
				printMessages(msgs)
				if err != nil && ctx.Err() == nil {
					log.Warn("receive failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")
	return cmd
}
