// facilitatord runs a standalone x402 facilitator. Configuration comes from
// the environment (X402_LISTEN_ADDR, X402_NETWORK, X402_PAYER,
// X402_LOG_LEVEL, X402_ENABLE_METRICS); there are no command-line flags.
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
	"github.com/spf13/viper"

	"github.com/x402kit/x402/facilitator"
	"github.com/x402kit/x402/logger"
	"github.com/x402kit/x402/metrics"
)

func main() {
	v := viper.New()
	v.SetEnvPrefix("x402")
	v.AutomaticEnv()
	v.SetDefault("listen_addr", ":3001")
	v.SetDefault("network", "testnet")
	v.SetDefault("payer", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_metrics", false)

	log := logger.NewZapLogger(v.GetString("log_level"))

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if v.GetBool("enable_metrics") {
		rec = metrics.NewPrometheusRecorder()
	}

	backend := facilitator.NewLocalBackend(v.GetString("network"), v.GetString("payer")).WithLogger(log)
	server := facilitator.NewServer(backend, v.GetString("network"), log, rec)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	if v.GetBool("enable_metrics") {
		mux.Handle("/metrics", promhttp.Handler())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:        v.GetString("listen_addr"),
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("facilitator started", map[string]any{
		"addr":    srv.Addr,
		"network": v.GetString("network"),
	})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		log.Info("facilitator stopped", nil)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("facilitator exited", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}
}
