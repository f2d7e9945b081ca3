package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trymwestin/fenotek/internal/core/registry"
	"github.com/trymwestin/fenotek/internal/core/state"
	"github.com/trymwestin/fenotek/internal/httpapi"
	"github.com/trymwestin/fenotek/internal/logging"
	"github.com/trymwestin/fenotek/internal/mqtt"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting fenotekd", "account", cfg.Fenotek.Username, "interval", cfg.Refresh.Interval)

	bus := state.NewEventBus(logging.Component(log, "bus"))
	reg := registry.New(bus, log)
	if _, err := reg.Setup(ctx, accountConfig(cfg, true)); err != nil {
		return fmt.Errorf("setting up account: %w", err)
	}

	var pub mqtt.Publisher
	if cfg.MQTT.Enabled {
		pub = mqtt.NewHAPublisher(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, reg, bus, logging.Component(log, "mqtt"))
	} else {
		pub = mqtt.NewStubPublisher(logging.Component(log, "mqtt"))
	}
	if err := pub.Start(ctx); err != nil {
		_ = reg.Close(context.Background())
		return fmt.Errorf("starting mqtt: %w", err)
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.HTTP.Enabled {
		api := httpapi.NewServer(reg, cfg.HTTP.CORSAll, logging.Component(log, "http"))
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-errCh:
		log.Error("HTTP server failed", "error", runErr)
	}

	// A refresh in flight is allowed to finish within the timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown failed", "error", err)
		}
	}
	if err := pub.Stop(shutdownCtx); err != nil {
		log.Error("MQTT shutdown failed", "error", err)
	}
	if err := reg.Close(shutdownCtx); err != nil {
		log.Error("account teardown failed", "error", err)
	}
	log.Info("fenotekd stopped")
	return runErr
}
