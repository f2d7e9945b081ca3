package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/trymwestin/fenotek/internal/config"
	"github.com/trymwestin/fenotek/internal/core/coordinator"
	"github.com/trymwestin/fenotek/internal/core/registry"
	"github.com/trymwestin/fenotek/internal/core/state"
	"github.com/trymwestin/fenotek/internal/core/transport"
	"github.com/trymwestin/fenotek/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fenotekd",
	Short: "Fenotek doorbell bridge",
	Long: `Polls the Fenotek cloud for doorbell state, events and relays, and
exposes them to Home Assistant over MQTT and to anything else over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FENOTEK_* variables override it")
}

// loadConfig reads and validates the configuration and builds the root logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}

// accountConfig maps the configuration onto one registry account.
func accountConfig(cfg config.Config, poll bool) registry.AccountConfig {
	return registry.AccountConfig{
		Transport: transport.Config{
			BaseURL:           cfg.Fenotek.APIBase,
			Username:          cfg.Fenotek.Username,
			Password:          cfg.Fenotek.Password,
			Timezone:          cfg.Fenotek.Timezone,
			NotificationPages: cfg.Fenotek.NotificationPages,
			Timeout:           cfg.Fenotek.RequestTimeout,
		},
		Refresh: coordinator.Config{
			Interval:    cfg.Refresh.Interval,
			MinInterval: cfg.Refresh.MinInterval,
			MaxInterval: cfg.Refresh.MaxInterval,
		},
		Poll: poll,
	}
}

// setupAccount logs in and runs the first refresh without polling.
func setupAccount(ctx context.Context) (*registry.Entry, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg := registry.New(state.NewEventBus(log), log)
	return reg.Setup(ctx, accountConfig(cfg, false))
}
