package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailgrant/mailgrant/internal/authflow"
	"github.com/mailgrant/mailgrant/internal/broker"
	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/config"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/ratelimit"
	"github.com/mailgrant/mailgrant/internal/server"
	"github.com/mailgrant/mailgrant/internal/session"
	"github.com/mailgrant/mailgrant/internal/upstream"
	"github.com/mailgrant/mailgrant/internal/vault"
)

const startupTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var configFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the credential broker API server",
		Long: `Start the HTTP API server.

Configuration comes from flags, MAILGRANT_* environment variables and an
optional YAML config file, in that order of precedence.

Secrets:
  The session signing secret (MAILGRANT_SIGNING_SECRET) and the vault
  encryption key (MAILGRANT_ENCRYPTION_KEY, 32 bytes base64) are
  generated at startup when unset. Generated secrets do not survive
  restarts: sessions are invalidated and stored credentials orphaned.
  Generate a key with: openssl rand -base64 32`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := bindFlags(v, cmd); err != nil {
				return err
			}

			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			} else {
				v.SetConfigName("mailgrant")
				v.SetConfigType("yaml")
				v.AddConfigPath(".")
				var notFound viper.ConfigFileNotFoundError
				if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
					return fmt.Errorf("reading config file: %w", err)
				}
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	cmd.Flags().String("listen-addr", config.DefaultListenAddr, "API server address")
	cmd.Flags().String("redirect-url", "", "OAuth redirect URL registered with Google")
	cmd.Flags().String("client-id", "", "Google OAuth client id. Can also use MAILGRANT_CLIENT_ID env var.")
	cmd.Flags().String("client-secret", "", "Google OAuth client secret. Can also use MAILGRANT_CLIENT_SECRET env var.")
	cmd.Flags().StringSlice("scopes", nil, "OAuth scopes (default: the broker's Gmail scope set)")
	cmd.Flags().String("token-dir", config.DefaultTokenDir, "Directory for encrypted credential records")
	cmd.Flags().Int("session-validity-days", config.DefaultSessionValidityDays, "Session token validity in days")
	cmd.Flags().Bool("metrics-enabled", true, "Enable the metrics server on a dedicated port")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "Metrics server address")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "Log format: json or text")

	return cmd
}

// bindFlags maps the serve flags onto their viper keys so the flag >
// env > file > default precedence holds.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"listen_addr":           "listen-addr",
		"redirect_url":          "redirect-url",
		"client_id":             "client-id",
		"client_secret":         "client-secret",
		"scopes":                "scopes",
		"token_dir":             "token-dir",
		"session_validity_days": "session-validity-days",
		"metrics.enabled":       "metrics-enabled",
		"metrics.addr":          "metrics-addr",
		"log.level":             "log-level",
		"log.format":            "log-format",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func runServe(cfg *config.Config) error {
	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	if cfg.GeneratedSigningSecret {
		logger.Warn("signing secret was generated; all session tokens become invalid on restart")
	}
	if cfg.GeneratedEncryptionKey {
		logger.Warn("encryption key was generated; stored credentials will be unreadable on restart")
	}

	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("creating instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	v, err := vault.New(cfg.TokenDir, cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("opening token vault: %w", err)
	}

	gmail := upstream.NewGmail(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL, cfg.Scopes)
	b := broker.New(broker.Config{
		Upstream:        gmail,
		Vault:           v,
		Sessions:        session.New(cfg.SigningSecret),
		Limiter:         ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitWindow),
		Flow:            authflow.New(gmail, v, logger),
		Codec:           codec.New(logger),
		Logger:          logger,
		Metrics:         provider.Metrics(),
		SessionValidity: cfg.SessionValidity,
	})

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("creating metrics server: %w", err)
		}

		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server started", "addr", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(startupTimeout):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	apiServer := server.New(server.Config{
		Addr:   cfg.ListenAddr,
		Broker: b,
		Logger: logger,
	})

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("api server stopped with error: %w", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := apiServer.Shutdown(drainCtx); err != nil {
		logger.Error("api server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(drainCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	return nil
}
