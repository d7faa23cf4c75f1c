package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/emberops/emojiwarden/internal/auditlog"
	"github.com/emberops/emojiwarden/internal/config"
	"github.com/emberops/emojiwarden/internal/logging"
	"github.com/emberops/emojiwarden/internal/metrics"
	"github.com/emberops/emojiwarden/internal/platform"
	"github.com/emberops/emojiwarden/internal/secrets"
	"github.com/emberops/emojiwarden/internal/server"
	"github.com/emberops/emojiwarden/internal/workflow"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "emojiwarden",
		Short: "Emoji moderation workflow service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("mod-channel", defaults.GetString("slack.mod_channel"), "Moderation channel id")
	cmd.PersistentFlags().String("secrets-provider", defaults.GetString("secrets.provider"), "Secret store provider (aws or env)")
	cmd.PersistentFlags().String("aws-region", defaults.GetString("aws.region"), "AWS region for Secrets Manager")
	cmd.PersistentFlags().Int("audit-lookup-limit", defaults.GetInt("audit.lookup_limit"), "Audit log entries scanned per lookup")
	cmd.PersistentFlags().Float64("audit-tolerance-seconds", defaults.GetFloat64("audit.tolerance_seconds"), "Timestamp match tolerance in seconds (0 means exact)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "slack.mod_channel", "mod-channel")
	bindFlag(cmd, "secrets.provider", "secrets-provider")
	bindFlag(cmd, "aws.region", "aws-region")
	bindFlag(cmd, "audit.lookup_limit", "audit-lookup-limit")
	bindFlag(cmd, "audit.tolerance_seconds", "audit-tolerance-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// Local development keeps secrets and config in .env, as the deployment
	// docs describe. A missing file is not an error.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newSecretStore(ctx context.Context, appConfig config.AppConfig) (secrets.Store, error) {
	switch appConfig.SecretsProvider {
	case "aws":
		return secrets.NewAWSStore(ctx, appConfig.AWSRegion)
	case "env":
		return secrets.NewEnvStore(), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", appConfig.SecretsProvider)
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStartup()

	store, err := newSecretStore(startupCtx, appConfig)
	if err != nil {
		logger.Error("secret store unavailable", zap.Error(err))
		return err
	}
	credentials, err := secrets.LoadCredentials(startupCtx, store, secrets.CredentialNames{
		BotToken:      appConfig.BotTokenSecretName,
		SigningSecret: appConfig.SigningSecretName,
		UserToken:     appConfig.UserTokenSecretName,
	})
	if err != nil {
		logger.Error("credential loading failed", zap.Error(err))
		return err
	}

	auditClient, err := auditlog.NewClient(auditlog.ClientConfig{
		UserToken:        credentials.UserToken,
		LookupLimit:      appConfig.AuditLookupLimit,
		ToleranceSeconds: appConfig.AuditToleranceSec,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	// Audit-log scope problems are configuration errors. Surface them now
	// instead of on the first upload event.
	if err := auditClient.Verify(startupCtx); err != nil {
		logger.Error("audit log credential check failed", zap.Error(err))
		return err
	}

	gateway, err := platform.NewGateway(platform.GatewayConfig{
		BotToken:  credentials.BotToken,
		UserToken: credentials.UserToken,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	serviceMetrics := metrics.New()

	engine, err := workflow.NewEngine(workflow.EngineConfig{
		Gateway:           gateway,
		Resolver:          auditClient,
		ModerationChannel: appConfig.ModerationChannel,
		Logger:            logger,
		Metrics:           serviceMetrics,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:          engine,
		SigningSecret:   credentials.SigningSecret,
		DispatchTimeout: appConfig.DispatchTimeout,
		Logger:          logger,
		Metrics:         serviceMetrics,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("mod_channel", appConfig.ModerationChannel))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
