package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/parleralab/parlera/backend/internal/auth"
	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/config"
	"github.com/parleralab/parlera/backend/internal/database"
	"github.com/parleralab/parlera/backend/internal/examples"
	"github.com/parleralab/parlera/backend/internal/logging"
	"github.com/parleralab/parlera/backend/internal/repositories"
	"github.com/parleralab/parlera/backend/internal/server"
	"github.com/parleralab/parlera/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parlera-api",
		Short: "Parlera NLU training-data backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("languages", defaults.GetString("languages.supported"), "Supported languages, pipe separated")
	cmd.PersistentFlags().String("grant-role", defaults.GetString("authorization.grant_role"), "Role granted on approved access requests")
	cmd.PersistentFlags().Int("reset-token-ttl-minutes", defaults.GetInt("reset_token.ttl_minutes"), "Password reset token TTL in minutes")
	cmd.PersistentFlags().String("reset-signing-secret", "", "Password reset signing secret (overrides env)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("pagination.page_size"), "Default page size for list endpoints")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "languages.supported", "languages")
	bindFlag(cmd, "authorization.grant_role", "grant-role")
	bindFlag(cmd, "reset_token.ttl_minutes", "reset-token-ttl-minutes")
	bindFlag(cmd, "reset_token.signing_secret", "reset-signing-secret")
	bindFlag(cmd, "pagination.page_size", "page-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenStore, err := auth.NewTokenStore(auth.TokenStoreConfig{
		Database: db,
		Users:    usersService,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	resetTokens := auth.NewResetTokenIssuer(auth.ResetTokenIssuerConfig{
		SigningSecret: []byte(appConfig.ResetSigningSecret),
		TokenTTL:      appConfig.ResetTokenTTL,
	})

	repositoryService, err := repositories.NewService(repositories.ServiceConfig{
		Database:           db,
		SupportedLanguages: appConfig.SupportedLanguages,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	grantRole, ok := authorization.ParseRole(appConfig.GrantRole)
	if !ok {
		return errors.New("unknown grant role: " + appConfig.GrantRole)
	}
	engine, err := authorization.NewEngine(authorization.EngineConfig{
		Database:  db,
		GrantRole: grantRole,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	exampleStore, err := examples.NewStore(examples.StoreConfig{
		Database:           db,
		SupportedLanguages: appConfig.SupportedLanguages,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:         usersService,
		Tokens:        tokenStore,
		ResetTokens:   resetTokens,
		Repositories:  repositoryService,
		Authorization: engine,
		Examples:      exampleStore,
		PageSize:      appConfig.PageSize,
		Logger:        logger,
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
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
