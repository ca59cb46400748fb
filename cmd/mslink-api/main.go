package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/mslink/internal/accounts"
	"github.com/MarcoPoloResearchLab/mslink/internal/auth"
	"github.com/MarcoPoloResearchLab/mslink/internal/config"
	"github.com/MarcoPoloResearchLab/mslink/internal/database"
	"github.com/MarcoPoloResearchLab/mslink/internal/hooks"
	"github.com/MarcoPoloResearchLab/mslink/internal/logging"
	"github.com/MarcoPoloResearchLab/mslink/internal/login"
	"github.com/MarcoPoloResearchLab/mslink/internal/server"
	"github.com/MarcoPoloResearchLab/mslink/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mslink-api",
		Short: "Microsoft / Xbox Live identity-linking service",
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
	cmd.PersistentFlags().String("login-type", defaults.GetString("login.type"), "Login type (microsoft, xbox)")
	cmd.PersistentFlags().String("tenant-id", defaults.GetString("azure.tenant_id"), "Azure AD tenant identifier")
	cmd.PersistentFlags().String("client-id", defaults.GetString("azure.client_id"), "OAuth client ID")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "login.type", "login-type")
	bindFlag(cmd, "azure.tenant_id", "tenant-id")
	bindFlag(cmd, "azure.client_id", "client-id")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
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
	store, err := config.NewStore(viper.GetViper(), nil)
	if err != nil {
		return err
	}
	appConfig := store.Config()

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

	httpClient, err := auth.NewHTTPClient(appConfig.Proxies)
	if err != nil {
		return err
	}

	discovery := auth.NewDiscovery(auth.DiscoveryConfig{
		HTTPClient: httpClient,
		Logger:     logger,
	})

	tokenClient, err := auth.NewTokenClient(auth.TokenClientConfig{
		ClientID:     appConfig.ClientID,
		ClientSecret: appConfig.ClientSecret,
		Tenant:       appConfig.TenantID,
		Discovery:    discovery,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewIDTokenVerifier(auth.IDTokenVerifierConfig{
		Audience: appConfig.ClientID,
		Keys:     discovery.KeySource(appConfig.TenantID),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	xboxClient := auth.NewXboxClient(auth.XboxClientConfig{
		HTTPClient: httpClient,
		Logger:     logger,
	})

	userService, err := users.NewService(users.ServiceConfig{
		Database:          db,
		MaxUsernameLength: appConfig.MaxUsernameLength,
	})
	if err != nil {
		return err
	}

	accountStore, err := accounts.NewStore(accounts.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	resolver, err := accounts.NewResolver(accounts.ResolverConfig{
		Store:  accountStore,
		Users:  userService,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	registry := hooks.NewRegistry()
	if err := registry.RegisterAuthenticate(hooks.LoggingHookName, hooks.NewLoggingHook(logger)); err != nil {
		return err
	}

	dispatcher, err := hooks.NewDispatcher(hooks.DispatcherConfig{
		Registry:             registry,
		AuthenticateHookName: appConfig.AuthenticateHook,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	callbackHook, err := registry.ResolveCallback(appConfig.CallbackHook)
	if err != nil {
		return err
	}

	authenticator, err := login.NewAuthenticator(login.AuthenticatorConfig{
		LoginType:   appConfig.LoginType,
		ExtraScopes: appConfig.ExtraScopes,
		Policies: accounts.Policies{
			AutoCreate:          appConfig.AutoCreate,
			AutoReplaceAccounts: appConfig.AutoReplaceAccounts,
			SyncXboxUsername:    appConfig.XboxSyncUsername,
		},
		Exchanger:  tokenClient,
		Verifier:   verifier,
		Xbox:       xboxClient,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessionIssuer := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        "mslink-auth",
		Audience:      "mslink-api",
		TokenTTL:      appConfig.SessionTTL,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator: authenticator,
		Sessions:      sessionIssuer,
		Users:         userService,
		CallbackHook:  callbackHook,
		LoginEnabled:  appConfig.LoginEnabled,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("login_type", appConfig.LoginType))
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
