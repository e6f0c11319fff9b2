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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/auth"
	"github.com/canvaslab/boardsync/internal/authz"
	"github.com/canvaslab/boardsync/internal/collection"
	"github.com/canvaslab/boardsync/internal/config"
	"github.com/canvaslab/boardsync/internal/logging"
	"github.com/canvaslab/boardsync/internal/schema"
	"github.com/canvaslab/boardsync/internal/server"
	"github.com/canvaslab/boardsync/internal/store"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boardsync-api",
		Short: "Collaborative board synchronization service",
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
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Document store driver (memory, sqlite)")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "SQLite store path")
	cmd.PersistentFlags().String("server-name", defaults.GetString("server.name"), "Server name, prefixes every store key")
	cmd.PersistentFlags().Int("presence-ttl-seconds", defaults.GetInt("presence.ttl_seconds"), "Presence document lifetime")
	cmd.PersistentFlags().Int("message-ttl-seconds", defaults.GetInt("message.ttl_seconds"), "Message document lifetime")
	cmd.PersistentFlags().String("kernel-url", defaults.GetString("kernel.url"), "Kernel server base URL (enables /api/kernels proxy)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "server.name", "server-name")
	bindFlag(cmd, "presence.ttl_seconds", "presence-ttl-seconds")
	bindFlag(cmd, "message.ttl_seconds", "message-ttl-seconds")
	bindFlag(cmd, "kernel.url", "kernel-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	kv, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	catalog, err := schema.NewCatalog(schema.CatalogConfig{
		Store:       kv,
		Prefix:      appConfig.ServerName + ":DB",
		Logger:      logger,
		PresenceTTL: appConfig.PresenceTTL,
		MessageTTL:  appConfig.MessageTTL,
	})
	if err != nil {
		return err
	}
	if err := catalog.Load(ctx); err != nil {
		return err
	}

	gate, err := authz.NewGate(authz.GateConfig{
		Directory: catalog,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	catalog.UseGuard(gate)

	tokens, err := auth.NewTokens(auth.TokensConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      "boardsync-api",
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Catalog:       catalog,
		Authenticator: tokens,
		KernelURL:     appConfig.KernelURL,
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
			zap.String("store", appConfig.StoreDriver))
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

// openStore selects the document store backend. The collection layer only
// sees the KV surface.
func openStore(appConfig config.AppConfig, logger *zap.Logger) (documentStore, error) {
	switch appConfig.StoreDriver {
	case config.StoreDriverMemory:
		return store.NewMemoryStore(store.MemoryConfig{}), nil
	case config.StoreDriverSQLite:
		return store.OpenSQLite(store.SQLiteConfig{
			Path:   appConfig.StorePath,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", appConfig.StoreDriver)
	}
}

type documentStore interface {
	collection.KV
	Close() error
}
