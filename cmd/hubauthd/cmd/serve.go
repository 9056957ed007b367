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

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hearthhome/hubauth"
	httpapi "github.com/hearthhome/hubauth/api/echo"
	"github.com/hearthhome/hubauth/boltdb"
	"github.com/hearthhome/hubauth/cache"
	rediscache "github.com/hearthhome/hubauth/cache/redis"
	"github.com/hearthhome/hubauth/config"
	"github.com/hearthhome/hubauth/internal/metrics"
	"github.com/hearthhome/hubauth/log"
	"github.com/hearthhome/hubauth/mongodb"
	"github.com/hearthhome/hubauth/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel, cfg.LogPretty)
	logger := log.NewZerolog()
	ctx := cmd.Context()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider("hubauthd")
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(flushCtx); err != nil {
				logger.Error(flushCtx, "Failed to shut down tracer provider", err)
			}
		}()
	}

	users, closeUsers, err := buildUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	tokens, closeTokens, err := buildTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	manager, err := hubauth.NewManager(ctx, hubauth.Config{
		Providers:        cfg.Providers,
		Users:            users,
		Tokens:           tokens,
		AccessTokenTTL:   cfg.AccessTokenTTL,
		FlowTTL:          cfg.FlowTTL,
		FlowCapacity:     cfg.FlowCapacity,
		NewUsersInactive: cfg.NewUsersInactive,
	})
	if err != nil {
		return fmt.Errorf("building auth manager: %w", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error(ctx, "Failed to close auth manager", err)
		}
	}()

	metrics.Register(prometheus.DefaultRegisterer, func() float64 {
		return float64(manager.ActiveFlows())
	})

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewAuthAPI(manager, logger), logger)

	go func() {
		logger.Info(ctx, "HTTP server listening", map[string]any{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "HTTP server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	logger.Info(ctx, "Server stopped")
	return nil
}

// buildUserStore connects the configured persistence backend. A nil store
// means the manager keeps users in memory only.
func buildUserStore(ctx context.Context, cfg config.Config, logger log.Logger) (hubauth.UserStore, func(), error) {
	switch cfg.UserBackend {
	case config.StorageTypeBolt:
		store, err := boltdb.NewUserStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bolt user store: %w", err)
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Error(context.Background(), "Failed to close bolt user store", err)
			}
		}
		return store, cleanup, nil
	case config.StorageTypeMongoDB:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
		}
		store, err := mongodb.NewUserStore(ctx, mongodb.GetDB())
		if err != nil {
			return nil, nil, fmt.Errorf("preparing mongodb user store: %w", err)
		}
		cleanup := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongodb.CloseMongoDB(closeCtx)
		}
		return store, cleanup, nil
	default:
		return nil, func() {}, nil
	}
}

// buildTokenStore connects the configured access-token backend. A nil store
// means the manager owns an in-memory one.
func buildTokenStore(ctx context.Context, cfg config.Config) (cache.TokenStore, func(), error) {
	switch cfg.TokenBackend {
	case config.StorageTypeRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		ttl := cfg.AccessTokenTTL
		if ttl <= 0 {
			ttl = hubauth.AccessTokenTTL
		}
		store := rediscache.NewTokenStore(client, cfg.RedisPrefix, ttl)
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
