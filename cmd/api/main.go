package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-social/backend/internal/auth"
	"github.com/zhouzirui/z-social/backend/internal/cache"
	"github.com/zhouzirui/z-social/backend/internal/config"
	"github.com/zhouzirui/z-social/backend/internal/database"
	"github.com/zhouzirui/z-social/backend/internal/handler"
	"github.com/zhouzirui/z-social/backend/internal/handler/ws"
	"github.com/zhouzirui/z-social/backend/internal/logger"
	"github.com/zhouzirui/z-social/backend/internal/metrics"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	"github.com/zhouzirui/z-social/backend/internal/service/chat"
	"github.com/zhouzirui/z-social/backend/internal/service/events"
)

const connectTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zl, err := logger.New(logger.Config{
		Environment: cfg.Log.Environment,
		Level:       cfg.Log.Level,
		ServiceName: "z-social",
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	m := metrics.New()

	store, users, closeStore, err := openStore(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Redis.Enabled() {
		rc, err := cache.ConnectWithRetry(ctx, cfg.Redis.URL, connectTimeout, zl)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		users = cache.NewUserStore(users, rc, cfg.Redis.IdentityTTL, zl)
		zl.Info("identity cache enabled", zap.Duration("ttl", cfg.Redis.IdentityTTL))
	}

	registry := realtime.NewRegistry(zl, m)
	chatSvc := chat.NewService(store, users,
		chat.WithLogger(zl),
		chat.WithMetrics(m),
		chat.WithEvents(events.NewDispatcher(store, users, registry, zl, m)),
	)
	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Algorithm, users)

	router := handler.NewRouter(handler.Dependencies{
		Chat:     chatSvc,
		Verifier: verifier,
		Users:    users,
		Registry: registry,
		WebSocket: ws.Options{
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
			SendBuffer:     cfg.WebSocket.SendBuffer,
			PingInterval:   cfg.WebSocket.PingInterval,
			PongWait:       cfg.WebSocket.PongWait,
			WriteWait:      cfg.WebSocket.WriteWait,
			OpTimeout:      cfg.WebSocket.OpTimeout,
			ReadLimit:      cfg.WebSocket.ReadLimit,
		},
		Metrics: m,
		Log:     zl,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("z-social backend listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		registry.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore selects the persistence backend. The returned user store is the
// one identities are resolved against.
func openStore(ctx context.Context, cfg config.StoreConfig, zl *zap.Logger) (chat.Store, user.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.ConnectWithRetry(ctx, cfg.DatabaseURL, connectTimeout, zl)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := chat.NewPostgresStore(pool)
		if cfg.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		for _, u := range seedUsers(cfg.SeedUsers) {
			if _, err := store.UpsertUser(ctx, u); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("seed user %q: %w", u.Username, err)
			}
		}
		return store, store, pool.Close, nil

	case config.DriverBolt:
		store, err := chat.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, u := range seedUsers(cfg.SeedUsers) {
			// Existing handles keep their stored ID.
			u.ID = 0
			if _, err := store.PutUser(u); err != nil {
				_ = store.Close()
				return nil, nil, nil, fmt.Errorf("seed user %q: %w", u.Username, err)
			}
		}
		zl.Info("bolt store opened", zap.String("path", cfg.BoltPath))
		return store, store, func() { _ = store.Close() }, nil

	default:
		zl.Warn("using in-memory store, data is lost on restart")
		users := user.NewMemoryStore(user.Seed(cfg.SeedUsers...))
		return chat.NewMemoryStore(), users, func() {}, nil
	}
}

// seedUsers returns nothing when no handles are configured so persistent
// stores are not populated with the development accounts.
func seedUsers(handles []string) []user.User {
	if len(handles) == 0 {
		return nil
	}
	return user.Seed(handles...)
}
