// Command musicgend serves the music generation API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/musicgen-ai/musicgen"
	"github.com/musicgen-ai/musicgen/entitlement"
	"github.com/musicgen-ai/musicgen/meter"
	"github.com/musicgen-ai/musicgen/provider/mock"
	"github.com/musicgen-ai/musicgen/provider/musicapi"
	"github.com/musicgen-ai/musicgen/quota"
	pgstore "github.com/musicgen-ai/musicgen/quota/postgres"
	redisstore "github.com/musicgen-ai/musicgen/quota/redis"
	"github.com/musicgen-ai/musicgen/server"
)

// store is what the daemon needs from a profile backend.
type store interface {
	musicgen.ProfileStore
	musicgen.TrackStore
}

func main() {
	configPath := flag.String("config", os.Getenv("MUSICGEN_CONFIG"), "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load(".env", ".env.local")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("musicgend stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := loadDaemonConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	gen, err := newGenerator(cfg.Generator)
	if err != nil {
		return err
	}

	grants := entitlement.NewStatic()
	for _, g := range cfg.Grants {
		grants.Grant(g.UserID, g.Product)
	}

	ledger := musicgen.NewQuotaLedger(st, cfg.Config)
	coord, err := musicgen.NewCoordinator(cfg.Config, ledger, gen,
		musicgen.WithMeter(meter.NewLogMeter(logger)),
		musicgen.WithTrackStore(st),
		musicgen.WithEntitlements(grants),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(coord, []byte(cfg.Server.JWTSecret), server.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "generator", gen.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg storeConfig) (store, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return quota.NewMemoryStore(), func() {}, nil

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("store.redis_addr (or REDIS_ADDR) is required")
		}
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		var opts []redisstore.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisstore.New(client, opts...), func() { client.Close() }, nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("store.database_url (or DATABASE_URL) is required")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		var opts []pgstore.Option
		if cfg.TablePrefix != "" {
			opts = append(opts, pgstore.WithTablePrefix(cfg.TablePrefix))
		}
		s := pgstore.New(pool, opts...)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newGenerator(cfg generatorConfig) (musicgen.Generator, error) {
	switch cfg.Driver {
	case "", "musicapi":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("generator.api_key (or MUSICAPI_KEY) is required")
		}
		var opts []musicapi.Option
		if cfg.BaseURL != "" {
			opts = append(opts, musicapi.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, musicapi.WithModel(cfg.Model))
		}
		return musicapi.New(cfg.APIKey, opts...), nil
	case "mock":
		return mock.New(mock.WithPendingPolls(1)), nil
	default:
		return nil, fmt.Errorf("unknown generator driver %q", cfg.Driver)
	}
}
