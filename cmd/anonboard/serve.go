package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/config"
	httpapi "github.com/tbourn/go-anon-backend/internal/http"
	"github.com/tbourn/go-anon-backend/internal/observability"
	"github.com/tbourn/go-anon-backend/internal/ratelimit"
	"github.com/tbourn/go-anon-backend/internal/repo"
	"github.com/tbourn/go-anon-backend/internal/sysutil"
)

const (
	shutdownGrace = 15 * time.Second
	redisPingWait = 3 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	cfg.Version = sysutil.FirstNonEmpty(cfg.Version, version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, cfg.Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, closeDB, err := a.openDB()
	if err != nil {
		return err
	}
	defer closeDB()

	counters, closeCounters, err := openCounters(ctx, cfg.Counters, db)
	if err != nil {
		return err
	}
	defer func() { _ = closeCounters() }()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, counters, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	var jobs []func(context.Context) error
	if cfg.Counters.Backend == "db" {
		jobs = append(jobs, counterJanitor(db, cfg.Posting.RateWindow))
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("version", cfg.Version).
		Str("db", repo.Dialect(db)).
		Str("counters", cfg.Counters.Backend).
		Msg("listening")

	return runServer(ctx, srv, ln, shutdownGrace, jobs...)
}

// runServer serves on ln alongside jobs until ctx ends or any of them fails,
// then drains in-flight requests for up to grace. Jobs must return nil once
// their context is cancelled.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration, jobs ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, job := range jobs {
		g.Go(func() error { return job(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// openCounters builds the store behind the per-token post limit. The returned
// close func releases backend connections.
func openCounters(ctx context.Context, cfg config.CounterConfig, db *gorm.DB) (ratelimit.Store, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case "db":
		return repo.NewCounterStore(db), nop, nil
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		pctx, cancel := context.WithTimeout(ctx, redisPingWait)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return ratelimit.NewRedisStore(client), client.Close, nil
	default:
		return ratelimit.NewMemoryStore(nil), nop, nil
	}
}

// counterJanitor deletes lapsed rate counter rows once per window.
func counterJanitor(db *gorm.DB, every time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-t.C:
				n, err := repo.PurgeExpiredCounters(ctx, db, now)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					log.Warn().Err(err).Msg("purge rate counters")
					continue
				}
				if n > 0 {
					log.Debug().Int64("removed", n).Msg("purged rate counters")
				}
			}
		}
	}
}
