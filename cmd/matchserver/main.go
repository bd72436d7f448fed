// Command matchserver runs one pod of the matchmaking fabric: a WebSocket
// front door, one Matchmaker tick loop per configured game mode, and the
// shared Redis-backed queue/allocation/event infrastructure they depend on.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-arena/core/internal/config"
	"github.com/nexus-arena/core/internal/matchmaking/allocation"
	"github.com/nexus-arena/core/internal/matchmaking/circuitbreaker"
	"github.com/nexus-arena/core/internal/matchmaking/events"
	"github.com/nexus-arena/core/internal/matchmaking/loadbalancer"
	"github.com/nexus-arena/core/internal/matchmaking/loading"
	"github.com/nexus-arena/core/internal/matchmaking/matchmaker"
	"github.com/nexus-arena/core/internal/matchmaking/provider"
	"github.com/nexus-arena/core/internal/matchmaking/queue"
	"github.com/nexus-arena/core/internal/matchmaking/session"
	"github.com/nexus-arena/core/internal/matchmaking/subscription"
	"github.com/nexus-arena/core/internal/matchmaking/wsserver"
	"github.com/nexus-arena/core/internal/platform/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matchserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	q := queue.New(rdb)
	sub := subscription.New()
	lb := loadbalancer.New()

	emitter := events.New(rdb, logger, events.Config{QueueSize: 4096, WorkerCount: 4})
	emitter.Start(ctx)
	defer emitter.Stop()

	loadingMgr := loading.New(rdb, q, sub, emitter, logger)

	matchmakers := make(map[string]*matchmaker.Matchmaker, len(cfg.GameModes))

	for _, gm := range cfg.GameModes {
		breaker := circuitbreaker.New(uint64(cfg.BreakerThreshold), cfg.BreakerCooldown)

		coord := allocation.New(rdb, q, sub, lb, emitter, provider.NewMock(0, ""), logger, allocation.Config{
			TokenTTL:        cfg.AllocationTTL,
			ProviderTimeout: cfg.AllocationTimeout,
			MaxRetries:      cfg.MaxRetries,
			WatchdogDelay:   cfg.WatchdogDelay,
		})

		if gm.RequireLoading {
			mode := gm.Name
			ttl := gm.LoadingTTL
			coord.AfterSuccess = func(sessionID uuid.UUID, _ string, players []uuid.UUID) {
				sess := loading.Session{SessionID: sessionID, GameMode: mode, Players: players, TTL: ttl}
				if err := loadingMgr.Begin(ctx, sess, func() {}); err != nil {
					sugar.Errorw("begin loading session failed", "mode", mode, "session_id", sessionID, "error", err)
				}
			}
		}

		mm := matchmaker.New(matchmaker.Config{
			Mode:            gm.Name,
			PodID:           cfg.PodID,
			RequiredPlayers: gm.RequiredPlayers,
			TickInterval:    gm.TickInterval,
		}, q, breaker, coord, emitter, sub, logger)
		matchmakers[gm.Name] = mm
	}

	lookup := func(gameMode string) (session.Matchmaker, bool) {
		mm, ok := matchmakers[gameMode]
		if !ok {
			return nil, false
		}
		return mm, true
	}

	wsHandler := wsserver.New(sub, lookup, logger, cfg.AllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle("/", wsHandler.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ClientTimeout,
		WriteTimeout: cfg.ClientTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, mm := range matchmakers {
		mm := mm
		g.Go(func() error {
			mm.Start(gctx)
			<-gctx.Done()
			mm.Stop()
			return nil
		})
	}

	g.Go(func() error {
		sugar.Infow("matchserver listening", "addr", cfg.ListenAddr, "game_modes", len(matchmakers))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
