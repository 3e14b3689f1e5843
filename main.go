package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		panic("config: " + err.Error())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.DevMode {
		logger.Warn("dev mode enabled; using in-memory ledger")
	}

	registry := prometheus.NewRegistry()
	metrics := newCoreMetrics(registry)
	bus := NewEventBus(metrics, logger.Named("events"))
	defer bus.Stop()

	var ledger Ledger
	if cfg.DevMode {
		ledger = NewMemoryLedger(cfg, metrics)
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		if err := db.Ping(); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		if err := ensureSchema(db); err != nil {
			logger.Fatal("failed to ensure schema", zap.Error(err))
		}
		logger.Info("connected to PostgreSQL")
		ledger = NewPGLedger(db, cfg, metrics)
	}

	svc := NewService(cfg, ledger, bus, metrics, logger.Named("engine"))
	startEventLoggers(bus, logger.Named("domain"))

	ctx := context.Background()
	startBountySweeper(ctx, svc, cfg, logger)
	if cfg.WeeklyResetEnabled {
		startWeeklyReset(ctx, svc, logger)
	}

	mux := http.NewServeMux()
	registerRoutes(mux, svc)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := "0.0.0.0:" + cfg.Port
	logger.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg Config) (*zap.Logger, error) {
	if cfg.DevMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func registerRoutes(mux *http.ServeMux, svc *Service) {
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/register", registerHandler(svc))
	mux.HandleFunc("/account", accountHandler(svc))
	mux.HandleFunc("/vote", voteHandler(svc))
	mux.HandleFunc("/gift", giftHandler(svc))
	mux.HandleFunc("/bounty", getBountyHandler(svc))
	mux.HandleFunc("/bounty/place", placeBountyHandler(svc))
	mux.HandleFunc("/bounty/claim", claimBountyHandler(svc))
	mux.HandleFunc("/transfers", transfersHandler(svc))
	mux.HandleFunc("/leaderboard", leaderboardHandler(svc))
	mux.HandleFunc("/admin/grant", adminGrantHandler(svc))
	mux.HandleFunc("/admin/revoke", adminRevokeHandler(svc))
	mux.HandleFunc("/admin/status", adminStatusHandler(svc))
	mux.HandleFunc("/admin/reset-votes", adminResetVotesHandler(svc))
}

// startEventLoggers attaches passive subscribers that mirror domain events
// into the log. Collaborators (chat, notifications) subscribe the same way.
func startEventLoggers(bus *EventBus, log *zap.Logger) {
	bus.SubscribeFunc(EventVoteCast, func(evt Event) {
		if v, ok := evt.Data.(VoteCastEvent); ok {
			log.Info("vote cast",
				zap.String("voter", v.VoterID),
				zap.String("target", v.TargetID),
				zap.String("week", v.Week))
		}
	})
	bus.SubscribeFunc(EventBountyExpired, func(evt Event) {
		if b, ok := evt.Data.(BountyEvent); ok {
			log.Info("bounty expired",
				zap.String("bounty_id", b.Bounty.ID),
				zap.Int64("refunded", b.Amount))
		}
	})
	bus.SubscribeFunc(EventVotesReset, func(evt Event) {
		if r, ok := evt.Data.(ResetEvent); ok {
			log.Info("votes reset", zap.Int("accounts", r.AccountsReset), zap.String("week", r.Week))
		}
	})
}

func startBountySweeper(ctx context.Context, svc *Service, cfg Config, log *zap.Logger) {
	go func() {
		ticker := time.NewTicker(cfg.BountySweepInterval)
		defer ticker.Stop()

		for range ticker.C {
			svc.SweepExpiredBounties(ctx, time.Now().UTC())
		}
	}()
	log.Info("bounty sweeper started", zap.Duration("interval", cfg.BountySweepInterval))
}

// startWeeklyReset runs the allowance reset once per week boundary. The
// check is cheap, so it polls every minute and fires when the ISO week
// changes; the reset itself is idempotent, so a duplicate run is harmless.
func startWeeklyReset(ctx context.Context, svc *Service, log *zap.Logger) {
	go func() {
		lastWeek := weekOf(time.Now().UTC())
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			now := time.Now().UTC()
			week := weekOf(now)
			if week == lastWeek {
				continue
			}
			if _, err := svc.ResetAllVotes(ctx, now); err != nil {
				log.Error("weekly reset failed; will retry next tick", zap.Error(err))
				continue
			}
			lastWeek = week
		}
	}()
	log.Info("weekly reset scheduler started")
}
