package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sharktank-agent/internal/agent"
	"sharktank-agent/internal/agent/tools"
	"sharktank-agent/internal/config"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/adapters/ai"
	"sharktank-agent/internal/infra/adapters/retrieval"
	tele "sharktank-agent/internal/infra/adapters/telegram"
	"sharktank-agent/internal/infra/adapters/websearch"
	"sharktank-agent/internal/infra/api"
	pg "sharktank-agent/internal/infra/db/postgres"
	"sharktank-agent/internal/infra/logging"
	"sharktank-agent/internal/infra/metrics"
	"sharktank-agent/internal/infra/queue/memqueue"
	red "sharktank-agent/internal/infra/redis"
	"sharktank-agent/internal/infra/sched"
	"sharktank-agent/internal/infra/security"
	"sharktank-agent/internal/infra/session"
	"sharktank-agent/internal/infra/worker"
	"sharktank-agent/internal/usecase"
)

// set with -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging and relaxed defaults")
	role := flag.String("role", "all", "process role: all | api | worker")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Runtime.Role = *role

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.SetBuildInfo(version, commit, cfg.Runtime.Role)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("app stopped with error")
	}
	logger.Info().Msg("app stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	runAPI, runWorker := true, true
	switch cfg.Runtime.Role {
	case "all", "":
	case "api":
		runWorker = false
	case "worker":
		runAPI = false
	default:
		return fmt.Errorf("unknown role %q", cfg.Runtime.Role)
	}
	logger.Info().Str("role", cfg.Runtime.Role).Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	// ---- Queue backend ----
	var queue repository.JobQueue
	switch cfg.Queue.Backend {
	case "memory":
		if cfg.Runtime.Role != "all" {
			return errors.New("the memory queue backend needs role=all")
		}
		queue = memqueue.New()
		logger.Warn().Msg("using in-memory queue; jobs are lost on restart")
	default:
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		queue = pg.NewJobQueue(pool, pg.NewTxManager(pool), cfg.Queue.Name)
	}

	// ---- Redis (optional) ----
	var (
		limiter  *red.RateLimiter
		locker   red.Locker
		sessions repository.SessionStore
	)
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		limiter = red.NewRateLimiter(c)
		locker = red.NewLocker(c)
		store := red.NewSessionStore(c, cfg.Session.TTL)
		if cfg.Session.EncryptionKey != "" {
			sealer, err := security.NewCipher(cfg.Session.EncryptionKey)
			if err != nil {
				return fmt.Errorf("session encryption: %w", err)
			}
			store = store.WithSealer(sealer)
		}
		sessions = store
	} else {
		if cfg.Runtime.Role != "all" {
			logger.Warn().Msg("redis not configured; sessions are local to this process")
		}
		sessions = session.NewMemoryStore()
	}

	g, ctx := errgroup.WithContext(ctx)

	if runWorker {
		if err := startWorker(ctx, g, cfg, queue, sessions, locker, logger); err != nil {
			return err
		}
	}

	if runAPI {
		gw := usecase.NewJobGateway(queue, sessions, usecase.GatewayConfig{
			QueueName:    cfg.Queue.Name,
			ChatOptions:  model.JobOptions{Attempts: cfg.Queue.ChatAttempts, Backoff: cfg.Queue.ChatBackoff},
			BatchOptions: model.JobOptions{Attempts: cfg.Queue.BatchAttempts, Backoff: cfg.Queue.BatchBackoff},
			Wait:         usecase.WaitOptions{MaxWait: cfg.Gateway.MaxWait, PollInterval: cfg.Gateway.PollInterval},
		}, logger)

		var httpLimiter api.Limiter
		if limiter != nil {
			httpLimiter = limiter
		}
		srv := api.NewServer(gw, api.NewAuthManager(cfg.Admin.APIKey, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL), httpLimiter, api.ServerConfig{
			Port:           cfg.HTTP.Port,
			PublicURL:      cfg.HTTP.PublicURL,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			RateLimit:      cfg.HTTP.RateLimit,
		}, logger)
		g.Go(func() error { return srv.Run(ctx) })

		if cfg.Bot.Token != "" {
			var botLimiter tele.Limiter
			if limiter != nil {
				botLimiter = limiter
			}
			bot, err := tele.NewBot(cfg.Bot, gw, botLimiter, logger)
			if err != nil {
				return err
			}
			g.Go(func() error { return bot.Run(ctx) })
		}
	}

	sweeper := sched.NewSessionSweeper(sessions, cfg.Session.SweepInterval, cfg.Session.TTL, logger)
	g.Go(func() error { return sweeper.Run(ctx) })

	return g.Wait()
}

func startWorker(ctx context.Context, g *errgroup.Group, cfg *config.Config, queue repository.JobQueue, sessions repository.SessionStore, locker red.Locker, logger *zerolog.Logger) error {
	llm, err := ai.New(ctx, cfg.Completion, logger)
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	registry := tools.NewRegistry(logger,
		tools.NewSharkTankSearch(retrieval.New(cfg.Retrieval, logger), cfg.Retrieval.Limit),
		tools.NewCalculator(),
		tools.NewInternetSearch(websearch.NewDuckDuckGo(cfg.Search.URL, cfg.Search.Timeout), cfg.Search.MaxResults),
	)
	machine := agent.NewMachine(agent.NewRouter(cfg.Search.MaxResults), registry, llm, agent.MachineConfig{
		HistoryLimit: cfg.Completion.HistoryLimit,
		Options:      ai.Options(cfg.Completion),
	}, logger)

	host, _ := os.Hostname()
	proc := worker.NewChatJobProcessor(queue, machine, sessions, worker.ProcessorConfig{
		WorkerID:      fmt.Sprintf("%s-%d", host, os.Getpid()),
		LockDuration:  cfg.Queue.LockDuration,
		PollInterval:  cfg.Queue.PollInterval,
		JobTimeout:    cfg.Queue.JobTimeout,
		RetryUpstream: cfg.Worker.ShouldRetryUpstream(),
	}, logger)

	pool := worker.NewPool(cfg.Worker.Concurrency, logger)
	pool.Start(ctx)
	g.Go(func() error {
		proc.Start(ctx, pool)
		pool.Stop()
		return nil
	})

	stalls := sched.NewStallMonitor(queue, cfg.Queue.StalledInterval, cfg.Queue.MaxStalledCount, logger)
	retention := sched.NewRetentionSweeper(queue, locker, cfg.Queue.CleanupInterval, cfg.Queue.Retention, logger)
	g.Go(func() error { return stalls.Run(ctx) })
	g.Go(func() error { return retention.Run(ctx) })
	return nil
}
