package main

import (
	"context"
	"log"
	"net/url"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/availproject/greatest-indexer-of-all-times/internal/avail"
	"github.com/availproject/greatest-indexer-of-all-times/internal/codec"
	"github.com/availproject/greatest-indexer-of-all-times/internal/config"
	"github.com/availproject/greatest-indexer-of-all-times/internal/ingester"
	"github.com/availproject/greatest-indexer-of-all-times/internal/repository"
	"github.com/availproject/greatest-indexer-of-all-times/internal/telemetry"
)

func zapErr(err error) zap.Field { return zap.Error(err) }

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	logger, err := telemetry.NewLogger(false)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zapErr(err))
	}

	logger.Info("starting avail bridge indexer",
		zap.String("build_commit", BuildCommit),
		zap.String("db", redactDatabaseURL(cfg.DBURL)),
		zap.String("avail_url", cfg.AvailURL),
		zap.Uint32("max_task_count", cfg.MaxTaskCount),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.NewProviders(ctx, cfg.Observability)
	if err != nil {
		logger.Fatal("failed to set up observability providers", zapErr(err))
	}
	defer providers.Shutdown(context.Background())

	repo, err := repository.NewRepository(ctx, cfg.DBURL, cfg.Tables)
	if err != nil {
		logger.Fatal("failed to connect to database", zapErr(err))
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal("database migration failed", zapErr(err))
	}
	logger.Info("database migration complete")

	availClient, err := avail.NewClient(ctx, cfg.AvailURL)
	if err != nil {
		logger.Fatal("failed to connect to avail rpc", zapErr(err))
	}
	defer availClient.Close()

	decoder := codec.NewDecoder(cfg.Headers)
	fetcher := ingester.NewFetcher(availClient, cfg.Headers, cfg.InherentHeaders, decoder, logger)
	progress := ingester.NewProgress(repo, availClient, cfg.BlockHeight)
	syncEngine := ingester.NewSyncEngine(fetcher, repo, progress, cfg.MaxTaskCount, logger)
	tipFollower := ingester.NewTipFollower(fetcher, repo, progress, availClient, logger)
	supervisor := ingester.NewSupervisor(progress, syncEngine, tipFollower, cfg.LogIntervalMS, logger)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(sigCtx)
	}()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("supervisor exited", zapErr(err))
		}
	}

	cancel()
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	return raw
}
