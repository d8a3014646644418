package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siniopay/internal/account"
	"siniopay/internal/audit"
	"siniopay/internal/auth"
	"siniopay/internal/compliance"
	"siniopay/internal/config"
	"siniopay/internal/db"
	"siniopay/internal/ledger"
	"siniopay/internal/logger"
	"siniopay/internal/notification"
	"siniopay/internal/server"
	"siniopay/internal/transaction"
	"siniopay/internal/user"
	"siniopay/internal/worker"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Init()
	logger.Info("Starting SinioPay application")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Connecting to database...")
	pool := db.DefaultPool
	pool.MaxOpen, pool.MaxIdle = cfg.DBMaxOpenConns, cfg.DBMaxIdleConns
	database, err := db.Connect(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	tasks := worker.NewPool(cfg.PostCommitWorkers, cfg.PostCommitQueue, 30*time.Second)
	tasks.Start(context.WithoutCancel(ctx))

	accounts := account.NewRepository(database)
	transactions := transaction.NewRepository(database)
	users := user.NewRepository(database)
	auditLog := audit.NewRepository(database)

	dispatcher := notification.NewDispatcher(rdb)
	logger.Info("Notification queue", "pending", dispatcher.QueueLength(ctx))

	gate := compliance.NewRuleGate(rdb, cfg.MaxSingleAmount, cfg.DailyLimit)
	monitor := compliance.NewMonitor(cfg.ReviewThreshold, nil)

	engine := ledger.NewEngine(ledger.NewSQLUnitOfWork(database, cfg.LockTimeout), gate, ledger.Options{
		UnitTimeout: cfg.UnitTimeout,
		Async:       tasks,
		Notifier:    dispatcher,
		Audit:       auditLog,
		Monitor:     monitor,
	})
	monitor.SetFlagger(engine)

	sender := notification.NewBreakerSender(
		notification.NewSMTPSender(cfg.EmailFrom, cfg.EmailFromName, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		5,
		time.Minute,
	)
	notifier := notification.NewWorker(rdb, user.Recipients(users), sender)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("Invalid JWT configuration", "error", err)
	}

	srv := server.New(cfg, server.Dependencies{
		DB:           database,
		Redis:        rdb,
		Ledger:       engine,
		Users:        user.NewService(users, tokens, cfg.DefaultCurrency),
		Accounts:     accounts,
		Transactions: transactions,
		Audit:        auditLog,
		AuditTrail:   auditLog,
		Tokens:       tokens,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Port)
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Error during server shutdown: %v", err)
		}
		if err := tasks.Stop(shutdownCtx); err != nil {
			logger.Errorf("Post-commit tasks still running at shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Server error: %v", err)
	}
	logger.Info("Server stopped")
}
