package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eaglebank/core-banking/internal/audit"
	"github.com/eaglebank/core-banking/internal/command"
	"github.com/eaglebank/core-banking/internal/config"
	"github.com/eaglebank/core-banking/internal/factory"
	"github.com/eaglebank/core-banking/internal/handler"
	"github.com/eaglebank/core-banking/internal/ledger"
	"github.com/eaglebank/core-banking/internal/lock"
	"github.com/eaglebank/core-banking/internal/repository"
	"github.com/eaglebank/core-banking/internal/repository/cached"
	"github.com/eaglebank/core-banking/internal/session"
	"github.com/eaglebank/core-banking/shared/events"
	"github.com/eaglebank/core-banking/shared/middleware"
	redisClient "github.com/eaglebank/core-banking/shared/redis"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	holderCacheTTL   = 10 * time.Minute
	sessionSweepTick = 30 * time.Second
	logSweepTick     = time.Hour
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Configuration
	cfg, err := config.New(getEnv("TPC_CONFIG", "config/tpc.yaml"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	storage, err := cfg.Storage()
	if err != nil {
		log.Fatalf("Failed to read storage settings: %v", err)
	}

	// Storage backend
	backends := factory.New(factory.Options{
		Mode:        factory.ParseMode(getEnv("TPC_BACKEND", "auto")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Storage:     storage,
	})
	defer backends.Close()

	var store repository.DataAccess
	store, err = backends.Get(ctx)
	if err != nil {
		log.Fatalf("Failed to open storage backend: %v", err)
	}

	// Log streams
	logs, err := audit.New(audit.Config{
		Dir:                storage.LogDir,
		MaxSizeMB:          storage.LogMaxSizeMB,
		RetentionDays:      storage.LogRetentionDays,
		AuditRetentionDays: storage.AuditRetentionDays,
	})
	if err != nil {
		log.Fatalf("Failed to open log streams: %v", err)
	}
	defer logs.Close()

	// The relational backend mirrors audit records into cbs_audit_logs.
	if sink, ok := store.(audit.Sink); ok {
		logs.AddSink(sink)
	}

	// Redis is optional: holder cache and audit event fan-out
	if redisAddr := getEnv("REDIS_ADDR", ""); redisAddr != "" {
		redis, err := redisClient.Connect(ctx, redisAddr, getEnv("REDIS_PASSWORD", ""), 0)
		if err != nil {
			log.Printf("Failed to connect to Redis, continuing without it: %v", err)
		} else {
			defer redis.Close()
			store = cached.NewHolders(store, redis, holderCacheTTL)
			logs.AddSink(events.NewPublisher(redis))

			if immudbAddr := getEnv("IMMUDB_ADDR", ""); immudbAddr != "" {
				startLedger(ctx, redis, immudbAddr)
			}
		}
	}

	// Engine and sessions
	engine := command.NewEngine(store, cfg, lock.New(storage.TempDir), logs)
	sessions := session.NewManager([]byte(getEnv("SESSION_SECRET", "change-me")), cfg)

	atmHandler := handler.NewATMHandler(engine, engine, sessions)
	adminHandler := handler.NewAdminHandler(engine, sessions)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": store.Name(), "sessions": sessions.Active()})
	})

	router.POST("/v1/atm/session", atmHandler.OpenSession)
	atm := router.Group("/v1/atm", middleware.AuthMiddleware(sessions, session.RoleCustomer))
	{
		atm.DELETE("/session", atmHandler.CloseSession)
		atm.GET("/balance", atmHandler.Balance)
		atm.GET("/ministatement", atmHandler.MiniStatement)
		atm.POST("/deposit", atmHandler.Deposit)
		atm.POST("/withdraw", atmHandler.Withdraw)
		atm.POST("/transfer", atmHandler.Transfer)
		atm.POST("/bills", atmHandler.PayBill)
		atm.PUT("/pin", atmHandler.ChangePIN)
	}

	virtual := router.Group("/v1/virtual")
	{
		virtual.POST("/withdraw", atmHandler.VirtualWithdraw)
		virtual.POST("/transfer", atmHandler.VirtualTransfer)
	}

	router.POST("/v1/admin/login", adminHandler.Login)
	admin := router.Group("/v1/admin", middleware.AuthMiddleware(sessions, session.RoleAdmin))
	{
		admin.POST("/cards/:card/block", adminHandler.BlockCard)
		admin.POST("/cards/:card/unblock", adminHandler.UnblockCard)
		admin.PUT("/maintenance", adminHandler.SetMaintenance)
	}

	go sweep(ctx, sessions, logs)

	port := getEnv("PORT", "8080")
	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		log.Printf("Transaction core starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}
}

// startLedger copies audit events from the Redis stream into immudb.
func startLedger(ctx context.Context, redis *goredis.Client, addr string) {
	l, err := ledger.Open(ctx, ledger.Config{
		Addr:     addr,
		Username: getEnv("IMMUDB_USER", "immudb"),
		Password: getEnv("IMMUDB_PASSWORD", "immudb"),
		Database: getEnv("IMMUDB_DATABASE", "defaultdb"),
	})
	if err != nil {
		log.Printf("Failed to open audit ledger, continuing without it: %v", err)
		return
	}

	subscriber := events.NewSubscriber(redis, events.SubscriberConfig{
		Group:    "tpc-ledger",
		Consumer: getEnv("HOSTNAME", "tpcd"),
		Stream:   events.AuditEventsStream,
		Handler:  l.Handle,
	})
	if err := subscriber.Setup(ctx); err != nil {
		log.Printf("Failed to set up ledger subscriber: %v", err)
		l.Close()
		return
	}
	go func() {
		defer l.Close()
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Ledger subscriber stopped: %v", err)
		}
	}()
}

func sweep(ctx context.Context, sessions *session.Manager, logs *audit.Logger) {
	sessionTick := time.NewTicker(sessionSweepTick)
	logTick := time.NewTicker(logSweepTick)
	defer sessionTick.Stop()
	defer logTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTick.C:
			if n := sessions.Sweep(); n > 0 {
				log.Printf("Expired %d idle sessions", n)
			}
		case <-logTick.C:
			if n, err := logs.Sweep(); err != nil {
				log.Printf("Failed to sweep log files: %v", err)
			} else if n > 0 {
				log.Printf("Removed %d expired log files", n)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
