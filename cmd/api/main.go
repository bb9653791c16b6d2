package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/staykey-io/staykey/internal/config"
	"github.com/staykey-io/staykey/internal/database"
	"github.com/staykey-io/staykey/internal/events"
	"github.com/staykey-io/staykey/internal/handlers"
	"github.com/staykey-io/staykey/internal/jobs"
	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/lockprovider"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/mutex"
	"github.com/staykey-io/staykey/internal/pms"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/recon"
	"github.com/staykey-io/staykey/internal/scheduler"
	"github.com/staykey-io/staykey/internal/store"
	"github.com/staykey-io/staykey/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.Booking{},
		&models.Unit{},
		&models.Lock{},
		&models.UnitLockMapping{},
		&models.Credential{},
		&models.AuditEntry{},
		&models.QueueJob{},
		&models.BookingMutex{},
		&models.ReconRun{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	st := store.New(db)

	// 4. Lock vendor registry. The in-memory provider backs development
	// and any lock rows tagged vendor=memory; real vendor adapters
	// register here the same way.
	registry := lockprovider.NewRegistry()
	if err := registry.Register(lockprovider.NewMemoryProvider()); err != nil {
		log.Fatalf("Failed to register memory provider: %v", err)
	}
	for _, provider := range registry.List() {
		log.Printf("🔐 Lock vendor registered: %s (%s)", provider.Code(), provider.Name())
	}

	// 5. Per-booking mutex with expiry sweeper
	mx := mutex.NewService(db)
	mx.StartSweeper(rootCtx, cfg.Scheduler.MutexTTL)

	// 6. Durable job queue and scheduler
	q := queue.New(db, queue.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		Workers:      cfg.Scheduler.Workers,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
	})
	sched := scheduler.New(q, cfg.Scheduler.GenerateLead)

	// 7. Websocket ops feed (also delivers freshly issued codes)
	hub := websocket.NewHub()
	go hub.Run()

	// 8. Job processors
	jobCfg := jobs.Config{
		MutexTTL:      cfg.Scheduler.MutexTTL,
		VendorTimeout: cfg.Scheduler.VendorTimeout,
	}
	generateProc := jobs.NewGenerateProcessor(st, mx, registry, hub, jobCfg)
	revokeProc := jobs.NewRevokeProcessor(st, mx, registry, jobCfg)
	q.RegisterHandler(models.JobKindGenerate, generateProc)
	q.RegisterHandler(models.JobKindRevoke, revokeProc)
	q.Start(rootCtx)

	// 9. Booking lifecycle handler
	lc := lifecycle.NewHandler(st, sched, revokeProc)

	// 10. Reconciliation against the booking system
	if cfg.PMS.URL != "" {
		client := pms.NewClient(cfg.PMS.URL, cfg.PMS.Database, cfg.PMS.Username, cfg.PMS.Password)
		engine := recon.NewEngine(client, st, lc, q,
			time.Duration(cfg.PMS.ReconInterval)*time.Minute)
		engine.Start(rootCtx)
	} else {
		log.Println("⚠️ PMS_URL not set, reconciliation disabled")
	}

	// 11. AMQP booking event consumer (optional)
	var consumer *events.Consumer
	if cfg.AMQP.URL != "" {
		consumer = events.NewConsumer(events.Config{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Queue:    cfg.AMQP.Queue,
		}, lc)
		if err := consumer.Connect(); err != nil {
			log.Printf("⚠️ AMQP: Failed to connect: %v", err)
			consumer = nil
		} else {
			go func() {
				if err := consumer.Run(rootCtx); err != nil {
					log.Printf("⚠️ AMQP consumer stopped: %v", err)
				}
			}()
		}
	} else {
		log.Println("⚠️ AMQP_URL not set, event consumer disabled")
	}

	// 12. HTTP router
	router := handlers.NewRouter(st, lc, sched, hub, cfg.JWTSecret)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop background work: consumer, recon ticker, queue workers
	rootCancel()
	if consumer != nil {
		consumer.Close()
	}
	q.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
