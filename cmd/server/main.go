package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/credithub/backend/internal/config"
	"github.com/credithub/backend/internal/handler"
	"github.com/credithub/backend/internal/metrics"
	appMiddleware "github.com/credithub/backend/internal/middleware"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/internal/service"
	"github.com/credithub/backend/pkg/events"
	"github.com/credithub/backend/pkg/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx := context.Background()

	// Initialize storage. Without DATABASE_URL the server runs on the
	// in-memory store, which loses everything on restart.
	var (
		db       *pgxpool.Pool
		ledger   repository.LedgerStore
		accounts repository.AccountStore
		subs     repository.SubscriptionStore
		orders   repository.OrderStore
		usage    repository.UsageStore
	)
	if cfg.DatabaseURL != "" {
		db, err = repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Database error: %v", err)
		}
		defer db.Close()

		if err := repository.RunMigrations(ctx, db); err != nil {
			log.Fatalf("❌ Migration error: %v", err)
		}
		log.Println("✅ Database connected & migrated")

		ledger = repository.NewLedgerRepository(db)
		accounts = repository.NewAccountRepository(db)
		subs = repository.NewSubscriptionRepository(db)
		orders = repository.NewOrderRepository(db)
		usage = repository.NewUsageRepository(db)
	} else {
		log.Println("⚠️  DATABASE_URL not set, using in-memory store (development only)")
		mem := repository.NewMemoryStore()
		ledger = mem
		accounts = mem.Accounts()
		subs = mem.Subscriptions()
		orders = mem.Orders()
		usage = mem
	}

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Event publisher
	publisher := events.NewFromBrokers(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	// Initialize services
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, accounts)
	if err := authSvc.SeedAdmin(ctx); err != nil {
		log.Fatalf("❌ Admin seed error: %v", err)
	}

	policy := service.NewAdminPolicy(cfg.AdminAllowlist)
	provisionSvc := service.NewProvisionService(ledger, publisher, m)
	subSvc := service.NewSubscriptionService(subs, accounts, orders, provisionSvc)
	checkoutSvc := service.NewCheckoutService(orders)
	authorizer := service.NewSpendAuthorizer(provisionSvc, accounts, policy, usage, m)

	// Background allocation & cleanup loop
	scheduler := service.NewScheduler(subSvc, provisionSvc, usage, time.Hour)
	scheduler.Start(ctx)

	// Payment providers
	cardgate := payment.NewCardgate(cfg.CardgateSecret)
	walletpay := payment.NewWalletpay(cfg.WalletpaySecret)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authSvc)
	healthHandler := handler.NewHealthHandler(db)
	webhookHandler := handler.NewWebhookHandler(subSvc, m, cardgate, walletpay)
	creditsHandler := handler.NewCreditsHandler(authorizer, ledger, accounts, subSvc, policy)
	allocationHandler := handler.NewAllocationHandler(subSvc, cfg.AllocationSecret)
	checkoutHandler := handler.NewCheckoutHandler(checkoutSvc)
	plansHandler := handler.NewPlansHandler()
	adminHandler := handler.NewAdminHandler(db, authSvc, provisionSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cardgate-Signature", "X-Allocation-Secret"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/api/plans", plansHandler.List)
	r.Get("/api/plans/costs", plansHandler.Costs)

	// Provider webhooks (signature-verified in the handler)
	r.Post("/api/webhooks/{provider}", webhookHandler.Handle)

	// Internal allocation trigger (shared-secret header)
	r.Post("/api/internal/allocations/run", allocationHandler.Run)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/auth/me", authHandler.Me)

		// Credits
		r.Post("/api/credits/spend", creditsHandler.Spend)
		r.Get("/api/credits/balance", creditsHandler.Balance)
		r.Get("/api/credits/history", creditsHandler.History)
		r.Get("/api/credits/packs", checkoutHandler.Packs)
		r.Post("/api/credits/checkout", checkoutHandler.Create)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/stats", adminHandler.GetStats)
			r.Get("/api/admin/accounts", adminHandler.ListAccounts)
			r.Post("/api/admin/accounts", adminHandler.CreateAccount)
			r.Post("/api/admin/accounts/{id}/bonus", adminHandler.GrantBonus)
		})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 CreditHub Backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}
