// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authhttp "wgkeeper/internal/auth/transport/http"
	"wgkeeper/internal/config"
	"wgkeeper/internal/notify"
	"wgkeeper/internal/scheduler"
	subscriptionrepository "wgkeeper/internal/subscription/repository"
	subscriptionservice "wgkeeper/internal/subscription/service"
	subscriptionhttp "wgkeeper/internal/subscription/transport/http"
	wgrepository "wgkeeper/internal/wireguard/repository"
	wgservice "wgkeeper/internal/wireguard/service"
	wghttp "wgkeeper/internal/wireguard/transport/http"
	"wgkeeper/pkg/db"
	"wgkeeper/pkg/middleware"
)

func main() {
	log.Println("wgkeeper starting...")
	cfg := config.Load()
	log.Println("Config loaded")

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	subRepo := subscriptionrepository.NewSubscriptionRepository(database)
	if err := subRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Subscription schema failed: %v", err)
	}
	configRepo := wgrepository.NewClientConfigRepository(database)
	if err := configRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Client config schema failed: %v", err)
	}

	subService := subscriptionservice.NewService(subRepo)

	pool := wgservice.NewServerPool(cfg.PoolStateFile)
	manager := wgservice.NewServerManager(pool, cfg)
	provisioner := wgservice.NewProvisioner(manager, subService, configRepo, cfg.CapacityPolicy)

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	} else {
		log.Println("Warning: NOTIFY_WEBHOOK_URL not set, notifications go to log")
		notifier = notify.LogNotifier{}
	}

	sched := scheduler.New(
		subService,
		manager,
		scheduler.NewNotificationDedup(),
		notifier,
		cfg.ExpiryInterval,
		cfg.WarningInterval,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	authHandler := authhttp.NewHandler(cfg.JWTSecret, cfg.AdminPasswordHash)
	subHandler := subscriptionhttp.NewSubscriptionHandler(subService)
	wgHandler := wghttp.NewWireGuardHandler(provisioner, manager)

	// --- РОУТЕР ---
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewRateLimiter(100, time.Minute).Middleware)
	r.Use(middleware.MetricsMiddleware)

	// Публичные роуты
	r.Post("/auth/login", authHandler.Login)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Защищённая группа маршрутов
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.JWTAuth(cfg.JWTSecret))
		pr.Use(middleware.ValidateRequest)

		pr.Post("/api/payment/create", subHandler.CreatePayment)
		pr.Post("/api/payment/webhook", subHandler.Webhook)
		pr.Get("/api/subscription", subHandler.GetSubscription)
		pr.Post("/api/admin/reset", subHandler.FullReset)

		pr.Post("/api/wireguard/provision", wgHandler.Provision)
		pr.Post("/api/wireguard/extend", wgHandler.Extend)
		pr.Post("/api/wireguard/clients/remove", wgHandler.RemoveClient)
		pr.Get("/api/wireguard/servers", wgHandler.ListServers)
		pr.Post("/api/wireguard/servers", wgHandler.RegisterServer)
		pr.Post("/api/wireguard/servers/{id}/refresh", wgHandler.RefreshServer)
	})

	// Метрики за basic auth
	r.Group(func(mr chi.Router) {
		mr.Use(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword))
		mr.Handle("/metrics", promhttp.Handler())
	})

	server := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	// Graceful shutdown на сигналы ОС
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Println("Shutdown signal received, starting graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}

		// Планировщик дорабатывает текущую подписку и останавливается
		cancel()
	}()

	log.Println("Server running on :8080")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}

	wg.Wait()
	log.Println("Server stopped")
}
