package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/payloop/backend/docs"
	"github.com/payloop/backend/internal/config"
	"github.com/payloop/backend/internal/database"
	"github.com/payloop/backend/internal/handlers"
	mW "github.com/payloop/backend/internal/middleware"
	"github.com/payloop/backend/internal/processor"
	"github.com/payloop/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title PayLoop Platform API
// @version 1.0
// @description Payment-links platform: transaction ledger, reconciliation, affiliate payouts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("processor.webhook_secret", "PROCESSOR_WEBHOOK_SECRET")
	viper.BindEnv("processor.api_url", "PROCESSOR_API_URL")
	viper.BindEnv("processor.api_key", "PROCESSOR_API_KEY")
	viper.BindEnv("payout.rail_url", "PAYOUT_RAIL_URL")
	viper.BindEnv("payout.debtor_bic", "PAYOUT_DEBTOR_BIC")
	viper.BindEnv("paylink.base_url", "PAYLINK_BASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "PayLoop Platform API"
	docs.SwaggerInfo.Description = "Payment-links platform: transaction ledger, reconciliation, affiliate payouts"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	settlementCfg := config.LoadSettlementConfig()
	processorClient := processor.NewHTTPClient()
	payoutExecutor := processor.NewISO20022PayoutExecutor()

	ledgerService := services.NewLedgerService(db)
	balanceService := services.NewBalanceService(db, settlementCfg)
	reconciliationService := services.NewReconciliationService(db, redisClient, ledgerService, processorClient, settlementCfg)
	payoutService := services.NewPayoutService(db, redisClient, balanceService, payoutExecutor, settlementCfg)
	affiliateService := services.NewAffiliateService(db)
	payLinkService := services.NewPayLinkService(db, redisClient)

	webhookHandler := handlers.NewWebhookHandler(reconciliationService)
	payoutHandler := handlers.NewPayoutHandler(payoutService, balanceService)
	transactionHandler := handlers.NewTransactionHandler(ledgerService)
	reconciliationHandler := handlers.NewReconciliationHandler(reconciliationService)
	affiliateHandler := handlers.NewAffiliateHandler(affiliateService)
	payLinkHandler := handlers.NewPayLinkHandler(payLinkService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Processor-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for cached pay-link QR images
	r.Handle("/static/link-qr/*", http.StripPrefix("/static/link-qr/",
		mW.StaticFileServer("./static/link-qr")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Processor webhook (HMAC-authenticated, no session)
		r.Post("/webhooks/processor", webhookHandler.HandleProcessorEvent)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/links", payLinkHandler.CreateLink)
			r.Get("/links", payLinkHandler.ListLinks)
			r.Get("/links/{linkId}/qr", payLinkHandler.LinkQR)

			r.Post("/affiliates", affiliateHandler.Enroll)
			r.Get("/affiliates/{affiliateId}", affiliateHandler.GetAccount)
			r.Get("/affiliates/{affiliateId}/transactions", transactionHandler.ListByAffiliate)
			r.Get("/affiliates/{affiliateId}/balance", payoutHandler.GetBalance)
			r.Post("/affiliates/{affiliateId}/payouts", payoutHandler.RequestPayout)

			r.Get("/transactions/{txId}", transactionHandler.GetTransaction)
			r.Get("/payouts/{payoutId}", payoutHandler.GetPayout)

			// Operational tooling
			r.Post("/payouts/resolve", payoutHandler.ResolvePending)
			r.Post("/reconciliation/run", reconciliationHandler.Run)
			r.Get("/reconciliation/drifts", reconciliationHandler.ListDrifts)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
