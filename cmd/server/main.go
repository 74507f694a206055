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
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/servana/backend/docs"
	"github.com/servana/backend/internal/config"
	"github.com/servana/backend/internal/database"
	"github.com/servana/backend/internal/gateway"
	"github.com/servana/backend/internal/handlers"
	mW "github.com/servana/backend/internal/middleware"
	"github.com/servana/backend/internal/notify"
	"github.com/servana/backend/internal/payouts"
	"github.com/servana/backend/internal/receipts"
	"github.com/servana/backend/internal/services"
	"github.com/servana/backend/internal/store"
)

// @title Servana Payments API
// @version 1.0
// @description Booking payment lifecycle engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

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

	viper.BindEnv("gateway.secret_key", "GATEWAY_SECRET_KEY")
	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("sweep.secret", "SWEEP_JOB_SECRET")
	viper.BindEnv("payouts.platform_bic", "PAYOUTS_PLATFORM_BIC")

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Servana Payments API"
	docs.SwaggerInfo.Description = "Booking payment lifecycle engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// A missing gateway key is a deployment error, not a runtime condition.
	gatewaySecret := viper.GetString("gateway.secret_key")
	if gatewaySecret == "" {
		log.Fatal("GATEWAY_SECRET_KEY is not configured")
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	paymentsCfg := config.LoadPaymentsConfig()

	ledger := store.New(db)
	stripeClient := gateway.NewStripeClient(gatewaySecret, paymentsCfg.GatewayTimeout)
	if baseURL := viper.GetString("gateway.base_url"); baseURL != "" {
		stripeClient = stripeClient.WithBaseURL(baseURL)
	}

	var notifier services.Notifier
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient)
	}

	orchestrator := services.NewPaymentService(ledger, stripeClient, notifier, paymentsCfg)
	sweeper := services.NewSweeper(ledger, stripeClient, notifier, paymentsCfg)
	receiptService := receipts.NewService(redisClient, paymentsCfg.ReceiptTokenTTL)
	exporter := payouts.NewExporter(ledger, viper.GetString("payouts.platform_bic"))

	paymentHandler := handlers.NewPaymentHandler(orchestrator, ledger)
	sweepHandler := handlers.NewSweepHandler(sweeper)
	receiptHandler := handlers.NewReceiptHandler(receiptService, ledger)
	payoutHandler := handlers.NewPayoutHandler(exporter)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
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

	// Internal job endpoints, guarded by the scheduler's shared secret.
	r.Route("/internal/jobs", func(r chi.Router) {
		r.Use(mW.JobSecretMiddleware(viper.GetString("sweep.secret")))
		r.Post("/capture-sweep", sweepHandler.RunSweep)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Post("/receipts/redeem", receiptHandler.RedeemReceipt)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/bookings/{bookingID}/accept", paymentHandler.AcceptBooking)
			r.Post("/bookings/{bookingID}/decline", paymentHandler.DeclineBooking)
			r.Post("/bookings/{bookingID}/cancel", paymentHandler.CancelBooking)
			r.Get("/bookings/{bookingID}/payment", paymentHandler.GetPaymentState)
			r.Get("/bookings/{bookingID}/receipt", receiptHandler.IssueReceipt)

			r.Post("/payouts/{bookingID}/export", payoutHandler.ExportPayout)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
