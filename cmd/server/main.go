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
	"github.com/kidcoin/backend/docs"
	"github.com/kidcoin/backend/internal/database"
	mW "github.com/kidcoin/backend/internal/middleware"
	"github.com/kidcoin/backend/internal/notify"
	"github.com/kidcoin/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title KidCoin Allowance API
// @version 1.0
// @description Parent/child allowance backend: coin ledger, game-day purchases and approval requests
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

	viper.BindEnv("amqp.url", "AMQP_URL")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 168)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "KidCoin Allowance API"
	docs.SwaggerInfo.Description = "Parent/child allowance backend"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Notification gateway: in-process WebSocket hub plus an optional AMQP
	// fan-out. Both are fire-and-forget.
	hub := notify.NewHub()
	publishers := notify.Fanout{hub}
	if amqpURL := viper.GetString("amqp.url"); amqpURL != "" {
		rabbit, err := notify.NewRabbitMQ(amqpURL)
		if err != nil {
			log.Printf("AMQP connection failed, continuing without it: %v", err)
		} else {
			defer rabbit.Close()
			publishers = append(publishers, rabbit)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Initialize services
	ledgerService := services.NewLedgerService(db)
	requestService := services.NewRequestService(db)
	coinService := services.NewCoinService(ledgerService, requestService, publishers)
	gameTimeService := services.NewGameTimeService(ledgerService, requestService, publishers)
	familyService := services.NewFamilyService(db, redisClient, requestService, publishers)
	exportService := services.NewExportService(ledgerService)
	authService := services.NewAuthService(db, redisClient, familyService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
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

	// Live notifications
	r.Handle("/ws", hub.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/parents", familyService.GetParents)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)
			r.Get("/children/{parentId}", familyService.GetChildren)

			// Coin ledger
			r.Post("/coins", coinService.AddCoins)
			r.Get("/coins/balance/{userId}", coinService.GetBalance)
			r.Get("/coins/history/{userId}", coinService.GetHistory)
			r.Get("/coins/parent-history/{parentId}", coinService.GetParentHistory)
			r.Get("/coins/reconcile/{userId}", coinService.Reconcile)
			r.Patch("/coins/{coinId}", coinService.UpdateCoin)
			r.Delete("/coins/{coinId}", coinService.DeleteCoin)

			// Coin requests
			r.Post("/coins/request", coinService.RequestCoins)
			r.Get("/coins/requests/{parentId}", coinService.GetCoinRequests)
			r.Post("/coins/request/{requestId}/approve", coinService.ApproveCoinRequest)
			r.Post("/coins/request/{requestId}/reject", coinService.RejectCoinRequest)

			// Game time
			r.Post("/game-time/request", gameTimeService.RequestGameTime)
			r.Get("/game-time/requests/{parentId}", gameTimeService.GetRequests)
			r.Post("/game-time/respond/{requestId}", gameTimeService.Respond)
			r.Post("/game-time/purchase", gameTimeService.Purchase)
			r.Get("/game-time/purchases/{userId}", gameTimeService.GetPurchases)

			// Account lifecycle
			r.Post("/delete-requests", familyService.RequestDeletion)
			r.Get("/delete-requests/{parentId}", familyService.GetDeleteRequests)
			r.Post("/user/delete/{userId}", familyService.DeleteUser)
			r.Post("/user/{userId}/coin-unit", familyService.UpdateCoinUnit)
			r.Get("/family/invite-qr", familyService.GenerateInviteQR)

			// CSV exports
			r.Get("/coins/export/{userId}", exportService.ExportCoinHistory)
			r.Get("/game-time/export/{userId}", exportService.ExportPurchases)
			r.Get("/parent/coins/export/{parentId}", exportService.ExportParentHistory)
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
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
