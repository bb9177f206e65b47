package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/callwise/callwise-api/internal/config"
	"github.com/callwise/callwise-api/internal/domain/agent"
	"github.com/callwise/callwise-api/internal/domain/billing"
	"github.com/callwise/callwise-api/internal/domain/wallet"
	"github.com/callwise/callwise-api/internal/middleware"
	"github.com/callwise/callwise-api/internal/pkg/database"
	"github.com/callwise/callwise-api/internal/pkg/jwt"
	"github.com/callwise/callwise-api/internal/pkg/response"
	"github.com/callwise/callwise-api/internal/pkg/stripeclient"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting CallWise API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	stripeClient := stripeclient.NewClient(stripeclient.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
	})

	// ---------- Repositories ----------
	walletRepo := wallet.NewRepository(db)
	billingRepo := billing.NewRepository(db)
	agentRepo := agent.NewRepository(db)

	// ---------- Services ----------
	walletService := wallet.NewService(walletRepo)
	billingService := billing.NewService(billingRepo, stripeClient, walletService, billing.CheckoutURLs{
		SuccessURL: cfg.FrontendURL + "/billing?checkout=success",
		CancelURL:  cfg.FrontendURL + "/billing?checkout=canceled",
	})
	agentService := agent.NewService(agentRepo)

	customerResolver := billing.NewResolver(billingRepo, stripeClient, redis)
	webhookProcessor := billing.NewProcessor(billingRepo, billingService, customerResolver)

	// ---------- Handlers ----------
	walletHandler := wallet.NewHandler(walletService)
	billingHandler := billing.NewHandler(billingService, stripeClient, webhookProcessor)
	agentHandler := agent.NewHandler(agentService)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/wallet", walletHandler.Routes(authMiddleware))
		r.Mount("/billing", billingHandler.Routes(authMiddleware))
		r.Mount("/agents", agentHandler.Routes(authMiddleware))

		// Webhooks authenticate by payload signature, not bearer token
		r.Mount("/webhooks", billingHandler.WebhookRoutes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
