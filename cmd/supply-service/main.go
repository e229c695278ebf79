package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmflow/pharmflow-backend/internal/supply/events"
	"github.com/pharmflow/pharmflow-backend/internal/supply/handler"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/internal/supply/service"
	"github.com/pharmflow/pharmflow-backend/pkg/config"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
	"github.com/pharmflow/pharmflow-backend/pkg/messaging"
	"github.com/pharmflow/pharmflow-backend/pkg/metrics"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("supply-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("supply-service", cfg.Server.Environment)
	log.Info().Msg("starting Supply Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewSupplyEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	drugRepo := repository.NewDrugRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	// Initialize service
	supplyService := service.NewSupplyService(db, drugRepo, batchRepo, requestRepo, publisher, log)

	// Initialize handlers
	drugHandler := handler.NewDrugHandler(supplyService, log)
	stockHandler := handler.NewStockHandler(supplyService, log)
	requestHandler := handler.NewRequestHandler(supplyService, log)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "http://localhost:3000" || origin == "http://localhost:5173" {
				return true
			}
			return cfg.Server.Environment == config.EnvDevelopment
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Actor)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "supply-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api/v1/supply", func(r chi.Router) {
		// Drug catalog
		r.Route("/drugs", func(r chi.Router) {
			r.Get("/", drugHandler.List)
			r.Post("/", drugHandler.Create)
			r.Get("/{id}", drugHandler.Get)
			r.Put("/{id}", drugHandler.Update)
			r.Put("/{id}/status", drugHandler.UpdateStatus)
		})

		// Stock
		r.Route("/stock", func(r chi.Router) {
			r.Post("/", stockHandler.Register)
			r.Route("/{kind}/{locationID}", func(r chi.Router) {
				r.Get("/", stockHandler.Overview)
				r.Get("/low", stockHandler.LowStock)
				r.Get("/drugs/{drugID}/batches", stockHandler.Batches)
			})
		})

		// Supply requests
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", requestHandler.List)
			r.Post("/", requestHandler.Create)
			r.Get("/{id}", requestHandler.Get)
			r.Post("/{id}/accept", requestHandler.Accept)
			r.Post("/{id}/fulfill", requestHandler.Fulfill)
			r.Post("/{id}/reject", requestHandler.Reject)
			r.Post("/{id}/cancel", requestHandler.Cancel)
			r.Post("/{id}/confirm-receipt", requestHandler.ConfirmReceipt)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
