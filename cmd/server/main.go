package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gr4yha7/ghosttab-backend/internal/audit"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/database"
	"github.com/gr4yha7/ghosttab-backend/internal/handlers"
	"github.com/gr4yha7/ghosttab-backend/internal/ledger"
	"github.com/gr4yha7/ghosttab-backend/internal/logger"
	"github.com/gr4yha7/ghosttab-backend/internal/metrics"
	mW "github.com/gr4yha7/ghosttab-backend/internal/middleware"
	"github.com/gr4yha7/ghosttab-backend/internal/notify"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/gr4yha7/ghosttab-backend/internal/scheduler"
	"github.com/gr4yha7/ghosttab-backend/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

const apiDocsDir = "./api"

func main() {
	if err := config.ReadEnv(".env"); err != nil {
		log.Printf("Config file not found, using environment and defaults: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := database.OpenPostgres(ctx, cfg.Database, zlog)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := database.OpenRedis(ctx, cfg.Redis, zlog)
	if err != nil {
		return err
	}
	defer rdb.Close()

	eth, err := ethclient.DialContext(ctx, cfg.Ledger.RPCURL)
	if err != nil {
		return err
	}
	defer eth.Close()
	verifier, err := ledger.NewEVMVerifier(eth, cfg.Ledger, zlog)
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(
		cfg.Notification.WorkerPoolSize,
		cfg.Notification.PublishTimeout,
		notify.NewRedisPublisher(rdb),
		notify.NewRedisMailer(rdb),
		m.NotificationsDropped,
		zlog,
	)
	if err != nil {
		return err
	}
	defer dispatcher.Close(5 * time.Second)

	repo := repository.New(db, cfg.Database.QueryTimeout)
	auditLog := audit.NewAuditLogger(zlog)

	otpService := services.NewOTPService(repo, rdb, dispatcher, cfg.OTP, zlog)
	trustService := services.NewTrustService(repo, zlog)
	tabService := services.NewTabService(repo, repo, otpService, dispatcher, auditLog, cfg.Tab, cfg.Ledger.Assets, zlog)
	participationService := services.NewParticipationService(repo, repo, otpService, dispatcher, auditLog, cfg.Tab, zlog)
	settlementService := services.NewSettlementService(repo, repo, verifier, trustService, dispatcher, auditLog, m, cfg.Tab, cfg.Ledger, zlog)
	paymentRequests := services.NewPaymentRequestService(repo, cfg.Tab, cfg.Ledger)
	reminderService := services.NewReminderService(repo, dispatcher, m, cfg.Tab, cfg.Reminder, zlog)

	jobs, err := scheduler.NewManager(cfg.Reminder, zlog)
	if err != nil {
		return err
	}
	if cfg.Reminder.Enabled {
		if err := jobs.Register(scheduler.NewReminderJob(reminderService, cfg.Reminder.CronSpec, zlog)); err != nil {
			return err
		}
	}
	if err := jobs.Register(scheduler.NewOTPCleanupJob(otpService, cfg.OTP.CleanupSchedule, zlog)); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	tabHandler := handlers.NewTabHandler(tabService, participationService, settlementService, paymentRequests, zlog)
	trustHandler := handlers.NewTrustHandler(trustService, zlog)
	adminHandler := handlers.NewAdminHandler(reminderService, zlog)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mW.Metrics(m))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		} else if err := rdb.Ping(r.Context()).Err(); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	r.Handle("/openapi.yaml", mW.APIDocs(apiDocsDir))
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware(cfg.JWT.SecretKey))

		tabHandler.Routes(r)
		trustHandler.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole(mW.RoleAdmin))
			adminHandler.Routes(r)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zlog.Info("server stopped")
	return nil
}
