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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/consultease/central/internal/handler"
	"github.com/consultease/central/internal/middleware"
	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/mqtt"
	"github.com/consultease/central/internal/repository"
	"github.com/consultease/central/internal/service"
	"github.com/consultease/central/pkg/cache"
	"github.com/consultease/central/pkg/config"
	"github.com/consultease/central/pkg/database"
	"github.com/consultease/central/pkg/logger"
	corsmiddleware "github.com/consultease/central/pkg/middleware/cors"
	reqidmiddleware "github.com/consultease/central/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	cacheSvc := service.NewCacheService(nil, metricsSvc, cfg.Cache.TTL, logr, false)
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, running without response cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	facultyRepo := repository.NewFacultyRepository(db)
	consultationRepo := repository.NewConsultationRepository(db)
	userRepo := repository.NewUserRepository(db)

	broker := mqtt.NewManager(cfg.MQTT, metricsSvc, logr)
	topics := broker.Topics()

	badgeSvc := service.NewBadgeService(studentRepo, logr)
	studentSvc := service.NewStudentService(studentRepo, badgeSvc, validate, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	consultationSvc := service.NewConsultationService(db, consultationRepo, studentRepo, facultyRepo, broker, topics, validate, logr)
	facultySvc := service.NewFacultyService(facultyRepo, consultationSvc, broker, cacheSvc, topics, cfg.Presence.Grace, validate, logr)

	consultationSvc.RegisterObserver(func(detail models.ConsultationDetail) {
		metricsSvc.RecordTransition(detail.Status)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootstrap(ctx, cfg, logr, authSvc, facultySvc, badgeSvc)

	presence := func(topic string, payload []byte) {
		metricsSvc.RecordPresenceUpdate()
		facultySvc.HandlePresence(topic, payload)
	}
	if err := broker.Subscribe(topics.FacultyStatusPattern(), presence); err != nil {
		logr.Error("presence subscription failed", zap.Error(err))
	}
	if err := broker.Subscribe(mqtt.LegacyStatusTopic, presence); err != nil {
		logr.Error("legacy presence subscription failed", zap.Error(err))
	}
	broker.Start()

	go graceSweeper(ctx, facultySvc)

	router := buildRouter(cfg, logr, metricsSvc, authSvc, studentSvc, facultySvc, consultationSvc, badgeSvc, consultationRepo, broker)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}

	// Publishes the retained offline beacon before dropping the connection.
	broker.Stop()
	logr.Info("shutdown complete")
}

// bootstrap runs the start-of-day state fixes: seed the operator account,
// clear stale availability before retained beacons replay, and warm the
// badge cache.
func bootstrap(ctx context.Context, cfg *config.Config, logr *zap.Logger, authSvc *service.AuthService, facultySvc *service.FacultyService, badgeSvc *service.BadgeService) {
	if cfg.Admin.Password != "" {
		if err := authSvc.EnsureDefaultOperator(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
			logr.Error("operator bootstrap failed", zap.Error(err))
		}
	}
	if err := facultySvc.ResetAvailability(ctx); err != nil {
		logr.Error("availability reset failed", zap.Error(err))
	}
	if err := badgeSvc.Refresh(ctx); err != nil {
		logr.Error("badge cache warm-up failed", zap.Error(err))
	}
}

// graceSweeper expires lapsed grace windows until shutdown.
func graceSweeper(ctx context.Context, facultySvc *service.FacultyService) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			facultySvc.ExpireGraceWindows(ctx)
		}
	}
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metricsSvc *service.MetricsService,
	authSvc *service.AuthService,
	studentSvc *service.StudentService,
	facultySvc *service.FacultyService,
	consultationSvc *service.ConsultationService,
	badgeSvc *service.BadgeService,
	consultationRepo *repository.ConsultationRepository,
	broker *mqtt.Manager,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	facultyHandler := handler.NewFacultyHandler(facultySvc)
	consultationHandler := handler.NewConsultationHandler(consultationSvc)
	badgeHandler := handler.NewBadgeHandler(badgeSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, broker, consultationRepo, logr)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	// Device-facing endpoints. Desk and identity units sit on the lab
	// network and carry no operator credentials.
	api.GET("/faculty", facultyHandler.List)
	api.GET("/faculty/:id", facultyHandler.Get)
	api.GET("/consultations", consultationHandler.List)
	api.GET("/consultations/:id", consultationHandler.Get)
	api.POST("/consultations", consultationHandler.Create)
	api.POST("/consultations/:id/status", middleware.OptionalJWT(authSvc), consultationHandler.UpdateStatus)
	api.GET("/badges/:uid", badgeHandler.Lookup)
	api.POST("/badges/read", badgeHandler.Read)

	// Operator endpoints.
	admin := api.Group("")
	admin.Use(middleware.JWT(authSvc))
	admin.GET("/auth/me", authHandler.Me)
	admin.GET("/students", studentHandler.List)
	admin.GET("/students/:id", studentHandler.Get)
	admin.POST("/students", studentHandler.Create)
	admin.PUT("/students/:id", studentHandler.Update)
	admin.DELETE("/students/:id", studentHandler.Delete)
	admin.POST("/faculty", facultyHandler.Create)
	admin.PUT("/faculty/:id", facultyHandler.Update)
	admin.DELETE("/faculty/:id", facultyHandler.Delete)
	admin.POST("/badges/refresh", badgeHandler.RefreshCache)
	admin.GET("/system/metrics", metricsHandler.System)

	return r
}
