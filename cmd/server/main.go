package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goride-sos/internal/config"
	handlers "goride-sos/internal/handlers/shared"
	"goride-sos/internal/middleware"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/internal/repositories/mongodb"
	"goride-sos/internal/services"
	"goride-sos/internal/utils"
	"goride-sos/pkg/cache"
	"goride-sos/pkg/database"
	"goride-sos/pkg/logger"
	"goride-sos/pkg/maps"
	"goride-sos/pkg/push"
	"goride-sos/pkg/realtime"
	"goride-sos/pkg/sms"
	"goride-sos/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.LogLevel(cfg.App.LogLevel),
		Format: cfg.App.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Infof("Starting %s v%s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	mongoDB, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer mongoDB.Close()

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureEmergencyIndexes(indexCtx, mongoDB.Database); err != nil {
		cancelIndexes()
		log.WithError(err).Fatal("Failed to ensure emergency indexes")
	}
	cancelIndexes()

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	repo := mongodb.NewEmergencyRepository(mongoDB.Database, redisCache)

	hub := realtime.NewHub(repo.GetByID, cfg.SOS.TopicGracePeriod, cfg.WebSocket.SendBufferSize, log)

	smsProvider := buildSMSProvider(cfg, log)
	pushProvider := buildPushProvider(cfg, log)
	geocoder := buildGeocoder(cfg, log)

	resolver := services.NewRedisAudienceResolver(redisCache, log)
	notifications := services.NewNotificationService(resolver, smsProvider, pushProvider, repo, redisCache, cfg.SOS, log)
	notifications.Start()
	defer notifications.Stop()

	locks := services.NewLockTable()
	stateMachine := services.NewStateMachine(repo, hub, notifications, redisCache, locks, cfg.SOS, log)
	relay := services.NewLocationRelay(repo, hub, locks, cfg.SOS, log)
	coordinator := services.NewResponseCoordinator(stateMachine, notifications, log)
	enricher := services.NewAddressEnricher(geocoder, repo, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := services.NewSweeper(repo, stateMachine, cfg.SOS, log)
	go sweeper.Run(ctx)

	router := buildRouter(cfg, log, repo, stateMachine, relay, coordinator, enricher, hub, mongoDB, redisCache)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler: router,
	}

	go func() {
		log.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
}

func buildRouter(
	cfg *config.Config,
	log *logger.Logger,
	repo interfaces.EmergencyRepository,
	stateMachine services.StateMachine,
	relay services.LocationRelay,
	coordinator services.ResponseCoordinator,
	enricher *services.AddressEnricher,
	hub *realtime.Hub,
	mongoDB *database.MongoDB,
	redisCache *cache.RedisCache,
) *gin.Engine {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())

	router.GET("/health", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		details := gin.H{}
		if err := mongoDB.Client.Ping(checkCtx, nil); err != nil {
			status = "degraded"
			details["mongodb"] = err.Error()
		}
		if err := redisCache.HealthCheck(checkCtx); err != nil {
			status = "degraded"
			details["redis"] = err.Error()
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "details": details})
	})

	sosHandler := handlers.NewSOSHandler(stateMachine, relay, coordinator, enricher, repo)
	wsHandler := realtime.NewHandler(hub, log)

	api := router.Group("/api/v1")
	routes.SetupSOSRoutes(api, sosHandler, wsHandler, cfg.Security.JWTSecret)

	router.NoRoute(func(c *gin.Context) {
		utils.NotFoundResponse(c, "Route")
	})

	return router
}

func buildSMSProvider(cfg *config.Config, log *logger.Logger) sms.SMSProvider {
	switch cfg.SMS.Provider {
	case "sns":
		provider, err := sms.NewAWSSNSProvider(cfg.SMS.SNS.Region)
		if err != nil {
			log.WithError(err).Warn("AWS SNS unavailable, SMS notifications disabled")
			return nil
		}
		return provider
	case "twilio":
		if cfg.SMS.Twilio.AccountSID == "" {
			log.Warn("Twilio not configured, SMS notifications disabled")
			return nil
		}
		return sms.NewTwilioProvider(cfg.SMS.Twilio.AccountSID, cfg.SMS.Twilio.AuthToken, cfg.SMS.Twilio.FromNumber)
	default:
		log.Warnf("Unknown SMS provider %q, SMS notifications disabled", cfg.SMS.Provider)
		return nil
	}
}

func buildPushProvider(cfg *config.Config, log *logger.Logger) push.PushProvider {
	switch cfg.Push.Provider {
	case "apns":
		provider, err := push.NewAPNSProvider(&push.APNSConfig{
			KeyFile:    cfg.Push.APNSKeyFile,
			KeyID:      cfg.Push.APNSKeyID,
			TeamID:     cfg.Push.APNSTeamID,
			Topic:      cfg.Push.APNSTopic,
			Production: cfg.Push.APNSProduction,
		})
		if err != nil {
			log.WithError(err).Warn("APNS unavailable, push notifications disabled")
			return nil
		}
		return provider
	case "fcm":
		if cfg.Push.FCMCredentialsFile == "" {
			log.Warn("FCM not configured, push notifications disabled")
			return nil
		}
		provider, err := push.NewFCMProvider(cfg.Push.FCMCredentialsFile)
		if err != nil {
			log.WithError(err).Warn("FCM unavailable, push notifications disabled")
			return nil
		}
		return provider
	default:
		log.Warnf("Unknown push provider %q, push notifications disabled", cfg.Push.Provider)
		return nil
	}
}

func buildGeocoder(cfg *config.Config, log *logger.Logger) maps.Geocoder {
	if cfg.Maps.GoogleAPIKey == "" {
		log.Warn("Google Maps not configured, address enrichment disabled")
		return nil
	}

	geocoder, err := maps.NewGoogleMapsProvider(cfg.Maps.GoogleAPIKey)
	if err != nil {
		log.WithError(err).Warn("Google Maps unavailable, address enrichment disabled")
		return nil
	}
	return geocoder
}
