// Command server is the controller's process entrypoint: it validates the
// environment, wires the volatile store / exchange / distributed mutex to
// either an in-process implementation or Redis, registers every signaling
// module, and serves the HTTP Handoff surface (spec.md §4.9, §6) behind
// gin, grounded on the teacher's cmd/v1/session/main.go wiring shape.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/opentalk/controller/internal/assetstore"
	"github.com/opentalk/controller/internal/auth"
	"github.com/opentalk/controller/internal/config"
	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/health"
	"github.com/opentalk/controller/internal/httpapi"
	"github.com/opentalk/controller/internal/livekitcreds"
	"github.com/opentalk/controller/internal/logging"
	"github.com/opentalk/controller/internal/middleware"
	"github.com/opentalk/controller/internal/module"
	"github.com/opentalk/controller/internal/modules/automod"
	"github.com/opentalk/controller/internal/modules/breakout"
	"github.com/opentalk/controller/internal/modules/chat"
	"github.com/opentalk/controller/internal/modules/echo"
	"github.com/opentalk/controller/internal/modules/legalvote"
	"github.com/opentalk/controller/internal/modules/meetingnotes"
	"github.com/opentalk/controller/internal/modules/moderation"
	"github.com/opentalk/controller/internal/modules/recording"
	"github.com/opentalk/controller/internal/modules/whisper"
	"github.com/opentalk/controller/internal/mutex"
	"github.com/opentalk/controller/internal/padservice"
	"github.com/opentalk/controller/internal/ratelimit"
	"github.com/opentalk/controller/internal/room"
	"github.com/opentalk/controller/internal/store"
	"github.com/opentalk/controller/internal/store/memory"
	"github.com/opentalk/controller/internal/store/redisstore"
	"github.com/opentalk/controller/internal/ticket"
	"github.com/opentalk/controller/internal/tracing"
)

const serviceName = "opentalk-controller"

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	var tracingEnabled bool
	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), serviceName, collectorAddr)
		if err != nil {
			slog.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		tracingEnabled = true
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("tracer shutdown failed", "error", err)
			}
		}()
	} else {
		slog.Info("OTEL_COLLECTOR_ADDR not set, tracing disabled")
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	var vstore store.Store
	var exch exchange.Exchange
	var locker mutex.Locker
	var ticketStore ticket.Store
	if redisClient != nil {
		vstore = redisstore.New(redisClient)
		exch = exchange.NewRedis(redisClient)
		locker = mutex.NewRedis(redisClient)
		ticketStore = ticket.NewRedisStore(redisClient)
		slog.Info("volatile store backend", "kind", "redis")
	} else {
		vstore = memory.New()
		exch = exchange.NewLocal()
		locker = mutex.NewMemory()
		ticketStore = ticket.NewMemoryStore()
		slog.Info("volatile store backend", "kind", "memory")
	}

	var validator auth.Validator
	if cfg.SkipAuth {
		slog.Warn("authentication disabled via SKIP_AUTH, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			slog.Error("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set when SKIP_AUTH is false")
			os.Exit(1)
		}
		jwksValidator, err := auth.NewJWKSValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("failed to initialize JWKS validator", "error", err)
			os.Exit(1)
		}
		validator = jwksValidator
	}

	tickets := ticket.NewService(ticketStore, cfg.TicketTTL)

	registry := module.NewRegistry()
	registry.Register(echo.Builder{})
	registry.Register(breakout.Builder{})
	registry.Register(moderation.Builder{})
	registry.Register(recording.Builder{})
	registry.Register(chat.Builder{})
	registry.Register(automod.Builder{})
	registry.Register(legalvote.Builder{})

	padClient := padservice.New(getEnvOrDefault("PAD_SERVICE_URL", "http://pad-service.internal"))
	assetClient := assetstore.New(getEnvOrDefault("ASSET_STORE_URL", "http://asset-store.internal"))
	registry.Register(meetingnotes.Builder{
		Provisioner: padClient,
		Assets:      assetClient,
	})

	var lkClient *livekitcreds.Client
	if livekitURL := os.Getenv("LIVEKIT_URL"); livekitURL != "" {
		lkClient = livekitcreds.New(livekitURL, os.Getenv("LIVEKIT_API_KEY"), os.Getenv("LIVEKIT_API_SECRET"))
		registry.Register(whisper.Builder{Rooms: lkClient})
	} else {
		slog.Warn("LIVEKIT_URL not set, whisper module disabled")
	}

	controller := &room.Controller{
		Store:                  vstore,
		Locker:                 locker,
		Exchange:               exch,
		ServerDisabledFeatures: nil,
		Registry:               registry,
	}

	var rateLimitRedis *redis.Client
	if redisClient != nil {
		rateLimitRedis = redisClient
	}
	limiter, err := ratelimit.New(cfg.RateLimitAPIGlobal, cfg.RateLimitAPIPublic, cfg.RateLimitAPIRooms, cfg.RateLimitWsIP, cfg.RateLimitWsUser, rateLimitRedis)
	if err != nil {
		slog.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	allowedOrigins := auth.AllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	// runnerCtx is the capacity-1 shutdown broadcast of spec.md §5: every
	// runner is bound to it via httpapi.Handoff.ShutdownCtx, and cancelling
	// it here is what drives each runner's Leaving/on_destroy(None) exit.
	runnerCtx, cancelRunners := context.WithCancel(context.Background())
	defer cancelRunners()

	handoff := &httpapi.Handoff{
		Auth:                validator,
		Directory:           httpapi.NewStaticDirectory(),
		Store:                vstore,
		Exchange:             exch,
		Tickets:              tickets,
		Controller:           controller,
		Registry:             registry,
		Subprotocol:          cfg.Subprotocol,
		AllowedOrigins:       allowedOrigins,
		ResumptionKeepAlive:  cfg.ResumptionKeepAlive,
		ShutdownCtx:          runnerCtx,
	}

	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(limiter.Global())
	if tracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	handoff.Register(router, limiter)

	var livekitPinger health.LiveKitPinger
	if lkClient != nil {
		livekitPinger = lkClient
	}
	healthHandler := health.NewHandler(redisClient, livekitPinger)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/health", healthHandler.Liveness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("controller starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	// Stop accepting new upgrades, then broadcast shutdown to every live
	// runner and give them up to ShutdownGrace to finish Leaving/on_destroy
	// and flush before the process exits (spec.md §4.4, §5).
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	cancelRunners()
	time.Sleep(cfg.ShutdownGrace)
	slog.Info("exited")
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
