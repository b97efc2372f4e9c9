// Command server wires the watch-party and direct-chat domains into one
// process: the room registry, presence registry, direct-messaging pipeline,
// reaper, and HTTP/WebSocket routing.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/auth"
	"github.com/watchsync/engine/internal/config"
	"github.com/watchsync/engine/internal/directmsg"
	"github.com/watchsync/engine/internal/gateway"
	"github.com/watchsync/engine/internal/health"
	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/middleware"
	"github.com/watchsync/engine/internal/presence"
	"github.com/watchsync/engine/internal/ratelimit"
	"github.com/watchsync/engine/internal/reaper"
	"github.com/watchsync/engine/internal/store"
	"github.com/watchsync/engine/internal/watchparty"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("critical error loading configuration: %v", err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		log.Fatalf("critical error initializing logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal(ctx, "failed to connect to the database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, "internal/store/migrations"); err != nil {
		logging.Fatal(ctx, "failed to apply database migrations", zap.Error(err))
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	allowedOrigins := strings.Split(cfg.AllowedOrigins, ",")
	if cfg.AllowedOrigins == "" {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	roomRegistry := watchparty.NewRegistry(db)
	presenceRegistry := presence.NewRegistry(db)
	pipeline := directmsg.NewPipeline(db, presenceRegistry)

	roomReaper := reaper.New(roomRegistry)
	roomReaper.Start(ctx)

	gw := gateway.New(allowedOrigins)
	gw.WatchParty = roomRegistry
	gw.Presence = presenceRegistry
	gw.DirectMsg = pipeline
	gw.RateLimit = rateLimiter
	if cfg.AuthEnabled {
		gw.Auth = auth.NewHMACValidator(cfg.JWTSecret)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))

	router.GET(cfg.WatchPartyPath, gw.ServeWatchParty)
	router.GET(cfg.ChatPath, gw.ServeChat)

	publicRooms := gateway.NewPublicRoomsHandler(roomRegistry)
	router.GET("/public-rooms", rateLimiter.MiddlewareForEndpoint("rooms"), publicRooms.List)

	router.GET("/health", health.New(roomRegistry, presenceRegistry).Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		logging.Info(ctx, "server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "server forced to shutdown", zap.Error(err))
	}

	roomRegistry.CloseAll(1001, "server shutting down")
	roomReaper.Wait()
	logging.Info(context.Background(), "server exited cleanly")
}
