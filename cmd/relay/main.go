package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"chatrelay/broker"
	"chatrelay/config"
	"chatrelay/handlers"
	"chatrelay/logging"
	"chatrelay/registry"
	"chatrelay/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Broker connection lifecycle ---
	mgr := broker.NewManager(cfg.NatsURL, logger)
	mgr.Start(ctx)
	defer mgr.Close()

	// --- Session registry and outbound relay ---
	reg := registry.New()
	dispatcher := relay.NewDispatcher(reg, logger)
	go func() {
		if err := relay.Run(ctx, mgr, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("outbound relay stopped")
		}
	}()

	// --- Fiber app ---
	app := fiber.New()
	app.Use(fiberlogger.New()) // Basic request logging
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigin,
	}))

	// Liveness, independent of broker state.
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use("/chat", func(c *fiber.Ctx) error {
		// Check if the request is a WebSocket upgrade request
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	deps := handlers.Deps{Registry: reg, Publisher: mgr, Log: logger}

	// WebSocket endpoint: /chat/:room
	app.Get("/chat/:room", websocket.New(func(c *websocket.Conn) {
		handlers.HandleWebSocket(c, deps)
	}))

	// --- Start Server ---
	// Connections are accepted regardless of broker readiness; inbound
	// messages are buffered until the broker comes up.
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("starting relay server")
		if err := app.Listen(cfg.Addr); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()

	if err := app.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("error shutting down fiber")
	}

	logger.Info().Msg("server gracefully stopped")
}
