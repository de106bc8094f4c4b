// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/servo-bridge/backend/internal/config"
	"github.com/servo-bridge/backend/internal/hub"
	"github.com/servo-bridge/backend/internal/metrics"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	State    SnapshotSource
	Gateway  CommandSubmitter
	Journal  EventReader
	Registry *hub.Registry
	Metrics  *metrics.Metrics
	Stream   StreamOptions
	Logger   *zap.Logger
	Version  string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Status  StatusHandler
	Command CommandHandler
	Events  EventsHandler
	Stream  StreamHandler
	Metrics http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.State),
		Status:  NewStatusHandler(deps.State),
		Command: NewCommandHandler(deps.Gateway),
		Events:  NewEventsHandler(deps.Journal),
		Stream:  NewWebSocketHandler(deps.Registry, deps.Gateway, deps.Stream, deps.Logger),
	}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers, metricsPath string) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Snapshot
	apiGroup.GET("/status", handlers.Status.HandleStatus)
	apiGroup.GET("/status/msgpack", handlers.Status.HandleStatusMsgpack)

	// Commands
	apiGroup.POST("/channels", handlers.Command.HandleSetChannel)
	apiGroup.POST("/move", handlers.Command.HandleSetChannel)
	apiGroup.POST("/channels/all", handlers.Command.HandleSetAllChannels)
	apiGroup.POST("/move_all", handlers.Command.HandleSetAllChannels)
	apiGroup.POST("/channels/:id/hold", handlers.Command.HandleToggleHold)
	apiGroup.POST("/speed", handlers.Command.HandleSetSpeed)

	// Journal
	apiGroup.GET("/events", handlers.Events.HandleEvents)

	// Telemetry stream
	apiGroup.GET("/ws", handlers.Stream.HandleStream)

	if handlers.Metrics != nil && metricsPath != "" {
		e.GET(metricsPath, echo.WrapHandler(handlers.Metrics))
	}
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg config.ServerConfig, log *zap.Logger) {
	e.HideBanner = true
	e.HidePort = true

	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler(log)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("handler panic", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))

	if cfg.EnableRequestLogging {
		e.Use(requestLogger(log))
	}

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: isStreamRequest,
	}))

	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	if cfg.EnableCORS {
		origins := strings.Split(cfg.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

// requestLogger logs every request through zap. Polling endpoints log at
// debug level.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			path := c.Request().URL.Path
			if path == "/api/health" || path == "/api/status" || strings.HasSuffix(path, "/msgpack") {
				log.Debug("request", fields...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}

func isStreamRequest(c echo.Context) bool {
	return c.Request().URL.Path == "/api/ws" || c.IsWebSocket()
}

// ServerTimeouts returns the http.Server timeouts from cfg
func ServerTimeouts(cfg config.ServerConfig) (read, write, idle time.Duration) {
	return time.Duration(cfg.ReadTimeout) * time.Second,
		time.Duration(cfg.WriteTimeout) * time.Second,
		time.Duration(cfg.IdleTimeout) * time.Second
}
