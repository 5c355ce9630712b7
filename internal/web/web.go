package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/aspect-cropper/pkg/session"
	"github.com/menta2k/aspect-cropper/pkg/sink"
	"github.com/menta2k/aspect-cropper/pkg/suggest"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

type Config struct {
	Store     *session.Store
	Suggester *suggest.Suggester
	// Clipboard receives /copy requests; nil disables the endpoint
	Clipboard        sink.Sink
	Format           types.Format
	Quality          float64
	BodyLimit        int
	SessionTTL       time.Duration
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	app          *fiber.App
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.Store == nil {
		config.Store = session.NewStore(session.Options{})
	}
	if config.Format == "" {
		config.Format = types.FormatWebP
	}
	if config.BodyLimit <= 0 {
		config.BodyLimit = 50 << 20
	}
	a := &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
	a.app = a.routes()
	return a
}

// App exposes the fiber application, mainly for app.Test
func (a *WebApp) App() *fiber.App {
	return a.app
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func (a *WebApp) routes() *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             a.config.BodyLimit,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(c.UserContext()).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	webapp.Use(recover.New())
	webapp.Use(func(c *fiber.Ctx) error {
		logger := log.Logger.With().Str("request_id", uuid.NewString()).Logger()
		c.SetUserContext(logger.WithContext(c.UserContext()))
		return c.Next()
	})

	api := webapp.Group("/api")
	api.Get("/ratios", a.handleRatios)
	api.Post("/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	sessions := api.Group("/sessions")
	sessions.Post("/", a.handleCreate)
	sessions.Get("/:id", a.withSession(a.handleGet))
	sessions.Delete("/:id", a.handleDelete)
	sessions.Post("/:id/image", a.withSession(a.handleUpload))
	sessions.Put("/:id/ratio", a.withSession(a.handleRatio))
	sessions.Post("/:id/rotate", a.withSession(a.handleRotate))
	sessions.Put("/:id/crop", a.withSession(a.handleCrop))
	sessions.Post("/:id/commit", a.withSession(a.handleCommit))
	sessions.Post("/:id/smart-crop", a.withSession(a.handleSmartCrop))
	sessions.Get("/:id/preview", a.withSession(a.handlePreview))
	sessions.Get("/:id/download", a.withSession(a.handleDownload))
	sessions.Post("/:id/copy", a.withSession(a.handleCopy))
	sessions.Post("/:id/reset", a.withSession(a.handleReset))

	return webapp
}

// Run serves on addr until ctx is done or Shutdown is called
func (a *WebApp) Run(ctx context.Context, addr string) error {
	a.app.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := a.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	if ttl := a.config.SessionTTL; ttl > 0 {
		go a.pruneSessions(ctx, ttl)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := a.app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *WebApp) pruneSessions(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(min(ttl, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdownCh:
			return
		case <-ticker.C:
			if n := a.config.Store.Prune(ttl); n > 0 {
				log.Ctx(ctx).Debug().Int("sessions", n).Msg("pruned idle sessions")
			}
		}
	}
}

// statusFor maps error kinds onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInputType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, types.ErrDecodeFailure), errors.Is(err, types.ErrImageTooSmall):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStale):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoImage):
		return http.StatusPreconditionFailed
	case errors.Is(err, types.ErrConfigMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrSuggestionUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrClipboardWriteFailure):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrRenderUnavailable):
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
