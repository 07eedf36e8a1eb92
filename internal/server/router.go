package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/aalhour/bcache"
)

// DefaultAcquireTimeout bounds how long a request waits for an in-flight slot.
const DefaultAcquireTimeout = 5 * time.Second

// AppOptions configures the block service.
type AppOptions struct {
	Logger *logrus.Logger
	Cache  *bcache.Cache

	// MaxInflight bounds concurrent /blocks requests. Must be > 0.
	MaxInflight int

	// AcquireTimeout bounds the wait for an in-flight slot.
	// Zero means DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const contextKeyRequestID = "_bcache_request_id"

// NewApp builds the Fiber application serving opts.Cache.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.MaxInflight <= 0 {
		return nil, fmt.Errorf("invalid max inflight: %d", opts.MaxInflight)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   opts.ReadTimeout,
		WriteTimeout:  opts.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handler{
		cache:   opts.Cache,
		logger:  opts.Logger,
		sem:     semaphore.NewWeighted(int64(opts.MaxInflight)),
		timeout: opts.AcquireTimeout,
	}

	blocks := app.Group("/blocks", h.inflight)
	blocks.Get("/:dev/:block", h.getBlock)
	blocks.Put("/:dev/:block", h.putBlock)
	blocks.Post("/:dev/:block/pin", h.pinBlock)
	blocks.Post("/:dev/:block/unpin", h.unpinBlock)

	app.Get("/-/stats", h.stats)
	app.Get("/-/healthz", h.healthz)

	return app, nil
}

// requestContextMiddleware tags every request with an id and logs its outcome.
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if isDiagnosticsPath(c.Path()) && status < fiber.StatusInternalServerError {
			return err
		}
		entry := logger.WithFields(logrus.Fields{
			"component":  "server",
			"action":     "request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"elapsed_us": time.Since(start).Microseconds(),
		})
		if status >= fiber.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

type handler struct {
	cache   *bcache.Cache
	logger  *logrus.Logger
	sem     *semaphore.Weighted
	timeout time.Duration
}

// inflight holds a semaphore slot for the rest of the chain.
func (h *handler) inflight(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return renderError(c, h.logger, fiber.StatusServiceUnavailable, "busy", err)
	}
	defer h.sem.Release(1)
	return c.Next()
}
