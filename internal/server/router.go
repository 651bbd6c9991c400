package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component responsible for forwarding a request
// of a proxy route family to the CMS. It allows injecting fake handlers
// during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *ProxyRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *ProxyRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *ProxyRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *RouteRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const contextKeyRequestID = "_drupalce_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery, JSON error bodies and the proxy route families of the registry.
// Presentation and diagnostics routes are registered by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("route registry is required")
	}
	if opts.Proxy == nil && opts.Registry.Enabled() {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	if opts.Registry.Enabled() {
		app.All("/api/*", func(c fiber.Ctx) error {
			route, ok := opts.Registry.Lookup(string(c.Request().URI().Path()))
			if !ok {
				return c.Next()
			}
			return opts.Proxy.Handle(c, route)
		})
	}

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 把 handler 返回的错误统一渲染为 {"error": "<code>"}。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "request_failed",
				"method":     c.Method(),
				"path":       c.Path(),
				"status":     status,
				"request_id": RequestID(c),
			}).Error(err.Error())
		}
		return c.Status(status).JSON(fiber.Map{"error": errorCode(status)})
	}
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "route_not_found"
	case fiber.StatusBadGateway:
		return "upstream_failed"
	case fiber.StatusInternalServerError:
		return "internal_error"
	}
	if text := http.StatusText(status); text != "" {
		return strings.ReplaceAll(strings.ToLower(text), " ", "_")
	}
	return "internal_error"
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
