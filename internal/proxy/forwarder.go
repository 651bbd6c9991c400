package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/server"
)

// Forwarder 包装代理 handler，把 handler 缺失或 panic 转成 500 JSON 响应。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder；handler 为空时所有代理请求返回 proxy_handler_missing。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.ProxyRoute) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, f.handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.ProxyRoute, requestID string) error {
	f.logRouteError(c, route, "proxy_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.ProxyRoute, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.ProxyRoute, recovered interface{}, requestID string) error {
	f.logRouteError(c, route, "proxy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	c.Response().ResetBody()
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "proxy_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logRouteError(c fiber.Ctx, route *server.ProxyRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	name, upstream := "", ""
	if route != nil {
		name = route.Name
		if route.UpstreamURL != nil {
			upstream = route.UpstreamURL.String()
		}
	}
	fields := logging.RequestFields(name, c.Method(), upstream, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}
