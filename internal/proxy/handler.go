package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/logging"
	"github.com/drupal-ce/drupal-ce/internal/metrics"
	"github.com/drupal-ce/drupal-ce/internal/server"
)

// Handler 把代理路由族下的请求原样转发到 CMS：去掉路由前缀、拼接上游基址，
// 方法/头/正文与上游状态/头/正文都不做解释。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler around the shared upstream client.
// The client should not follow redirects so 3xx responses reach the caller.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Handle 执行一次转发，传输失败返回 502 upstream_failed。
func (h *Handler) Handle(c fiber.Ctx, route *server.ProxyRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()

	upstreamURL, err := resolveUpstreamURL(route, c)
	if err != nil {
		h.logResult(route, method, "", requestID, 0, started, err)
		return h.writeError(c, route, fiber.StatusBadRequest, "invalid_proxy_path")
	}

	req, err := h.buildUpstreamRequest(c, upstreamURL, route)
	if err != nil {
		h.logResult(route, method, upstreamURL.String(), requestID, 0, started, err)
		return h.writeError(c, route, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := h.client.Do(req)
	metrics.ObserveUpstream("proxy", started)
	if err != nil {
		h.logResult(route, method, upstreamURL.String(), requestID, 0, started, err)
		return h.writeError(c, route, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)
	metrics.ProxyRequestsTotal.WithLabelValues(route.Name, metrics.StatusClass(resp.StatusCode)).Inc()

	if method == http.MethodHead {
		h.logResult(route, method, upstreamURL.String(), requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, method, upstreamURL.String(), requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, route *server.ProxyRoute) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	if requestID := server.RequestID(c); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, route *server.ProxyRoute, status int, code string) error {
	metrics.ProxyRequestsTotal.WithLabelValues(route.Name, metrics.StatusClass(0)).Inc()
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.ProxyRoute,
	method string,
	upstream string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Name, method, upstream, requestID)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// resolveUpstreamURL 去掉路由前缀后把剩余路径（保持原始转义）与 query 拼到上游基址。
func resolveUpstreamURL(route *server.ProxyRoute, c fiber.Ctx) (*url.URL, error) {
	uri := c.Request().URI()
	rawPath := string(uri.PathOriginal())
	if i := strings.IndexByte(rawPath, '?'); i >= 0 {
		rawPath = rawPath[:i]
	}
	if rawPath == "" {
		rawPath = string(uri.Path())
	}
	rest, ok := route.StripPrefix(rawPath)
	if !ok {
		rest, ok = route.StripPrefix(string(uri.Path()))
	}
	if !ok {
		return nil, fmt.Errorf("path %q outside route prefix %s", rawPath, route.Prefix)
	}
	if strings.Contains(rest, "/../") || strings.HasSuffix(rest, "/..") {
		return nil, fmt.Errorf("path %q escapes route prefix", rawPath)
	}

	base := route.UpstreamURL
	target := base.Scheme + "://" + base.Host + strings.TrimRight(base.EscapedPath(), "/") + rest
	if query := uri.QueryString(); len(query) > 0 {
		target += "?" + string(query)
	}
	return url.Parse(target)
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 追加而非覆盖，保留多值头（如 Set-Cookie）。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	filtered := http.Header{}
	server.CopyHeaders(filtered, headers)
	for key, values := range filtered {
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.ProxyRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
