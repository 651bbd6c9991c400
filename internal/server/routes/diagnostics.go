package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/server"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

// DiagnosticsOptions 是 /-/ 诊断接口的依赖。
type DiagnosticsOptions struct {
	Registry  *server.RouteRegistry
	Endpoints config.Endpoints
	Store     state.Store
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterDiagnosticsRoutes 暴露 /-/routes、/-/metrics 与 /-/healthz，供 SRE 排查端点解析与代理绑定。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"endpoints":    encodeEndpoints(opts.Endpoints),
			"proxy_routes": encodeProxyRoutes(opts.Registry.List()),
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		if checker, ok := opts.Store.(healthChecker); ok {
			ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
			defer cancel()
			if err := checker.HealthCheck(ctx); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "session_store_unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

type endpointsPayload struct {
	BaseURL             string `json:"base_url"`
	ServerBaseURL       string `json:"server_base_url"`
	DrupalBaseURL       string `json:"drupal_base_url"`
	CeAPIEndpoint       string `json:"ce_api_endpoint"`
	MenuEndpoint        string `json:"menu_endpoint"`
	MenuBaseURL         string `json:"menu_base_url"`
	LocalizedMenus      bool   `json:"localized_menus"`
	CustomErrorPages    bool   `json:"custom_error_pages"`
	ExposeAPIRouteRules bool   `json:"expose_api_route_rules"`
}

type proxyRoutePayload struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Upstream string `json:"upstream"`
	Port     int    `json:"port"`
}

func encodeEndpoints(ep config.Endpoints) endpointsPayload {
	return endpointsPayload{
		BaseURL:             ep.BaseURL,
		ServerBaseURL:       ep.ServerBaseURL(),
		DrupalBaseURL:       ep.DrupalBaseURL,
		CeAPIEndpoint:       ep.CeAPIEndpoint,
		MenuEndpoint:        ep.MenuEndpoint,
		MenuBaseURL:         ep.MenuBaseURL,
		LocalizedMenus:      ep.UseLocalizedMenuEndpoint,
		CustomErrorPages:    ep.CustomErrorPages,
		ExposeAPIRouteRules: ep.ExposeAPIRouteRules,
	}
}

func encodeProxyRoutes(routes []server.ProxyRoute) []proxyRoutePayload {
	result := make([]proxyRoutePayload, 0, len(routes))
	for _, route := range routes {
		upstream := ""
		if route.UpstreamURL != nil {
			upstream = route.UpstreamURL.String()
		}
		result = append(result, proxyRoutePayload{
			Name:     route.Name,
			Prefix:   route.Prefix,
			Upstream: upstream,
			Port:     route.ListenPort,
		})
	}
	return result
}
