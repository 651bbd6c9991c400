package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/drupal-ce/drupal-ce/internal/config"
)

// 代理路由族名称，同时用作日志与指标的 route 标签。
const (
	RouteContent = "drupal-ce"
	RouteMenu    = "menu"
)

// ProxyRoute 描述一个同源反向代理路由族：Prefix 之后的路径原样拼接到 UpstreamURL。
type ProxyRoute struct {
	Name   string
	Prefix string
	// UpstreamURL 在构造 Registry 时解析完成，请求期只读。
	UpstreamURL *url.URL
	// ListenPort 记录当前监听端口，用于 X-Forwarded-Port。
	ListenPort int
}

// StripPrefix 返回 Prefix 之后的剩余路径；path 不在该路由族下时返回 false。
func (r *ProxyRoute) StripPrefix(path string) (string, bool) {
	if path == r.Prefix {
		return "", true
	}
	if strings.HasPrefix(path, r.Prefix+"/") {
		return path[len(r.Prefix):], true
	}
	return "", false
}

// RouteRegistry 保存启用的代理路由族，ExposeAPIRouteRules 关闭时为空。
type RouteRegistry struct {
	ordered []*ProxyRoute
}

// NewRouteRegistry 根据解析后的端点构建路由族。服务端回源使用
// ServerBaseURL，菜单使用未本地化的菜单基址。
func NewRouteRegistry(cfg *config.Config) (*RouteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	ep, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}

	registry := &RouteRegistry{}
	if !ep.ExposeAPIRouteRules {
		return registry, nil
	}

	families := []struct {
		name     string
		prefix   string
		upstream string
	}{
		{name: RouteContent, prefix: "/api/drupal-ce", upstream: ep.ServerBaseURL()},
		{name: RouteMenu, prefix: "/api/menu", upstream: ep.MenuBaseURLFor("")},
	}
	for _, family := range families {
		upstreamURL, err := url.Parse(family.upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream for route %s: %w", family.name, err)
		}
		if upstreamURL.Scheme == "" || upstreamURL.Host == "" {
			return nil, fmt.Errorf("invalid upstream for route %s: %q is not absolute", family.name, family.upstream)
		}
		registry.ordered = append(registry.ordered, &ProxyRoute{
			Name:        family.name,
			Prefix:      family.prefix,
			UpstreamURL: upstreamURL,
			ListenPort:  cfg.Global.ListenPort,
		})
	}
	return registry, nil
}

// Lookup 按请求路径查找代理路由族。
func (r *RouteRegistry) Lookup(path string) (*ProxyRoute, bool) {
	if r == nil {
		return nil, false
	}
	for _, route := range r.ordered {
		if _, ok := route.StripPrefix(path); ok {
			return route, true
		}
	}
	return nil, false
}

// List 返回已启用的路由族副本（按注册顺序），用于 /-/routes 输出。
func (r *RouteRegistry) List() []ProxyRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]ProxyRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// Enabled 表示是否存在可用的代理路由。
func (r *RouteRegistry) Enabled() bool {
	return r != nil && len(r.ordered) > 0
}
