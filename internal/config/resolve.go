package config

import (
	"errors"
	"net/url"
	"strings"
)

// Endpoints 是 Resolve 之后的端点集合，进程启动时构建一次，之后只读。
type Endpoints struct {
	BaseURL                  string
	DrupalBaseURL            string
	ServerDrupalBaseURL      string
	CeAPIEndpoint            string
	MenuEndpoint             string
	MenuBaseURL              string
	AddRequestContentFormat  string
	AddRequestFormat         bool
	CustomErrorPages         bool
	UseLocalizedMenuEndpoint bool
	ExposeAPIRouteRules      bool
	FetchOptions             map[string]any
	FetchProxyHeaders        []string
	PassThroughHeaders       []string

	menuDerived bool
}

// Resolve 将部分填写的端点配置补全为一致的绝对 URL：
// BaseURL 存在时从中推导 DrupalBaseURL/CeAPIEndpoint，否则由二者拼出 BaseURL。
func Resolve(cfg DrupalCeConfig) (Endpoints, error) {
	ep := Endpoints{
		DrupalBaseURL:            strings.TrimRight(strings.TrimSpace(cfg.DrupalBaseURL), "/"),
		ServerDrupalBaseURL:      strings.TrimRight(strings.TrimSpace(cfg.ServerDrupalBaseURL), "/"),
		CeAPIEndpoint:            normalizeEndpointPath(cfg.CeAPIEndpoint),
		MenuEndpoint:             strings.TrimSpace(cfg.MenuEndpoint),
		MenuBaseURL:              strings.TrimRight(strings.TrimSpace(cfg.MenuBaseURL), "/"),
		AddRequestContentFormat:  strings.TrimSpace(cfg.AddRequestContentFormat),
		AddRequestFormat:         cfg.AddRequestFormat,
		CustomErrorPages:         cfg.CustomErrorPages,
		UseLocalizedMenuEndpoint: cfg.UseLocalizedMenuEndpoint,
		ExposeAPIRouteRules:      cfg.ExposeAPIRouteRules && !cfg.Generate,
		FetchOptions:             cfg.FetchOptions,
		FetchProxyHeaders:        append([]string(nil), cfg.FetchProxyHeaders...),
		PassThroughHeaders:       append([]string(nil), cfg.PassThroughHeaders...),
	}

	if raw := strings.TrimSpace(cfg.BaseURL); raw != "" {
		base, err := parseAbsolute(raw)
		if err != nil {
			return Endpoints{}, &ConfigError{Field: drupalField("BaseURL"), Err: err}
		}
		origin := base.Scheme + "://" + base.Host
		path := normalizeEndpointPath(base.Path)
		if ep.DrupalBaseURL == "" {
			ep.DrupalBaseURL = origin
		}
		if ep.CeAPIEndpoint == "" {
			ep.CeAPIEndpoint = path
		}
		ep.BaseURL = origin + path
	} else {
		if ep.DrupalBaseURL == "" {
			return Endpoints{}, &ConfigError{Field: drupalField("DrupalBaseURL"), Err: errors.New("BaseURL 与 DrupalBaseURL 不能同时为空")}
		}
		// "/" 表示根路径端点，归一后为空串；只有未填写时才报错。
		if strings.TrimSpace(cfg.CeAPIEndpoint) == "" {
			return Endpoints{}, &ConfigError{Field: drupalField("CeAPIEndpoint"), Err: errors.New("BaseURL 与 CeAPIEndpoint 不能同时为空")}
		}
		if _, err := parseAbsolute(ep.DrupalBaseURL); err != nil {
			return Endpoints{}, &ConfigError{Field: drupalField("DrupalBaseURL"), Err: err}
		}
		ep.BaseURL = ep.DrupalBaseURL + ep.CeAPIEndpoint
	}

	if ep.ServerDrupalBaseURL != "" {
		if _, err := parseAbsolute(ep.ServerDrupalBaseURL); err != nil {
			return Endpoints{}, &ConfigError{Field: drupalField("ServerDrupalBaseURL"), Err: err}
		}
	}

	if ep.MenuBaseURL == "" {
		ep.MenuBaseURL = ep.DrupalBaseURL + ep.CeAPIEndpoint
		ep.menuDerived = true
	}

	return ep, nil
}

// ServerBaseURL 返回服务端回源使用的页面基址，配置了 ServerDrupalBaseURL 时优先使用。
func (e Endpoints) ServerBaseURL() string {
	if e.ServerDrupalBaseURL == "" {
		return e.BaseURL
	}
	return e.ServerDrupalBaseURL + e.CeAPIEndpoint
}

// CeAPIEndpointFor 在启用本地化菜单端点时为 locale 加上语言前缀。
func (e Endpoints) CeAPIEndpointFor(locale string) string {
	locale = strings.Trim(strings.TrimSpace(locale), "/")
	if !e.UseLocalizedMenuEndpoint || locale == "" {
		return e.CeAPIEndpoint
	}
	return "/" + locale + e.CeAPIEndpoint
}

// MenuBaseURLFor 返回菜单请求基址。显式配置的 MenuBaseURL 原样使用；
// 推导得到的基址会跟随 ServerDrupalBaseURL 与 locale。
func (e Endpoints) MenuBaseURLFor(locale string) string {
	if !e.menuDerived {
		return e.MenuBaseURL
	}
	origin := e.DrupalBaseURL
	if e.ServerDrupalBaseURL != "" {
		origin = e.ServerDrupalBaseURL
	}
	return origin + e.CeAPIEndpointFor(locale)
}

// MenuPath 将菜单名按字面量替换进 MenuEndpoint 模板。
func (e Endpoints) MenuPath(name string) string {
	return strings.ReplaceAll(e.MenuEndpoint, MenuNamePlaceholder, name)
}

func parseAbsolute(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("仅支持 http/https: " + raw)
	}
	if parsed.Host == "" {
		return nil, errors.New("缺少 Host: " + raw)
	}
	return parsed, nil
}

// normalizeEndpointPath 保证路径以 / 开头且不以 / 结尾，根路径归一为空串。
func normalizeEndpointPath(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
