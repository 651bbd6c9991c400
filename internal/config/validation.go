package config

import (
	"errors"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.BreakerThreshold < 0 {
		return newFieldError("Global.BreakerThreshold", "不能为负数")
	}
	switch strings.ToLower(strings.TrimSpace(g.SessionBackend)) {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "SessionBackend=redis 时不能为空")
		}
	default:
		return newFieldError("Global.SessionBackend", "仅支持 memory|redis")
	}

	d := c.DrupalCe
	if strings.TrimSpace(d.MenuEndpoint) == "" {
		return newFieldError(drupalField("MenuEndpoint"), "不能为空")
	}
	if !strings.Contains(d.MenuEndpoint, MenuNamePlaceholder) {
		return newFieldError(drupalField("MenuEndpoint"), "必须包含占位符 "+MenuNamePlaceholder)
	}
	for _, name := range d.FetchProxyHeaders {
		if strings.TrimSpace(name) == "" {
			return newFieldError(drupalField("FetchProxyHeaders"), "不允许空的 Header 名")
		}
	}

	if _, err := Resolve(d); err != nil {
		return err
	}

	return nil
}

// Endpoints 解析当前配置的端点集合，假定 Validate 已通过。
func (c *Config) Endpoints() (Endpoints, error) {
	return Resolve(c.DrupalCe)
}
