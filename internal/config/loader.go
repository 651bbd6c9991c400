package config

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxRetries", 0)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("BreakerThreshold", 5)
	v.SetDefault("BreakerTimeout", "30s")
	v.SetDefault("SessionBackend", SessionBackendMemory)
	v.SetDefault("SessionTTL", "1h")

	v.SetDefault("DrupalCe.MenuEndpoint", "api/menu_items/"+MenuNamePlaceholder)
	v.SetDefault("DrupalCe.CustomErrorPages", false)
	v.SetDefault("DrupalCe.FetchOptions", map[string]any{"credentials": "include"})
	v.SetDefault("DrupalCe.FetchProxyHeaders", []string{"cookie"})
	v.SetDefault("DrupalCe.PassThroughHeaders", []string{"cache-control", "content-language", "set-cookie", "x-drupal-cache", "x-drupal-dynamic-cache"})
	v.SetDefault("DrupalCe.UseLocalizedMenuEndpoint", true)
	v.SetDefault("DrupalCe.AddRequestFormat", false)
	v.SetDefault("DrupalCe.ExposeAPIRouteRules", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if g.BreakerTimeout.DurationValue() == 0 {
		g.BreakerTimeout = Duration(30 * time.Second)
	}
	if g.SessionTTL.DurationValue() == 0 {
		g.SessionTTL = Duration(time.Hour)
	}
	if g.SessionBackend == "" {
		g.SessionBackend = SessionBackendMemory
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
