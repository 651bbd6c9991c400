package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 会话状态后端。
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// MenuNamePlaceholder 是 MenuEndpoint 模板中被菜单名替换的字面量。
const MenuNamePlaceholder = "$$$NAME$$$"

// GlobalConfig 描述进程级运行参数：监听、日志、上游传输与会话存储。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries       int      `mapstructure:"MaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
	BreakerThreshold int      `mapstructure:"BreakerThreshold"`
	BreakerTimeout   Duration `mapstructure:"BreakerTimeout"`
	SessionBackend   string   `mapstructure:"SessionBackend"`
	SessionTTL       Duration `mapstructure:"SessionTTL"`
	RedisAddr        string   `mapstructure:"RedisAddr"`
	RedisPassword    string   `mapstructure:"RedisPassword"`
	RedisDB          int      `mapstructure:"RedisDB"`
}

// DrupalCeConfig 是用户声明的 CMS 端点配置，字段可部分缺省，由 Resolve 补全。
type DrupalCeConfig struct {
	BaseURL                  string         `mapstructure:"BaseURL"`
	DrupalBaseURL            string         `mapstructure:"DrupalBaseURL"`
	ServerDrupalBaseURL      string         `mapstructure:"ServerDrupalBaseURL"`
	CeAPIEndpoint            string         `mapstructure:"CeAPIEndpoint"`
	MenuEndpoint             string         `mapstructure:"MenuEndpoint"`
	MenuBaseURL              string         `mapstructure:"MenuBaseURL"`
	AddRequestContentFormat  string         `mapstructure:"AddRequestContentFormat"`
	AddRequestFormat         bool           `mapstructure:"AddRequestFormat"`
	CustomErrorPages         bool           `mapstructure:"CustomErrorPages"`
	FetchOptions             map[string]any `mapstructure:"FetchOptions"`
	FetchProxyHeaders        []string       `mapstructure:"FetchProxyHeaders"`
	PassThroughHeaders       []string       `mapstructure:"PassThroughHeaders"`
	UseLocalizedMenuEndpoint bool           `mapstructure:"UseLocalizedMenuEndpoint"`
	ExposeAPIRouteRules      bool           `mapstructure:"ExposeAPIRouteRules"`
	// Generate 表示静态站点构建，此时不存在请求处理上下文，代理路由强制关闭。
	Generate bool `mapstructure:"Generate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	DrupalCe DrupalCeConfig `mapstructure:"DrupalCe"`
}

// UsesRedis 表示会话状态是否落在 Redis。
func (g GlobalConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(g.SessionBackend), SessionBackendRedis)
}
