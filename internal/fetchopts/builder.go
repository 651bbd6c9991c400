package fetchopts

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Builder 合并模块默认值、调用方参数与需要透传的入站请求头。
type Builder struct {
	baseURL      string
	defaults     Options
	proxyHeaders []string
}

// rawDefaults 对应配置文件中的 FetchOptions 表，未识别的键落入 Params。
type rawDefaults struct {
	BaseURL     string            `mapstructure:"baseURL"`
	Method      string            `mapstructure:"method"`
	Credentials string            `mapstructure:"credentials"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Headers     map[string]string `mapstructure:"headers"`
	Query       map[string]string `mapstructure:"query"`
	Params      map[string]any    `mapstructure:",remain"`
}

// NewBuilder 解析 FetchOptions 默认值；baseURL 是调用方未指定时使用的解析后端点。
func NewBuilder(baseURL string, defaults map[string]any, proxyHeaders []string) (*Builder, error) {
	parsed, err := DecodeDefaults(defaults)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(proxyHeaders))
	for _, name := range proxyHeaders {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, http.CanonicalHeaderKey(trimmed))
		}
	}
	return &Builder{
		baseURL:      baseURL,
		defaults:     parsed,
		proxyHeaders: names,
	}, nil
}

// DecodeDefaults 将松散的 map 配置解码为 Options。
func DecodeDefaults(raw map[string]any) (Options, error) {
	if len(raw) == 0 {
		return Options{}, nil
	}
	var decoded rawDefaults
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, fmt.Errorf("解析 FetchOptions 失败: %w", err)
	}

	opts := Options{
		BaseURL:     decoded.BaseURL,
		Method:      strings.ToUpper(decoded.Method),
		Credentials: decoded.Credentials,
		Timeout:     decoded.Timeout,
		Params:      decoded.Params,
	}
	for key, value := range decoded.Headers {
		if opts.Headers == nil {
			opts.Headers = http.Header{}
		}
		opts.Headers.Set(key, value)
	}
	for key, value := range decoded.Query {
		if opts.Query == nil {
			opts.Query = url.Values{}
		}
		opts.Query.Set(key, value)
	}
	return opts, nil
}

// Build 生成单次请求的最终参数：默认值 < 调用方参数 < 透传请求头（仅补齐缺失的头）。
func (b *Builder) Build(caller Options, inbound http.Header) Options {
	merged := Merge(b.defaults, caller)
	if caller.BaseURL == "" {
		merged.BaseURL = b.baseURL
	}
	merged.AddMissingHeaders(b.forwarded(inbound))
	return merged
}

// ProxyHeaders 返回透传白名单（规范化后的 Header 名）。
func (b *Builder) ProxyHeaders() []string {
	return append([]string(nil), b.proxyHeaders...)
}

func (b *Builder) forwarded(inbound http.Header) http.Header {
	if len(b.proxyHeaders) == 0 || len(inbound) == 0 {
		return nil
	}
	out := http.Header{}
	for _, name := range b.proxyHeaders {
		if values := inbound.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
