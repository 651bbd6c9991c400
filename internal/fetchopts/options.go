// Package fetchopts 构建单次 CMS 请求的参数。参数按层合并：模块默认值、
// 调用方参数、透传的入站请求头；每次调用生成新值，调用之间不保留状态。
package fetchopts

import (
	"net/http"
	"net/url"
	"time"
)

// Options 是交给 CMS 传输层的请求参数。
type Options struct {
	BaseURL     string
	Key         string
	Method      string
	Credentials string
	Timeout     time.Duration
	Query       url.Values
	Headers     http.Header
	// Params 保存传输层不解释的其余键。
	Params map[string]any
}

// Merge 从左到右合并各层：标量取最后一个非零值；Query/Params/Headers 按键合并，
// 后一层覆盖同名键。
func Merge(layers ...Options) Options {
	var out Options
	for _, layer := range layers {
		if layer.BaseURL != "" {
			out.BaseURL = layer.BaseURL
		}
		if layer.Key != "" {
			out.Key = layer.Key
		}
		if layer.Method != "" {
			out.Method = layer.Method
		}
		if layer.Credentials != "" {
			out.Credentials = layer.Credentials
		}
		if layer.Timeout > 0 {
			out.Timeout = layer.Timeout
		}
		for key, values := range layer.Query {
			if out.Query == nil {
				out.Query = url.Values{}
			}
			out.Query[key] = append([]string(nil), values...)
		}
		for key, values := range layer.Headers {
			if out.Headers == nil {
				out.Headers = http.Header{}
			}
			out.Headers[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
		for key, value := range layer.Params {
			if out.Params == nil {
				out.Params = map[string]any{}
			}
			out.Params[key] = value
		}
	}
	return out
}

// AddMissingHeaders 只补齐 o 中尚不存在的头，已有的头不会被替换或删除。
func (o *Options) AddMissingHeaders(extra http.Header) {
	for key, values := range extra {
		canonical := http.CanonicalHeaderKey(key)
		if len(values) == 0 {
			continue
		}
		if o.Headers == nil {
			o.Headers = http.Header{}
		}
		if _, exists := o.Headers[canonical]; exists {
			continue
		}
		o.Headers[canonical] = append([]string(nil), values...)
	}
}

// SetQuery 设置单个 query 值。
func (o *Options) SetQuery(key, value string) {
	if o.Query == nil {
		o.Query = url.Values{}
	}
	o.Query.Set(key, value)
}
