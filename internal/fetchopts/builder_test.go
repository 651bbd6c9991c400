package fetchopts

import (
	"net/http"
	"testing"
	"time"
)

func TestBuildAppliesDefaultsUnderCaller(t *testing.T) {
	b, err := NewBuilder("https://cms.example/ce-api", map[string]any{
		"credentials": "include",
		"timeout":     "5s",
		"retry":       2,
		"headers":     map[string]any{"Accept": "application/json"},
	}, nil)
	if err != nil {
		t.Fatalf("NewBuilder 失败: %v", err)
	}

	opts := b.Build(Options{Credentials: "omit", Headers: http.Header{"Accept": {"text/html"}}}, nil)
	if opts.BaseURL != "https://cms.example/ce-api" {
		t.Fatalf("BaseURL 应回退到解析后的端点，得到 %s", opts.BaseURL)
	}
	if opts.Credentials != "omit" {
		t.Fatalf("调用方标量应覆盖默认值，得到 %s", opts.Credentials)
	}
	if opts.Timeout != 5*time.Second {
		t.Fatalf("未覆盖的默认值应保留，得到 %s", opts.Timeout)
	}
	if got := opts.Headers.Get("Accept"); got != "text/html" {
		t.Fatalf("调用方 Header 应优先，得到 %s", got)
	}
	if opts.Params["retry"] != 2 {
		t.Fatalf("未识别的默认键应进入 Params，得到 %v", opts.Params)
	}
}

func TestBuildKeepsCallerBaseURL(t *testing.T) {
	b, err := NewBuilder("https://cms.example/ce-api", nil, nil)
	if err != nil {
		t.Fatalf("NewBuilder 失败: %v", err)
	}
	opts := b.Build(Options{BaseURL: "https://other.example"}, nil)
	if opts.BaseURL != "https://other.example" {
		t.Fatalf("调用方 BaseURL 不应被覆盖，得到 %s", opts.BaseURL)
	}
}

func TestBuildForwardsAllowlistedHeadersAdditively(t *testing.T) {
	b, err := NewBuilder("https://cms.example", nil, []string{"cookie", "x-forwarded-host"})
	if err != nil {
		t.Fatalf("NewBuilder 失败: %v", err)
	}
	inbound := http.Header{}
	inbound.Set("Cookie", "SESS=abc")
	inbound.Set("X-Forwarded-Host", "www.example")
	inbound.Set("Authorization", "Bearer secret")

	opts := b.Build(Options{Headers: http.Header{"X-Forwarded-Host": {"caller.example"}}}, inbound)
	if got := opts.Headers.Get("Cookie"); got != "SESS=abc" {
		t.Fatalf("白名单中的 Cookie 应被透传，得到 %q", got)
	}
	if got := opts.Headers.Get("X-Forwarded-Host"); got != "caller.example" {
		t.Fatalf("已存在的 Header 不应被替换，得到 %q", got)
	}
	if got := opts.Headers.Get("Authorization"); got != "" {
		t.Fatalf("白名单外的 Header 不应透传，得到 %q", got)
	}
}

func TestMergeDoesNotMutateLayers(t *testing.T) {
	base := Options{Headers: http.Header{"A": {"1"}}}
	override := Options{Headers: http.Header{"B": {"2"}}}
	merged := Merge(base, override)
	merged.Headers.Set("A", "changed")
	if base.Headers.Get("A") != "1" {
		t.Fatalf("Merge 不应修改输入层")
	}
	if merged.Headers.Get("B") != "2" {
		t.Fatalf("Header 应取并集")
	}
}

func TestDecodeDefaultsRejectsBadTimeout(t *testing.T) {
	if _, err := DecodeDefaults(map[string]any{"timeout": "soon"}); err == nil {
		t.Fatalf("非法 timeout 应报错")
	}
}
