package drupalce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/drupal-ce/drupal-ce/internal/fetchopts"
	"github.com/drupal-ce/drupal-ce/internal/metrics"
)

// maxPayloadBytes 限制单次读取的 CMS 响应体大小。
const maxPayloadBytes = 16 << 20

// FetchError 是一次失败请求的描述：HTTP 错误状态或传输层失败（Status 为 0）。
type FetchError struct {
	Status  int
	Message string
	// Data 是错误响应体，仅在其为合法 JSON 时保留。
	Data json.RawMessage
}

func (e *FetchError) Error() string {
	return e.Message
}

// FetchResult 是 fetch 原语的返回值：Data 与 Err 至多一个有效。
type FetchResult struct {
	Data   json.RawMessage
	Status int
	Header http.Header
	Err    *FetchError
}

// Fetcher 是对 CMS 发起单次请求的原语。
type Fetcher interface {
	Fetch(ctx context.Context, path string, opts fetchopts.Options) FetchResult
}

// TransportOptions 控制重试、退避与熔断，超时由 http.Client 与单次 Options 决定。
type TransportOptions struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	Kind             string
}

// HTTPTransport 基于 net/http 实现 Fetcher，外层包一层熔断器。
type HTTPTransport struct {
	client  *http.Client
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker
	opts    TransportOptions
}

// NewHTTPTransport 构建 CMS 传输层；BreakerThreshold<=0 时不启用熔断。
func NewHTTPTransport(client *http.Client, logger *logrus.Logger, opts TransportOptions) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Kind == "" {
		opts.Kind = "cms"
	}
	t := &HTTPTransport{client: client, logger: logger, opts: opts}
	if opts.BreakerThreshold > 0 {
		threshold := uint32(opts.BreakerThreshold)
		t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "drupal-ce-upstream",
			MaxRequests: 1,
			Interval:    opts.BreakerTimeout,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.BreakerState.Set(float64(to))
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"action": "circuit_breaker",
						"name":   name,
						"from":   from.String(),
						"to":     to.String(),
					}).Warn("circuit breaker state change")
				}
			},
		})
	}
	return t
}

// Fetch 发起请求，按配置重试可重试的失败，不解释响应内容。
func (t *HTTPTransport) Fetch(ctx context.Context, path string, opts fetchopts.Options) FetchResult {
	target, err := buildURL(opts.BaseURL, path, opts.Query)
	if err != nil {
		return FetchResult{Err: &FetchError{Message: fmt.Sprintf("invalid request url: %v", err)}}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	backoff := t.opts.InitialBackoff
	var result FetchResult
	for attempt := 0; ; attempt++ {
		result = t.attempt(ctx, method, target, opts)
		if attempt >= t.opts.MaxRetries || !retryable(result) {
			return result
		}
		t.logRetry(method, target, attempt+1, result)
		select {
		case <-ctx.Done():
			return result
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (t *HTTPTransport) attempt(ctx context.Context, method, target string, opts fetchopts.Options) FetchResult {
	started := time.Now()
	defer metrics.ObserveUpstream(t.opts.Kind, started)

	if t.breaker == nil {
		return t.roundTrip(ctx, method, target, opts)
	}
	var result FetchResult
	_, err := t.breaker.Execute(func() (interface{}, error) {
		result = t.roundTrip(ctx, method, target, opts)
		if result.Err != nil && (result.Err.Status == 0 || result.Err.Status >= http.StatusInternalServerError) {
			return nil, result.Err
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return FetchResult{Err: &FetchError{
			Status:  http.StatusServiceUnavailable,
			Message: fmt.Sprintf("[%s] %q: %v", method, target, err),
		}}
	}
	return result
}

func (t *HTTPTransport) roundTrip(ctx context.Context, method, target string, opts fetchopts.Options) FetchResult {
	req, err := http.NewRequestWithContext(ctx, method, target, http.NoBody)
	if err != nil {
		return FetchResult{Err: &FetchError{Message: fmt.Sprintf("[%s] %q: %v", method, target, err)}}
	}
	for key, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if strings.EqualFold(opts.Credentials, "omit") {
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return FetchResult{Err: &FetchError{Message: fmt.Sprintf("[%s] %q: %v", method, target, err)}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return FetchResult{Status: resp.StatusCode, Header: resp.Header, Err: &FetchError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("[%s] %q: read body: %v", method, target, err),
		}}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		fetchErr := &FetchError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("[%s] %q: %d %s", method, target, resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && json.Valid(trimmed) {
			fetchErr.Data = json.RawMessage(trimmed)
		}
		return FetchResult{Status: resp.StatusCode, Header: resp.Header, Err: fetchErr}
	}

	return FetchResult{Status: resp.StatusCode, Header: resp.Header, Data: asJSON(body)}
}

func (t *HTTPTransport) logRetry(method, target string, attempt int, result FetchResult) {
	if t.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":   "upstream_retry",
		"method":   method,
		"upstream": target,
		"attempt":  attempt,
	}
	if result.Err != nil {
		fields["upstream_status"] = result.Err.Status
		fields["error"] = result.Err.Message
	}
	t.logger.WithFields(fields).Warn("retrying upstream request")
}

// retryable 仅重试传输失败与网关/限流类状态码。
func retryable(result FetchResult) bool {
	if result.Err == nil {
		return false
	}
	switch result.Err.Status {
	case 0, http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// buildURL 把路径拼到基址之后，合并路径自带的 query 与 Options.Query。
func buildURL(base, path string, query url.Values) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}
	target, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	// 保持转义形式拼接，%2F/%3F/%23 等不能被还原成分隔符。
	if p := strings.TrimLeft(ref.EscapedPath(), "/"); p != "" {
		rawPath := target.EscapedPath() + "/" + p
		decoded, err := url.PathUnescape(rawPath)
		if err != nil {
			return "", err
		}
		target.Path = decoded
		target.RawPath = rawPath
	}
	values := ref.Query()
	for key, vals := range query {
		values[key] = append([]string(nil), vals...)
	}
	target.RawQuery = values.Encode()
	return target.String(), nil
}

// asJSON 保证返回值是合法 JSON；非 JSON 正文按字符串编码。
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(string(body))
	return json.RawMessage(encoded)
}
