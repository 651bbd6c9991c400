package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drupal-ce/drupal-ce/internal/config"
	"github.com/drupal-ce/drupal-ce/internal/drupalce"
	"github.com/drupal-ce/drupal-ce/internal/messages"
	"github.com/drupal-ce/drupal-ce/internal/state"
)

// NewSessionStore 按 SessionBackend 构建会话状态存储，返回的 close 函数在退出时调用。
func NewSessionStore(cfg *config.Config, logger *logrus.Logger) (state.Store, func() error, error) {
	ttl := cfg.Global.SessionTTL.DurationValue()
	if !cfg.Global.UsesRedis() {
		store := state.NewMemoryStore(ttl)
		store.StartSweeper(sweepInterval(ttl))
		return store, store.Close, nil
	}

	store, err := state.NewRedisStore(state.RedisConfig{
		Addr:     cfg.Global.RedisAddr,
		Password: cfg.Global.RedisPassword,
		DB:       cfg.Global.RedisDB,
		TTL:      ttl,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// sweepInterval 取 TTL 的一半，限制在 [1s, 1m]。
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}

// NewCMSClient 组装 CMS 传输层（重试 + 熔断）与页面/菜单编排器。
func NewCMSClient(cfg *config.Config, httpClient *http.Client, logger *logrus.Logger) (*drupalce.Client, error) {
	ep, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}
	transport := drupalce.NewHTTPTransport(httpClient, logger, drupalce.TransportOptions{
		MaxRetries:       cfg.Global.MaxRetries,
		InitialBackoff:   cfg.Global.InitialBackoff.DurationValue(),
		BreakerThreshold: cfg.Global.BreakerThreshold,
		BreakerTimeout:   cfg.Global.BreakerTimeout.DurationValue(),
		Kind:             "cms",
	})
	return drupalce.NewClient(ep, transport, messages.NewQueue(), logger)
}
