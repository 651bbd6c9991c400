package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供代理路由/上游/请求 ID 字段，供代理请求日志复用。
func RequestFields(route, method, upstream, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"route":    route,
		"method":   method,
		"upstream": upstream,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// FetchFields 提供页面/菜单拉取日志的公共字段。
func FetchFields(action, cacheKey, sessionID string) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"cache_key": cacheKey,
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return fields
}
