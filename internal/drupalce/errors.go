package drupalce

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// PageFetchError 表示页面拉取失败且没有可渲染的兜底内容，应交给应用级错误页。
type PageFetchError struct {
	Path    string
	Status  int
	Message string
	Body    json.RawMessage
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("page %s: %s", e.Path, e.Message)
}

// StatusCode 返回应对外暴露的状态码；传输层失败没有上游状态，按 500 处理。
func (e *PageFetchError) StatusCode() int {
	if e.Status <= 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// SoftPageError 表示上游失败但返回了可渲染内容，本地降级为以错误状态渲染该内容。
type SoftPageError struct {
	Path   string
	Status int
}

func (e *SoftPageError) Error() string {
	return fmt.Sprintf("page %s: upstream status %d, rendering error content", e.Path, e.Status)
}

// MenuFetchError 表示菜单拉取失败，总是在本地以消息形式消化。
type MenuFetchError struct {
	Name    string
	Status  int
	Message string
}

func (e *MenuFetchError) Error() string {
	return fmt.Sprintf("menu %s: %s", e.Name, e.Message)
}

// UserMessage 是推送到消息队列的文案。
func (e *MenuFetchError) UserMessage() string {
	return fmt.Sprintf("Menu error: %s.", e.Message)
}
