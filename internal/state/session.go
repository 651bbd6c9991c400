package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ExecContext 标记当前代码运行在哪种执行上下文。
type ExecContext int

const (
	// ContextServer 是纯服务端请求处理（如代理转发），不存在客户端可见的会话状态。
	ContextServer ExecContext = iota
	// ContextPresentation 是渲染流程，持有客户端可见的会话状态。
	ContextPresentation
)

func (c ExecContext) String() string {
	switch c {
	case ContextPresentation:
		return "presentation"
	default:
		return "server"
	}
}

const keyPrefix = "drupal-ce:"

// Session 把 Store 限定在单个会话内，并以 JSON 编解码单元值。
type Session struct {
	ID      string
	Context ExecContext
	// Locale 用于本地化菜单端点，可为空。
	Locale string

	store Store
}

// NewSession 创建会话视图；store 为 nil 时 panic，属于装配错误。
func NewSession(id string, execCtx ExecContext, store Store) *Session {
	if store == nil {
		panic("state: nil store")
	}
	return &Session{ID: id, Context: execCtx, store: store}
}

// Presentation 表示是否允许修改客户端可见的会话状态。
func (s *Session) Presentation() bool {
	return s != nil && s.Context == ContextPresentation
}

// Load 读取单元并解码到 dst，单元不存在时返回 false。
func (s *Session) Load(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.store.Get(ctx, s.scoped(key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

// Init 在单元不存在时写入初始值，已存在则保持不变。
func (s *Session) Init(ctx context.Context, key string, initial any) error {
	raw, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	_, err = s.store.SetNX(ctx, s.scoped(key), raw)
	return err
}

// Save 覆盖写入单元。
func (s *Session) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}
	return s.store.Set(ctx, s.scoped(key), raw)
}

// Append 向列表单元追加元素。
func (s *Session) Append(ctx context.Context, key string, items ...any) error {
	encoded := make([][]byte, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode state %s: %w", key, err)
		}
		encoded = append(encoded, raw)
	}
	return s.store.Append(ctx, s.scoped(key), encoded...)
}

// List 返回列表单元的原始元素。
func (s *Session) List(ctx context.Context, key string) ([]json.RawMessage, error) {
	items, err := s.store.Range(ctx, s.scoped(key))
	if err != nil {
		return nil, err
	}
	return toRaw(items), nil
}

// Take 取出并清空列表单元。
func (s *Session) Take(ctx context.Context, key string) ([]json.RawMessage, error) {
	items, err := s.store.Take(ctx, s.scoped(key))
	if err != nil {
		return nil, err
	}
	return toRaw(items), nil
}

// Delete 删除单元。
func (s *Session) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.scoped(key))
}

func (s *Session) scoped(key string) string {
	return keyPrefix + s.ID + ":" + key
}

func toRaw(items [][]byte) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[i] = json.RawMessage(item)
	}
	return out
}
