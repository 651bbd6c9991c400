// Package messages keeps the per-session list of user-facing notifications.
// The list is append-only until the presentation layer drains it.
package messages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drupal-ce/drupal-ce/internal/state"
)

// StateKey 是消息队列在会话存储中的单元名。
const StateKey = "drupal-ce-messages"

// 消息类型。
const (
	TypeSuccess = "success"
	TypeError   = "error"
)

// Message 是一条面向用户的提示。
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Set 是 CMS 返回的 {success, error} 消息对象，任一字段可缺省。
type Set struct {
	Success []string `json:"success,omitempty"`
	Error   []string `json:"error,omitempty"`
}

// Flatten 展开为有序消息序列，所有 error 排在 success 之前。
func (s Set) Flatten() []Message {
	out := make([]Message, 0, len(s.Error)+len(s.Success))
	for _, m := range s.Error {
		out = append(out, Message{Type: TypeError, Message: m})
	}
	for _, m := range s.Success {
		out = append(out, Message{Type: TypeSuccess, Message: m})
	}
	return out
}

// Queue 读写会话内的消息单元。
type Queue struct{}

// NewQueue 返回队列访问器，本身不持有状态。
func NewQueue() *Queue {
	return &Queue{}
}

// Get 返回当前有序消息序列，首次访问时为空。
func (q *Queue) Get(ctx context.Context, sess *state.Session) ([]Message, error) {
	raw, err := sess.List(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Push 追加 set 展开后的消息。展开为空时不做任何事；
// 非渲染上下文中不存在客户端可见的会话状态，调用被静默跳过并返回 false。
func (q *Queue) Push(ctx context.Context, sess *state.Session, set Set) (bool, error) {
	return q.Append(ctx, sess, set.Flatten()...)
}

// Append 追加已展开的消息，语义同 Push。
func (q *Queue) Append(ctx context.Context, sess *state.Session, msgs ...Message) (bool, error) {
	if len(msgs) == 0 || !sess.Presentation() {
		return false, nil
	}
	items := make([]any, len(msgs))
	for i, m := range msgs {
		items[i] = m
	}
	if err := sess.Append(ctx, StateKey, items...); err != nil {
		return false, err
	}
	return true, nil
}

// Drain 返回并清空消息序列，供展示层消费。
func (q *Queue) Drain(ctx context.Context, sess *state.Session) ([]Message, error) {
	raw, err := sess.Take(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func decode(raw []json.RawMessage) ([]Message, error) {
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
