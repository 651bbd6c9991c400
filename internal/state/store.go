// Package state implements the per-session keyed cell store that page caches
// and the message queue live in. Keys handed to a Store are already scoped to
// a session; Session adds the scoping and JSON encoding on top.
//
// Two backends exist: an in-process map (single instance deployments, tests)
// and Redis (several instances behind a load balancer sharing sessions).
package state

import (
	"context"
	"errors"
)

// Store 是按 key 读写的单元存储，值为不透明字节。列表单元与标量单元使用不同操作。
type Store interface {
	// Get 返回标量单元的值，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 覆盖写入标量单元。
	Set(ctx context.Context, key string, value []byte) error
	// SetNX 仅在单元不存在时写入，返回是否写入成功。
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	// Append 向列表单元尾部追加元素。
	Append(ctx context.Context, key string, values ...[]byte) error
	// Range 返回列表单元的全部元素，不存在时返回空切片。
	Range(ctx context.Context, key string) ([][]byte, error)
	// Take 原子地取出并清空列表单元。
	Take(ctx context.Context, key string) ([][]byte, error)
	// Delete 删除单元（标量或列表）。
	Delete(ctx context.Context, key string) error
}

// ErrNotFound 表示单元不存在。
var ErrNotFound = errors.New("state cell not found")
