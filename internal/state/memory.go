package state

import (
	"context"
	"sync"
	"time"
)

// defaultSweepEvery 是两次写入触发清扫之间的写入次数。
const defaultSweepEvery = 512

// MemoryStore 是进程内实现。过期单元在访问时清理，另外每 sweepEvery 次写入
// 以及 StartSweeper 的定时器都会整体清扫一次，无人再访问的会话也会被回收。
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	values     map[string]memoryValue
	lists      map[string]memoryList
	writes     int
	sweepEvery int

	stopOnce sync.Once
	stopCh   chan struct{}
}

type memoryValue struct {
	data    []byte
	expires time.Time
}

type memoryList struct {
	items   [][]byte
	expires time.Time
}

// NewMemoryStore 创建进程内存储，ttl<=0 表示单元永不过期。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:    ttl,
		now:    time.Now,
		values:     make(map[string]memoryValue),
		lists:      make(map[string]memoryList),
		sweepEvery: defaultSweepEvery,
		stopCh:     make(chan struct{}),
	}
}

// StartSweeper 启动后台清扫协程，直到 Close。ttl<=0 时单元不过期，不启动。
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Sweep 删除所有已过期的单元，返回删除数量。
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// Close 停止后台清扫，可重复调用。
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *MemoryStore) sweepLocked() int {
	removed := 0
	for key, v := range s.values {
		if s.expired(v.expires) {
			delete(s.values, key)
			removed++
		}
	}
	for key, list := range s.lists {
		if s.expired(list.expires) {
			delete(s.lists, key)
			removed++
		}
	}
	return removed
}

// noteWrite 在持锁状态下计数，每 sweepEvery 次写入清扫一次。
func (s *MemoryStore) noteWrite() {
	if s.ttl <= 0 || s.sweepEvery <= 0 {
		return
	}
	s.writes++
	if s.writes%s.sweepEvery == 0 {
		s.sweepLocked()
	}
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) + len(s.lists)
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok || s.expired(v.expires) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), v.data...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noteWrite()
	s.values[key] = memoryValue{data: append([]byte(nil), value...), expires: s.deadline()}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.values[key]; ok && !s.expired(v.expires) {
		return false, nil
	}
	s.noteWrite()
	s.values[key] = memoryValue{data: append([]byte(nil), value...), expires: s.deadline()}
	return true, nil
}

func (s *MemoryStore) Append(ctx context.Context, key string, values ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.noteWrite()
	list := s.lists[key]
	if s.expired(list.expires) {
		list = memoryList{}
	}
	for _, v := range values {
		list.items = append(list.items, append([]byte(nil), v...))
	}
	list.expires = s.deadline()
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, key string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.lists[key]
	if !ok || s.expired(list.expires) {
		delete(s.lists, key)
		return [][]byte{}, nil
	}
	out := make([][]byte, len(list.items))
	for i, item := range list.items {
		out[i] = append([]byte(nil), item...)
	}
	return out, nil
}

func (s *MemoryStore) Take(ctx context.Context, key string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.lists[key]
	delete(s.lists, key)
	if !ok || s.expired(list.expires) {
		return [][]byte{}, nil
	}
	return list.items, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) deadline() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && !s.now().Before(deadline)
}
