// Package lease 提供按路径粒度的可重入互斥租约
//
// 注册表同时维护 path->lease 和 lease->path 两个映射，只由一把 map 锁保护。
// 获取时的“查找或插入或排队”与释放时的“检查队列并移除”都在这把锁内完成，
// 因此不会出现新的获取者挂在一个即将被丢弃的租约上。
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"datacat/pkg/metrics"
	"datacat/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ownerKey struct{}

// WithOwner 给上下文绑定一个持有者标识。
// 同一个持有者重复获取同一路径不会阻塞 (可重入)。已有标识时原样返回。
func WithOwner(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ownerKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, uuid.NewString())
}

// OwnerOf 返回上下文里的持有者标识
func OwnerOf(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok
}

// Lease 是某个路径的互斥句柄，只在被持有或有人排队时存在
type Lease struct {
	path       string
	owner      string
	holds      int
	waiters    []*waiter
	acquiredAt time.Time
}

type waiter struct {
	owner string
	ready chan struct{}
}

// Path 返回租约对应的路径
func (l *Lease) Path() string { return l.path }

// Manager 是进程内唯一的租约注册表
type Manager struct {
	mu      sync.Mutex
	byPath  map[string]*Lease
	byLease map[*Lease]string
	log     *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		byPath:  make(map[string]*Lease),
		byLease: make(map[*Lease]string),
		log:     log,
	}
}

// Acquire 阻塞直到获得 path 的租约，或者 ctx 结束。
// 没有绑定持有者的上下文每次都视为新的持有者 (不可重入)。
func (m *Manager) Acquire(ctx context.Context, path string) (*Lease, error) {
	path = types.CleanPath(path)
	owner, ok := OwnerOf(ctx)
	if !ok {
		owner = uuid.NewString()
	}
	start := time.Now()

	m.mu.Lock()
	l, found := m.byPath[path]
	if !found {
		l = &Lease{path: path}
		m.byPath[path] = l
		m.byLease[l] = path
		metrics.LeaseRegistrySize.Set(float64(len(m.byPath)))
	}

	// 1. 空闲：直接拿走
	if l.holds == 0 && len(l.waiters) == 0 {
		l.owner = owner
		l.holds = 1
		l.acquiredAt = start
		m.mu.Unlock()
		return l, nil
	}

	// 2. 重入：同一持有者
	if l.holds > 0 && l.owner == owner {
		l.holds++
		m.mu.Unlock()
		return l, nil
	}

	// 3. 排队 (FIFO)
	w := &waiter{owner: owner, ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	position := len(l.waiters)
	m.mu.Unlock()

	metrics.LeaseContended.Inc()
	m.log.Debug("waiting for lease", zap.String("path", path), zap.Int("position", position))

	select {
	case <-w.ready:
		metrics.LeaseWait.Observe(time.Since(start).Seconds())
		return l, nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	if l.dequeue(w) {
		// 还在队列里：撤销排队，状态不变
		m.cleanupLocked(l)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
	m.mu.Unlock()

	// 取消与移交同时发生：租约已经交给我们，必须还回去
	m.Release(l)
	return nil, ctx.Err()
}

// Release 释放一次持有。持有计数归零时直接移交给队首等待者，
// 没有等待者则从注册表中移除。
func (m *Manager) Release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.holds <= 0 {
		panic(fmt.Sprintf("lease: release of unheld lease %q", l.path))
	}
	l.holds--
	if l.holds > 0 {
		return
	}

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters[0] = nil
		l.waiters = l.waiters[1:]
		l.owner = next.owner
		l.holds = 1
		l.acquiredAt = time.Now()
		close(next.ready)
		return
	}

	l.owner = ""
	m.cleanupLocked(l)
}

// Do 在租约保护下执行 fn，任何退出路径都会释放租约
func (m *Manager) Do(ctx context.Context, path string, fn func(ctx context.Context) error) error {
	ctx = WithOwner(ctx)
	l, err := m.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer m.Release(l)
	return fn(ctx)
}

// cleanupLocked 调用方必须持有 m.mu
func (m *Manager) cleanupLocked(l *Lease) {
	if l.holds > 0 || len(l.waiters) > 0 {
		return
	}
	if m.byPath[l.path] == l {
		delete(m.byPath, l.path)
	}
	delete(m.byLease, l)
	metrics.LeaseRegistrySize.Set(float64(len(m.byPath)))
}

func (l *Lease) dequeue(w *waiter) bool {
	for i, cur := range l.waiters {
		if cur == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// 探针 (测试和诊断用)
// -----------------------------------------------------------------------------

// Len 注册表里的租约数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPath)
}

// Contains 路径是否仍在注册表里
func (m *Manager) Contains(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byPath[types.CleanPath(path)]
	return ok
}

// QueueLength 路径上排队的等待者数量
func (m *Manager) QueueLength(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byPath[types.CleanPath(path)]; ok {
		return len(l.waiters)
	}
	return 0
}

// HeldSince 返回当前持有开始的时间
func (m *Manager) HeldSince(path string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byPath[types.CleanPath(path)]; ok && l.holds > 0 {
		return l.acquiredAt, true
	}
	return time.Time{}, false
}
