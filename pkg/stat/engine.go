// Package stat 计算并缓存容器的聚合统计
//
// 查找顺序：实例内 memo -> 跨进程共享缓存 (可选) -> 关系存储。
// memo 只由 Clear 清空，容器发生变更时由拥有者调用。
// Clear 之前开始的计算不会把结果写回缓存。
package stat

import (
	"context"
	"fmt"
	"sync"

	"datacat/pkg/metrics"
	"datacat/pkg/model"

	"go.uber.org/zap"
)

// Source 是统计的最终来源 (store.Store 实现)
type Source interface {
	BasicStat(ctx context.Context, container model.Node) (model.BasicStat, error)
	DatasetStat(ctx context.Context, container model.Node) (*model.DatasetStat, error)
}

// Shared 是跨进程共享的统计缓存，失败时引擎退化为直接计算
type Shared interface {
	Get(ctx context.Context, key string) (*model.Stat, bool, error)
	Set(ctx context.Context, key string, st *model.Stat) error
	Delete(ctx context.Context, keys ...string) error
}

// Engine 绑定一个容器
type Engine struct {
	container model.Node
	src       Source
	shared    Shared
	log       *zap.Logger

	mu   sync.Mutex
	memo map[model.StatKind]*model.Stat
	// gen 每次 Clear 加一，计算开始后代数变了，结果作废不入缓存
	gen uint64
}

// NewEngine shared 可以为 nil
func NewEngine(container model.Node, src Source, shared Shared, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		container: container,
		src:       src,
		shared:    shared,
		log:       log,
		memo:      make(map[model.StatKind]*model.Stat),
	}
}

// Key 共享缓存里的键
func Key(container model.Node, kind model.StatKind) string {
	return fmt.Sprintf("dc:stat:%s:%d:%s", container.Type(), container.Info().Pk, kind)
}

// Stat 返回容器的统计。StatNone 返回 nil。
func (e *Engine) Stat(ctx context.Context, kind model.StatKind) (*model.Stat, error) {
	if kind == model.StatNone {
		return nil, nil
	}
	st, err := e.lookup(ctx, kind)
	if err != nil {
		return nil, err
	}
	return clone(st), nil
}

func (e *Engine) lookup(ctx context.Context, kind model.StatKind) (*model.Stat, error) {
	e.mu.Lock()
	st, ok := e.memo[kind]
	gen := e.gen
	e.mu.Unlock()
	if ok {
		metrics.StatLookups.WithLabelValues("memo").Inc()
		return st, nil
	}

	key := Key(e.container, kind)
	if e.shared != nil {
		cached, found, err := e.shared.Get(ctx, key)
		switch {
		case err != nil:
			e.log.Warn("shared stat cache unavailable", zap.String("key", key), zap.Error(err))
		case found:
			metrics.StatLookups.WithLabelValues("shared").Inc()
			e.remember(gen, kind, cached)
			return cached, nil
		}
	}

	st, err := e.compute(ctx, kind)
	if err != nil {
		return nil, err
	}
	metrics.StatLookups.WithLabelValues("store").Inc()
	if !e.remember(gen, kind, st) {
		// 计算期间被 Clear 过，结果只返回给本次调用
		return st, nil
	}

	if e.shared != nil {
		if err := e.shared.Set(ctx, key, st); err != nil {
			e.log.Warn("failed to fill shared stat cache", zap.String("key", key), zap.Error(err))
		}
		// Set 和并发的 Clear 交错时，删掉可能写进去的旧值
		if e.generation() != gen {
			if err := e.shared.Delete(ctx, key); err != nil {
				e.log.Warn("failed to invalidate shared stat cache", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return st, nil
}

func (e *Engine) compute(ctx context.Context, kind model.StatKind) (*model.Stat, error) {
	switch kind {
	case model.StatBasic:
		basic, err := e.src.BasicStat(ctx, e.container)
		if err != nil {
			return nil, err
		}
		return &model.Stat{Kind: model.StatBasic, Basic: basic}, nil

	case model.StatDataset:
		// DATASET 复用 BASIC
		basic, err := e.lookup(ctx, model.StatBasic)
		if err != nil {
			return nil, err
		}
		ds, err := e.src.DatasetStat(ctx, e.container)
		if err != nil {
			return nil, err
		}
		return &model.Stat{Kind: model.StatDataset, Basic: basic.Basic, Dataset: ds}, nil
	}
	return nil, fmt.Errorf("unsupported stat kind %q", kind)
}

// remember 只在代数未变时写入 memo
func (e *Engine) remember(gen uint64, kind model.StatKind, st *model.Stat) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.memo[kind] = st
	return true
}

func (e *Engine) generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Clear 清空 memo 和共享缓存里属于该容器的条目
func (e *Engine) Clear(ctx context.Context) {
	e.mu.Lock()
	clear(e.memo)
	e.gen++
	e.mu.Unlock()

	if e.shared == nil {
		return
	}
	keys := []string{Key(e.container, model.StatBasic), Key(e.container, model.StatDataset)}
	if err := e.shared.Delete(ctx, keys...); err != nil {
		e.log.Warn("failed to invalidate shared stat cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

func clone(st *model.Stat) *model.Stat {
	cp := *st
	if st.Dataset != nil {
		ds := *st.Dataset
		cp.Dataset = &ds
	}
	return &cp
}
