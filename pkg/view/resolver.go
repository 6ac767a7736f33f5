// Package view 按视图规格把数据集投影成“一个版本 + 一组位置”
package view

import (
	"context"
	"strconv"
	"sync"

	"datacat/pkg/dcerr"
	"datacat/pkg/metrics"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source 缓存未命中时读取版本 (包含全部元数据和位置)
type Source interface {
	Version(ctx context.Context, datasetPk types.Pk, versionID int64) (*model.DatasetVersion, error)
}

// Resolver 绑定一个数据集，缓存它已经解析过的版本。
//
// 缓存键是版本号，另有 VersionCurrent 作为“当前版本”键；
// 读到的版本是 latest 时两个键指向同一个条目。缓存只由 Clear 清空。
type Resolver struct {
	dataset *model.Dataset
	src     Source
	log     *zap.Logger

	mu    sync.Mutex
	cache map[int64]*model.DatasetVersion
	group singleflight.Group
}

func NewResolver(ds *model.Dataset, src Source, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		dataset: ds.Bare(),
		src:     src,
		log:     log,
		cache:   make(map[int64]*model.DatasetVersion),
	}
}

// Dataset 返回解析器绑定的裸数据集
func (r *Resolver) Dataset() *model.Dataset { return r.dataset.Bare() }

// Seed 用已经读到的完整版本预填缓存 (例如创建之后)
func (r *Resolver) Seed(v *model.DatasetVersion) {
	if v == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(v.Clone())
}

// Clear 丢弃全部缓存条目
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

// store 调用方持有 mu
func (r *Resolver) store(v *model.DatasetVersion) {
	r.cache[v.VersionID] = v
	if v.Latest {
		r.cache[types.VersionCurrent] = v
	}
}

// Resolve 按视图投影数据集。空视图直接返回裸节点。
func (r *Resolver) Resolve(ctx context.Context, view model.DatasetView) (*model.Dataset, error) {
	if view.IsEmpty() {
		return r.dataset.Bare(), nil
	}

	ver, err := r.version(ctx, view.CacheKey())
	if err != nil {
		return nil, err
	}

	// 投影总是在副本上进行，缓存条目保持完整
	projected := ver.Clone()
	if !view.IncludeMetadata {
		projected.Metadata = model.Metadata{}
	}

	locations, err := selectLocations(ver, view.Site)
	if err != nil {
		return nil, err
	}
	projected.Locations = locations

	out := r.dataset.Bare()
	out.Version = projected
	return out, nil
}

// version 查缓存，未命中时从 Source 读取；并发的同键未命中只读一次
func (r *Resolver) version(ctx context.Context, key int64) (*model.DatasetVersion, error) {
	r.mu.Lock()
	ver, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		metrics.ViewLookups.WithLabelValues("hit").Inc()
		return ver, nil
	}
	metrics.ViewLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do(strconv.FormatInt(key, 10), func() (any, error) {
		// 前一个同键调用可能刚刚写入缓存
		r.mu.Lock()
		cached, ok := r.cache[key]
		r.mu.Unlock()
		if ok {
			return cached, nil
		}
		fetched, err := r.src.Version(ctx, r.dataset.Pk, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.store(fetched)
		r.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		r.log.Debug("version lookup failed",
			zap.String("dataset", r.dataset.Path),
			zap.Int64("version", key),
			zap.Error(err))
		return nil, err
	}
	return v.(*model.DatasetVersion), nil
}

// selectLocations 按站点选择器挑选位置
func selectLocations(ver *model.DatasetVersion, sel model.SiteSelector) ([]model.DatasetLocation, error) {
	switch sel.Mode {
	case model.SitesZero:
		return []model.DatasetLocation{}, nil

	case model.SitesSpecific:
		var (
			loc model.DatasetLocation
			ok  bool
		)
		if sel.Site == "master" {
			loc, ok = ver.Master()
		} else {
			loc, ok = ver.Location(sel.Site)
		}
		if ok {
			return []model.DatasetLocation{loc}, nil
		}
		if sel.TolerateZero() {
			return []model.DatasetLocation{}, nil
		}
		return nil, dcerr.NotFound.New("location %s not found", sel.Site)

	default:
		// ALL 和 ZERO_OR_MORE 都带上全部位置，区别只在于是否接受空集合
		if len(ver.Locations) == 0 && !sel.TolerateZero() {
			return nil, dcerr.NotFound.New("no locations for version %d", ver.VersionID)
		}
		return append([]model.DatasetLocation{}, ver.Locations...), nil
	}
}
