package catalog

import (
	"context"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/query"
	"datacat/pkg/store"
	"datacat/pkg/types"
)

// Get 按路径取节点。数据集按视图投影 (经过解析器缓存)，容器带描述和元数据。
func (c *Catalog) Get(ctx context.Context, path string, v model.DatasetView) (model.Node, error) {
	path = types.CleanPath(path)
	node, err := c.store.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	ds, ok := node.(*model.Dataset)
	if !ok {
		return node, nil
	}
	return c.resolver(ds).Resolve(ctx, v)
}

// List 容器子节点的流，调用方负责 Close
func (c *Catalog) List(ctx context.Context, path string, v model.DatasetView) (*cursor.Stream, error) {
	node, err := c.resolveContainer(ctx, types.CleanPath(path))
	if err != nil {
		return nil, err
	}
	return c.store.Children(ctx, node, v)
}

// Stat 容器统计。kind 为 none 时返回 nil。
func (c *Catalog) Stat(ctx context.Context, path string, kind model.StatKind) (*model.Stat, error) {
	switch kind {
	case model.StatNone, model.StatBasic, model.StatDataset:
	default:
		return nil, dcerr.InvalidRequest.New("unsupported stat kind %q", kind)
	}
	node, err := c.resolveContainer(ctx, types.CleanPath(path))
	if err != nil {
		return nil, err
	}
	return c.engine(node).Stat(ctx, kind)
}

// Versions 数据集的全部版本 (带位置和元数据)，按版本号降序
func (c *Catalog) Versions(ctx context.Context, path string) ([]*model.DatasetVersion, error) {
	ds, err := c.resolveDataset(ctx, types.CleanPath(path))
	if err != nil {
		return nil, err
	}
	return c.store.Versions(ctx, ds.Pk)
}

// Metanames 已知元数据名，按前缀分组
func (c *Catalog) Metanames() []query.Group {
	return c.metanames.Groups()
}

// ReloadMetanames 重新扫描元数据表
func (c *Catalog) ReloadMetanames(ctx context.Context) error {
	return c.metanames.Load(ctx, c.store.DB().Conn())
}

// Registered 列出某个注册表
func (c *Catalog) Registered(ctx context.Context, reg store.Registry) ([]store.Registration, error) {
	return c.store.Registered(ctx, reg)
}
