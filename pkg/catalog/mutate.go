package catalog

import (
	"context"
	"errors"
	"fmt"

	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/scan"
	"datacat/pkg/store"
	"datacat/pkg/types"

	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// 创建
// -----------------------------------------------------------------------------

// CreateFolder 在 path 处创建目录，父目录必须存在
func (c *Catalog) CreateFolder(ctx context.Context, path string, req store.NewContainer) (*model.Folder, error) {
	parentPath, name, err := splitTarget(path)
	if err != nil {
		return nil, err
	}
	req.Name = name
	if err := check(req); err != nil {
		return nil, err
	}

	var out *model.Folder
	err = c.mutate(ctx, "create folder", types.CleanPath(path), func(ctx context.Context) error {
		parent, err := c.store.Resolve(ctx, parentPath)
		if err != nil {
			return err
		}
		if out, err = c.store.CreateFolder(ctx, parent, req); err != nil {
			return err
		}
		c.invalidateParent(ctx, out)
		return nil
	})
	return out, err
}

// MkdirAll 逐级创建缺失的目录 (mkdir -p)。已存在的容器直接跳过。
func (c *Catalog) MkdirAll(ctx context.Context, path string) (model.Node, error) {
	path = types.CleanPath(path)
	var node model.Node
	cur := "/"
	for _, seg := range types.Segments(path) {
		cur = types.Join(cur, seg)
		existing, err := c.store.Resolve(ctx, cur)
		switch {
		case err == nil:
			if !existing.Type().IsContainer() {
				return nil, dcerr.InvalidRequest.New("%s is not a container", cur)
			}
			node = existing
			continue
		case !dcerr.NotFound.Has(err):
			return nil, err
		}

		f, err := c.CreateFolder(ctx, cur, store.NewContainer{})
		if dcerr.AlreadyExists.Has(err) {
			// 并发的 mkdir 抢先创建了
			if node, err = c.resolveContainer(ctx, cur); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		node = f
	}
	if node == nil {
		return c.store.Root(ctx)
	}
	return node, nil
}

// CreateGroup 在 path 处创建分组，父节点必须是目录
func (c *Catalog) CreateGroup(ctx context.Context, path string, req store.NewContainer) (*model.Group, error) {
	parentPath, name, err := splitTarget(path)
	if err != nil {
		return nil, err
	}
	req.Name = name
	if err := check(req); err != nil {
		return nil, err
	}

	var out *model.Group
	err = c.mutate(ctx, "create group", types.CleanPath(path), func(ctx context.Context) error {
		parent, err := c.store.Resolve(ctx, parentPath)
		if err != nil {
			return err
		}
		if out, err = c.store.CreateGroup(ctx, parent, req); err != nil {
			return err
		}
		c.invalidateParent(ctx, out)
		return nil
	})
	return out, err
}

// CreateDataset 在 path 处创建数据集，可同时创建初始版本
func (c *Catalog) CreateDataset(ctx context.Context, path string, req store.NewDataset) (*model.Dataset, error) {
	parentPath, name, err := splitTarget(path)
	if err != nil {
		return nil, err
	}
	req.Name = name
	if err := check(req); err != nil {
		return nil, err
	}

	var out *model.Dataset
	err = c.mutate(ctx, "create dataset", types.CleanPath(path), func(ctx context.Context) error {
		parent, err := c.store.Resolve(ctx, parentPath)
		if err != nil {
			return err
		}
		if out, err = c.store.CreateDataset(ctx, parent, req); err != nil {
			return err
		}
		if req.Version != nil {
			c.noteMetanames(req.Version.Metadata)
		}
		c.invalidateParent(ctx, out)
		return nil
	})
	return out, err
}

// CreateVersion 给 path 处的数据集新增版本
func (c *Catalog) CreateVersion(ctx context.Context, path string, req store.NewVersion) (*model.DatasetVersion, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	path = types.CleanPath(path)

	var out *model.DatasetVersion
	err := c.mutate(ctx, "create version", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if out, err = c.store.CreateVersion(ctx, ds, req); err != nil {
			return err
		}
		c.noteMetanames(req.Metadata)
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)
		return nil
	})
	return out, err
}

// CreateLocation 给数据集某个版本新增站点位置
func (c *Catalog) CreateLocation(ctx context.Context, path string, versionID int64, req store.NewLocation) (*model.DatasetLocation, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	path = types.CleanPath(path)

	var out *model.DatasetLocation
	err := c.mutate(ctx, "create location", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if out, err = c.store.CreateLocation(ctx, ds, versionID, req); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// 修改
// -----------------------------------------------------------------------------

// PatchContainer 修改目录或分组
func (c *Catalog) PatchContainer(ctx context.Context, path string, p store.Patch) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "patch container", path, func(ctx context.Context) error {
		node, err := c.resolveContainer(ctx, path)
		if err != nil {
			return err
		}
		return c.store.PatchContainer(ctx, node, p)
	})
}

// PatchDataset 修改数据集本身的字段
func (c *Catalog) PatchDataset(ctx context.Context, path string, p store.Patch) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "patch dataset", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if err := c.store.PatchDataset(ctx, ds, p); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		return nil
	})
}

// PatchVersion 修改版本字段或元数据
func (c *Catalog) PatchVersion(ctx context.Context, path string, versionID int64, p store.Patch) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "patch version", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if err := c.store.PatchVersion(ctx, ds, versionID, p); err != nil {
			return err
		}
		c.noteMetanames(p.Metadata)
		c.dropDataset(ds.Pk)
		return nil
	})
}

// PatchLocation 修改站点位置；大小、事件数和主位置会影响父容器的统计
func (c *Catalog) PatchLocation(ctx context.Context, path string, versionID int64, site string, p store.Patch) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "patch location", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if err := c.store.PatchLocation(ctx, ds, versionID, site, p); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)
		return nil
	})
}

// -----------------------------------------------------------------------------
// 删除
// -----------------------------------------------------------------------------

// Delete 删除节点。非空容器返回 NotEmpty，不级联。
func (c *Catalog) Delete(ctx context.Context, path string) error {
	if _, _, err := splitTarget(path); err != nil {
		return err
	}
	path = types.CleanPath(path)

	return c.mutate(ctx, "delete", path, func(ctx context.Context) error {
		node, err := c.store.Resolve(ctx, path)
		if err != nil {
			return err
		}
		switch n := node.(type) {
		case *model.Dataset:
			if err := c.store.DeleteDataset(ctx, n); err != nil {
				return err
			}
			c.dropDataset(n.Pk)
		default:
			if err := c.store.DeleteContainer(ctx, node); err != nil {
				return err
			}
			c.invalidateStats(ctx, node.Type(), node.Info().Pk)
			c.engines.Delete(engineKey(node.Type(), node.Info().Pk))
		}
		c.invalidateParent(ctx, node)
		return nil
	})
}

// DeleteVersion 删除一个版本，latest 由存储层重新计算
func (c *Catalog) DeleteVersion(ctx context.Context, path string, versionID int64) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "delete version", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if err := c.store.DeleteVersion(ctx, ds, versionID); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)
		return nil
	})
}

// DeleteLocation 删除一个站点位置，主位置由存储层重新计算
func (c *Catalog) DeleteLocation(ctx context.Context, path string, versionID int64, site string) error {
	path = types.CleanPath(path)
	return c.mutate(ctx, "delete location", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		if err := c.store.DeleteLocation(ctx, ds, versionID, site); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)
		return nil
	})
}

// -----------------------------------------------------------------------------
// 扫描与注册
// -----------------------------------------------------------------------------

// ScanLocation 读取位置指向的物理文件，回填大小、校验和、修改时间和扫描状态。
// site 为 "master" 时扫描主位置。
func (c *Catalog) ScanLocation(ctx context.Context, path string, versionID int64, site string) (*model.DatasetLocation, error) {
	path = types.CleanPath(path)

	var out *model.DatasetLocation
	err := c.mutate(ctx, "scan location", path, func(ctx context.Context) error {
		ds, err := c.resolveDataset(ctx, path)
		if err != nil {
			return err
		}
		ver, err := c.store.Version(ctx, ds.Pk, versionID)
		if err != nil {
			return err
		}
		loc, ok := pickLocation(ver, site)
		if !ok {
			return dcerr.NotFound.New("location %s not found", site)
		}

		res, err := c.scanners.Scan(ctx, loc.Resource)
		if errors.Is(err, scan.ErrUnsupported) {
			return dcerr.InvalidRequest.Wrap(err)
		}
		if err != nil {
			return dcerr.StoreFailure.Wrap(fmt.Errorf("scan %s: %w", loc.Resource, err))
		}
		c.log.Info("location scanned",
			zap.String("path", path),
			zap.String("site", loc.Site),
			zap.String("status", res.Status),
			zap.Int64("size", res.Size))

		if err := c.store.PatchLocation(ctx, ds, ver.VersionID, loc.Site, store.Patch{Fields: res.Fields(c.now())}); err != nil {
			return err
		}
		c.dropDataset(ds.Pk)
		c.invalidateParent(ctx, ds)

		fresh, err := c.store.Version(ctx, ds.Pk, ver.VersionID)
		if err != nil {
			return err
		}
		updated, _ := fresh.Location(loc.Site)
		out = &updated
		return nil
	})
	return out, err
}

func pickLocation(ver *model.DatasetVersion, site string) (model.DatasetLocation, bool) {
	if site == "master" {
		return ver.Master()
	}
	return ver.Location(site)
}

// Register 登记数据来源 / 数据类型 / 文件格式，重复返回 AlreadyExists
func (c *Catalog) Register(ctx context.Context, reg store.Registry, entry store.Registration) error {
	if err := check(entry); err != nil {
		return err
	}
	return c.store.Register(ctx, reg, entry)
}
