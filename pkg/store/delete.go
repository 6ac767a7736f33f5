package store

import (
	"context"
	"errors"
	"fmt"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeleteContainer 删除空的目录或分组 (连同它的元数据)。有子节点时返回 NotEmpty，不级联。
func (s *Store) DeleteContainer(ctx context.Context, node model.Node) error {
	info := node.Info()
	if !node.Type().IsContainer() {
		return dcerr.InvalidRequest.New("%s is not a container", info.Path)
	}
	if node.Type() == types.TypeFolder && info.ParentPk == 0 {
		return dcerr.InvalidRequest.New("the root folder cannot be deleted")
	}

	err := s.write(ctx, "delete "+info.Path, func(tx *gorm.DB) error {
		// 先锁住自己，再数子节点：并发的创建要么已提交被数到，要么等删除结束后看到父行不存在
		if err := s.lockContainer(ctx, tx, node); err != nil {
			return err
		}
		q, args := objectsSQL(node, nil)
		recs, err := records(ctx, tx, q+" LIMIT 1", args...)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			return dcerr.NotEmpty.New("%s", info.Path)
		}
		if err := removeMetadata(ctx, tx, ownerOf(node.Type()), info.Pk); err != nil {
			return err
		}
		var m any = &meta.FolderModel{}
		if node.Type() == types.TypeGroup {
			m = &meta.GroupModel{}
		}
		return deleteRow(ctx, tx, m, int64(info.Pk), info.Path)
	})
	if err == nil {
		s.log.Debug("container deleted", zap.String("path", info.Path))
	}
	return err
}

// DeleteDataset 删除数据集及其全部版本、位置和版本元数据
func (s *Store) DeleteDataset(ctx context.Context, ds *model.Dataset) error {
	err := s.write(ctx, "delete "+ds.Path, func(tx *gorm.DB) error {
		var versionPks []int64
		err := tx.WithContext(ctx).Model(&meta.VersionModel{}).
			Where("dataset_pk = ?", int64(ds.Pk)).
			Pluck("pk", &versionPks).Error
		if err != nil {
			return err
		}
		for _, pk := range versionPks {
			if err := deleteVersionRows(ctx, tx, pk); err != nil {
				return err
			}
		}
		return deleteRow(ctx, tx, &meta.DatasetModel{}, int64(ds.Pk), ds.Path)
	})
	if err == nil {
		s.log.Debug("dataset deleted", zap.String("path", ds.Path))
	}
	return err
}

// DeleteVersion 删除一个版本。删除 latest 时重新计算 latest 为剩余最大版本号；
// 不允许删除唯一的版本 (数据集必须恰好有一个 latest)。
func (s *Store) DeleteVersion(ctx context.Context, ds *model.Dataset, versionID int64) error {
	return s.write(ctx, fmt.Sprintf("delete %s version %d", ds.Path, versionID), func(tx *gorm.DB) error {
		ver, err := versionRow(ctx, tx, ds.Pk, versionID)
		if err != nil {
			return err
		}

		var next meta.VersionModel
		err = tx.WithContext(ctx).
			Where("dataset_pk = ? AND pk <> ?", int64(ds.Pk), ver.Pk).
			Order("version_id DESC").
			First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dcerr.InvalidRequest.New("version %d is the only version of %s; delete the dataset instead", ver.VersionID, ds.Path)
		}
		if err != nil {
			return err
		}

		if err := deleteVersionRows(ctx, tx, ver.Pk); err != nil {
			return err
		}
		// 无论删掉的是不是 latest，latest 总是剩余最大版本号
		return tx.WithContext(ctx).Model(&meta.DatasetModel{}).
			Where("pk = ?", int64(ds.Pk)).
			Update("latest_version_pk", next.Pk).Error
	})
}

// DeleteLocation 删除一个站点位置。删掉的是 master 时，最早创建的剩余位置成为 master。
func (s *Store) DeleteLocation(ctx context.Context, ds *model.Dataset, versionID int64, site string) error {
	return s.write(ctx, fmt.Sprintf("delete %s@%s", ds.Path, site), func(tx *gorm.DB) error {
		ver, err := versionRow(ctx, tx, ds.Pk, versionID)
		if err != nil {
			return err
		}
		loc, err := locationRow(ctx, tx, ver.Pk, site)
		if err != nil {
			return err
		}
		if err := deleteRow(ctx, tx, &meta.LocationModel{}, loc.Pk, site); err != nil {
			return err
		}
		if ver.MasterLocationPk == nil || *ver.MasterLocationPk != loc.Pk {
			return nil
		}

		var next meta.LocationModel
		err = tx.WithContext(ctx).
			Where("version_pk = ?", ver.Pk).
			Order("created, pk").
			First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.WithContext(ctx).Model(&meta.VersionModel{}).
				Where("pk = ?", ver.Pk).
				Update("master_location_pk", nil).Error
		}
		if err != nil {
			return err
		}
		return setMaster(ctx, tx, ver, next.Pk)
	})
}

// deleteVersionRows 删除版本行及其位置和元数据
func deleteVersionRows(ctx context.Context, tx *gorm.DB, versionPk int64) error {
	err := tx.WithContext(ctx).Where("version_pk = ?", versionPk).Delete(&meta.LocationModel{}).Error
	if err != nil {
		return err
	}
	if err := removeMetadata(ctx, tx, meta.OwnerVersion, types.Pk(versionPk)); err != nil {
		return err
	}
	return tx.WithContext(ctx).Where("pk = ?", versionPk).Delete(&meta.VersionModel{}).Error
}

func deleteRow(ctx context.Context, tx *gorm.DB, m any, pk int64, what string) error {
	res := tx.WithContext(ctx).Where("pk = ?", pk).Delete(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dcerr.NotFound.New("%s", what)
	}
	return nil
}

// locationRow 按站点取位置行
func locationRow(ctx context.Context, tx *gorm.DB, versionPk int64, site string) (*meta.LocationModel, error) {
	var row meta.LocationModel
	err := tx.WithContext(ctx).Where("version_pk = ? AND site = ?", versionPk, site).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dcerr.NotFound.New("location %s not found", site)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
