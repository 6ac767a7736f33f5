package store

import (
	"context"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"gorm.io/gorm"
)

// BasicStat 按类型统计容器的直接子节点
func (s *Store) BasicStat(ctx context.Context, container model.Node) (model.BasicStat, error) {
	var out model.BasicStat
	if !container.Type().IsContainer() {
		return out, dcerr.InvalidRequest.New("%s is not a container", container.Info().Path)
	}
	pk := int64(container.Info().Pk)

	err := s.read(ctx, "basic stat "+container.Info().Path, func(tx *gorm.DB) error {
		db := tx.WithContext(ctx)
		if container.Type() == types.TypeFolder {
			if err := db.Model(&meta.FolderModel{}).Where("parent_pk = ?", pk).Count(&out.Folders).Error; err != nil {
				return err
			}
			if err := db.Model(&meta.GroupModel{}).Where("folder_pk = ?", pk).Count(&out.Groups).Error; err != nil {
				return err
			}
		}
		return db.Model(&meta.DatasetModel{}).
			Where("parent_type = ? AND parent_pk = ?", string(container.Type()), pk).
			Count(&out.Datasets).Error
	})
	return out, err
}

// DatasetStat 汇总每个子数据集“最新版本的主位置”。
// 主位置为空的版本被内连接过滤掉，不计入统计。
func (s *Store) DatasetStat(ctx context.Context, container model.Node) (*model.DatasetStat, error) {
	if !container.Type().IsContainer() {
		return nil, dcerr.InvalidRequest.New("%s is not a container", container.Info().Path)
	}
	q := `SELECT COUNT(*) AS files, COALESCE(SUM(l.event_count), 0) AS event_count,
		COALESCE(SUM(l.size), 0) AS size, MIN(l.run_min) AS run_min, MAX(l.run_max) AS run_max
		FROM ` + meta.TableDatasets + ` d
		JOIN ` + meta.TableVersions + ` v ON v.pk = d.latest_version_pk
		JOIN ` + meta.TableLocations + ` l ON l.pk = v.master_location_pk
		WHERE d.parent_type = ? AND d.parent_pk = ?`

	var out *model.DatasetStat
	err := s.read(ctx, "dataset stat "+container.Info().Path, func(tx *gorm.DB) error {
		recs, err := records(ctx, tx, q, string(container.Type()), int64(container.Info().Pk))
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return dcerr.Internal.New("dataset stat of %s returned no row", container.Info().Path)
		}
		rec := recs[0]
		out = &model.DatasetStat{
			RunMin: cursor.AsInt64Ptr(rec["run_min"]),
			RunMax: cursor.AsInt64Ptr(rec["run_max"]),
		}
		out.Files, _ = cursor.AsInt64(rec["files"])
		out.EventCount, _ = cursor.AsInt64(rec["event_count"])
		out.Size, _ = cursor.AsInt64(rec["size"])
		return nil
	})
	return out, err
}
