package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"gorm.io/gorm"
)

// Version 读取数据集的一个版本 (包含全部元数据和全部位置)。
// versionID 可以是 types.VersionCurrent。视图解析器在缓存未命中时调用。
func (s *Store) Version(ctx context.Context, datasetPk types.Pk, versionID int64) (*model.DatasetVersion, error) {
	if versionID == types.VersionNew {
		versionID = types.VersionCurrent
	}
	var out *model.DatasetVersion
	err := s.read(ctx, fmt.Sprintf("read version %d of dataset %d", versionID, datasetPk), func(tx *gorm.DB) error {
		vers, err := s.versions(ctx, tx, datasetScope(datasetPk, versionID))
		if err != nil {
			return err
		}
		if len(vers) == 0 {
			if versionID == types.VersionCurrent {
				return dcerr.NotFound.New("dataset %d has no current version", datasetPk)
			}
			return dcerr.NotFound.New("version %d not found", versionID)
		}
		out = vers[0]
		return nil
	})
	return out, err
}

// Versions 读取数据集的全部版本，按版本号降序
func (s *Store) Versions(ctx context.Context, datasetPk types.Pk) ([]*model.DatasetVersion, error) {
	var out []*model.DatasetVersion
	err := s.read(ctx, fmt.Sprintf("read versions of dataset %d", datasetPk), func(tx *gorm.DB) error {
		var err error
		out, err = s.versions(ctx, tx, datasetScope(datasetPk, allVersions))
		return err
	})
	return out, err
}

func (s *Store) versions(ctx context.Context, tx *gorm.DB, sc scope) ([]*model.DatasetVersion, error) {
	fetch := s.db.FetchSize()
	q, args := versionRowsSQL(sc, true, nil)
	vc, err := cursor.Open(ctx, tx, "dc_version_rows", q, args, fetch)
	if err != nil {
		return nil, err
	}
	q, args = locationRowsSQL(sc)
	lc, err := cursor.Open(ctx, tx, "dc_location_rows", q, args, fetch)
	if err != nil {
		vc.Close()
		return nil, err
	}
	return cursor.CollectVersions(vc, lc)
}

// -----------------------------------------------------------------------------
// 按主键读取
// -----------------------------------------------------------------------------

// Get 按类型和主键读取节点，路径通过逐级向上查找父节点得到
func (s *Store) Get(ctx context.Context, typ types.RecordType, pk types.Pk) (model.Node, error) {
	var node model.Node
	err := s.read(ctx, fmt.Sprintf("get %s %d", typ, pk), func(tx *gorm.DB) error {
		var err error
		node, err = s.get(ctx, tx, typ, pk)
		if err != nil {
			return err
		}
		return s.loadContainerMetadata(ctx, tx, node)
	})
	return node, err
}

func (s *Store) get(ctx context.Context, tx *gorm.DB, typ types.RecordType, pk types.Pk) (model.Node, error) {
	db := tx.WithContext(ctx)
	switch typ {
	case types.TypeFolder:
		var m meta.FolderModel
		if err := first(db, &m, pk); err != nil {
			return nil, err
		}
		info := model.NodeInfo{Pk: pk, Name: m.Name, ACL: joinACL(m.ACL), Created: m.Created}
		if m.ParentPk != nil {
			info.ParentPk, info.ParentType = types.Pk(*m.ParentPk), types.TypeFolder
		}
		path, err := s.pathOf(ctx, tx, info.ParentType, info.ParentPk, m.Name)
		if err != nil {
			return nil, err
		}
		info.Path = path
		return &model.Folder{NodeInfo: info, Container: model.Container{Description: m.Description}}, nil

	case types.TypeGroup:
		var m meta.GroupModel
		if err := first(db, &m, pk); err != nil {
			return nil, err
		}
		info := model.NodeInfo{Pk: pk, ParentPk: types.Pk(m.FolderPk), ParentType: types.TypeFolder, Name: m.Name, ACL: joinACL(m.ACL), Created: m.Created}
		path, err := s.pathOf(ctx, tx, info.ParentType, info.ParentPk, m.Name)
		if err != nil {
			return nil, err
		}
		info.Path = path
		return &model.Group{NodeInfo: info, Container: model.Container{Description: m.Description}}, nil

	case types.TypeDataset:
		var m meta.DatasetModel
		if err := first(db, &m, pk); err != nil {
			return nil, err
		}
		info := model.NodeInfo{Pk: pk, ParentPk: types.Pk(m.ParentPk), ParentType: types.RecordType(m.ParentType), Name: m.Name, ACL: joinACL(m.ACL), Created: m.Created}
		path, err := s.pathOf(ctx, tx, info.ParentType, info.ParentPk, m.Name)
		if err != nil {
			return nil, err
		}
		info.Path = path
		return &model.Dataset{NodeInfo: info, DataType: m.DataType, FileFormat: m.FileFormat}, nil
	}
	return nil, dcerr.InvalidRequest.New("unknown record type %q", typ)
}

// pathOf 逐级向上拼出路径。根目录的父节点为空。
func (s *Store) pathOf(ctx context.Context, tx *gorm.DB, parentType types.RecordType, parentPk types.Pk, name string) (string, error) {
	if parentPk == 0 {
		return "/", nil
	}
	parent, err := s.get(ctx, tx, parentType, parentPk)
	if err != nil {
		return "", err
	}
	return types.Join(parent.Info().Path, name), nil
}

func first(db *gorm.DB, dst any, pk types.Pk) error {
	err := db.Where("pk = ?", int64(pk)).First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dcerr.NotFound.New("record %d", pk)
	}
	return err
}

func joinACL(acl []string) string { return strings.Join(acl, ",") }
