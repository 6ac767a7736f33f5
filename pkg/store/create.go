package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// -----------------------------------------------------------------------------
// 请求类型 (validate 标签由 catalog 层的 validator 检查)
// -----------------------------------------------------------------------------

// NewContainer 创建目录或分组
type NewContainer struct {
	Name        string         `json:"name" validate:"required,max=255,nodename"`
	ACL         []string       `json:"acl" validate:"dive,required"`
	Description string         `json:"description"`
	Metadata    model.Metadata `json:"-"`
}

// NewDataset 创建数据集，Version 非空时同时创建初始版本
type NewDataset struct {
	Name       string      `json:"name" validate:"required,max=255,nodename"`
	ACL        []string    `json:"acl" validate:"dive,required"`
	DataType   string      `json:"dataType" validate:"max=64"`
	FileFormat string      `json:"fileFormat" validate:"max=64"`
	Version    *NewVersion `json:"version"`
}

// NewVersion VersionID 为 types.VersionNew 时自动分配
type NewVersion struct {
	VersionID     int64          `json:"versionId" validate:"gte=-1"`
	DatasetSource string         `json:"datasetSource" validate:"max=64"`
	Metadata      model.Metadata `json:"-"`
	Locations     []NewLocation  `json:"locations" validate:"dive"`
}

// NewLocation 一个站点上的物理文件
type NewLocation struct {
	Site       string     `json:"site" validate:"required,max=64"`
	Resource   string     `json:"resource" validate:"required"`
	Size       int64      `json:"size" validate:"gte=0"`
	Checksum   *int64     `json:"checksum"`
	RunMin     *int64     `json:"runMin"`
	RunMax     *int64     `json:"runMax"`
	EventCount *int64     `json:"eventCount" validate:"omitempty,gte=0"`
	ScanStatus string     `json:"scanStatus" validate:"max=32"`
	Modified   *time.Time `json:"modified"`
	Master     bool       `json:"master"`
}

func aclOf(entries []string) datatypes.JSONSlice[string] {
	if len(entries) == 0 {
		return nil
	}
	return datatypes.JSONSlice[string](entries)
}

// conflict 把唯一约束冲突转换为 AlreadyExists
func conflict(err error, format string, args ...any) error {
	if meta.IsDuplicate(err) {
		return dcerr.AlreadyExists.New(format, args...)
	}
	return err
}

// lockContainer 在事务里确认容器行还在，postgres 上加行锁 (FOR UPDATE)。
// 建子节点和删除容器都先锁父行，两者在这一行上串行，不会留下孤儿节点。
func (s *Store) lockContainer(ctx context.Context, tx *gorm.DB, node model.Node) error {
	info := node.Info()
	var m any = &meta.FolderModel{}
	if node.Type() == types.TypeGroup {
		m = &meta.GroupModel{}
	}
	q := tx.WithContext(ctx).Model(m).Where("pk = ?", int64(info.Pk))
	if s.db.Dialect() == meta.DriverPostgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var pks []int64
	if err := q.Pluck("pk", &pks).Error; err != nil {
		return err
	}
	if len(pks) == 0 {
		return dcerr.NotFound.New("%s", info.Path)
	}
	return nil
}

// ensureFreeName 父容器仍然存在，且同一个父节点下名字唯一 (跨类型)。
// 同类型的重复由唯一索引兜底，这里负责目录与数据集同名之类的情况。
func (s *Store) ensureFreeName(ctx context.Context, tx *gorm.DB, parent model.Node, name string) error {
	if err := s.lockContainer(ctx, tx, parent); err != nil {
		return err
	}
	_, err := s.child(ctx, tx, parent, name)
	switch {
	case err == nil:
		return dcerr.AlreadyExists.New("%s", types.Join(parent.Info().Path, name))
	case dcerr.NotFound.Has(err):
		return nil
	default:
		return err
	}
}

// -----------------------------------------------------------------------------
// 容器
// -----------------------------------------------------------------------------

// CreateFolder 在目录下创建子目录
func (s *Store) CreateFolder(ctx context.Context, parent model.Node, req NewContainer) (*model.Folder, error) {
	if parent.Type() != types.TypeFolder {
		return nil, dcerr.InvalidRequest.New("folders can only be created inside folders: %s", parent.Info().Path)
	}
	path := types.Join(parent.Info().Path, req.Name)

	var out *model.Folder
	err := s.write(ctx, "create folder "+path, func(tx *gorm.DB) error {
		if err := s.ensureFreeName(ctx, tx, parent, req.Name); err != nil {
			return err
		}
		parentPk := int64(parent.Info().Pk)
		row := meta.FolderModel{ParentPk: &parentPk, Name: req.Name, ACL: aclOf(req.ACL), Description: req.Description}
		if err := tx.Create(&row).Error; err != nil {
			return conflict(err, "%s", path)
		}
		if err := writeMetadata(ctx, tx, meta.OwnerFolder, types.Pk(row.Pk), req.Metadata); err != nil {
			return err
		}
		out = &model.Folder{
			NodeInfo: model.NodeInfo{
				Pk: types.Pk(row.Pk), ParentPk: parent.Info().Pk, ParentType: types.TypeFolder,
				Name: row.Name, Path: path, ACL: strings.Join(req.ACL, ","), Created: row.Created,
			},
			Container: model.Container{Description: row.Description, Metadata: req.Metadata.Clone()},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("folder created", zap.String("path", path), zap.Int64("pk", int64(out.Pk)))
	return out, nil
}

// CreateGroup 分组只能挂在目录下
func (s *Store) CreateGroup(ctx context.Context, parent model.Node, req NewContainer) (*model.Group, error) {
	if parent.Type() != types.TypeFolder {
		return nil, dcerr.InvalidRequest.New("groups can only be created inside folders: %s", parent.Info().Path)
	}
	path := types.Join(parent.Info().Path, req.Name)

	var out *model.Group
	err := s.write(ctx, "create group "+path, func(tx *gorm.DB) error {
		if err := s.ensureFreeName(ctx, tx, parent, req.Name); err != nil {
			return err
		}
		row := meta.GroupModel{FolderPk: int64(parent.Info().Pk), Name: req.Name, ACL: aclOf(req.ACL), Description: req.Description}
		if err := tx.Create(&row).Error; err != nil {
			return conflict(err, "%s", path)
		}
		if err := writeMetadata(ctx, tx, meta.OwnerGroup, types.Pk(row.Pk), req.Metadata); err != nil {
			return err
		}
		out = &model.Group{
			NodeInfo: model.NodeInfo{
				Pk: types.Pk(row.Pk), ParentPk: parent.Info().Pk, ParentType: types.TypeFolder,
				Name: row.Name, Path: path, ACL: strings.Join(req.ACL, ","), Created: row.Created,
			},
			Container: model.Container{Description: row.Description, Metadata: req.Metadata.Clone()},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("group created", zap.String("path", path), zap.Int64("pk", int64(out.Pk)))
	return out, nil
}

// -----------------------------------------------------------------------------
// 数据集 / 版本 / 位置
// -----------------------------------------------------------------------------

// CreateDataset 在目录或分组下创建数据集
func (s *Store) CreateDataset(ctx context.Context, parent model.Node, req NewDataset) (*model.Dataset, error) {
	if !parent.Type().IsContainer() {
		return nil, dcerr.InvalidRequest.New("%s is not a container", parent.Info().Path)
	}
	path := types.Join(parent.Info().Path, req.Name)

	var out *model.Dataset
	err := s.write(ctx, "create dataset "+path, func(tx *gorm.DB) error {
		if err := s.ensureFreeName(ctx, tx, parent, req.Name); err != nil {
			return err
		}
		if err := requireRegistered(ctx, tx, DataTypes, req.DataType); err != nil {
			return err
		}
		if err := requireRegistered(ctx, tx, FileFormats, req.FileFormat); err != nil {
			return err
		}

		row := meta.DatasetModel{
			ParentPk:   int64(parent.Info().Pk),
			ParentType: string(parent.Type()),
			Name:       req.Name,
			ACL:        aclOf(req.ACL),
			DataType:   req.DataType,
			FileFormat: req.FileFormat,
		}
		if err := tx.Create(&row).Error; err != nil {
			return conflict(err, "%s", path)
		}
		out = &model.Dataset{
			NodeInfo: model.NodeInfo{
				Pk: types.Pk(row.Pk), ParentPk: parent.Info().Pk, ParentType: parent.Type(),
				Name: row.Name, Path: path, ACL: strings.Join(req.ACL, ","), Created: row.Created,
			},
			DataType:   row.DataType,
			FileFormat: row.FileFormat,
		}

		if req.Version != nil {
			ver, err := s.createVersion(ctx, tx, types.Pk(row.Pk), *req.Version)
			if err != nil {
				return err
			}
			out.Version = ver
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("dataset created", zap.String("path", path), zap.Int64("pk", int64(out.Pk)))
	return out, nil
}

// CreateVersion 为数据集新增版本。
// VersionNew 分配 max+1 (第一个版本是 0)；显式版本号不能已经存在。
// 版本号最大的版本成为 latest。
func (s *Store) CreateVersion(ctx context.Context, ds *model.Dataset, req NewVersion) (*model.DatasetVersion, error) {
	var out *model.DatasetVersion
	err := s.write(ctx, "create version "+ds.Path, func(tx *gorm.DB) error {
		var err error
		out, err = s.createVersion(ctx, tx, ds.Pk, req)
		return err
	})
	return out, err
}

func (s *Store) createVersion(ctx context.Context, tx *gorm.DB, datasetPk types.Pk, req NewVersion) (*model.DatasetVersion, error) {
	if err := requireRegistered(ctx, tx, DatasetSources, req.DatasetSource); err != nil {
		return nil, err
	}

	var maxID sql.NullInt64
	err := tx.WithContext(ctx).Model(&meta.VersionModel{}).
		Where("dataset_pk = ?", int64(datasetPk)).
		Select("MAX(version_id)").
		Scan(&maxID).Error
	if err != nil {
		return nil, err
	}

	id := req.VersionID
	switch {
	case id == types.VersionNew || id == types.VersionCurrent:
		id = 0
		if maxID.Valid {
			id = maxID.Int64 + 1
		}
	case id < 0:
		return nil, dcerr.InvalidRequest.New("invalid version id %d", id)
	}

	row := meta.VersionModel{DatasetPk: int64(datasetPk), VersionID: id, DatasetSource: req.DatasetSource}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, conflict(err, "version %d already exists", id)
	}

	latest := !maxID.Valid || id > maxID.Int64
	if latest {
		err := tx.WithContext(ctx).Model(&meta.DatasetModel{}).
			Where("pk = ?", int64(datasetPk)).
			Update("latest_version_pk", row.Pk).Error
		if err != nil {
			return nil, err
		}
	}
	if err := writeMetadata(ctx, tx, meta.OwnerVersion, types.Pk(row.Pk), req.Metadata); err != nil {
		return nil, err
	}

	ver := &model.DatasetVersion{
		Pk:            types.Pk(row.Pk),
		DatasetPk:     datasetPk,
		VersionID:     row.VersionID,
		DatasetSource: row.DatasetSource,
		Created:       row.Created,
		Latest:        latest,
		Metadata:      req.Metadata.Clone(),
		Locations:     []model.DatasetLocation{},
	}
	if ver.Metadata == nil {
		ver.Metadata = model.Metadata{}
	}

	for _, l := range req.Locations {
		loc, err := s.createLocation(ctx, tx, &row, l)
		if err != nil {
			return nil, err
		}
		ver.Locations = append(ver.Locations, *loc)
	}
	// 后创建的位置可能抢走 master 标记，按最终状态回填
	for i := range ver.Locations {
		ver.Locations[i].Master = row.MasterLocationPk != nil && *row.MasterLocationPk == int64(ver.Locations[i].Pk)
	}
	return ver, nil
}

// CreateLocation 给指定版本新增位置。第一个位置自动成为 master，除非之后有位置显式声明 master。
func (s *Store) CreateLocation(ctx context.Context, ds *model.Dataset, versionID int64, req NewLocation) (*model.DatasetLocation, error) {
	var out *model.DatasetLocation
	err := s.write(ctx, fmt.Sprintf("create location %s@%s", ds.Path, req.Site), func(tx *gorm.DB) error {
		ver, err := versionRow(ctx, tx, ds.Pk, versionID)
		if err != nil {
			return err
		}
		out, err = s.createLocation(ctx, tx, ver, req)
		return err
	})
	return out, err
}

func (s *Store) createLocation(ctx context.Context, tx *gorm.DB, ver *meta.VersionModel, req NewLocation) (*model.DatasetLocation, error) {
	row := meta.LocationModel{
		VersionPk:  ver.Pk,
		Site:       req.Site,
		Resource:   req.Resource,
		Size:       req.Size,
		Checksum:   req.Checksum,
		RunMin:     req.RunMin,
		RunMax:     req.RunMax,
		EventCount: req.EventCount,
		ScanStatus: req.ScanStatus,
		Modified:   req.Modified,
	}
	if row.ScanStatus == "" {
		row.ScanStatus = "UNSCANNED"
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, conflict(err, "location %s already exists for version %d", req.Site, ver.VersionID)
	}

	master := req.Master || ver.MasterLocationPk == nil
	if master {
		if err := setMaster(ctx, tx, ver, row.Pk); err != nil {
			return nil, err
		}
	}
	return locationOf(row, master), nil
}

// setMaster 更新版本的 master 指针 (同时更新内存中的行)
func setMaster(ctx context.Context, tx *gorm.DB, ver *meta.VersionModel, locationPk int64) error {
	err := tx.WithContext(ctx).Model(&meta.VersionModel{}).
		Where("pk = ?", ver.Pk).
		Update("master_location_pk", locationPk).Error
	if err != nil {
		return err
	}
	ver.MasterLocationPk = &locationPk
	return nil
}

func locationOf(row meta.LocationModel, master bool) *model.DatasetLocation {
	return &model.DatasetLocation{
		Pk:         types.Pk(row.Pk),
		VersionPk:  types.Pk(row.VersionPk),
		Site:       row.Site,
		Resource:   row.Resource,
		Size:       row.Size,
		Checksum:   row.Checksum,
		RunMin:     row.RunMin,
		RunMax:     row.RunMax,
		EventCount: row.EventCount,
		ScanStatus: row.ScanStatus,
		Created:    row.Created,
		Modified:   row.Modified,
		Scanned:    row.Scanned,
		Master:     master,
	}
}

// versionRow 按版本号 (或 VersionCurrent) 取版本行
func versionRow(ctx context.Context, tx *gorm.DB, datasetPk types.Pk, versionID int64) (*meta.VersionModel, error) {
	var row meta.VersionModel
	db := tx.WithContext(ctx).Model(&meta.VersionModel{})
	if versionID == types.VersionCurrent || versionID == types.VersionNew {
		db = db.Where("pk = (SELECT latest_version_pk FROM "+meta.TableDatasets+" WHERE pk = ?)", int64(datasetPk))
	} else {
		db = db.Where("dataset_pk = ? AND version_id = ?", int64(datasetPk), versionID)
	}
	err := db.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if versionID < 0 {
			return nil, dcerr.NotFound.New("no current version")
		}
		return nil, dcerr.NotFound.New("version %d not found", versionID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
