package store

import (
	"context"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Registry 三张登记表之一
type Registry string

const (
	DatasetSources Registry = "source"
	DataTypes      Registry = "datatype"
	FileFormats    Registry = "fileformat"
)

// Registries 固定顺序
var Registries = []Registry{DatasetSources, DataTypes, FileFormats}

// ParseRegistry 解析命令行/请求里的登记表名
func ParseRegistry(s string) (Registry, error) {
	switch s {
	case "source", "sources", "datasetSource":
		return DatasetSources, nil
	case "datatype", "datatypes", "dataType":
		return DataTypes, nil
	case "fileformat", "fileformats", "fileFormat":
		return FileFormats, nil
	}
	return "", dcerr.InvalidRequest.New("unknown registry %q", s)
}

// Registration 一条登记记录
type Registration struct {
	Name        string         `json:"name" validate:"required,max=64"`
	Description string         `json:"description"`
	Creator     string         `json:"creator" validate:"max=64"`
	Properties  map[string]any `json:"properties"`
}

func (r Registry) model() any {
	switch r {
	case DataTypes:
		return &meta.DataTypeModel{}
	case FileFormats:
		return &meta.FileFormatModel{}
	default:
		return &meta.DatasetSourceModel{}
	}
}

func (r Registry) table() string {
	return r.model().(interface{ TableName() string }).TableName()
}

// Register 登记一个新名字，重复返回 AlreadyExists
func (s *Store) Register(ctx context.Context, reg Registry, entry Registration) error {
	row := meta.RegistryEntry{
		Name:        entry.Name,
		Description: entry.Description,
		Creator:     entry.Creator,
		Properties:  datatypes.JSONMap(entry.Properties),
	}
	return s.write(ctx, "register "+string(reg)+" "+entry.Name, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Table(reg.table()).Create(&row).Error; err != nil {
			return conflict(err, "%s %q is already registered", reg, entry.Name)
		}
		return nil
	})
}

func (s *Store) RegisterDatasetSource(ctx context.Context, entry Registration) error {
	return s.Register(ctx, DatasetSources, entry)
}

func (s *Store) RegisterDataType(ctx context.Context, entry Registration) error {
	return s.Register(ctx, DataTypes, entry)
}

func (s *Store) RegisterFileFormat(ctx context.Context, entry Registration) error {
	return s.Register(ctx, FileFormats, entry)
}

// Registered 列出一张登记表的全部记录，按名字排序
func (s *Store) Registered(ctx context.Context, reg Registry) ([]Registration, error) {
	var rows []meta.RegistryEntry
	err := s.read(ctx, "list "+string(reg), func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Table(reg.table()).Order("name").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]Registration, len(rows))
	for i, row := range rows {
		out[i] = Registration{Name: row.Name, Description: row.Description, Creator: row.Creator, Properties: row.Properties}
	}
	return out, nil
}

// requireRegistered 空名字表示不指定；非空名字必须已经登记
func requireRegistered(ctx context.Context, tx *gorm.DB, reg Registry, name string) error {
	if name == "" {
		return nil
	}
	var n int64
	if err := tx.WithContext(ctx).Table(reg.table()).Where("name = ?", name).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return dcerr.InvalidRequest.New("%s %q is not registered", reg, name)
	}
	return nil
}
