package meta

import (
	"database/sql/driver"
	"fmt"
	"time"

	"datacat/pkg/model"

	"gorm.io/datatypes"
)

// 表名常量，store 和 query 包拼 SQL 时使用
const (
	TableFolders   = "folders"
	TableGroups    = "dataset_groups"
	TableDatasets  = "datasets"
	TableVersions  = "dataset_versions"
	TableLocations = "dataset_locations"
)

// FolderModel 逻辑目录。根目录的 ParentPk 为 NULL，名字为空串。
type FolderModel struct {
	Pk          int64                       `gorm:"primaryKey;column:pk;autoIncrement"`
	ParentPk    *int64                      `gorm:"column:parent_pk;uniqueIndex:uq_folder_parent_name,priority:1"`
	Name        string                      `gorm:"column:name;type:varchar(255);not null;uniqueIndex:uq_folder_parent_name,priority:2"`
	ACL         datatypes.JSONSlice[string] `gorm:"column:acl"`
	Description string                      `gorm:"column:description;type:text"`
	Created     time.Time                   `gorm:"column:created;autoCreateTime"`
}

func (FolderModel) TableName() string { return TableFolders }

// GroupModel 数据集分组，只能挂在目录下，只能包含数据集
type GroupModel struct {
	Pk          int64                       `gorm:"primaryKey;column:pk;autoIncrement"`
	FolderPk    int64                       `gorm:"column:folder_pk;not null;uniqueIndex:uq_group_folder_name,priority:1"`
	Name        string                      `gorm:"column:name;type:varchar(255);not null;uniqueIndex:uq_group_folder_name,priority:2"`
	ACL         datatypes.JSONSlice[string] `gorm:"column:acl"`
	Description string                      `gorm:"column:description;type:text"`
	Created     time.Time                   `gorm:"column:created;autoCreateTime"`
}

func (GroupModel) TableName() string { return TableGroups }

// DatasetModel 数据集。LatestVersionPk 是“当前版本”指针。
type DatasetModel struct {
	Pk              int64                       `gorm:"primaryKey;column:pk;autoIncrement"`
	ParentPk        int64                       `gorm:"column:parent_pk;not null;uniqueIndex:uq_dataset_parent_name,priority:2"`
	ParentType      string                      `gorm:"column:parent_type;type:char(1);not null;uniqueIndex:uq_dataset_parent_name,priority:1"`
	Name            string                      `gorm:"column:name;type:varchar(255);not null;uniqueIndex:uq_dataset_parent_name,priority:3"`
	ACL             datatypes.JSONSlice[string] `gorm:"column:acl"`
	DataType        string                      `gorm:"column:data_type;type:varchar(64)"`
	FileFormat      string                      `gorm:"column:file_format;type:varchar(64)"`
	LatestVersionPk *int64                      `gorm:"column:latest_version_pk"`
	Created         time.Time                   `gorm:"column:created;autoCreateTime"`
}

func (DatasetModel) TableName() string { return TableDatasets }

// VersionModel 数据集版本。VersionID 在数据集内稠密递增。
type VersionModel struct {
	Pk               int64     `gorm:"primaryKey;column:pk;autoIncrement"`
	DatasetPk        int64     `gorm:"column:dataset_pk;not null;uniqueIndex:uq_version_dataset_id,priority:1"`
	VersionID        int64     `gorm:"column:version_id;not null;uniqueIndex:uq_version_dataset_id,priority:2"`
	DatasetSource    string    `gorm:"column:dataset_source;type:varchar(64)"`
	MasterLocationPk *int64    `gorm:"column:master_location_pk"`
	Created          time.Time `gorm:"column:created;autoCreateTime"`
}

func (VersionModel) TableName() string { return TableVersions }

// LocationModel 版本在某个站点上的物理位置，(version, site) 唯一
type LocationModel struct {
	Pk         int64      `gorm:"primaryKey;column:pk;autoIncrement"`
	VersionPk  int64      `gorm:"column:version_pk;not null;uniqueIndex:uq_location_version_site,priority:1"`
	Site       string     `gorm:"column:site;type:varchar(64);not null;uniqueIndex:uq_location_version_site,priority:2"`
	Resource   string     `gorm:"column:resource;type:text;not null"`
	Size       int64      `gorm:"column:size"`
	Checksum   *int64     `gorm:"column:checksum"`
	RunMin     *int64     `gorm:"column:run_min"`
	RunMax     *int64     `gorm:"column:run_max"`
	EventCount *int64     `gorm:"column:event_count"`
	ScanStatus string     `gorm:"column:scan_status;type:varchar(32)"`
	Created    time.Time  `gorm:"column:created;autoCreateTime"`
	Modified   *time.Time `gorm:"column:modified"`
	Scanned    *time.Time `gorm:"column:scanned"`
}

func (LocationModel) TableName() string { return TableLocations }

// -----------------------------------------------------------------------------
// 元数据表：按 (所有者类型 x 值类型) 拆成九张表
// -----------------------------------------------------------------------------

// Owner 元数据所有者类型
type Owner string

const (
	OwnerFolder  Owner = "folder"
	OwnerGroup   Owner = "group"
	OwnerVersion Owner = "version"
)

// ValueTable 元数据值类型对应的表后缀
type ValueTable string

const (
	ValueString    ValueTable = "string"
	ValueNumber    ValueTable = "number"
	ValueTimestamp ValueTable = "timestamp"
)

// ValueTables 固定顺序
var ValueTables = []ValueTable{ValueString, ValueNumber, ValueTimestamp}

// MetaTable 返回元数据表名，例如 version_meta_number
func MetaTable(owner Owner, vt ValueTable) string {
	return fmt.Sprintf("%s_meta_%s", owner, vt)
}

// ValueTableFor Text -> string, Integer/Decimal -> number, Timestamp -> timestamp
func ValueTableFor(k model.Kind) (ValueTable, error) {
	switch k {
	case model.KindText:
		return ValueString, nil
	case model.KindInteger, model.KindDecimal:
		return ValueNumber, nil
	case model.KindTimestamp:
		return ValueTimestamp, nil
	default:
		return "", fmt.Errorf("no metadata table for %s values", k)
	}
}

// Numeric 写入 numeric 列的值：整数按 int64 绑定，小数按 float64 绑定
type Numeric struct {
	Int     int64
	Dec     float64
	Integer bool
}

func NumericOf(v model.Value) Numeric {
	if v.Kind == model.KindInteger {
		return Numeric{Int: v.Int, Integer: true}
	}
	return Numeric{Dec: v.Dec}
}

// Value 实现 driver.Valuer
func (n Numeric) Value() (driver.Value, error) {
	if n.Integer {
		return n.Int, nil
	}
	return n.Dec, nil
}

// Scan 实现 sql.Scanner，读取时应用“零小数位即整数”的规则
func (n *Numeric) Scan(src any) error {
	v, err := model.NumberFromDriver(src)
	if err != nil {
		return err
	}
	*n = NumericOf(v)
	return nil
}

// ModelValue 转回 model.Value
func (n Numeric) ModelValue() model.Value {
	if n.Integer {
		return model.Integer(n.Int)
	}
	return model.Decimal(n.Dec)
}

type MetaString struct {
	Pk        int64  `gorm:"primaryKey;column:pk;autoIncrement"`
	OwnerPk   int64  `gorm:"column:owner_pk;not null;index"`
	MetaName  string `gorm:"column:meta_name;type:varchar(255);not null;index"`
	MetaValue string `gorm:"column:meta_value;type:text"`
}

type MetaNumber struct {
	Pk        int64   `gorm:"primaryKey;column:pk;autoIncrement"`
	OwnerPk   int64   `gorm:"column:owner_pk;not null;index"`
	MetaName  string  `gorm:"column:meta_name;type:varchar(255);not null;index"`
	MetaValue Numeric `gorm:"column:meta_value;type:numeric"`
}

type MetaTimestamp struct {
	Pk        int64     `gorm:"primaryKey;column:pk;autoIncrement"`
	OwnerPk   int64     `gorm:"column:owner_pk;not null;index"`
	MetaName  string    `gorm:"column:meta_name;type:varchar(255);not null;index"`
	MetaValue time.Time `gorm:"column:meta_value"`
}

type FolderMetaString struct{ MetaString }
type FolderMetaNumber struct{ MetaNumber }
type FolderMetaTimestamp struct{ MetaTimestamp }
type GroupMetaString struct{ MetaString }
type GroupMetaNumber struct{ MetaNumber }
type GroupMetaTimestamp struct{ MetaTimestamp }
type VersionMetaString struct{ MetaString }
type VersionMetaNumber struct{ MetaNumber }
type VersionMetaTimestamp struct{ MetaTimestamp }

func (FolderMetaString) TableName() string     { return MetaTable(OwnerFolder, ValueString) }
func (FolderMetaNumber) TableName() string     { return MetaTable(OwnerFolder, ValueNumber) }
func (FolderMetaTimestamp) TableName() string  { return MetaTable(OwnerFolder, ValueTimestamp) }
func (GroupMetaString) TableName() string      { return MetaTable(OwnerGroup, ValueString) }
func (GroupMetaNumber) TableName() string      { return MetaTable(OwnerGroup, ValueNumber) }
func (GroupMetaTimestamp) TableName() string   { return MetaTable(OwnerGroup, ValueTimestamp) }
func (VersionMetaString) TableName() string    { return MetaTable(OwnerVersion, ValueString) }
func (VersionMetaNumber) TableName() string    { return MetaTable(OwnerVersion, ValueNumber) }
func (VersionMetaTimestamp) TableName() string { return MetaTable(OwnerVersion, ValueTimestamp) }

// -----------------------------------------------------------------------------
// 登记表：数据来源 / 数据类型 / 文件格式
// -----------------------------------------------------------------------------

// RegistryEntry 三张登记表共享的列
type RegistryEntry struct {
	Pk          int64             `gorm:"primaryKey;column:pk;autoIncrement"`
	Name        string            `gorm:"column:name;type:varchar(64);not null;uniqueIndex"`
	Description string            `gorm:"column:description;type:text"`
	Creator     string            `gorm:"column:creator;type:varchar(64)"`
	Properties  datatypes.JSONMap `gorm:"column:properties"`
	Created     time.Time         `gorm:"column:created;autoCreateTime"`
}

type DatasetSourceModel struct{ RegistryEntry }
type DataTypeModel struct{ RegistryEntry }
type FileFormatModel struct{ RegistryEntry }

func (DatasetSourceModel) TableName() string { return "dataset_sources" }
func (DataTypeModel) TableName() string      { return "dataset_data_types" }
func (FileFormatModel) TableName() string    { return "dataset_file_formats" }

// AllModels 迁移用的模型列表
func AllModels() []any {
	return []any{
		&FolderModel{}, &GroupModel{}, &DatasetModel{}, &VersionModel{}, &LocationModel{},
		&FolderMetaString{}, &FolderMetaNumber{}, &FolderMetaTimestamp{},
		&GroupMetaString{}, &GroupMetaNumber{}, &GroupMetaTimestamp{},
		&VersionMetaString{}, &VersionMetaNumber{}, &VersionMetaTimestamp{},
		&DatasetSourceModel{}, &DataTypeModel{}, &FileFormatModel{},
	}
}
