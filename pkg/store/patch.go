package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Patch 是一次部分更新：Fields 按对外字段名给出新值 (nil 表示清空)，
// Metadata 合并进已有元数据 (Kind 为零值的条目表示删除)。
type Patch struct {
	Fields   map[string]any
	Metadata model.Metadata
}

// IsEmpty 没有任何修改
func (p Patch) IsEmpty() bool { return len(p.Fields) == 0 && len(p.Metadata) == 0 }

// patchColumn 对外字段到列的映射，coerce 把请求值转换为列值
type patchColumn struct {
	column string
	coerce func(any) (any, error)
}

// 每种实体可修改的字段。启动时就是普通数据，直接遍历，不做运行时反射。
var (
	containerPatch = map[string]patchColumn{
		"description": {"description", toText},
		"acl":         {"acl", toACL},
	}
	datasetPatch = map[string]patchColumn{
		"acl":        {"acl", toACL},
		"dataType":   {"data_type", toText},
		"fileFormat": {"file_format", toText},
	}
	versionPatch = map[string]patchColumn{
		"datasetSource": {"dataset_source", toText},
	}
	locationPatch = map[string]patchColumn{
		"resource":   {"resource", toText},
		"size":       {"size", toInt},
		"checksum":   {"checksum", toChecksum},
		"runMin":     {"run_min", toInt},
		"runMax":     {"run_max", toInt},
		"eventCount": {"event_count", toInt},
		"scanStatus": {"scan_status", toText},
		"modified":   {"modified", toTime},
		"scanned":    {"scanned", toTime},
		// master 不是 location 表的列，单独处理
		"master": {"", toBool},
	}
)

// PatchableFields 返回某种实体允许修改的字段名 (排好序)，未知实体返回 nil。
// CLI 用它生成帮助并校验 --target。
func PatchableFields(kind string) []string {
	var table map[string]patchColumn
	switch kind {
	case "container":
		table = containerPatch
	case "dataset":
		table = datasetPatch
	case "version":
		table = versionPatch
	case "location":
		table = locationPatch
	default:
		return nil
	}
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// columns 把 Fields 翻译成 列名 -> 值；未知字段报 InvalidRequest
func columns(table map[string]patchColumn, fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for field, raw := range fields {
		col, ok := table[field]
		if !ok {
			return nil, dcerr.InvalidRequest.New("field %q cannot be patched", field)
		}
		v, err := col.coerce(raw)
		if err != nil {
			return nil, dcerr.InvalidRequest.New("field %q: %v", field, err)
		}
		out[col.column] = v
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 各实体的 Patch
// -----------------------------------------------------------------------------

// PatchContainer 修改目录或分组的描述 / ACL / 元数据
func (s *Store) PatchContainer(ctx context.Context, node model.Node, p Patch) error {
	if !node.Type().IsContainer() {
		return dcerr.InvalidRequest.New("%s is not a container", node.Info().Path)
	}
	cols, err := columns(containerPatch, p.Fields)
	if err != nil {
		return err
	}
	return s.write(ctx, "patch "+node.Info().Path, func(tx *gorm.DB) error {
		if len(cols) > 0 {
			var m any = &meta.FolderModel{}
			if node.Type() == types.TypeGroup {
				m = &meta.GroupModel{}
			}
			if err := updateRow(ctx, tx, m, int64(node.Info().Pk), cols); err != nil {
				return err
			}
		}
		return mergeMetadata(ctx, tx, ownerOf(node.Type()), node.Info().Pk, p.Metadata)
	})
}

// PatchDataset 修改数据集本身的字段。数据集没有自己的元数据，元数据属于版本。
func (s *Store) PatchDataset(ctx context.Context, ds *model.Dataset, p Patch) error {
	if len(p.Metadata) > 0 {
		return dcerr.InvalidRequest.New("datasets carry metadata on versions; patch a version instead")
	}
	cols, err := columns(datasetPatch, p.Fields)
	if err != nil {
		return err
	}
	return s.write(ctx, "patch "+ds.Path, func(tx *gorm.DB) error {
		if v, ok := cols["data_type"]; ok {
			if err := requireRegistered(ctx, tx, DataTypes, v.(string)); err != nil {
				return err
			}
		}
		if v, ok := cols["file_format"]; ok {
			if err := requireRegistered(ctx, tx, FileFormats, v.(string)); err != nil {
				return err
			}
		}
		return updateRow(ctx, tx, &meta.DatasetModel{}, int64(ds.Pk), cols)
	})
}

// PatchVersion 修改版本的来源和元数据
func (s *Store) PatchVersion(ctx context.Context, ds *model.Dataset, versionID int64, p Patch) error {
	cols, err := columns(versionPatch, p.Fields)
	if err != nil {
		return err
	}
	return s.write(ctx, fmt.Sprintf("patch %s version %d", ds.Path, versionID), func(tx *gorm.DB) error {
		ver, err := versionRow(ctx, tx, ds.Pk, versionID)
		if err != nil {
			return err
		}
		if v, ok := cols["dataset_source"]; ok {
			if err := requireRegistered(ctx, tx, DatasetSources, v.(string)); err != nil {
				return err
			}
		}
		if err := updateRow(ctx, tx, &meta.VersionModel{}, ver.Pk, cols); err != nil {
			return err
		}
		return mergeMetadata(ctx, tx, meta.OwnerVersion, types.Pk(ver.Pk), p.Metadata)
	})
}

// PatchLocation 修改一个站点位置。master=true 把该位置设为版本的主位置。
func (s *Store) PatchLocation(ctx context.Context, ds *model.Dataset, versionID int64, site string, p Patch) error {
	if len(p.Metadata) > 0 {
		return dcerr.InvalidRequest.New("locations do not carry metadata")
	}
	cols, err := columns(locationPatch, p.Fields)
	if err != nil {
		return err
	}
	master, setMasterFlag := cols[""]
	delete(cols, "")
	if setMasterFlag && master != true {
		return dcerr.InvalidRequest.New("a version always has a master location; flag another location instead")
	}

	return s.write(ctx, fmt.Sprintf("patch %s@%s", ds.Path, site), func(tx *gorm.DB) error {
		ver, err := versionRow(ctx, tx, ds.Pk, versionID)
		if err != nil {
			return err
		}
		loc, err := locationRow(ctx, tx, ver.Pk, site)
		if err != nil {
			return err
		}
		if err := updateRow(ctx, tx, &meta.LocationModel{}, loc.Pk, cols); err != nil {
			return err
		}
		if setMasterFlag {
			return setMaster(ctx, tx, ver, loc.Pk)
		}
		return nil
	})
}

func updateRow(ctx context.Context, tx *gorm.DB, m any, pk int64, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	res := tx.WithContext(ctx).Model(m).Where("pk = ?", pk).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return dcerr.NotFound.New("record %d vanished during patch", pk)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 值转换
// -----------------------------------------------------------------------------

func toText(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return nil, fmt.Errorf("expected text, got %T", v)
	}
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

// toChecksum 接受十六进制文本或整数
func toChecksum(v any) (any, error) {
	if s, ok := v.(string); ok {
		sum, err := model.ParseChecksum(s)
		if err != nil {
			return nil, fmt.Errorf("malformed checksum %q", s)
		}
		return sum, nil
	}
	return toInt(v)
}

func toTime(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, fmt.Errorf("expected RFC3339 timestamp, got %q", t)
		}
		return parsed.UTC(), nil
	default:
		return nil, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
}

// toACL 接受逗号分隔的文本或字符串列表
func toACL(v any) (any, error) {
	var entries []string
	switch a := v.(type) {
	case nil:
		return datatypes.JSONSlice[string](nil), nil
	case string:
		for _, e := range strings.Split(a, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
	case []string:
		entries = a
	case []any:
		for _, e := range a {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("acl entries must be text, got %T", e)
			}
			entries = append(entries, s)
		}
	default:
		return nil, fmt.Errorf("expected acl list, got %T", v)
	}
	return datatypes.JSONSlice[string](entries), nil
}
