package cursor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"datacat/pkg/model"
	"datacat/pkg/types"
)

// 三类游标的列约定。store 和 search 生成的 SQL 必须使用这些别名。
//
// primary:   type, pk, name, parent_pk, parent_type, acl, description, data_type, file_format, created
// versions:  dataset_pk, version_pk, version_id, dataset_source, created, latest,
//            md_type, md_name, md_string, md_number, md_timestamp
// locations: version_pk, location_pk, site, resource, size, checksum, run_min, run_max,
//            event_count, scan_status, created, modified, scanned, master
const (
	ColType       = "type"
	ColPk         = "pk"
	ColDatasetPk  = "dataset_pk"
	ColVersionPk  = "version_pk"
	ColLocationPk = "location_pk"
)

// 元数据行的类型标识
const (
	MetaString    = "S"
	MetaNumber    = "N"
	MetaTimestamp = "T"
)

// DecodeNode 解码 primary 行，路径由 pathOf 计算
func DecodeNode(rec Record, pathOf PathFunc) (model.Node, error) {
	typ := types.RecordType(AsString(rec[ColType]))
	pk, ok := AsInt64(rec[ColPk])
	if !ok {
		return nil, fmt.Errorf("primary row without pk")
	}

	info := model.NodeInfo{
		Pk:         types.Pk(pk),
		Name:       AsString(rec["name"]),
		ParentType: types.RecordType(AsString(rec["parent_type"])),
		ACL:        DecodeACL(rec["acl"]),
	}
	if parent, ok := AsInt64(rec["parent_pk"]); ok {
		info.ParentPk = types.Pk(parent)
	}
	if created, ok := AsTime(rec["created"]); ok {
		info.Created = created
	}
	if pathOf != nil {
		info.Path = pathOf(info.ParentType, info.ParentPk, info.Name)
	}

	switch typ {
	case types.TypeFolder:
		return &model.Folder{NodeInfo: info, Container: model.Container{Description: AsString(rec["description"])}}, nil
	case types.TypeGroup:
		return &model.Group{NodeInfo: info, Container: model.Container{Description: AsString(rec["description"])}}, nil
	case types.TypeDataset:
		return &model.Dataset{
			NodeInfo:   info,
			DataType:   AsString(rec["data_type"]),
			FileFormat: AsString(rec["file_format"]),
		}, nil
	default:
		return nil, fmt.Errorf("unknown record type %q", typ)
	}
}

// DecodeVersion 解码版本行的版本部分 (不含元数据)
func DecodeVersion(rec Record) *model.DatasetVersion {
	v := &model.DatasetVersion{
		DatasetSource: AsString(rec["dataset_source"]),
		Latest:        AsBool(rec["latest"]),
		Metadata:      model.Metadata{},
		Locations:     []model.DatasetLocation{},
	}
	if pk, ok := AsInt64(rec[ColVersionPk]); ok {
		v.Pk = types.Pk(pk)
	}
	if pk, ok := AsInt64(rec[ColDatasetPk]); ok {
		v.DatasetPk = types.Pk(pk)
	}
	if id, ok := AsInt64(rec["version_id"]); ok {
		v.VersionID = id
	}
	if created, ok := AsTime(rec["created"]); ok {
		v.Created = created
	}
	return v
}

// AddMetadata 把一行的元数据条目累加进 md。左外连接产生的空行直接忽略。
func AddMetadata(md model.Metadata, rec Record) error {
	name := AsString(rec["md_name"])
	if name == "" {
		return nil
	}
	switch AsString(rec["md_type"]) {
	case MetaString:
		md[name] = model.Text(AsString(rec["md_string"]))
	case MetaNumber:
		v, err := model.NumberFromDriver(rec["md_number"])
		if err != nil {
			return fmt.Errorf("metadata %q: %w", name, err)
		}
		md[name] = v
	case MetaTimestamp:
		t, ok := AsTime(rec["md_timestamp"])
		if !ok {
			return fmt.Errorf("metadata %q: malformed timestamp", name)
		}
		md[name] = model.Timestamp(t)
	default:
		return fmt.Errorf("metadata %q: unknown type %q", name, AsString(rec["md_type"]))
	}
	return nil
}

// DecodeLocation 解码位置行
func DecodeLocation(rec Record) model.DatasetLocation {
	l := model.DatasetLocation{
		Site:       AsString(rec["site"]),
		Resource:   AsString(rec["resource"]),
		ScanStatus: AsString(rec["scan_status"]),
		Master:     AsBool(rec["master"]),
		Checksum:   AsInt64Ptr(rec["checksum"]),
		RunMin:     AsInt64Ptr(rec["run_min"]),
		RunMax:     AsInt64Ptr(rec["run_max"]),
		EventCount: AsInt64Ptr(rec["event_count"]),
		Modified:   AsTimePtr(rec["modified"]),
		Scanned:    AsTimePtr(rec["scanned"]),
	}
	if pk, ok := AsInt64(rec[ColLocationPk]); ok {
		l.Pk = types.Pk(pk)
	}
	if pk, ok := AsInt64(rec[ColVersionPk]); ok {
		l.VersionPk = types.Pk(pk)
	}
	if size, ok := AsInt64(rec["size"]); ok {
		l.Size = size
	}
	if created, ok := AsTime(rec["created"]); ok {
		l.Created = created
	}
	return l
}

// DecodeACL ACL 列是 JSON 数组，对外展示为逗号分隔串
func DecodeACL(v any) string {
	raw := AsString(v)
	if raw == "" || raw == "null" {
		return ""
	}
	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return raw
	}
	return strings.Join(entries, ",")
}

// -----------------------------------------------------------------------------
// 驱动值转换
// -----------------------------------------------------------------------------

func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(s)
	}
}

func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func AsInt64Ptr(v any) *int64 {
	if i, ok := AsInt64(v); ok {
		return &i
	}
	return nil
}

func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case []byte:
		return parseBool(string(b))
	case string:
		return parseBool(b)
	default:
		return false
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}

// sqlite 经过 UNION 之后会丢失列的声明类型，时间以文本形式返回
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, false
	}
}

func AsTimePtr(v any) *time.Time {
	if t, ok := AsTime(v); ok {
		return &t
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	// 去掉 Go 的单调时钟后缀 ("m=+0.000")
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
