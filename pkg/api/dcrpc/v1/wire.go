package dcrpc

import (
	"fmt"
	"math"
	"time"

	"datacat/pkg/model"
	"datacat/pkg/types"

	"google.golang.org/protobuf/types/known/structpb"
)

// 线上格式
//
// 节点、统计和请求都是 google.protobuf.Struct。
// 元数据值：文本是 string，数值是 number (整数值还原为 integer)，
// 时间戳是 {"timestamp": RFC3339}，列表是 list。

const timestampKey = "timestamp"

// -----------------------------------------------------------------------------
// 元数据
// -----------------------------------------------------------------------------

func encodeValue(v model.Value) any {
	switch v.Kind {
	case model.KindText:
		return v.Text
	case model.KindInteger:
		return float64(v.Int)
	case model.KindDecimal:
		return v.Dec
	case model.KindTimestamp:
		return map[string]any{timestampKey: v.Time.Format(time.RFC3339Nano)}
	case model.KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = encodeValue(item)
		}
		return out
	}
	return nil
}

// EncodeMetadata 元数据转成 Struct 可接受的 map，零值编码为 null
func EncodeMetadata(md model.Metadata) map[string]any {
	out := make(map[string]any, len(md))
	for name, v := range md {
		out[name] = encodeValue(v)
	}
	return out
}

// DecodeValue 把线上的值还原为元数据值。null 返回零值 (patch 里表示删除)。
func DecodeValue(v *structpb.Value) (model.Value, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return model.Value{}, nil
	case *structpb.Value_StringValue:
		return model.Text(k.StringValue), nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return model.Integer(int64(f)), nil
		}
		return model.Decimal(f), nil
	case *structpb.Value_StructValue:
		ts, ok := k.StructValue.GetFields()[timestampKey]
		if !ok || len(k.StructValue.GetFields()) != 1 {
			return model.Value{}, fmt.Errorf("unsupported metadata object")
		}
		t, err := time.Parse(time.RFC3339Nano, ts.GetStringValue())
		if err != nil {
			return model.Value{}, fmt.Errorf("bad timestamp: %w", err)
		}
		return model.Timestamp(t), nil
	case *structpb.Value_ListValue:
		items := make([]model.Value, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			iv, err := DecodeValue(item)
			if err != nil {
				return model.Value{}, err
			}
			items = append(items, iv)
		}
		return model.List(items...), nil
	}
	return model.Value{}, fmt.Errorf("unsupported metadata value %T", v.GetKind())
}

// DecodeMetadata s 为空时返回 nil
func DecodeMetadata(s *structpb.Struct) (model.Metadata, error) {
	if len(s.GetFields()) == 0 {
		return nil, nil
	}
	md := make(model.Metadata, len(s.GetFields()))
	for name, v := range s.GetFields() {
		val, err := DecodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", name, err)
		}
		md[name] = val
	}
	return md, nil
}

// -----------------------------------------------------------------------------
// 节点
// -----------------------------------------------------------------------------

// EncodeNode 节点转成 Struct
func EncodeNode(n model.Node) (*structpb.Struct, error) {
	info := n.Info()
	m := map[string]any{
		"type":       string(n.Type()),
		"pk":         float64(info.Pk),
		"parentPk":   float64(info.ParentPk),
		"parentType": string(info.ParentType),
		"name":       info.Name,
		"path":       info.Path,
		"acl":        info.ACL,
		"created":    formatTime(info.Created),
	}
	switch v := n.(type) {
	case *model.Folder:
		m["description"] = v.Description
		m["metadata"] = EncodeMetadata(v.Metadata)
	case *model.Group:
		m["description"] = v.Description
		m["metadata"] = EncodeMetadata(v.Metadata)
	case *model.Dataset:
		m["dataType"] = v.DataType
		m["fileFormat"] = v.FileFormat
		if v.Version != nil {
			m["version"] = encodeVersion(v.Version)
		}
	}
	return structpb.NewStruct(m)
}

// EncodeVersion 单独编码一个版本
func EncodeVersion(v *model.DatasetVersion) (*structpb.Struct, error) {
	return structpb.NewStruct(encodeVersion(v))
}

func encodeVersion(v *model.DatasetVersion) map[string]any {
	locs := make([]any, len(v.Locations))
	for i, l := range v.Locations {
		locs[i] = encodeLocation(l)
	}
	return map[string]any{
		"pk":            float64(v.Pk),
		"versionId":     float64(v.VersionID),
		"datasetSource": v.DatasetSource,
		"created":       formatTime(v.Created),
		"latest":        v.Latest,
		"metadata":      EncodeMetadata(v.Metadata),
		"locations":     locs,
	}
}

// EncodeLocation 单独编码一个位置
func EncodeLocation(l model.DatasetLocation) (*structpb.Struct, error) {
	return structpb.NewStruct(encodeLocation(l))
}

func encodeLocation(l model.DatasetLocation) map[string]any {
	m := map[string]any{
		"pk":         float64(l.Pk),
		"site":       l.Site,
		"resource":   l.Resource,
		"size":       float64(l.Size),
		"scanStatus": l.ScanStatus,
		"created":    formatTime(l.Created),
		"master":     l.Master,
	}
	if l.Checksum != nil {
		m["checksum"] = l.ChecksumHex()
	}
	putInt(m, "runMin", l.RunMin)
	putInt(m, "runMax", l.RunMax)
	putInt(m, "eventCount", l.EventCount)
	if l.Modified != nil {
		m["modified"] = formatTime(*l.Modified)
	}
	if l.Scanned != nil {
		m["scanned"] = formatTime(*l.Scanned)
	}
	return m
}

// DecodeNode Struct 还原为节点
func DecodeNode(s *structpb.Struct) (model.Node, error) {
	f := Fields{s}
	info := model.NodeInfo{
		Pk:         types.Pk(f.Int("pk")),
		ParentPk:   types.Pk(f.Int("parentPk")),
		ParentType: types.RecordType(f.String("parentType")),
		Name:       f.String("name"),
		Path:       f.String("path"),
		ACL:        f.String("acl"),
		Created:    f.Time("created"),
	}

	switch types.RecordType(f.String("type")) {
	case types.TypeFolder, types.TypeGroup:
		md, err := DecodeMetadata(f.Struct("metadata"))
		if err != nil {
			return nil, err
		}
		c := model.Container{Description: f.String("description"), Metadata: md}
		if types.RecordType(f.String("type")) == types.TypeGroup {
			return &model.Group{NodeInfo: info, Container: c}, nil
		}
		return &model.Folder{NodeInfo: info, Container: c}, nil

	case types.TypeDataset:
		ds := &model.Dataset{NodeInfo: info, DataType: f.String("dataType"), FileFormat: f.String("fileFormat")}
		if vs := f.Struct("version"); vs != nil {
			v, err := DecodeVersion(vs)
			if err != nil {
				return nil, err
			}
			v.DatasetPk = info.Pk
			ds.Version = v
		}
		return ds, nil
	}
	return nil, fmt.Errorf("unknown node type %q", f.String("type"))
}

// DecodeVersion Struct 还原为版本
func DecodeVersion(s *structpb.Struct) (*model.DatasetVersion, error) {
	f := Fields{s}
	md, err := DecodeMetadata(f.Struct("metadata"))
	if err != nil {
		return nil, err
	}
	v := &model.DatasetVersion{
		Pk:            types.Pk(f.Int("pk")),
		VersionID:     f.Int("versionId"),
		DatasetSource: f.String("datasetSource"),
		Created:       f.Time("created"),
		Latest:        f.Bool("latest"),
		Metadata:      md,
	}
	for _, item := range f.List("locations") {
		loc, err := DecodeLocation(item.GetStructValue())
		if err != nil {
			return nil, err
		}
		loc.VersionPk = v.Pk
		v.Locations = append(v.Locations, loc)
	}
	return v, nil
}

// DecodeLocation Struct 还原为位置
func DecodeLocation(s *structpb.Struct) (model.DatasetLocation, error) {
	f := Fields{s}
	l := model.DatasetLocation{
		Pk:         types.Pk(f.Int("pk")),
		Site:       f.String("site"),
		Resource:   f.String("resource"),
		Size:       f.Int("size"),
		ScanStatus: f.String("scanStatus"),
		Created:    f.Time("created"),
		Master:     f.Bool("master"),
		RunMin:     f.OptInt("runMin"),
		RunMax:     f.OptInt("runMax"),
		EventCount: f.OptInt("eventCount"),
		Modified:   f.OptTime("modified"),
		Scanned:    f.OptTime("scanned"),
	}
	if hex := f.String("checksum"); hex != "" {
		sum, err := model.ParseChecksum(hex)
		if err != nil {
			return l, fmt.Errorf("bad checksum %q: %w", hex, err)
		}
		l.Checksum = &sum
	}
	return l, nil
}

// -----------------------------------------------------------------------------
// 统计
// -----------------------------------------------------------------------------

// EncodeStat nil 编码为空 Struct
func EncodeStat(st *model.Stat) (*structpb.Struct, error) {
	if st == nil {
		return &structpb.Struct{}, nil
	}
	m := map[string]any{
		"kind":     string(st.Kind),
		"datasets": float64(st.Basic.Datasets),
		"groups":   float64(st.Basic.Groups),
		"folders":  float64(st.Basic.Folders),
	}
	if ds := st.Dataset; ds != nil {
		m["files"] = float64(ds.Files)
		m["eventCount"] = float64(ds.EventCount)
		m["size"] = float64(ds.Size)
		putInt(m, "runMin", ds.RunMin)
		putInt(m, "runMax", ds.RunMax)
	}
	return structpb.NewStruct(m)
}

// DecodeStat 空 Struct 还原为 nil
func DecodeStat(s *structpb.Struct) *model.Stat {
	f := Fields{s}
	if f.String("kind") == "" {
		return nil
	}
	st := &model.Stat{
		Kind: model.StatKind(f.String("kind")),
		Basic: model.BasicStat{
			Datasets: f.Int("datasets"),
			Groups:   f.Int("groups"),
			Folders:  f.Int("folders"),
		},
	}
	if st.Kind == model.StatDataset {
		st.Dataset = &model.DatasetStat{
			Files:      f.Int("files"),
			EventCount: f.Int("eventCount"),
			Size:       f.Int("size"),
			RunMin:     f.OptInt("runMin"),
			RunMax:     f.OptInt("runMax"),
		}
	}
	return st
}

// -----------------------------------------------------------------------------
// 视图
// -----------------------------------------------------------------------------

// EncodeView 请求里的视图字段：version / site / metadata / empty
func EncodeView(v model.DatasetView) map[string]any {
	if v.Empty {
		return map[string]any{"empty": true}
	}
	m := map[string]any{
		"site":     v.Site.String(),
		"tolerant": v.Site.Tolerant,
		"metadata": v.IncludeMetadata,
	}
	switch v.VersionID {
	case types.VersionCurrent:
		m["version"] = "current"
	case types.VersionNew:
		m["version"] = "new"
	default:
		m["version"] = fmt.Sprint(v.VersionID)
	}
	return m
}

// DecodeView 缺省为当前版本、任意站点、带元数据
func DecodeView(s *structpb.Struct) (model.DatasetView, error) {
	f := Fields{s}
	if f.Bool("empty") {
		return model.EmptyView(), nil
	}
	vid, err := model.ParseVersion(f.String("version"))
	if err != nil {
		return model.DatasetView{}, err
	}
	v := model.DatasetView{
		VersionID:       vid,
		Site:            model.ParseSite(f.String("site")),
		IncludeMetadata: true,
	}
	v.Site.Tolerant = f.Bool("tolerant")
	if f.Has("metadata") {
		v.IncludeMetadata = f.Bool("metadata")
	}
	return v, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func putInt(m map[string]any, key string, v *int64) {
	if v != nil {
		m[key] = float64(*v)
	}
}
