package query

import (
	"slices"
	"strings"

	"datacat/pkg/meta"
	"datacat/pkg/model"
)

// Column 是选择作用域里的一个字段
type Column struct {
	Name string     // 查询里使用的标识符
	Expr string     // SQL 表达式
	Kind model.Kind // 字面量类型检查用
	Join string     // 引用该字段时需要的 join 键，空表示基础表
}

// Select 是搜索的基础查询：可用字段、已投影字段、按需累积的 join。
// 编译过程中会被修改 (引用即投影，插件字段引入 join)。
type Select struct {
	from     string
	fromArgs []any

	available []Column
	joinDefs  map[string]string

	selected []Column
	joins    []string
	joined   map[string]bool
}

// NewSelect from 是基础表 (带别名)，joinDefs 是可选 join 的定义
func NewSelect(from string, fromArgs []any, columns []Column, joinDefs map[string]string) *Select {
	defs := make(map[string]string, len(joinDefs))
	for k, v := range joinDefs {
		defs[k] = v
	}
	return &Select{
		from:      from,
		fromArgs:  fromArgs,
		available: columns,
		joinDefs:  defs,
		joined:    make(map[string]bool),
	}
}

// Available 选择作用域查找，不修改查询
func (s *Select) Available(name string) (Column, bool) {
	for _, c := range s.available {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Columns 可用字段名，按定义顺序
func (s *Select) Columns() []string {
	out := make([]string, len(s.available))
	for i, c := range s.available {
		out[i] = c.Name
	}
	return out
}

// Use 把字段加入投影，并引入它依赖的 join
func (s *Select) Use(c Column) {
	if c.Join != "" {
		s.Join(c.Join, s.joinDefs[c.Join])
	}
	if slices.ContainsFunc(s.selected, func(o Column) bool { return o.Name == c.Name }) {
		return
	}
	s.selected = append(s.selected, c)
}

// Join 按键引入 join，同一个键只引入一次。返回 false 表示已经存在。
func (s *Select) Join(key, clause string) bool {
	if s.joined[key] {
		return false
	}
	s.joined[key] = true
	s.joins = append(s.joins, clause)
	return true
}

// Joined 键是否已经引入
func (s *Select) Joined(key string) bool { return s.joined[key] }

// Selected 编译过程中被引用的字段
func (s *Select) Selected() []Column { return slices.Clone(s.selected) }

// From 渲染 FROM 子句 (不含关键字)
func (s *Select) From() (string, []any) {
	if len(s.joins) == 0 {
		return s.from, s.fromArgs
	}
	return s.from + " " + strings.Join(s.joins, " "), s.fromArgs
}

// -----------------------------------------------------------------------------
// 数据集搜索的基础查询
// -----------------------------------------------------------------------------

// JoinMaster 主位置的 join 键
const JoinMaster = "master"

// DatasetColumns 数据集搜索的选择作用域
var DatasetColumns = []Column{
	{Name: "pk", Expr: "d.pk", Kind: model.KindInteger},
	{Name: "name", Expr: "d.name", Kind: model.KindText},
	{Name: "dataType", Expr: "d.data_type", Kind: model.KindText},
	{Name: "fileFormat", Expr: "d.file_format", Kind: model.KindText},
	{Name: "created", Expr: "d.created", Kind: model.KindTimestamp},
	{Name: "versionId", Expr: "v.version_id", Kind: model.KindInteger},
	{Name: "datasetSource", Expr: "v.dataset_source", Kind: model.KindText},
	{Name: "versionCreated", Expr: "v.created", Kind: model.KindTimestamp},
	{Name: "site", Expr: "ml.site", Kind: model.KindText, Join: JoinMaster},
	{Name: "resource", Expr: "ml.resource", Kind: model.KindText, Join: JoinMaster},
	{Name: "size", Expr: "ml.size", Kind: model.KindInteger, Join: JoinMaster},
	{Name: "runMin", Expr: "ml.run_min", Kind: model.KindInteger, Join: JoinMaster},
	{Name: "runMax", Expr: "ml.run_max", Kind: model.KindInteger, Join: JoinMaster},
	{Name: "eventCount", Expr: "ml.event_count", Kind: model.KindInteger, Join: JoinMaster},
	{Name: "scanStatus", Expr: "ml.scan_status", Kind: model.KindText, Join: JoinMaster},
}

// DatasetSelect 构造数据集 + 版本的基础查询。versionJoin 由调用方按视图给出。
func DatasetSelect(versionJoin string, args []any) *Select {
	return NewSelect(
		meta.TableDatasets+" d "+versionJoin,
		args,
		DatasetColumns,
		map[string]string{
			JoinMaster: "LEFT OUTER JOIN " + meta.TableLocations + " ml ON ml.pk = v.master_location_pk",
		},
	)
}
