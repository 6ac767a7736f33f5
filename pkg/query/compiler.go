package query

import (
	"slices"
	"strings"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/metrics"
	"datacat/pkg/model"

	"go.uber.org/zap"
)

// Predicate 是编译结果：WHERE 子句片段和按出现顺序排列的参数
type Predicate struct {
	SQL  string
	Args []any
}

// MetanameScope 元数据名注册表。编译只用到成员测试，Kind 供排序字段选表。
type MetanameScope interface {
	Contains(name string) bool
	Kind(name string) (meta.ValueTable, bool)
}

// Compiler 按 选择作用域 -> 插件作用域 -> 元数据名作用域 的顺序解析标识符
type Compiler struct {
	plugins   PluginLookup
	metanames MetanameScope
	log       *zap.Logger
}

func NewCompiler(plugins PluginLookup, metanames MetanameScope, log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{plugins: plugins, metanames: metanames, log: log}
}

type scopeKind int

const (
	scopeNone scopeKind = iota
	scopeSelection
	scopePlugin
	scopeMetaname
)

func (c *Compiler) scopeOf(ident string, sel *Select) scopeKind {
	if _, ok := sel.Available(ident); ok {
		return scopeSelection
	}
	if c.inPluginScope(ident) {
		return scopePlugin
	}
	if c.metanames != nil && c.metanames.Contains(ident) {
		return scopeMetaname
	}
	return scopeNone
}

func (c *Compiler) inPluginScope(ident string) bool {
	ns, col, ok := splitPluginIdent(ident)
	if !ok || c.plugins == nil {
		return false
	}
	p, ok := c.plugins.Plugin(ns)
	return ok && p.ContainsColumn(col)
}

// Compile 校验并编译表达式。sel 会被修改：被引用的字段加入投影，插件表被 join。
func (c *Compiler) Compile(root *Node, sel *Select) (Predicate, error) {
	if root == nil {
		return Predicate{}, dcerr.InvalidRequest.New("empty query")
	}

	// 先校验全部标识符，失败时不修改 sel
	seen := make(map[string]bool)
	for _, ident := range root.Idents() {
		if seen[ident] {
			continue
		}
		seen[ident] = true
		if c.scopeOf(ident, sel) == scopeNone {
			metrics.QueryCompiles.WithLabelValues("unresolved").Inc()
			return Predicate{}, dcerr.InvalidRequest.New("unable to resolve '%s' in '%s'", ident, excerpt(root, ident))
		}
	}

	out, err := c.eval(root, sel)
	if err != nil {
		metrics.QueryCompiles.WithLabelValues("invalid").Inc()
		return Predicate{}, err
	}
	if out.kind != operandExpr {
		metrics.QueryCompiles.WithLabelValues("invalid").Inc()
		return Predicate{}, dcerr.InvalidRequest.New("'%s' is not a condition", root)
	}
	metrics.QueryCompiles.WithLabelValues("ok").Inc()
	c.log.Debug("compiled query", zap.Stringer("query", root), zap.String("sql", out.sql))
	return Predicate{SQL: out.sql, Args: out.args}, nil
}

type operandKind int

const (
	operandColumn  operandKind = iota // 选择或插件作用域字段
	operandLiteral                    // 字面量
	operandIdent                      // 其他标识符，按原始文本处理
	operandExpr                       // 已编译的布尔表达式
)

type operand struct {
	kind  operandKind
	sql   string
	args  []any
	value model.Value
	ident string
	col   Column
}

func (c *Compiler) eval(n *Node, sel *Select) (operand, error) {
	if n.IsLeaf() {
		return c.leaf(n, sel), nil
	}

	left, err := c.eval(n.Left, sel)
	if err != nil {
		return operand{}, err
	}
	right, err := c.eval(n.Right, sel)
	if err != nil {
		return operand{}, err
	}

	if n.Op.IsLogical() {
		if left.kind != operandExpr || right.kind != operandExpr {
			return operand{}, dcerr.InvalidRequest.New("operands of '%s' must be conditions in '%s'", n.Op, excerptOf(n))
		}
		return operand{
			kind: operandExpr,
			sql:  "(" + left.sql + " " + strings.ToUpper(string(n.Op)) + " " + right.sql + ")",
			args: append(slices.Clip(left.args), right.args...),
		}, nil
	}

	switch left.kind {
	case operandColumn:
		return compare(n, left.sql, left.col.Kind, right)
	case operandIdent:
		// 校验阶段已经保证它在元数据名作用域
		return metadataPredicate(n, left.ident, right)
	default:
		return operand{}, dcerr.InvalidRequest.New("left side of '%s' must be a field in '%s'", n.Op, excerptOf(n))
	}
}

// leaf 选择作用域字段求值为列引用 (并加入投影)；插件字段触发 join；其余原样返回
func (c *Compiler) leaf(n *Node, sel *Select) operand {
	if n.Value != nil {
		return operand{kind: operandLiteral, value: *n.Value}
	}
	if col, ok := sel.Available(n.Ident); ok {
		sel.Use(col)
		return operand{kind: operandColumn, sql: col.Expr, col: col}
	}
	if c.inPluginScope(n.Ident) {
		col := c.pluginColumn(n.Ident, sel)
		return operand{kind: operandColumn, sql: col.Expr, col: col}
	}
	return operand{kind: operandIdent, ident: n.Ident}
}

func (c *Compiler) pluginColumn(ident string, sel *Select) Column {
	ns, name, _ := splitPluginIdent(ident)
	p, _ := c.plugins.Plugin(ns)
	alias := p.JoinToStatement(sel)
	return Column{Name: ident, Expr: alias + "." + name}
}

// compare 左边是列；右边不是表达式时转成绑定参数
func compare(n *Node, lhs string, lhsKind model.Kind, right operand) (operand, error) {
	op := sqlOp[n.Op]

	switch right.kind {
	case operandColumn, operandExpr:
		if n.Op == OpIn || n.Op == OpNotIn {
			return operand{}, dcerr.InvalidRequest.New("'%s' needs a list in '%s'", n.Op, excerptOf(n))
		}
		return operand{kind: operandExpr, sql: lhs + " " + op + " " + right.sql, args: right.args}, nil

	case operandIdent:
		right = operand{kind: operandLiteral, value: model.Text(right.ident)}
	}

	v := right.value
	if err := checkOperator(n, v); err != nil {
		return operand{}, err
	}
	if lhsKind == model.KindTimestamp && v.Kind == model.KindText {
		// 时间列允许与 RFC3339 字符串比较
		if ts, err := time.Parse(time.RFC3339Nano, v.Text); err == nil {
			v = model.Timestamp(ts)
		}
	}
	rhs, args := bind(v)
	return operand{kind: operandExpr, sql: lhs + " " + op + " " + rhs, args: args}, nil
}

// metadataPredicate 元数据名翻译成对类型表的关联 EXISTS 子查询，名字和值都参数化
func metadataPredicate(n *Node, name string, right operand) (operand, error) {
	if right.kind == operandIdent {
		right = operand{kind: operandLiteral, value: model.Text(right.ident)}
	}
	if right.kind != operandLiteral {
		return operand{}, dcerr.InvalidRequest.New("metadata field '%s' must be compared with a value in '%s'", name, excerptOf(n))
	}
	v := right.value
	if err := checkOperator(n, v); err != nil {
		return operand{}, err
	}
	vt, err := meta.ValueTableFor(v.ElemKind())
	if err != nil {
		return operand{}, dcerr.InvalidRequest.New("metadata field '%s': %v", name, err)
	}

	rhs, args := bind(v)
	sql := "EXISTS (SELECT 1 FROM " + meta.MetaTable(meta.OwnerVersion, vt) + " mv" +
		" WHERE mv.owner_pk = v.pk AND mv.meta_name = ? AND mv.meta_value " + sqlOp[n.Op] + " " + rhs + ")"
	return operand{kind: operandExpr, sql: sql, args: append([]any{name}, args...)}, nil
}

// checkOperator 字面量类型与运算符是否匹配
func checkOperator(n *Node, v model.Value) error {
	switch n.Op {
	case OpIn, OpNotIn:
		if v.Kind != model.KindList {
			return dcerr.InvalidRequest.New("'%s' needs a list in '%s'", n.Op, excerptOf(n))
		}
	case OpLike, OpNotLike, OpMatches:
		if v.Kind != model.KindText {
			return dcerr.InvalidRequest.New("'%s' needs a string pattern in '%s'", n.Op, excerptOf(n))
		}
	default:
		if v.Kind == model.KindList {
			return dcerr.InvalidRequest.New("'%s' cannot compare with a list in '%s'", n.Op, excerptOf(n))
		}
	}
	return nil
}

// bind 生成占位符和参数。列表按元素类型展开。
func bind(v model.Value) (string, []any) {
	if v.Kind != model.KindList {
		return "?", []any{v.Arg()}
	}
	args := make([]any, len(v.List))
	for i, item := range v.List {
		args[i] = item.Arg()
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ") + ")", args
}

// excerptOf 子表达式的文本，过长时截断
func excerptOf(n *Node) string {
	rs := []rune(n.String())
	if len(rs) <= 40 {
		return string(rs)
	}
	return string(rs[:40]) + "..."
}

// -----------------------------------------------------------------------------
// 排序 / 展示字段
// -----------------------------------------------------------------------------

// Expr 是一个带参数的 SQL 表达式
type Expr struct {
	SQL  string
	Args []any
}

// ResolveColumn 解析排序或展示字段。元数据名翻译成关联标量子查询。
func (c *Compiler) ResolveColumn(ident string, sel *Select) (Expr, error) {
	switch c.scopeOf(ident, sel) {
	case scopeSelection:
		col, _ := sel.Available(ident)
		sel.Use(col)
		return Expr{SQL: col.Expr}, nil
	case scopePlugin:
		return Expr{SQL: c.pluginColumn(ident, sel).Expr}, nil
	case scopeMetaname:
		vt, ok := c.metanames.Kind(ident)
		if !ok {
			vt = meta.ValueString
		}
		return Expr{
			SQL: "(SELECT MAX(mv.meta_value) FROM " + meta.MetaTable(meta.OwnerVersion, vt) +
				" mv WHERE mv.owner_pk = v.pk AND mv.meta_name = ?)",
			Args: []any{ident},
		}, nil
	default:
		return Expr{}, dcerr.InvalidRequest.New("unable to resolve '%s'", ident)
	}
}
