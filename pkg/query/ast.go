// Package query 把搜索表达式编译成可以嵌入基础查询 WHERE 子句的参数化谓词
package query

import (
	"strings"

	"datacat/pkg/model"
)

// Op 是二元运算符
type Op string

const (
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpLike    Op = "=~"
	OpNotLike Op = "!~"
	OpMatches Op = "matches"
	OpIn      Op = "in"
	OpNotIn   Op = "not in"
)

// sqlOp 比较运算符对应的 SQL。MATCHES 是 LIKE 的别名。
var sqlOp = map[Op]string{
	OpEq:      "=",
	OpNe:      "<>",
	OpLt:      "<",
	OpLe:      "<=",
	OpGt:      ">",
	OpGe:      ">=",
	OpLike:    "LIKE",
	OpMatches: "LIKE",
	OpNotLike: "NOT LIKE",
	OpIn:      "IN",
	OpNotIn:   "NOT IN",
}

// IsLogical and / or
func (o Op) IsLogical() bool { return o == OpAnd || o == OpOr }

// Node 是表达式二叉树的节点。
// 叶子节点 Op 为空，Ident 和 Value 二选一；内部节点 Left / Right 都不为空。
type Node struct {
	Op    Op
	Left  *Node
	Right *Node
	Ident string
	Value *model.Value
}

func Ident(name string) *Node       { return &Node{Ident: name} }
func Literal(v model.Value) *Node   { return &Node{Value: &v} }
func Binary(op Op, l, r *Node) *Node { return &Node{Op: op, Left: l, Right: r} }

func (n *Node) IsLeaf() bool { return n.Left == nil && n.Right == nil }

// Idents 按出现顺序返回引用的全部标识符 (可能重复)
func (n *Node) Idents() []string {
	var out []string
	n.walk(func(leaf *Node) {
		if leaf.Ident != "" {
			out = append(out, leaf.Ident)
		}
	})
	return out
}

func (n *Node) walk(fn func(*Node)) {
	if n == nil {
		return
	}
	if n.IsLeaf() {
		fn(n)
		return
	}
	n.Left.walk(fn)
	n.Right.walk(fn)
}

// token 叶子节点的文本形式
func (n *Node) token() string {
	if n.Ident != "" {
		return n.Ident
	}
	if n.Value != nil {
		return n.Value.String()
	}
	return string(n.Op)
}

func (n *Node) String() string {
	if n == nil {
		return ""
	}
	if n.IsLeaf() {
		return n.token()
	}
	var b strings.Builder
	b.WriteString("( ")
	b.WriteString(n.Left.String())
	b.WriteString(" " + string(n.Op) + " ")
	b.WriteString(n.Right.String())
	b.WriteString(" )")
	return b.String()
}

// excerpt 截取 ident 所在位置之前的一段表达式文本，用于错误信息。
// 短表达式原样返回；长表达式只保留 ident 之前约 25 个字符，并以 "..." 开头。
func excerpt(root *Node, ident string) string {
	full := root.String()
	if len(full) < 32 {
		return full
	}

	var b strings.Builder
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		if n.IsLeaf() {
			b.WriteString(" " + n.token() + " ")
			return n.Ident != ident
		}
		b.WriteString("( ")
		if !visit(n.Left) {
			return false
		}
		b.WriteString(" " + string(n.Op) + " ")
		if !visit(n.Right) {
			return false
		}
		b.WriteString(" )")
		return true
	}
	visit(root)

	text := []rune(strings.TrimRight(b.String(), " "))
	limit := len([]rune(ident)) + 25
	if len(text) <= limit {
		return string(text)
	}
	return "..." + string(text[len(text)-limit:])
}
