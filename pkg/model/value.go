package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind 是元数据值和查询字面量共用的封闭类型集合
type Kind int

const (
	KindText Kind = iota + 1
	KindInteger
	KindDecimal
	KindTimestamp
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// IsNumber 整数和小数都落在 number 表里
func (k Kind) IsNumber() bool { return k == KindInteger || k == KindDecimal }

// Value 是带类型的值。只有与 Kind 对应的字段有意义。
type Value struct {
	Kind Kind
	Text string
	Int  int64
	Dec  float64
	Time time.Time
	List []Value
}

func Text(s string) Value         { return Value{Kind: KindText, Text: s} }
func Integer(i int64) Value       { return Value{Kind: KindInteger, Int: i} }
func Decimal(f float64) Value     { return Value{Kind: KindDecimal, Dec: f} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t.UTC()} }
func List(items ...Value) Value   { return Value{Kind: KindList, List: items} }

// ElemKind 列表取元素类型 (假定列表同构)，其他值返回自身类型
func (v Value) ElemKind() Kind {
	if v.Kind != KindList {
		return v.Kind
	}
	if len(v.List) == 0 {
		return KindText
	}
	return v.List[0].Kind
}

// Arg 返回可以直接绑定到 SQL 参数的 Go 值
func (v Value) Arg() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindDecimal:
		return v.Dec
	case KindTimestamp:
		return v.Time
	default:
		return v.Text
	}
}

// Interface 返回便于序列化的 Go 值
func (v Value) Interface() any {
	switch v.Kind {
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return v.Arg()
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return strconv.Quote(v.Text)
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindDecimal:
		return strconv.FormatFloat(v.Dec, 'f', -1, 64)
	case KindTimestamp:
		return fmt.Sprintf("ts%q", v.Time.Format(time.RFC3339Nano))
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid>"
	}
}

// Equal 比较两个值 (时间按瞬时比较)
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindTimestamp:
		return v.Time.Equal(o.Time)
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	default:
		return v.Text == o.Text && v.Int == o.Int && v.Dec == o.Dec
	}
}

// ParseNumber 按“小数位为 0 则是整数，否则是小数”的规则还原 number 表里的值。
// "24" -> Integer(24); "24.0" / "2.4e1" -> Decimal
func ParseNumber(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("empty number")
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("malformed number %q: %w", s, err)
	}
	return Decimal(f), nil
}

// NumberFromDriver 处理驱动直接返回的数值类型 (sqlite 返回 int64/float64, postgres 返回文本)
func NumberFromDriver(v any) (Value, error) {
	switch n := v.(type) {
	case int64:
		return Integer(n), nil
	case int32:
		return Integer(int64(n)), nil
	case int:
		return Integer(int64(n)), nil
	case float64:
		// numeric 亲和列会把整值的 REAL 存成 INTEGER，走到这里的都带小数部分
		return Decimal(n), nil
	case []byte:
		return ParseNumber(string(n))
	case string:
		return ParseNumber(n)
	default:
		return Value{}, fmt.Errorf("unsupported numeric driver value %T", v)
	}
}

// Metadata 是一个节点的元数据集合
type Metadata map[string]Value

// Clone 深拷贝
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate 元数据只接受 text/integer/decimal/timestamp
func (m Metadata) Validate() error {
	for name, v := range m {
		if name == "" {
			return fmt.Errorf("metadata name must not be empty")
		}
		switch v.Kind {
		case KindText, KindInteger, KindDecimal, KindTimestamp:
		default:
			return fmt.Errorf("metadata %q has unsupported value type %s", name, v.Kind)
		}
	}
	return nil
}
