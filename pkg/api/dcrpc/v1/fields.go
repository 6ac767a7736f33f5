package dcrpc

import (
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Fields 是 Struct 的只读访问器，缺失或类型不符的字段返回零值
type Fields struct {
	S *structpb.Struct
}

func (f Fields) get(key string) *structpb.Value {
	return f.S.GetFields()[key]
}

func (f Fields) Has(key string) bool {
	_, ok := f.S.GetFields()[key]
	return ok
}

func (f Fields) String(key string) string {
	return f.get(key).GetStringValue()
}

func (f Fields) Bool(key string) bool {
	return f.get(key).GetBoolValue()
}

func (f Fields) Int(key string) int64 {
	return int64(math.Round(f.get(key).GetNumberValue()))
}

// OptInt 字段缺失或为 null 时返回 nil
func (f Fields) OptInt(key string) *int64 {
	v := f.get(key)
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return nil
	}
	n := int64(math.Round(v.GetNumberValue()))
	return &n
}

func (f Fields) Struct(key string) *structpb.Struct {
	return f.get(key).GetStructValue()
}

func (f Fields) List(key string) []*structpb.Value {
	return f.get(key).GetListValue().GetValues()
}

// Strings 字符串列表，非字符串元素被跳过
func (f Fields) Strings(key string) []string {
	var out []string
	for _, v := range f.List(key) {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

func (f Fields) Time(key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, f.String(key))
	return t
}

func (f Fields) OptTime(key string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, f.String(key))
	if err != nil {
		return nil
	}
	return &t
}
