// pkg/types/common.go
package types

import (
	"path"
	"strconv"
	"strings"
)

// Pk 是目录节点的数据库主键
// 0 表示“不存在/未分配”
type Pk int64

func (p Pk) String() string { return strconv.FormatInt(int64(p), 10) }
func (p Pk) IsZero() bool   { return p == 0 }

// RecordType 是 objects 视图里的单字符类型标识
type RecordType string

const (
	TypeFolder  RecordType = "F"
	TypeGroup   RecordType = "G"
	TypeDataset RecordType = "D"
)

func (t RecordType) String() string { return string(t) }

// IsContainer Folder 和 Group 可以拥有子节点
func (t RecordType) IsContainer() bool {
	return t == TypeFolder || t == TypeGroup
}

func (t RecordType) IsValid() bool {
	return t == TypeFolder || t == TypeGroup || t == TypeDataset
}

// 版本号哨兵值
const (
	// VersionNew 请求分配一个新的版本号
	VersionNew int64 = -1
	// VersionCurrent 表示“当前最新版本”
	VersionCurrent int64 = -2
)

// CleanPath 规范化目录路径：总是以 "/" 开头，没有尾部 "/"
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimSpace(p))
}

// Join 拼接父路径和子节点名
func Join(parent, name string) string {
	return CleanPath(parent + "/" + name)
}

// Split 返回 (父路径, 名字)。根路径返回 ("", "")
func Split(p string) (string, string) {
	p = CleanPath(p)
	if p == "/" {
		return "", ""
	}
	dir, name := path.Split(p)
	return CleanPath(dir), name
}

// Segments 将路径拆成各级名字，根路径返回空切片
func Segments(p string) []string {
	p = CleanPath(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}
