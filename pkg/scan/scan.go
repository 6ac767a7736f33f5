// Package scan 检查数据集位置指向的物理文件，回填大小、校验和与扫描状态
package scan

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// 扫描状态，写入 location.scan_status
const (
	StatusUnscanned = "UNSCANNED"
	StatusOK        = "OK"
	StatusMissing   = "MISSING"
)

var ErrUnsupported = errors.New("no scanner for resource")

// Result 一次扫描的结果。文件不存在不是错误，Status 为 MISSING。
type Result struct {
	Size     int64
	Checksum *int64
	Modified *time.Time
	Status   string
}

// Scanner 按资源地址读取文件属性
type Scanner interface {
	Scan(ctx context.Context, resource string) (Result, error)
}

// Fields 转换成 location 的 patch 字段
func (r Result) Fields(scanned time.Time) map[string]any {
	fields := map[string]any{
		"scanStatus": r.Status,
		"scanned":    scanned.UTC(),
	}
	if r.Status == StatusMissing {
		return fields
	}
	fields["size"] = r.Size
	if r.Checksum != nil {
		fields["checksum"] = *r.Checksum
	}
	if r.Modified != nil {
		fields["modified"] = r.Modified.UTC()
	}
	return fields
}

// Registry 按 URL scheme 分派；没有 scheme 的资源交给 "file"
type Registry struct {
	mu       sync.RWMutex
	scanners map[string]Scanner
}

func NewRegistry() *Registry {
	return &Registry{scanners: make(map[string]Scanner)}
}

func (r *Registry) Register(scheme string, s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanners[strings.ToLower(scheme)] = s
}

// Scheme 资源地址的 scheme，本地路径返回 "file"
func Scheme(resource string) string {
	u, err := url.Parse(resource)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// 单字母 scheme 是 windows 盘符
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

func (r *Registry) Scan(ctx context.Context, resource string) (Result, error) {
	scheme := Scheme(resource)
	r.mu.RLock()
	s, ok := r.scanners[scheme]
	r.mu.RUnlock()
	if !ok {
		return Result{}, errors.Join(ErrUnsupported, errors.New(scheme+": "+resource))
	}
	return s.Scan(ctx, resource)
}
