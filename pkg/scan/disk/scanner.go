package disk

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"datacat/pkg/scan"
)

// Scanner 扫描本地文件系统上的资源
type Scanner struct {
	rootPath string // 相对路径的基准目录，空表示当前目录
}

// NewScanner 创建磁盘扫描器
func NewScanner(root string) *Scanner {
	return &Scanner{rootPath: root}
}

// layout 资源地址 -> 物理路径。支持 file:// 前缀和相对路径。
func (s *Scanner) layout(resource string) string {
	p := strings.TrimPrefix(resource, "file://")
	if filepath.IsAbs(p) || s.rootPath == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(s.rootPath, p)
}

func (s *Scanner) Scan(ctx context.Context, resource string) (scan.Result, error) {
	target := s.layout(resource)

	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return scan.Result{Status: scan.StatusMissing}, nil
	}
	if err != nil {
		return scan.Result{}, err
	}
	if info.IsDir() {
		return scan.Result{}, fmt.Errorf("%s is a directory", target)
	}

	f, err := os.Open(target)
	if err != nil {
		return scan.Result{}, err
	}
	defer f.Close()

	// 大文件流式计算，不一次读进内存
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return scan.Result{}, fmt.Errorf("checksum %s: %w", target, err)
	}
	sum := int64(h.Sum32())
	modified := info.ModTime().UTC()

	return scan.Result{
		Size:     info.Size(),
		Checksum: &sum,
		Modified: &modified,
		Status:   scan.StatusOK,
	}, nil
}

// ctxReader 让长时间的校验和计算可以被取消
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
