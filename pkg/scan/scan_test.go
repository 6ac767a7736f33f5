package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheme(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"/nfs/exo/run1.root", "file"},
		{"relative/run1.root", "file"},
		{"file:///nfs/run1.root", "file"},
		{"s3://bucket/key", "s3"},
		{"S3://bucket/key", "s3"},
		{"root://xrootd.slac.stanford.edu//store/run1", "root"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scheme(tt.resource), tt.resource)
	}
}

func TestResult_Fields(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sum := int64(0xabc)
	modified := now.Add(-time.Hour)

	f := Result{Size: 42, Checksum: &sum, Modified: &modified, Status: StatusOK}.Fields(now)
	assert.Equal(t, map[string]any{
		"scanStatus": StatusOK,
		"scanned":    now,
		"size":       int64(42),
		"checksum":   sum,
		"modified":   modified,
	}, f)

	// 文件不存在时只更新状态，保留原有大小和校验和
	f = Result{Status: StatusMissing}.Fields(now)
	assert.Equal(t, map[string]any{"scanStatus": StatusMissing, "scanned": now}, f)
}
