package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_NoRules(t *testing.T) {
	m, err := NewMatcher(nil, "")
	require.NoError(t, err)
	assert.False(t, m.Matches("/EXO/tmp"))
	assert.False(t, m.Matches("/"))

	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Matches("/anything"))
}

func TestMatcher_ConfigRules(t *testing.T) {
	m, err := NewMatcher([]string{"tmp", "  ", "/EXO/scratch*", "!/EXO/tmp"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp", "/EXO/scratch*", "!/EXO/tmp"}, m.Rules())

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{"/", false},
		{"/tmp", true},
		{"/LSST/tmp", true},           // 不带斜杠的规则匹配任意层级
		{"/LSST/tmp/run1", true},      // 子树一起剪枝
		{"/EXO/scratch-2024", true},   // 带斜杠的规则锚定到根
		{"/LSST/EXO/scratch", false},
		{"/EXO/tmp", false},           // 反向规则
		{"/EXO/data", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, m.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, ".dcignore")
	content := `
# 这是注释
*.bak
old
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	m, err := NewMatcher([]string{"tmp"}, file)
	require.NoError(t, err)

	assert.True(t, m.Matches("/EXO/run.bak"))
	assert.True(t, m.Matches("/old"))
	assert.True(t, m.Matches("/EXO/tmp"))
	assert.False(t, m.Matches("/EXO/data"))

	// 文件不存在时只用配置规则
	m, err = NewMatcher([]string{"tmp"}, filepath.Join(tmpDir, "missing"))
	require.NoError(t, err)
	assert.False(t, m.Matches("/old"))
	assert.True(t, m.Matches("/tmp"))
}
