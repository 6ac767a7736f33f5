package ignore

import (
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher 判断一个容器是否被搜索剪枝 (连同整棵子树)
// 规则使用 gitignore 语法，作用在去掉开头 "/" 的目录路径上
type Matcher struct {
	ignorer *gitignore.GitIgnore
	rules   []string
}

// NewMatcher 编译配置里的规则；file 非空且存在时一并读取 (例如 .dcignore)
func NewMatcher(rules []string, file string) (*Matcher, error) {
	var lines []string
	for _, r := range rules {
		if r = strings.TrimSpace(r); r != "" {
			lines = append(lines, r)
		}
	}

	var (
		ignorer *gitignore.GitIgnore
		err     error
	)
	if file != "" {
		if _, errStat := os.Stat(file); errStat == nil {
			ignorer, err = gitignore.CompileIgnoreFileAndLines(file, lines...)
			if err != nil {
				return nil, err
			}
			return &Matcher{ignorer: ignorer, rules: lines}, nil
		}
	}
	if len(lines) == 0 {
		return &Matcher{}, nil
	}
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(lines...), rules: lines}, nil
}

// Matches 目录路径是否被忽略。根目录永远不会被忽略。
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	rel := strings.Trim(path, "/")
	if rel == "" {
		return false
	}
	return m.ignorer.MatchesPath(rel)
}

// Rules 编译进来的配置规则
func (m *Matcher) Rules() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.rules...)
}
