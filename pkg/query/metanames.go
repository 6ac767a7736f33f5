package query

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"datacat/pkg/meta"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// groupPrefixLen / groupMinSize 展示用的前缀分组规则：
// 前 4 个字符相同的名字超过 5 个时归为一组
const (
	groupPrefixLen = 4
	groupMinSize   = 5
)

// Metanames 是已知的数据集元数据名。编译器只需要成员测试。
type Metanames struct {
	mu    sync.RWMutex
	names map[string]meta.ValueTable
}

func NewMetanames() *Metanames {
	return &Metanames{names: make(map[string]meta.ValueTable)}
}

// Load 并行扫描三张版本元数据表，替换当前内容
func (m *Metanames) Load(ctx context.Context, db *gorm.DB) error {
	found := make([][]string, len(meta.ValueTables))

	g, ctx := errgroup.WithContext(ctx)
	for i, vt := range meta.ValueTables {
		g.Go(func() error {
			var names []string
			err := db.WithContext(ctx).
				Table(meta.MetaTable(meta.OwnerVersion, vt)).
				Distinct("meta_name").
				Pluck("meta_name", &names).Error
			if err != nil {
				return fmt.Errorf("scan %s metanames: %w", vt, err)
			}
			found[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	next := make(map[string]meta.ValueTable)
	for i, vt := range meta.ValueTables {
		for _, name := range found[i] {
			if _, seen := next[name]; !seen {
				next[name] = vt
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = next
	return nil
}

// Add 登记新写入的元数据名，已存在时保持原类型
func (m *Metanames) Add(name string, vt meta.ValueTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[name]; !ok {
		m.names[name] = vt
	}
}

func (m *Metanames) Contains(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[name]
	return ok
}

// Kind 返回名字第一次出现的值类型表
func (m *Metanames) Kind(name string) (meta.ValueTable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vt, ok := m.names[name]
	return vt, ok
}

func (m *Metanames) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names)
}

// Snapshot 返回副本，用于并发安全的读取
func (m *Metanames) Snapshot() map[string]meta.ValueTable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]meta.ValueTable, len(m.names))
	maps.Copy(snap, m.names)
	return snap
}

// Group 是展示用的名字分组。Prefix 为空表示单独的名字。
type Group struct {
	Prefix string   `json:"prefix,omitempty"`
	Names  []string `json:"names"`
}

// Groups 按前缀分组，组和组内名字都按字典序
func (m *Metanames) Groups() []Group {
	names := slices.Sorted(maps.Keys(m.Snapshot()))

	byPrefix := make(map[string][]string)
	for _, n := range names {
		if p, ok := prefixOf(n); ok {
			byPrefix[p] = append(byPrefix[p], n)
		}
	}

	var out []Group
	emitted := make(map[string]bool)
	for _, n := range names {
		p, ok := prefixOf(n)
		if ok && len(byPrefix[p]) > groupMinSize {
			if !emitted[p] {
				emitted[p] = true
				out = append(out, Group{Prefix: p, Names: byPrefix[p]})
			}
			continue
		}
		out = append(out, Group{Names: []string{n}})
	}
	sort.SliceStable(out, func(i, j int) bool { return groupKey(out[i]) < groupKey(out[j]) })
	return out
}

func prefixOf(name string) (string, bool) {
	rs := []rune(name)
	if len(rs) < groupPrefixLen {
		return "", false
	}
	return string(rs[:groupPrefixLen]), true
}

func groupKey(g Group) string {
	if g.Prefix != "" {
		return g.Prefix
	}
	return g.Names[0]
}
