package query

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Plugin 是外部注册的扩展表。字段以 namespace.column 的形式引用。
type Plugin interface {
	Namespace() string
	// JoinToStatement 把插件表 join 进 sel (同一个查询只 join 一次)，返回表别名
	JoinToStatement(sel *Select) string
	ContainsColumn(name string) bool
}

// PluginLookup 编译器只需要按命名空间查找
type PluginLookup interface {
	Plugin(namespace string) (Plugin, bool)
}

// Plugins 是插件注册表
type Plugins struct {
	mu sync.RWMutex
	m  map[string]Plugin
}

func NewPlugins(ps ...Plugin) *Plugins {
	reg := &Plugins{m: make(map[string]Plugin)}
	for _, p := range ps {
		reg.Register(p)
	}
	return reg
}

func (r *Plugins) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.Namespace()] = p
}

func (r *Plugins) Plugin(namespace string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[namespace]
	return p, ok
}

func (r *Plugins) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for ns := range r.m {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// splitPluginIdent "ns.col" -> ("ns", "col", true)
func splitPluginIdent(ident string) (string, string, bool) {
	ns, col, ok := strings.Cut(ident, ".")
	if !ok || ns == "" || col == "" {
		return "", "", false
	}
	return ns, col, true
}

// TablePluginConfig 来自配置文件的 search.plugins 条目
type TablePluginConfig struct {
	Namespace string   `mapstructure:"namespace"`
	Table     string   `mapstructure:"table"`
	// On 是 join 条件，{alias} 会被替换为插件表别名，例如 "{alias}.dataset_pk = d.pk"
	On      string   `mapstructure:"on"`
	Columns []string `mapstructure:"columns"`
}

// TablePlugin 把一张普通表按配置 LEFT JOIN 到数据集上
type TablePlugin struct {
	cfg TablePluginConfig
}

func NewTablePlugin(cfg TablePluginConfig) (*TablePlugin, error) {
	if cfg.Namespace == "" || cfg.Table == "" || cfg.On == "" {
		return nil, fmt.Errorf("plugin needs namespace, table and on: %+v", cfg)
	}
	if strings.Contains(cfg.Namespace, ".") {
		return nil, fmt.Errorf("plugin namespace %q must not contain '.'", cfg.Namespace)
	}
	return &TablePlugin{cfg: cfg}, nil
}

func (p *TablePlugin) Namespace() string { return p.cfg.Namespace }

func (p *TablePlugin) alias() string { return "p_" + p.cfg.Namespace }

func (p *TablePlugin) JoinToStatement(sel *Select) string {
	alias := p.alias()
	on := strings.ReplaceAll(p.cfg.On, "{alias}", alias)
	sel.Join("plugin:"+p.cfg.Namespace, "LEFT OUTER JOIN "+p.cfg.Table+" "+alias+" ON "+on)
	return alias
}

func (p *TablePlugin) ContainsColumn(name string) bool {
	return slices.Contains(p.cfg.Columns, name)
}
