package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/query"
	"datacat/pkg/types"

	"gorm.io/gorm"
)

// -----------------------------------------------------------------------------
// 搜索目标展开
// -----------------------------------------------------------------------------

// Prune 返回 true 的容器连同子树一起跳过
type Prune func(path string) bool

func isGlob(seg string) bool {
	return strings.ContainsAny(seg, "*?[")
}

// Containers 把带通配符的目标路径展开成容器列表。
// 段内支持 * ? [...]，单独的 ** 匹配任意层 (包括零层)。数据集不会成为目标。
func (s *Store) Containers(ctx context.Context, pattern string, prune Prune) ([]model.Node, error) {
	segs := types.Segments(pattern)
	for _, seg := range segs {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return nil, dcerr.InvalidRequest.New("bad target pattern %q: %v", pattern, err)
		}
	}

	var out []model.Node
	err := s.read(ctx, "expand "+pattern, func(tx *gorm.DB) error {
		root, err := s.root(ctx, tx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		return s.expand(ctx, tx, root, segs, prune, seen, &out)
	})
	return out, err
}

func (s *Store) expand(ctx context.Context, tx *gorm.DB, node model.Node, segs []string, prune Prune, seen map[string]bool, out *[]model.Node) error {
	p := node.Info().Path
	if prune != nil && prune(p) {
		return nil
	}
	if len(segs) == 0 {
		if !seen[p] {
			seen[p] = true
			*out = append(*out, node)
		}
		return nil
	}

	seg, rest := segs[0], segs[1:]
	switch {
	case seg == "**":
		// 零层
		if err := s.expand(ctx, tx, node, rest, prune, seen, out); err != nil {
			return err
		}
		children, err := s.containers(ctx, tx, node)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.expand(ctx, tx, c, segs, prune, seen, out); err != nil {
				return err
			}
		}
		return nil

	case isGlob(seg):
		children, err := s.containers(ctx, tx, node)
		if err != nil {
			return err
		}
		for _, c := range children {
			if ok, _ := path.Match(seg, c.Info().Name); !ok {
				continue
			}
			if err := s.expand(ctx, tx, c, rest, prune, seen, out); err != nil {
				return err
			}
		}
		return nil

	default:
		child, err := s.child(ctx, tx, node, seg)
		if err != nil {
			return err
		}
		if !child.Type().IsContainer() {
			return dcerr.InvalidRequest.New("%s is not a container", child.Info().Path)
		}
		return s.expand(ctx, tx, child, rest, prune, seen, out)
	}
}

// containers 直接子容器 (目录和分组)，按名字排序
func (s *Store) containers(ctx context.Context, tx *gorm.DB, parent model.Node) ([]model.Node, error) {
	if parent.Type() != types.TypeFolder {
		return nil, nil
	}
	q := `SELECT 'F' AS type, pk, name, parent_pk, 'F' AS parent_type, acl, description,
		NULL AS data_type, NULL AS file_format, created FROM ` + meta.TableFolders + ` WHERE parent_pk = ?
		UNION ALL SELECT 'G', pk, name, folder_pk, 'F', acl, description, NULL, NULL, created
		FROM ` + meta.TableGroups + ` WHERE folder_pk = ? ORDER BY name`
	pk := int64(parent.Info().Pk)
	recs, err := records(ctx, tx, q, pk, pk)
	if err != nil {
		return nil, err
	}
	parentPath := parent.Info().Path
	out := make([]model.Node, 0, len(recs))
	for _, rec := range recs {
		n, err := cursor.DecodeNode(rec, func(_ types.RecordType, _ types.Pk, name string) string {
			return types.Join(parentPath, name)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 搜索执行
// -----------------------------------------------------------------------------

// SearchSelect 按视图构造搜索的基础查询，交给编译器扩充
func (s *Store) SearchSelect(view model.DatasetView) *query.Select {
	join, args := versionJoin(view.CacheKey())
	return query.DatasetSelect(join, args)
}

// OrderBy 一个排序键
type OrderBy struct {
	Expr query.Expr
	Desc bool
}

// SearchPlan 是编译完成的搜索
type SearchPlan struct {
	Targets []model.Node
	Select  *query.Select    // 由 SearchSelect 创建并经过编译
	Filter  *query.Predicate // nil 表示不过滤
	Order   []OrderBy
	View    model.DatasetView
	Show    []string // 视图不带元数据时仍然返回的元数据名
	Offset  int
	Max     int
}

func (p SearchPlan) targets() (string, []any) {
	var folders, groups []any
	for _, t := range p.Targets {
		switch t.Type() {
		case types.TypeFolder:
			folders = append(folders, int64(t.Info().Pk))
		case types.TypeGroup:
			groups = append(groups, int64(t.Info().Pk))
		}
	}
	var parts []string
	var args []any
	if len(folders) > 0 {
		parts = append(parts, "(d.parent_type = 'F' AND d.parent_pk IN ("+placeholders(len(folders))+"))")
		args = append(args, folders...)
	}
	if len(groups) > 0 {
		parts = append(parts, "(d.parent_type = 'G' AND d.parent_pk IN ("+placeholders(len(groups))+"))")
		args = append(args, groups...)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// page 是三个游标共享的过滤、排序和分页
type page struct {
	from     string
	fromArgs []any
	where    string
	args     []any
	order    string
	orderArg []any
	limit    []any
}

func (p SearchPlan) page() page {
	from, fromArgs := p.Select.From()
	where, args := p.targets()
	if p.Filter != nil && p.Filter.SQL != "" {
		where += " AND (" + p.Filter.SQL + ")"
		args = append(args, p.Filter.Args...)
	}

	var keys []string
	var orderArgs []any
	for _, o := range p.Order {
		k := o.Expr.SQL
		if o.Desc {
			k += " DESC"
		}
		keys = append(keys, k)
		orderArgs = append(orderArgs, o.Expr.Args...)
	}
	keys = append(keys, "d.pk")

	return page{
		from: from, fromArgs: fromArgs,
		where: where, args: args,
		order: strings.Join(keys, ", "), orderArg: orderArgs,
		limit: []any{p.Max, p.Offset},
	}
}

func (pg page) primarySQL() (string, []any) {
	q := `SELECT 'D' AS type, d.pk AS pk, d.name AS name, d.parent_pk AS parent_pk, d.parent_type AS parent_type,
		d.acl AS acl, NULL AS description, d.data_type AS data_type, d.file_format AS file_format, d.created AS created
		FROM ` + pg.from + ` WHERE ` + pg.where + ` ORDER BY ` + pg.order + ` LIMIT ? OFFSET ?`
	args := append([]any(nil), pg.fromArgs...)
	args = append(args, pg.args...)
	args = append(args, pg.orderArg...)
	return q, append(args, pg.limit...)
}

// scope 版本和位置游标只取 primary 当前页的数据集，排序与 primary 一致
func (pg page) scope() scope {
	sub := `SELECT d.pk FROM ` + pg.from + ` WHERE ` + pg.where + ` ORDER BY ` + pg.order + ` LIMIT ? OFFSET ?`
	subArgs := append([]any(nil), pg.fromArgs...)
	subArgs = append(subArgs, pg.args...)
	subArgs = append(subArgs, pg.orderArg...)
	subArgs = append(subArgs, pg.limit...)

	return scope{
		from:      pg.from,
		fromArgs:  pg.fromArgs,
		where:     "d.pk IN (SELECT pk FROM (" + sub + ") sp)",
		whereArgs: subArgs,
		order:     pg.order,
		orderArgs: pg.orderArg,
	}
}

// Search 在同一个只读事务里打开三个游标，按页返回装配好的数据集流
func (s *Store) Search(ctx context.Context, plan SearchPlan) (*cursor.Stream, error) {
	if plan.Select == nil {
		return nil, dcerr.Internal.New("search without base select")
	}
	if len(plan.Targets) == 0 {
		return nil, dcerr.InvalidRequest.New("no search targets")
	}
	if plan.Max <= 0 {
		return nil, dcerr.InvalidRequest.New("max must be positive")
	}
	if plan.Offset < 0 {
		return nil, dcerr.InvalidRequest.New("offset must not be negative")
	}

	paths := make(map[string]string, len(plan.Targets))
	for _, t := range plan.Targets {
		paths[targetKey(t.Type(), t.Info().Pk)] = t.Info().Path
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	var opened []cursor.Cursor
	fail := func(err error) (*cursor.Stream, error) {
		for _, c := range opened {
			c.Close()
		}
		rollback(tx)
		return nil, dcerr.Store(fmt.Errorf("search: %w", err))
	}

	pg := plan.page()
	fetch := s.db.FetchSize()

	q, args := pg.primarySQL()
	primary, err := cursor.Open(ctx, tx, "dc_search", q, args, fetch)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, primary)

	var versions, locations cursor.Cursor
	if !plan.View.IsEmpty() {
		sc := pg.scope()
		q, args = versionRowsSQL(sc, plan.View.IncludeMetadata, plan.Show)
		if versions, err = cursor.Open(ctx, tx, "dc_search_versions", q, args, fetch); err != nil {
			return fail(err)
		}
		opened = append(opened, versions)

		if plan.View.Site.Mode != model.SitesZero {
			q, args = locationRowsSQL(sc)
			if locations, err = cursor.Open(ctx, tx, "dc_search_locations", q, args, fetch); err != nil {
				return fail(err)
			}
			opened = append(opened, locations)
		}
	}

	return cursor.Assemble(primary, versions, locations, cursor.Options{
		PathOf: func(parentType types.RecordType, parentPk types.Pk, name string) string {
			return types.Join(paths[targetKey(parentType, parentPk)], name)
		},
		OnClose: func() error { return rollback(tx) },
	}), nil
}

func targetKey(t types.RecordType, pk types.Pk) string {
	return string(t) + ":" + pk.String()
}
