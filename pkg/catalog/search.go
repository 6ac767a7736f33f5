package catalog

import (
	"context"
	"strings"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/query"
	"datacat/pkg/store"

	"go.uber.org/zap"
)

// SearchRequest 搜索请求
//
// Targets 是容器路径，段内可用 * ? [...]，单独的 ** 匹配任意层。
// Sort 字段后缀 "-" 表示降序，"+" 或无后缀为升序。
// Show 在视图不带元数据时指定仍要返回的元数据名。
type SearchRequest struct {
	Targets []string `validate:"required,min=1,dive,required"`
	Query   string
	View    model.DatasetView
	Sort    []string `validate:"dive,required"`
	Show    []string `validate:"dive,required"`
	Offset  int      `validate:"gte=0"`
	Max     int      `validate:"gte=0"`
}

// Search 展开目标、编译过滤条件和排序键，返回一页数据集的流
func (c *Catalog) Search(ctx context.Context, req SearchRequest) (*cursor.Stream, error) {
	if err := check(req); err != nil {
		return nil, err
	}

	targets, err := c.searchTargets(ctx, req.Targets)
	if err != nil {
		return nil, err
	}

	sel := c.store.SearchSelect(req.View)
	plan := store.SearchPlan{
		Targets: targets,
		Select:  sel,
		View:    req.View,
		Offset:  req.Offset,
		Max:     req.Max,
	}
	if plan.Max == 0 {
		plan.Max = c.searchMax
	}

	// 1. 过滤条件
	if q := strings.TrimSpace(req.Query); q != "" {
		root, err := query.Parse(q)
		if err != nil {
			return nil, err
		}
		pred, err := c.compiler.Compile(root, sel)
		if err != nil {
			return nil, err
		}
		plan.Filter = &pred
	}

	// 2. 排序键
	for _, field := range req.Sort {
		name, desc := sortField(field)
		expr, err := c.compiler.ResolveColumn(name, sel)
		if err != nil {
			return nil, err
		}
		plan.Order = append(plan.Order, store.OrderBy{Expr: expr, Desc: desc})
	}

	// 3. 展示字段：元数据名进入版本游标的过滤，其余字段只要求能解析
	for _, field := range req.Show {
		if c.metanames.Contains(field) {
			plan.Show = append(plan.Show, field)
			continue
		}
		if _, err := c.compiler.ResolveColumn(field, sel); err != nil {
			return nil, err
		}
	}

	c.log.Debug("search",
		zap.Strings("targets", req.Targets),
		zap.Int("containers", len(targets)),
		zap.String("query", req.Query),
		zap.Int("offset", plan.Offset),
		zap.Int("max", plan.Max))
	return c.store.Search(ctx, plan)
}

// searchTargets 展开全部目标模式，按路径去重，保留首次出现的顺序
func (c *Catalog) searchTargets(ctx context.Context, patterns []string) ([]model.Node, error) {
	var prune store.Prune
	if c.ignore != nil {
		prune = c.ignore.Matches
	}

	seen := make(map[string]bool)
	var out []model.Node
	for _, pattern := range patterns {
		nodes, err := c.store.Containers(ctx, pattern, prune)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if p := n.Info().Path; !seen[p] {
				seen[p] = true
				out = append(out, n)
			}
		}
	}
	if len(out) == 0 {
		return nil, dcerr.NotFound.New("no container matches %s", strings.Join(patterns, ", "))
	}
	return out, nil
}

func sortField(field string) (string, bool) {
	switch {
	case strings.HasSuffix(field, "-"):
		return strings.TrimSuffix(field, "-"), true
	case strings.HasSuffix(field, "+"):
		return strings.TrimSuffix(field, "+"), false
	}
	return field, false
}
