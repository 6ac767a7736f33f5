// Package catalog 是目录服务对上游 (gRPC / CLI) 的唯一入口。
//
// 它负责路径规范化、请求校验、在路径租约下执行变更，
// 以及变更之后清理受影响的视图解析器和统计引擎。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/ignore"
	"datacat/pkg/lease"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/query"
	"datacat/pkg/scan"
	"datacat/pkg/stat"
	"datacat/pkg/store"
	"datacat/pkg/types"
	"datacat/pkg/view"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	DefaultSearchMax = 100
	DefaultCacheSize = 1024
)

// Options 可选组件，零值可用
type Options struct {
	Plugins   *query.Plugins
	Ignore    *ignore.Matcher
	Scanners  *scan.Registry
	Shared    stat.Shared // nil 表示只用进程内 memo
	CacheSize int         // 解析器 / 统计引擎实例上限
	SearchMax int         // 搜索默认页大小
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Catalog 组合存储、租约、缓存和查询编译
type Catalog struct {
	store     *store.Store
	leases    *lease.Manager
	metanames *query.Metanames
	plugins   *query.Plugins
	compiler  *query.Compiler
	ignore    *ignore.Matcher
	scanners  *scan.Registry
	shared    stat.Shared
	searchMax int
	now       func() time.Time
	log       *zap.Logger

	resolvers *instances[*view.Resolver]
	engines   *instances[*stat.Engine]
}

// New 组装 Catalog，并扫描一次元数据名
func New(ctx context.Context, st *store.Store, opts Options) (*Catalog, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Plugins == nil {
		opts.Plugins = query.NewPlugins()
	}
	if opts.Scanners == nil {
		opts.Scanners = scan.NewRegistry()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.SearchMax <= 0 {
		opts.SearchMax = DefaultSearchMax
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	names := query.NewMetanames()
	if err := names.Load(ctx, st.DB().Conn()); err != nil {
		return nil, dcerr.Store(fmt.Errorf("load metanames: %w", err))
	}
	log.Info("metanames loaded", zap.Int("count", names.Len()))

	return &Catalog{
		store:     st,
		leases:    lease.NewManager(log.Named("lease")),
		metanames: names,
		plugins:   opts.Plugins,
		compiler:  query.NewCompiler(opts.Plugins, names, log.Named("query")),
		ignore:    opts.Ignore,
		scanners:  opts.Scanners,
		shared:    opts.Shared,
		searchMax: opts.SearchMax,
		now:       opts.Clock,
		log:       log,
		resolvers: newInstances[*view.Resolver](opts.CacheSize),
		engines:   newInstances[*stat.Engine](opts.CacheSize),
	}, nil
}

// Leases 暴露租约管理器 (探针和测试使用)
func (c *Catalog) Leases() *lease.Manager { return c.leases }

// Plugins 已注册的查询插件
func (c *Catalog) Plugins() *query.Plugins { return c.plugins }

// -----------------------------------------------------------------------------
// 校验
// -----------------------------------------------------------------------------

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nodename", validateNodeName)
	return v
}

// validateNodeName 节点名不能含路径分隔符和通配符，也不能是 "." / ".."
func validateNodeName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/*?[]")
}

// check 校验请求结构体，失败统一为 InvalidRequest
func check(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dcerr.InvalidRequest.Wrap(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return dcerr.InvalidRequest.New("%s", strings.Join(msgs, "; "))
}

// -----------------------------------------------------------------------------
// 租约与缓存
// -----------------------------------------------------------------------------

// mutate 在目标路径的租约下执行 fn
func (c *Catalog) mutate(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := c.leases.Do(ctx, path, fn)
	if err != nil {
		c.log.Debug("mutation failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.String("kind", dcerr.Kind(err)),
			zap.Error(err))
		if dcerr.IsCanceled(err) {
			return dcerr.Store(err)
		}
		return err
	}
	c.log.Debug("mutation done", zap.String("op", op), zap.String("path", path), zap.Duration("took", time.Since(start)))
	return nil
}

func resolverKey(pk types.Pk) string { return pk.String() }

func engineKey(t types.RecordType, pk types.Pk) string { return string(t) + ":" + pk.String() }

// resolver 取数据集的视图解析器
func (c *Catalog) resolver(ds *model.Dataset) *view.Resolver {
	return c.resolvers.Get(resolverKey(ds.Pk), func() *view.Resolver {
		return view.NewResolver(ds, c.store, c.log.Named("view"))
	})
}

// engine 取容器的统计引擎
func (c *Catalog) engine(container model.Node) *stat.Engine {
	info := container.Info()
	return c.engines.Get(engineKey(container.Type(), info.Pk), func() *stat.Engine {
		return stat.NewEngine(container, c.store, c.shared, c.log.Named("stat"))
	})
}

// dropDataset 数据集变更后丢弃它的解析器 (裸节点字段也可能变了)
func (c *Catalog) dropDataset(pk types.Pk) {
	c.resolvers.Delete(resolverKey(pk))
}

// invalidateStats 清掉某个容器的统计，本地实例已被淘汰时直接删共享缓存
func (c *Catalog) invalidateStats(ctx context.Context, t types.RecordType, pk types.Pk) {
	if pk.IsZero() || !t.IsContainer() {
		return
	}
	if e, ok := c.engines.Peek(engineKey(t, pk)); ok {
		e.Clear(ctx)
		return
	}
	if c.shared == nil {
		return
	}
	ref := containerRef(t, pk)
	keys := []string{stat.Key(ref, model.StatBasic), stat.Key(ref, model.StatDataset)}
	if err := c.shared.Delete(ctx, keys...); err != nil {
		c.log.Warn("failed to invalidate shared stat cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

// invalidateParent 节点增删改后，父容器的统计失效
func (c *Catalog) invalidateParent(ctx context.Context, n model.Node) {
	info := n.Info()
	c.invalidateStats(ctx, info.ParentType, info.ParentPk)
}

func containerRef(t types.RecordType, pk types.Pk) model.Node {
	if t == types.TypeGroup {
		return &model.Group{NodeInfo: model.NodeInfo{Pk: pk}}
	}
	return &model.Folder{NodeInfo: model.NodeInfo{Pk: pk}}
}

// noteMetanames 新写入的元数据名立即可用于搜索
func (c *Catalog) noteMetanames(md model.Metadata) {
	for name, v := range md {
		// Kind 为零值表示删除
		if v.Kind == 0 {
			continue
		}
		vt, err := meta.ValueTableFor(v.ElemKind())
		if err != nil {
			continue
		}
		c.metanames.Add(name, vt)
	}
}

// -----------------------------------------------------------------------------
// 路径辅助
// -----------------------------------------------------------------------------

func (c *Catalog) resolveDataset(ctx context.Context, path string) (*model.Dataset, error) {
	node, err := c.store.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	ds, ok := node.(*model.Dataset)
	if !ok {
		return nil, dcerr.InvalidRequest.New("%s is not a dataset", path)
	}
	return ds, nil
}

func (c *Catalog) resolveContainer(ctx context.Context, path string) (model.Node, error) {
	node, err := c.store.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if !node.Type().IsContainer() {
		return nil, dcerr.InvalidRequest.New("%s is not a container", path)
	}
	return node, nil
}

// splitTarget 规范化新节点路径并拆成 (父路径, 名字)
func splitTarget(path string) (string, string, error) {
	path = types.CleanPath(path)
	if path == "/" {
		return "", "", dcerr.InvalidRequest.New("the root folder cannot be created or removed")
	}
	parent, name := types.Split(path)
	return parent, name, nil
}
