// Package store 是目录树的关系存储层：节点的增删改查、版本、位置、元数据与统计
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store 封装所有对目录表的操作。每个操作自己开启事务。
type Store struct {
	db  *meta.DB
	log *zap.Logger
}

func New(db *meta.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// DB 暴露底层连接 (搜索和元数据名扫描使用)
func (s *Store) DB() *meta.DB { return s.db }

// -----------------------------------------------------------------------------
// 事务辅助
// -----------------------------------------------------------------------------

// write 在一个读写事务里执行 fn，错误统一归类
func (s *Store) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.Conn().WithContext(ctx).Transaction(fn)
	if err != nil {
		s.log.Debug("store operation failed", zap.String("op", op), zap.String("kind", dcerr.Kind(err)), zap.Error(err))
		return dcerr.Store(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// read 在一个只读快照里执行 fn
func (s *Store) read(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.Conn().WithContext(ctx).Transaction(fn, s.readOptions())
	if err != nil {
		return dcerr.Store(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// readOptions 三个游标必须看到同一个快照；postgres 默认的 READ COMMITTED 每条语句一个快照
func (s *Store) readOptions() *sql.TxOptions {
	if s.db.Dialect() == meta.DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// begin 开启一个由调用方负责结束的只读事务 (流式列表使用)
func (s *Store) begin(ctx context.Context) (*gorm.DB, error) {
	tx := s.db.Conn().WithContext(ctx).Begin(s.readOptions())
	if tx.Error != nil {
		return nil, dcerr.Store(fmt.Errorf("begin: %w", tx.Error))
	}
	return tx, nil
}

func rollback(tx *gorm.DB) error {
	err := tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// records 读取一次性小结果集
func records(ctx context.Context, tx *gorm.DB, query string, args ...any) ([]cursor.Record, error) {
	cur, err := cursor.Open(ctx, tx, "", query, args, 0)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []cursor.Record
	for cur.Next() {
		out = append(out, cur.Record())
	}
	return out, cur.Err()
}

// -----------------------------------------------------------------------------
// 身份解析
// -----------------------------------------------------------------------------

// Root 返回根目录
func (s *Store) Root(ctx context.Context) (*model.Folder, error) {
	var root *model.Folder
	err := s.read(ctx, "resolve /", func(tx *gorm.DB) error {
		var err error
		root, err = s.root(ctx, tx)
		return err
	})
	return root, err
}

func (s *Store) root(ctx context.Context, tx *gorm.DB) (*model.Folder, error) {
	var m meta.FolderModel
	err := tx.WithContext(ctx).Where("parent_pk IS NULL").Order("pk").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dcerr.Internal.New("root folder missing")
	}
	if err != nil {
		return nil, err
	}
	return &model.Folder{
		NodeInfo:  model.NodeInfo{Pk: types.Pk(m.Pk), Name: "", Path: "/", Created: m.Created},
		Container: model.Container{Description: m.Description},
	}, nil
}

// Resolve 按路径逐级解析节点；容器会带上描述和元数据
func (s *Store) Resolve(ctx context.Context, path string) (model.Node, error) {
	var node model.Node
	err := s.read(ctx, "resolve "+path, func(tx *gorm.DB) error {
		var err error
		node, err = s.resolve(ctx, tx, path)
		if err != nil {
			return err
		}
		return s.loadContainerMetadata(ctx, tx, node)
	})
	return node, err
}

func (s *Store) resolve(ctx context.Context, tx *gorm.DB, path string) (model.Node, error) {
	root, err := s.root(ctx, tx)
	if err != nil {
		return nil, err
	}
	var node model.Node = root
	for _, name := range types.Segments(path) {
		node, err = s.child(ctx, tx, node, name)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// GetChild 通过主列表路径 (objects 视图) 按名字查找子节点
func (s *Store) GetChild(ctx context.Context, parent model.Node, name string) (model.Node, error) {
	var node model.Node
	err := s.read(ctx, "get child "+name, func(tx *gorm.DB) error {
		var err error
		node, err = s.child(ctx, tx, parent, name)
		return err
	})
	return node, err
}

func (s *Store) child(ctx context.Context, tx *gorm.DB, parent model.Node, name string) (model.Node, error) {
	childPath := types.Join(parent.Info().Path, name)
	if !parent.Type().IsContainer() {
		return nil, dcerr.NotFound.New("%s", childPath)
	}

	q, args := objectsSQL(parent, &name)
	recs, err := records(ctx, tx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, dcerr.NotFound.New("%s", childPath)
	}
	return cursor.DecodeNode(recs[0], func(types.RecordType, types.Pk, string) string { return childPath })
}

// loadContainerMetadata 给 Folder / Group 补上元数据
func (s *Store) loadContainerMetadata(ctx context.Context, tx *gorm.DB, node model.Node) error {
	c := model.ContainerOf(node)
	if c == nil {
		return nil
	}
	md, err := readMetadata(ctx, tx, ownerOf(node.Type()), node.Info().Pk)
	if err != nil {
		return err
	}
	c.Metadata = md
	return nil
}

// -----------------------------------------------------------------------------
// 列表
// -----------------------------------------------------------------------------

// Children 返回容器子节点的流。视图非空时为每个数据集预取版本、元数据和位置。
// 三个游标在同一个只读事务里打开，流关闭时回滚事务。
func (s *Store) Children(ctx context.Context, parent model.Node, view model.DatasetView) (*cursor.Stream, error) {
	if !parent.Type().IsContainer() {
		return nil, dcerr.InvalidRequest.New("%s is not a container", parent.Info().Path)
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
		return nil, dcerr.Store(fmt.Errorf("list %s: %w", parent.Info().Path, err))
	}

	fetch := s.db.FetchSize()
	q, args := objectsSQL(parent, nil)
	primary, err := cursor.Open(ctx, tx, "dc_primary", q, args, fetch)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, primary)

	var versions, locations cursor.Cursor
	if !view.IsEmpty() && parent.Info().Pk != 0 {
		sc := childScope(parent, view)
		q, args = versionRowsSQL(sc, view.IncludeMetadata, nil)
		if versions, err = cursor.Open(ctx, tx, "dc_versions", q, args, fetch); err != nil {
			return fail(err)
		}
		opened = append(opened, versions)

		if view.Site.Mode != model.SitesZero {
			q, args = locationRowsSQL(sc)
			if locations, err = cursor.Open(ctx, tx, "dc_locations", q, args, fetch); err != nil {
				return fail(err)
			}
			opened = append(opened, locations)
		}
	}

	parentPath := parent.Info().Path
	return cursor.Assemble(primary, versions, locations, cursor.Options{
		PathOf: func(_ types.RecordType, _ types.Pk, name string) string {
			return types.Join(parentPath, name)
		},
		OnClose: func() error { return rollback(tx) },
	}), nil
}
