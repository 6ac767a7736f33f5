package store

import (
	"context"
	"fmt"
	"testing"

	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestStore 构建隔离的内存数据库并完成迁移
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 共享缓存的内存库在多连接并发写时直接报 table locked，测试里只用一个连接
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := meta.NewWithConn(conn)
	require.NoError(t, db.Migrate(context.Background()))
	return New(db, nil)
}

func mustRoot(t *testing.T, s *Store) *model.Folder {
	t.Helper()
	root, err := s.Root(context.Background())
	require.NoError(t, err)
	return root
}

func mustResolve(t *testing.T, s *Store, path string) model.Node {
	t.Helper()
	node, err := s.Resolve(context.Background(), path)
	require.NoError(t, err)
	return node
}

func mustFolder(t *testing.T, s *Store, parent model.Node, name string) *model.Folder {
	t.Helper()
	f, err := s.CreateFolder(context.Background(), parent, NewContainer{Name: name})
	require.NoError(t, err)
	return f
}

func mustRegister(t *testing.T, s *Store, reg Registry, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, s.Register(context.Background(), reg, Registration{Name: name}))
	}
}

// mustDataset 创建带初始版本 (0) 的数据集，每个站点一个位置
func mustDataset(t *testing.T, s *Store, parent model.Node, name string, md model.Metadata, sites ...string) *model.Dataset {
	t.Helper()
	req := NewDataset{
		Name:    name,
		Version: &NewVersion{VersionID: types.VersionNew, Metadata: md},
	}
	for _, site := range sites {
		size := int64(100)
		events := int64(10)
		req.Version.Locations = append(req.Version.Locations, NewLocation{
			Site: site, Resource: "/data/" + site + "/" + name, Size: size, EventCount: &events,
		})
	}
	ds, err := s.CreateDataset(context.Background(), parent, req)
	require.NoError(t, err)
	return ds
}

func int64p(v int64) *int64 { return &v }
