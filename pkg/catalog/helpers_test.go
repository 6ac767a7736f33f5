package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/store"
	"datacat/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setupCatalog 每个测试一个内存库
func setupCatalog(t *testing.T, opts Options) *Catalog {
	t.Helper()
	dsn := fmt.Sprintf("file:catalog_%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := meta.NewWithConn(conn)
	require.NoError(t, db.Migrate(context.Background()))

	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	c, err := New(context.Background(), store.New(db, nil), opts)
	require.NoError(t, err)
	return c
}

// mustDataset 创建带初始版本的数据集，每个站点一个位置
func mustDataset(t *testing.T, c *Catalog, path string, md model.Metadata, sites ...string) *model.Dataset {
	t.Helper()
	_, name := types.Split(path)
	req := store.NewDataset{
		Version: &store.NewVersion{VersionID: types.VersionNew, Metadata: md},
	}
	for _, site := range sites {
		events := int64(10)
		req.Version.Locations = append(req.Version.Locations, store.NewLocation{
			Site: site, Resource: "/data/" + site + "/" + name, Size: 100, EventCount: &events,
		})
	}
	ds, err := c.CreateDataset(context.Background(), path, req)
	require.NoError(t, err)
	return ds
}

func mustMkdir(t *testing.T, c *Catalog, paths ...string) {
	t.Helper()
	for _, p := range paths {
		_, err := c.MkdirAll(context.Background(), p)
		require.NoError(t, err)
	}
}

func collectPaths(t *testing.T, nodes []model.Node, err error) []string {
	t.Helper()
	require.NoError(t, err)
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Info().Path
	}
	return out
}

// memShared 内存版共享统计缓存
type memShared struct {
	mu    sync.Mutex
	items map[string]*model.Stat
}

func newMemShared() *memShared { return &memShared{items: map[string]*model.Stat{}} }

func (m *memShared) Get(_ context.Context, key string) (*model.Stat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.items[key]
	return st, ok, nil
}

func (m *memShared) Set(_ context.Context, key string, st *model.Stat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = st
	return nil
}

func (m *memShared) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *memShared) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
