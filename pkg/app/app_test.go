package app

import (
	"context"
	"path/filepath"
	"testing"

	"datacat/pkg/catalog"
	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/scan"
	"datacat/pkg/store"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	log, err := initLogger("warn", "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = initLogger("debug", "")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = initLogger("loud", "json")
	assert.Error(t, err)
	_, err = initLogger("info", "xml")
	assert.Error(t, err)
}

func TestInitPlugins(t *testing.T) {
	viper.Reset()
	viper.Set("search.plugins", []map[string]any{
		{"namespace": "exo", "table": "exo_runs", "on": "{alias}.dataset_pk = d.pk", "columns": []string{"quality"}},
	})

	plugins, err := initPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"exo"}, plugins.Namespaces())

	// 缺少 join 条件
	viper.Set("search.plugins", []map[string]any{{"namespace": "exo", "table": "exo_runs"}})
	_, err = initPlugins()
	assert.Error(t, err)

	// 重复命名空间
	viper.Set("search.plugins", []map[string]any{
		{"namespace": "exo", "table": "a", "on": "1=1"},
		{"namespace": "exo", "table": "b", "on": "1=1"},
	})
	_, err = initPlugins()
	assert.ErrorContains(t, err, "duplicate")
}

func TestInitScanners_FileOnly(t *testing.T) {
	viper.Reset()
	reg, err := initScanners(context.Background())
	require.NoError(t, err)

	_, err = reg.Scan(context.Background(), "s3://bucket/key")
	assert.ErrorIs(t, err, scan.ErrUnsupported, "没有配置 bucket 时不注册 s3")
}

func TestInitShared_Disabled(t *testing.T) {
	viper.Reset()
	shared, err := initShared()
	require.NoError(t, err)
	assert.Nil(t, shared)
}

func TestNewApp_SQLite(t *testing.T) {
	viper.Reset()
	viper.Set("database.driver", "sqlite")
	viper.Set("database.dsn", filepath.Join(t.TempDir(), "nested", "catalog.db"))
	viper.Set("log.level", "error")
	viper.Set("search.ignore", []string{"scratch"})

	ctx := context.Background()
	a, err := NewApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Catalog.MkdirAll(ctx, "/EXO/scratch")
	require.NoError(t, err)
	_, err = a.Catalog.CreateDataset(ctx, "/EXO/a", store.NewDataset{})
	require.NoError(t, err)

	st, err := a.Catalog.Stat(ctx, "/EXO", model.StatBasic)
	require.NoError(t, err)
	assert.Equal(t, model.BasicStat{Datasets: 1, Folders: 1}, st.Basic)

	// 配置里的忽略规则生效
	_, err = a.Catalog.Search(ctx, catalog.SearchRequest{Targets: []string{"/EXO/scratch"}})
	assert.True(t, dcerr.NotFound.Has(err))
}

func TestNewApp_BadDriver(t *testing.T) {
	viper.Reset()
	viper.Set("database.driver", "oracle")
	viper.Set("log.level", "error")

	_, err := NewApp(context.Background())
	assert.ErrorContains(t, err, "unsupported database driver")
}
