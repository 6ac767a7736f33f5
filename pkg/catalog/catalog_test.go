package catalog

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"datacat/pkg/dcerr"
	"datacat/pkg/ignore"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/scan"
	"datacat/pkg/scan/disk"
	"datacat/pkg/store"
	"datacat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_CreateAndGet(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()

	mustMkdir(t, c, "/EXO/runs")
	_, err := c.CreateGroup(ctx, "/EXO/runs/golden", store.NewContainer{Description: "golden runs"})
	require.NoError(t, err)
	mustDataset(t, c, "/EXO/runs/golden/r1", model.Metadata{"nRun": model.Integer(6200)}, "SLAC")

	// 1. 容器带描述
	node, err := c.Get(ctx, "/EXO/runs/golden/", model.EmptyView())
	require.NoError(t, err)
	g, ok := node.(*model.Group)
	require.True(t, ok)
	assert.Equal(t, "golden runs", g.Description)

	// 2. 数据集按视图投影
	node, err = c.Get(ctx, "/EXO/runs/golden/r1", model.CurrentView())
	require.NoError(t, err)
	ds := node.(*model.Dataset)
	require.NotNil(t, ds.Version)
	assert.Equal(t, int64(0), ds.Version.VersionID)
	assert.True(t, model.Integer(6200).Equal(ds.Version.Metadata["nRun"]))
	require.Len(t, ds.Version.Locations, 1)
	assert.True(t, ds.Version.Locations[0].Master)

	node, err = c.Get(ctx, "/EXO/runs/golden/r1", model.EmptyView())
	require.NoError(t, err)
	assert.Nil(t, node.(*model.Dataset).Version)

	// 3. 列表
	stream, err := c.List(ctx, "/EXO", model.EmptyView())
	require.NoError(t, err)
	nodes, err := stream.Collect()
	assert.Equal(t, []string{"/EXO/runs"}, collectPaths(t, nodes, err))

	// 4. 不存在的路径
	_, err = c.Get(ctx, "/EXO/nope", model.CurrentView())
	assert.True(t, dcerr.NotFound.Has(err))

	// 5. List 目标必须是容器
	_, err = c.List(ctx, "/EXO/runs/golden/r1", model.EmptyView())
	assert.True(t, dcerr.InvalidRequest.Has(err))
}

func TestCatalog_RejectsBadNames(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()

	for _, path := range []string{"/a*b", "/x?", "/[abc]", "/.."} {
		_, err := c.CreateFolder(ctx, path, store.NewContainer{})
		assert.True(t, dcerr.InvalidRequest.Has(err), path)
	}

	_, err := c.CreateFolder(ctx, "/", store.NewContainer{})
	assert.True(t, dcerr.InvalidRequest.Has(err), "根目录不能创建")
	assert.True(t, dcerr.InvalidRequest.Has(c.Delete(ctx, "/")), "根目录不能删除")

	// 父目录不存在
	_, err = c.CreateFolder(ctx, "/missing/child", store.NewContainer{})
	assert.True(t, dcerr.NotFound.Has(err))

	// 位置缺少站点
	mustMkdir(t, c, "/EXO")
	_, err = c.CreateDataset(ctx, "/EXO/d", store.NewDataset{
		Version: &store.NewVersion{VersionID: types.VersionNew, Locations: []store.NewLocation{{Resource: "/x"}}},
	})
	require.Error(t, err)
	assert.True(t, dcerr.InvalidRequest.Has(err))
	assert.Contains(t, err.Error(), "Site")
	assert.Zero(t, c.Leases().Len(), "校验失败不占租约")
}

func TestCatalog_MkdirAll(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()

	node, err := c.MkdirAll(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", node.Info().Path)

	// 重复执行是幂等的
	again, err := c.MkdirAll(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, node.Info().Pk, again.Info().Pk)

	root, err := c.MkdirAll(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "/", root.Info().Path)

	// 路径上有数据集时报错
	mustDataset(t, c, "/a/ds", nil)
	_, err = c.MkdirAll(ctx, "/a/ds/x")
	assert.True(t, dcerr.InvalidRequest.Has(err))

	// 并发 mkdir 同一条路径
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.MkdirAll(ctx, "/p/q/r")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	_, err = c.Get(ctx, "/p/q/r", model.EmptyView())
	assert.NoError(t, err)
}

func TestCatalog_VersionsInvalidateView(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO")
	mustDataset(t, c, "/EXO/d", model.Metadata{"nRun": model.Integer(1)}, "SLAC")

	node, err := c.Get(ctx, "/EXO/d", model.CurrentView())
	require.NoError(t, err)
	assert.Equal(t, int64(0), node.(*model.Dataset).Version.VersionID)

	// 新版本成为当前版本，缓存的解析器必须失效
	v, err := c.CreateVersion(ctx, "/EXO/d", store.NewVersion{
		VersionID: types.VersionNew,
		Metadata:  model.Metadata{"nRun": model.Integer(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.VersionID)

	node, err = c.Get(ctx, "/EXO/d", model.CurrentView())
	require.NoError(t, err)
	cur := node.(*model.Dataset).Version
	assert.Equal(t, int64(1), cur.VersionID)
	assert.True(t, model.Integer(2).Equal(cur.Metadata["nRun"]))

	// 指定版本 0 不受当前版本影响
	old := model.CurrentView()
	old.VersionID = 0
	node, err = c.Get(ctx, "/EXO/d", old)
	require.NoError(t, err)
	assert.Equal(t, int64(0), node.(*model.Dataset).Version.VersionID)

	// 修改元数据
	require.NoError(t, c.PatchVersion(ctx, "/EXO/d", types.VersionCurrent, store.Patch{
		Metadata: model.Metadata{"nRun": model.Integer(3), "quality": model.Text("good")},
	}))
	node, err = c.Get(ctx, "/EXO/d", model.CurrentView())
	require.NoError(t, err)
	cur = node.(*model.Dataset).Version
	assert.True(t, model.Integer(3).Equal(cur.Metadata["nRun"]))
	assert.True(t, model.Text("good").Equal(cur.Metadata["quality"]))

	// 删除当前版本后 latest 回到 0
	require.NoError(t, c.DeleteVersion(ctx, "/EXO/d", 1))
	node, err = c.Get(ctx, "/EXO/d", model.CurrentView())
	require.NoError(t, err)
	assert.Equal(t, int64(0), node.(*model.Dataset).Version.VersionID)

	versions, err := c.Versions(ctx, "/EXO/d")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCatalog_ConcurrentVersions(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO")
	mustDataset(t, c, "/EXO/d", nil)

	const n = 8
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.CreateVersion(ctx, "/EXO/d", store.NewVersion{VersionID: types.VersionNew})
			if assert.NoError(t, err) {
				ids <- v.VersionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	// 同一路径上的变更串行执行，分配到的版本号连续且不重复
	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate version %d", id)
		seen[id] = true
	}
	for id := int64(1); id <= n; id++ {
		assert.True(t, seen[id], "missing version %d", id)
	}
	assert.Zero(t, c.Leases().Len(), "租约全部释放")

	node, err := c.Get(ctx, "/EXO/d", model.CurrentView())
	require.NoError(t, err)
	assert.Equal(t, int64(n), node.(*model.Dataset).Version.VersionID)
}

func TestCatalog_StatInvalidation(t *testing.T) {
	shared := newMemShared()
	c := setupCatalog(t, Options{Shared: shared})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO/sub")
	mustDataset(t, c, "/EXO/a", nil, "SLAC")

	st, err := c.Stat(ctx, "/EXO", model.StatDataset)
	require.NoError(t, err)
	assert.Equal(t, model.BasicStat{Datasets: 1, Folders: 1}, st.Basic)
	require.NotNil(t, st.Dataset)
	assert.Equal(t, int64(1), st.Dataset.Files)
	assert.Equal(t, int64(100), st.Dataset.Size)
	assert.Equal(t, 2, shared.Len())

	// 新增数据集后父目录统计重新计算
	mustDataset(t, c, "/EXO/b", nil, "SLAC")
	st, err = c.Stat(ctx, "/EXO", model.StatDataset)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Basic.Datasets)
	assert.Equal(t, int64(200), st.Dataset.Size)

	// 修改位置大小同样影响统计
	require.NoError(t, c.PatchLocation(ctx, "/EXO/b", types.VersionCurrent, "SLAC", store.Patch{
		Fields: map[string]any{"size": int64(400)},
	}))
	st, err = c.Stat(ctx, "/EXO", model.StatDataset)
	require.NoError(t, err)
	assert.Equal(t, int64(500), st.Dataset.Size)

	// none 不查询
	st, err = c.Stat(ctx, "/EXO", model.StatNone)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = c.Stat(ctx, "/EXO", model.StatKind("bogus"))
	assert.True(t, dcerr.InvalidRequest.Has(err))
	_, err = c.Stat(ctx, "/EXO/a", model.StatBasic)
	assert.True(t, dcerr.InvalidRequest.Has(err), "数据集没有统计")
}

func TestCatalog_StatInvalidationAfterEviction(t *testing.T) {
	shared := newMemShared()
	c := setupCatalog(t, Options{Shared: shared, CacheSize: 1})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO", "/LSST")

	st, err := c.Stat(ctx, "/EXO", model.StatBasic)
	require.NoError(t, err)
	assert.Zero(t, st.Basic.Datasets)

	// /LSST 的引擎把 /EXO 的挤出去，共享缓存里仍有 /EXO 的旧值
	_, err = c.Stat(ctx, "/LSST", model.StatBasic)
	require.NoError(t, err)
	assert.Equal(t, 1, c.engines.Len())

	mustDataset(t, c, "/EXO/a", nil)
	st, err = c.Stat(ctx, "/EXO", model.StatBasic)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Basic.Datasets)
}

func TestCatalog_Delete(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO/sub")
	mustDataset(t, c, "/EXO/sub/d", nil, "SLAC")

	// 非空容器不级联
	err := c.Delete(ctx, "/EXO/sub")
	assert.True(t, dcerr.NotEmpty.Has(err))

	// 删除位置，再删数据集，最后删容器
	require.NoError(t, c.DeleteLocation(ctx, "/EXO/sub/d", types.VersionCurrent, "SLAC"))
	node, err := c.Get(ctx, "/EXO/sub/d", model.CurrentView())
	require.NoError(t, err)
	assert.Empty(t, node.(*model.Dataset).Version.Locations)

	require.NoError(t, c.Delete(ctx, "/EXO/sub/d"))
	require.NoError(t, c.Delete(ctx, "/EXO/sub"))

	_, err = c.Get(ctx, "/EXO/sub", model.EmptyView())
	assert.True(t, dcerr.NotFound.Has(err))
	assert.True(t, dcerr.NotFound.Has(c.Delete(ctx, "/EXO/sub")))
	assert.Zero(t, c.Leases().Len())
}

func TestCatalog_CreateRacingDeleteLeavesNoOrphans(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()
	mustMkdir(t, c, "/a")

	const n = 8
	start := make(chan struct{})
	createErrs := make([]error, n)
	var deleteErr error
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				_, createErrs[i] = c.CreateFolder(ctx, fmt.Sprintf("/a/x%d", i), store.NewContainer{})
			} else {
				_, createErrs[i] = c.CreateDataset(ctx, fmt.Sprintf("/a/d%d", i), store.NewDataset{})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		deleteErr = c.Delete(ctx, "/a")
	}()
	close(start)
	wg.Wait()

	if deleteErr == nil {
		// 删除成功则所有创建都必须失败
		for i, err := range createErrs {
			assert.True(t, dcerr.NotFound.Has(err), "create %d: %v", i, err)
		}
	} else {
		assert.True(t, dcerr.NotEmpty.Has(deleteErr), "delete: %v", deleteErr)
	}

	conn := c.store.DB().Conn()
	var orphans int64
	require.NoError(t, conn.Raw(fmt.Sprintf(
		`SELECT COUNT(*) FROM %[1]s f WHERE f.parent_pk IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM %[1]s p WHERE p.pk = f.parent_pk)`, meta.TableFolders)).
		Scan(&orphans).Error)
	assert.Zero(t, orphans)
	require.NoError(t, conn.Raw(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s d WHERE d.parent_type = 'F'
		   AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.pk = d.parent_pk)`, meta.TableDatasets, meta.TableFolders)).
		Scan(&orphans).Error)
	assert.Zero(t, orphans)
	assert.Zero(t, c.Leases().Len())
}

func TestCatalog_Search(t *testing.T) {
	m, err := ignore.NewMatcher([]string{"scratch"}, "")
	require.NoError(t, err)
	c := setupCatalog(t, Options{Ignore: m, SearchMax: 2})
	ctx := context.Background()

	mustMkdir(t, c, "/EXO/scratch", "/EXO/sub", "/LSST")
	mustDataset(t, c, "/EXO/a", model.Metadata{"nRun": model.Integer(10), "tag": model.Text("golden")}, "SLAC")
	mustDataset(t, c, "/EXO/b", model.Metadata{"nRun": model.Integer(20)}, "SLAC")
	mustDataset(t, c, "/EXO/sub/c", model.Metadata{"nRun": model.Integer(30), "tag": model.Text("golden")}, "SLAC")
	mustDataset(t, c, "/EXO/scratch/x", model.Metadata{"nRun": model.Integer(99)}, "SLAC")
	mustDataset(t, c, "/LSST/e", model.Metadata{"nRun": model.Integer(40)}, "SLAC")

	search := func(req SearchRequest) []string {
		t.Helper()
		stream, err := c.Search(ctx, req)
		require.NoError(t, err)
		nodes, err := stream.Collect()
		return collectPaths(t, nodes, err)
	}

	// 1. 忽略规则剪掉 scratch，默认页大小为 2
	got := search(SearchRequest{Targets: []string{"/EXO/**"}, Query: "nRun > 5", Sort: []string{"nRun-"}, View: model.CurrentView()})
	assert.Equal(t, []string{"/EXO/sub/c", "/EXO/b"}, got)

	got = search(SearchRequest{Targets: []string{"/EXO/**"}, Query: "nRun > 5", Sort: []string{"nRun-"}, Offset: 2, View: model.CurrentView()})
	assert.Equal(t, []string{"/EXO/a"}, got)

	// 2. 多个目标去重
	got = search(SearchRequest{Targets: []string{"/EXO", "/EXO", "/LSST"}, Sort: []string{"name+"}, Max: 10, View: model.CurrentView()})
	assert.Equal(t, []string{"/EXO/a", "/EXO/b", "/LSST/e"}, got)

	// 3. 字符串比较
	got = search(SearchRequest{Targets: []string{"/**"}, Query: "tag == 'golden'", Sort: []string{"name"}, Max: 10, View: model.CurrentView()})
	assert.Equal(t, []string{"/EXO/a", "/EXO/sub/c"}, got)

	// 4. 不带元数据的视图仍可以 show 指定名字
	v := model.CurrentView()
	v.IncludeMetadata = false
	stream, err := c.Search(ctx, SearchRequest{Targets: []string{"/EXO"}, Query: "name == 'a'", Show: []string{"tag"}, View: v})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	md := nodes[0].(*model.Dataset).Version.Metadata
	assert.True(t, model.Text("golden").Equal(md["tag"]))
	_, hasRun := md["nRun"]
	assert.False(t, hasRun)

	// 5. 错误
	_, err = c.Search(ctx, SearchRequest{})
	assert.True(t, dcerr.InvalidRequest.Has(err), "缺少目标")
	_, err = c.Search(ctx, SearchRequest{Targets: []string{"/nowhere/*"}})
	assert.True(t, dcerr.NotFound.Has(err))
	_, err = c.Search(ctx, SearchRequest{Targets: []string{"/EXO"}, Query: "nRun >"})
	assert.True(t, dcerr.InvalidRequest.Has(err))
	_, err = c.Search(ctx, SearchRequest{Targets: []string{"/EXO"}, Sort: []string{"nope-"}})
	assert.True(t, dcerr.InvalidRequest.Has(err))
	_, err = c.Search(ctx, SearchRequest{Targets: []string{"/EXO"}, Max: -1})
	assert.True(t, dcerr.InvalidRequest.Has(err))
}

func TestCatalog_NewMetanamesSearchable(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO")
	mustDataset(t, c, "/EXO/a", nil)

	_, err := c.CreateVersion(ctx, "/EXO/a", store.NewVersion{
		VersionID: types.VersionNew,
		Metadata:  model.Metadata{"alpha.energy": model.Decimal(1.5)},
	})
	require.NoError(t, err)

	// 不需要 ReloadMetanames
	stream, err := c.Search(ctx, SearchRequest{Targets: []string{"/EXO"}, Query: "alpha.energy > 1", View: model.CurrentView()})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	assert.Equal(t, []string{"/EXO/a"}, collectPaths(t, nodes, err))

	var found bool
	for _, g := range c.Metanames() {
		for _, name := range g.Names {
			found = found || name == "alpha.energy"
		}
	}
	assert.True(t, found)
	require.NoError(t, c.ReloadMetanames(ctx))
}

func TestCatalog_ScanLocation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "run1.root")
	data := []byte("event data")
	require.NoError(t, os.WriteFile(file, data, 0644))

	scanners := scan.NewRegistry()
	scanners.Register("file", disk.NewScanner(dir))
	c := setupCatalog(t, Options{Scanners: scanners})
	ctx := context.Background()
	mustMkdir(t, c, "/EXO")

	_, err := c.CreateDataset(ctx, "/EXO/run1", store.NewDataset{
		Version: &store.NewVersion{VersionID: types.VersionNew, Locations: []store.NewLocation{
			{Site: "SLAC", Resource: file},
			{Site: "IN2P3", Resource: "xroot://in2p3.fr/run1.root"},
		}},
	})
	require.NoError(t, err)

	// 1. 主位置
	loc, err := c.ScanLocation(ctx, "/EXO/run1", types.VersionCurrent, "master")
	require.NoError(t, err)
	assert.Equal(t, "SLAC", loc.Site)
	assert.Equal(t, scan.StatusOK, loc.ScanStatus)
	assert.Equal(t, int64(len(data)), loc.Size)
	require.NotNil(t, loc.Checksum)
	assert.Equal(t, int64(crc32.ChecksumIEEE(data)), *loc.Checksum)
	require.NotNil(t, loc.Scanned)
	assert.True(t, fixedNow.Equal(*loc.Scanned))

	// 视图看到回填后的值
	node, err := c.Get(ctx, "/EXO/run1", model.CurrentView())
	require.NoError(t, err)
	got, ok := node.(*model.Dataset).Version.Location("SLAC")
	require.True(t, ok)
	assert.Equal(t, int64(len(data)), got.Size)

	// 2. 文件被删掉
	require.NoError(t, os.Remove(file))
	loc, err = c.ScanLocation(ctx, "/EXO/run1", types.VersionCurrent, "SLAC")
	require.NoError(t, err)
	assert.Equal(t, scan.StatusMissing, loc.ScanStatus)
	assert.Equal(t, int64(len(data)), loc.Size, "MISSING 不改大小")

	// 3. 没有对应 scheme 的扫描器
	_, err = c.ScanLocation(ctx, "/EXO/run1", types.VersionCurrent, "IN2P3")
	assert.True(t, dcerr.InvalidRequest.Has(err))

	// 4. 站点不存在
	_, err = c.ScanLocation(ctx, "/EXO/run1", types.VersionCurrent, "CERN")
	assert.True(t, dcerr.NotFound.Has(err))
}

func TestCatalog_Register(t *testing.T) {
	c := setupCatalog(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, store.DataTypes, store.Registration{Name: "RAW"}))
	err := c.Register(ctx, store.DataTypes, store.Registration{Name: "RAW"})
	assert.True(t, dcerr.AlreadyExists.Has(err))
	err = c.Register(ctx, store.DataTypes, store.Registration{})
	assert.True(t, dcerr.InvalidRequest.Has(err))

	got, err := c.Registered(ctx, store.DataTypes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "RAW", got[0].Name)

	// 未登记的数据类型
	mustMkdir(t, c, "/EXO")
	_, err = c.CreateDataset(ctx, "/EXO/d", store.NewDataset{DataType: "MERIT"})
	assert.True(t, dcerr.InvalidRequest.Has(err))
	_, err = c.CreateDataset(ctx, "/EXO/d", store.NewDataset{DataType: "RAW"})
	assert.NoError(t, err)
}

func TestInstances_Evicts(t *testing.T) {
	lru := newInstances[int](2)
	created := 0
	get := func(key string) int {
		return lru.Get(key, func() int { created++; return created })
	}

	assert.Equal(t, 1, get("a"))
	assert.Equal(t, 2, get("b"))
	assert.Equal(t, 1, get("a"), "命中不重新创建")
	assert.Equal(t, 3, get("c"), "b 最久未用，被淘汰")

	_, ok := lru.Peek("b")
	assert.False(t, ok)
	_, ok = lru.Peek("a")
	assert.True(t, ok)

	lru.Delete("a")
	assert.Equal(t, 1, lru.Len())
	assert.Equal(t, 4, get("a"))
}
