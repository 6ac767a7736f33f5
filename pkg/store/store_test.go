package store

import (
	"context"
	"testing"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ContainerRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)

	created, err := s.CreateFolder(ctx, root, NewContainer{Name: "EXO", Description: "experiment"})
	require.NoError(t, err)

	node, err := s.GetChild(ctx, root, "EXO")
	require.NoError(t, err)
	assert.Equal(t, "EXO", node.Info().Name)
	assert.Equal(t, root.Pk, node.Info().ParentPk)
	assert.Equal(t, "/EXO", node.Info().Path)
	assert.Equal(t, created.Pk, node.Info().Pk)

	grp, err := s.CreateGroup(ctx, node, NewContainer{Name: "runs", ACL: []string{"alice", "bob"}})
	require.NoError(t, err)

	resolved := mustResolve(t, s, "/EXO/runs")
	assert.Equal(t, types.TypeGroup, resolved.Type())
	assert.Equal(t, grp.Pk, resolved.Info().Pk)
	assert.Equal(t, created.Pk, resolved.Info().ParentPk)
	assert.Equal(t, "alice,bob", resolved.Info().ACL)

	byPk, err := s.Get(ctx, types.TypeGroup, grp.Pk)
	require.NoError(t, err)
	assert.Equal(t, "/EXO/runs", byPk.Info().Path)

	_, err = s.Resolve(ctx, "/EXO/missing")
	assert.True(t, dcerr.NotFound.Has(err))
}

func TestStore_CreateRules(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	exo := mustFolder(t, s, root, "EXO")

	grp, err := s.CreateGroup(ctx, exo, NewContainer{Name: "grp"})
	require.NoError(t, err)

	_, err = s.CreateGroup(ctx, grp, NewContainer{Name: "nested"})
	assert.True(t, dcerr.InvalidRequest.Has(err), "groups only live in folders")

	_, err = s.CreateFolder(ctx, exo, NewContainer{Name: "grp"})
	assert.True(t, dcerr.AlreadyExists.Has(err), "names are unique across node types")

	mustFolder(t, s, exo, "data")
	_, err = s.CreateFolder(ctx, exo, NewContainer{Name: "data"})
	assert.True(t, dcerr.AlreadyExists.Has(err))

	_, err = s.CreateDataset(ctx, exo, NewDataset{Name: "ds", DataType: "RAW"})
	assert.True(t, dcerr.InvalidRequest.Has(err), "unregistered data type")

	mustRegister(t, s, DataTypes, "RAW")
	ds, err := s.CreateDataset(ctx, grp, NewDataset{Name: "ds", DataType: "RAW"})
	require.NoError(t, err)
	assert.Equal(t, types.TypeGroup, ds.ParentType)
	assert.Equal(t, "/EXO/grp/ds", ds.Path)
	assert.Nil(t, ds.Version)
}

func TestStore_ChildrenAssemblesVersions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	exo := mustFolder(t, s, root, "EXO")
	mustFolder(t, s, exo, "sub")
	_, err := s.CreateGroup(ctx, exo, NewContainer{Name: "grp"})
	require.NoError(t, err)

	mustDataset(t, s, exo, "D1", nil)
	d2 := mustDataset(t, s, exo, "D2", model.Metadata{"old": model.Text("v0")})
	_, err = s.CreateVersion(ctx, d2, NewVersion{VersionID: types.VersionNew})
	require.NoError(t, err)
	v2, err := s.CreateVersion(ctx, d2, NewVersion{
		VersionID: types.VersionNew,
		Metadata:  model.Metadata{"run": model.Integer(6200), "tag": model.Text("golden")},
		Locations: []NewLocation{
			{Site: "A", Resource: "/a/d2"},
			{Site: "B", Resource: "/b/d2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.VersionID)
	assert.True(t, v2.Latest)

	stream, err := s.Children(ctx, exo, model.CurrentView())
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Info().Name
	}
	assert.Equal(t, []string{"D1", "D2", "grp", "sub"}, names)

	d1 := nodes[0].(*model.Dataset)
	require.NotNil(t, d1.Version)
	assert.Equal(t, int64(0), d1.Version.VersionID)
	assert.Empty(t, d1.Version.Metadata)
	assert.Empty(t, d1.Version.Locations)

	got := nodes[1].(*model.Dataset)
	require.NotNil(t, got.Version)
	assert.Equal(t, int64(2), got.Version.VersionID)
	assert.True(t, got.Version.Latest)
	assert.Len(t, got.Version.Metadata, 2)
	assert.True(t, model.Integer(6200).Equal(got.Version.Metadata["run"]))
	assert.True(t, model.Text("golden").Equal(got.Version.Metadata["tag"]))
	require.Len(t, got.Version.Locations, 2)
	assert.Equal(t, "A", got.Version.Locations[0].Site)
	assert.True(t, got.Version.Locations[0].Master)
	assert.False(t, got.Version.Locations[1].Master)

	// 指定版本号的视图
	view := model.CurrentView()
	view.VersionID = 0
	stream, err = s.Children(ctx, exo, view)
	require.NoError(t, err)
	nodes, err = stream.Collect()
	require.NoError(t, err)
	old := nodes[1].(*model.Dataset).Version
	require.NotNil(t, old)
	assert.Equal(t, int64(0), old.VersionID)
	assert.False(t, old.Latest)
	assert.True(t, model.Text("v0").Equal(old.Metadata["old"]))

	// 空视图只给裸节点
	stream, err = s.Children(ctx, exo, model.EmptyView())
	require.NoError(t, err)
	nodes, err = stream.Collect()
	require.NoError(t, err)
	assert.Nil(t, nodes[1].(*model.Dataset).Version)
}

func TestStore_VersionAllocation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	ds := mustDataset(t, s, root, "ds", nil)

	v5, err := s.CreateVersion(ctx, ds, NewVersion{VersionID: 5})
	require.NoError(t, err)
	assert.True(t, v5.Latest)

	v3, err := s.CreateVersion(ctx, ds, NewVersion{VersionID: 3})
	require.NoError(t, err)
	assert.False(t, v3.Latest, "a lower explicit id does not move the current marker")

	v6, err := s.CreateVersion(ctx, ds, NewVersion{VersionID: types.VersionNew})
	require.NoError(t, err)
	assert.Equal(t, int64(6), v6.VersionID)

	_, err = s.CreateVersion(ctx, ds, NewVersion{VersionID: 5})
	assert.True(t, dcerr.AlreadyExists.Has(err))

	all, err := s.Versions(ctx, ds.Pk)
	require.NoError(t, err)
	ids := make([]int64, len(all))
	latest := 0
	for i, v := range all {
		ids[i] = v.VersionID
		if v.Latest {
			latest++
		}
	}
	assert.Equal(t, []int64{6, 5, 3, 0}, ids)
	assert.Equal(t, 1, latest, "exactly one version is latest")

	require.NoError(t, s.DeleteVersion(ctx, ds, 6))
	cur, err := s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cur.VersionID)

	_, err = s.Version(ctx, ds.Pk, 6)
	assert.True(t, dcerr.NotFound.Has(err))

	for _, id := range []int64{5, 3} {
		require.NoError(t, s.DeleteVersion(ctx, ds, id))
	}
	err = s.DeleteVersion(ctx, ds, 0)
	assert.True(t, dcerr.InvalidRequest.Has(err), "the only version cannot be deleted")
}

func TestStore_LocationMaster(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	ds := mustDataset(t, s, root, "ds", nil, "SLAC")

	loc, err := s.CreateLocation(ctx, ds, types.VersionCurrent, NewLocation{Site: "IN2P3", Resource: "/in2p3/ds", Master: true})
	require.NoError(t, err)
	assert.True(t, loc.Master)

	_, err = s.CreateLocation(ctx, ds, types.VersionCurrent, NewLocation{Site: "IN2P3", Resource: "/dup"})
	assert.True(t, dcerr.AlreadyExists.Has(err))

	_, err = s.CreateLocation(ctx, ds, types.VersionCurrent, NewLocation{Site: "NERSC", Resource: "/nersc/ds"})
	require.NoError(t, err)

	ver, err := s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	master, ok := ver.Master()
	require.True(t, ok)
	assert.Equal(t, "IN2P3", master.Site)

	require.NoError(t, s.DeleteLocation(ctx, ds, types.VersionCurrent, "IN2P3"))
	ver, err = s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	master, ok = ver.Master()
	require.True(t, ok)
	assert.Equal(t, "SLAC", master.Site, "earliest remaining location becomes master")

	err = s.DeleteLocation(ctx, ds, types.VersionCurrent, "IN2P3")
	assert.True(t, dcerr.NotFound.Has(err))
}

func TestStore_Patch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)

	f, err := s.CreateFolder(ctx, root, NewContainer{
		Name:     "EXO",
		Metadata: model.Metadata{"owner": model.Text("alice"), "priority": model.Integer(1)},
	})
	require.NoError(t, err)

	err = s.PatchContainer(ctx, f, Patch{
		Fields: map[string]any{"description": "updated", "acl": "g1, g2"},
		Metadata: model.Metadata{
			"owner":    {},
			"priority": model.Decimal(2.5),
			"since":    model.Timestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		},
	})
	require.NoError(t, err)

	got := mustResolve(t, s, "/EXO").(*model.Folder)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, "g1,g2", got.ACL)
	assert.NotContains(t, got.Metadata, "owner")
	assert.True(t, model.Decimal(2.5).Equal(got.Metadata["priority"]))
	assert.Equal(t, 2024, got.Metadata["since"].Time.Year())

	err = s.PatchContainer(ctx, f, Patch{Fields: map[string]any{"name": "other"}})
	assert.True(t, dcerr.InvalidRequest.Has(err))

	ds := mustDataset(t, s, f, "ds", nil, "SLAC", "NERSC")
	err = s.PatchLocation(ctx, ds, types.VersionCurrent, "NERSC", Patch{Fields: map[string]any{
		"size": float64(2048), "checksum": "ff", "scanStatus": "OK", "master": true,
	}})
	require.NoError(t, err)

	ver, err := s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	loc, ok := ver.Location("NERSC")
	require.True(t, ok)
	assert.Equal(t, int64(2048), loc.Size)
	assert.Equal(t, "ff", loc.ChecksumHex())
	assert.Equal(t, "OK", loc.ScanStatus)
	assert.True(t, loc.Master)

	err = s.PatchLocation(ctx, ds, types.VersionCurrent, "NERSC", Patch{Fields: map[string]any{"master": false}})
	assert.True(t, dcerr.InvalidRequest.Has(err))

	err = s.PatchVersion(ctx, ds, types.VersionCurrent, Patch{Fields: map[string]any{"datasetSource": "MC"}})
	assert.True(t, dcerr.InvalidRequest.Has(err), "unregistered source")
	mustRegister(t, s, DatasetSources, "MC")
	require.NoError(t, s.PatchVersion(ctx, ds, types.VersionCurrent, Patch{
		Fields:   map[string]any{"datasetSource": "MC"},
		Metadata: model.Metadata{"nRun": model.Integer(42)},
	}))
	ver, err = s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	assert.Equal(t, "MC", ver.DatasetSource)
	assert.True(t, model.Integer(42).Equal(ver.Metadata["nRun"]))
}

func TestPatchableFields(t *testing.T) {
	assert.Equal(t, []string{"acl", "description"}, PatchableFields("container"))
	assert.Equal(t, []string{"datasetSource"}, PatchableFields("version"))
	assert.Contains(t, PatchableFields("location"), "master")
	assert.Nil(t, PatchableFields("tape"))
}

func TestStore_NumericWidening(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	ds := mustDataset(t, s, root, "ds", model.Metadata{
		"int": model.Integer(24),
		"dec": model.Decimal(2.5),
		// 没有小数部分的小数读回来是整数
		"whole": model.Decimal(24.0),
	})

	ver, err := s.Version(ctx, ds.Pk, types.VersionCurrent)
	require.NoError(t, err)
	assert.Equal(t, model.KindInteger, ver.Metadata["int"].Kind)
	assert.Equal(t, model.KindDecimal, ver.Metadata["dec"].Kind)
	assert.Equal(t, model.KindInteger, ver.Metadata["whole"].Kind)
	assert.Equal(t, int64(24), ver.Metadata["whole"].Int)

	_, err = s.CreateVersion(ctx, ds, NewVersion{
		VersionID: types.VersionNew,
		Metadata:  model.Metadata{"bad": model.List(model.Integer(1))},
	})
	assert.True(t, dcerr.InvalidRequest.Has(err))
}

func TestStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	exo := mustFolder(t, s, root, "EXO")
	ds := mustDataset(t, s, exo, "ds", model.Metadata{"k": model.Text("v")}, "SLAC")

	assert.True(t, dcerr.InvalidRequest.Has(s.DeleteContainer(ctx, root)))
	assert.True(t, dcerr.NotEmpty.Has(s.DeleteContainer(ctx, exo)))

	require.NoError(t, s.DeleteDataset(ctx, ds))
	require.NoError(t, s.DeleteContainer(ctx, exo))

	_, err := s.Resolve(ctx, "/EXO")
	assert.True(t, dcerr.NotFound.Has(err))

	var orphans int64
	require.NoError(t, s.DB().Conn().Table("version_meta_string").Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestStore_CreateUnderDeletedParent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	mustFolder(t, s, root, "a")

	// 父节点在解析之后被删掉，手里拿的是旧句柄
	stale := mustResolve(t, s, "/a")
	require.NoError(t, s.DeleteContainer(ctx, stale))

	_, err := s.CreateFolder(ctx, stale, NewContainer{Name: "x"})
	assert.True(t, dcerr.NotFound.Has(err), "err: %v", err)
	_, err = s.CreateGroup(ctx, stale, NewContainer{Name: "g"})
	assert.True(t, dcerr.NotFound.Has(err), "err: %v", err)
	_, err = s.CreateDataset(ctx, stale, NewDataset{Name: "d"})
	assert.True(t, dcerr.NotFound.Has(err), "err: %v", err)

	// 删除同样要求自己还在
	assert.True(t, dcerr.NotFound.Has(s.DeleteContainer(ctx, stale)))

	var folders int64
	require.NoError(t, s.DB().Conn().Table(meta.TableFolders).Count(&folders).Error)
	assert.Equal(t, int64(1), folders)
}

func TestStore_Stats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	exo := mustFolder(t, s, root, "EXO")
	mustFolder(t, s, exo, "sub")

	mustDataset(t, s, exo, "a", nil, "SLAC")
	mustDataset(t, s, exo, "b", nil, "SLAC", "NERSC")
	// 没有位置的数据集不计入 DATASET 统计
	mustDataset(t, s, exo, "c", nil)

	basic, err := s.BasicStat(ctx, exo)
	require.NoError(t, err)
	assert.Equal(t, model.BasicStat{Datasets: 3, Groups: 0, Folders: 1}, basic)

	st, err := s.DatasetStat(ctx, exo)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Files)
	assert.Equal(t, int64(200), st.Size)
	assert.Equal(t, int64(20), st.EventCount)
	assert.Nil(t, st.RunMin)
}

func TestStore_Registry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterFileFormat(ctx, Registration{Name: "root", Properties: map[string]any{"ext": ".root"}}))
	err := s.RegisterFileFormat(ctx, Registration{Name: "root"})
	assert.True(t, dcerr.AlreadyExists.Has(err))

	require.NoError(t, s.RegisterFileFormat(ctx, Registration{Name: "fits"}))
	list, err := s.Registered(ctx, FileFormats)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fits", list[0].Name)
	assert.Equal(t, ".root", list[1].Properties["ext"])

	_, err = ParseRegistry("nope")
	assert.True(t, dcerr.InvalidRequest.Has(err))
}
