package store

import (
	"context"
	"strings"
	"testing"

	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searchTree 构建:
//
//	/EXO/a (nRun=10)  /EXO/b (nRun=20)  /EXO/runs/c (nRun=30)
//	/EXO/sub/d        /EXO/scratch/x    /LSST/e
func searchTree(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	root := mustRoot(t, s)
	exo := mustFolder(t, s, root, "EXO")
	lsst := mustFolder(t, s, root, "LSST")
	sub := mustFolder(t, s, exo, "sub")
	scratch := mustFolder(t, s, exo, "scratch")
	runs, err := s.CreateGroup(ctx, exo, NewContainer{Name: "runs"})
	require.NoError(t, err)

	mustDataset(t, s, exo, "a", model.Metadata{"nRun": model.Integer(10), "tag": model.Text("golden")}, "SLAC")
	mustDataset(t, s, exo, "b", model.Metadata{"nRun": model.Integer(20)}, "SLAC", "IN2P3")
	mustDataset(t, s, runs, "c", model.Metadata{"nRun": model.Integer(30), "tag": model.Text("golden")})
	mustDataset(t, s, sub, "d", nil)
	mustDataset(t, s, scratch, "x", model.Metadata{"nRun": model.Integer(99)})
	mustDataset(t, s, lsst, "e", model.Metadata{"nRun": model.Integer(40)})
}

func paths(nodes []model.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Info().Path
	}
	return out
}

func TestStore_Containers(t *testing.T) {
	s := setupTestStore(t)
	searchTree(t, s)
	ctx := context.Background()

	got, err := s.Containers(ctx, "/EXO/*", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/EXO/runs", "/EXO/scratch", "/EXO/sub"}, paths(got), "数据集不是目标")

	got, err = s.Containers(ctx, "/EXO/s*", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/EXO/scratch", "/EXO/sub"}, paths(got))

	scratch := func(p string) bool { return strings.HasSuffix(p, "/scratch") }
	got, err = s.Containers(ctx, "/**", scratch)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/EXO", "/EXO/runs", "/EXO/sub", "/LSST"}, paths(got))

	got, err = s.Containers(ctx, "/EXO", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/EXO"}, paths(got))

	_, err = s.Containers(ctx, "/EXO/a", nil)
	assert.True(t, dcerr.InvalidRequest.Has(err))

	_, err = s.Containers(ctx, "/NOPE/*", nil)
	assert.True(t, dcerr.NotFound.Has(err))

	_, err = s.Containers(ctx, "/EXO/[", nil)
	assert.True(t, dcerr.InvalidRequest.Has(err))
}

func compileFor(t *testing.T, s *Store, sel *query.Select, q string) *query.Predicate {
	t.Helper()
	names := query.NewMetanames()
	require.NoError(t, names.Load(context.Background(), s.DB().Conn()))
	root, err := query.Parse(q)
	require.NoError(t, err)
	pred, err := query.NewCompiler(nil, names, nil).Compile(root, sel)
	require.NoError(t, err)
	return &pred
}

func TestStore_Search(t *testing.T) {
	s := setupTestStore(t)
	searchTree(t, s)
	ctx := context.Background()

	targets, err := s.Containers(ctx, "/EXO/**", func(p string) bool { return strings.HasSuffix(p, "/scratch") })
	require.NoError(t, err)

	view := model.CurrentView()
	sel := s.SearchSelect(view)
	pred := compileFor(t, s, sel, "nRun > 15")

	stream, err := s.Search(ctx, SearchPlan{
		Targets: targets, Select: sel, Filter: pred, View: view, Max: 100,
		Order: []OrderBy{{Expr: query.Expr{SQL: "d.name"}, Desc: true}},
	})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"/EXO/runs/c", "/EXO/b"}, paths(nodes))

	b := nodes[1].(*model.Dataset)
	require.NotNil(t, b.Version)
	assert.True(t, model.Integer(20).Equal(b.Version.Metadata["nRun"]))
	assert.Len(t, b.Version.Locations, 2)
}

func TestStore_SearchPaging(t *testing.T) {
	s := setupTestStore(t)
	searchTree(t, s)
	ctx := context.Background()

	targets, err := s.Containers(ctx, "/**", nil)
	require.NoError(t, err)

	run := func(offset, max int) []string {
		sel := s.SearchSelect(model.CurrentView())
		stream, err := s.Search(ctx, SearchPlan{
			Targets: targets, Select: sel, View: model.CurrentView(),
			Order:  []OrderBy{{Expr: query.Expr{SQL: "d.name"}}},
			Offset: offset, Max: max,
		})
		require.NoError(t, err)
		nodes, err := stream.Collect()
		require.NoError(t, err)
		return paths(nodes)
	}

	assert.Equal(t, []string{"/EXO/a", "/EXO/b"}, run(0, 2))
	assert.Equal(t, []string{"/EXO/runs/c", "/EXO/sub/d"}, run(2, 2))
	assert.Equal(t, []string{"/LSST/e", "/EXO/scratch/x"}, run(4, 10))
	assert.Empty(t, run(10, 10))
}

func TestStore_SearchShowsSelectedMetadata(t *testing.T) {
	s := setupTestStore(t)
	searchTree(t, s)
	ctx := context.Background()

	exo := mustResolve(t, s, "/EXO")
	view := model.CurrentView()
	view.IncludeMetadata = false
	view.Site = model.SiteSelector{Mode: model.SitesZero}

	sel := s.SearchSelect(view)
	pred := compileFor(t, s, sel, `tag == "golden"`)
	stream, err := s.Search(ctx, SearchPlan{
		Targets: []model.Node{exo}, Select: sel, Filter: pred, View: view,
		Show: []string{"tag"}, Max: 10,
	})
	require.NoError(t, err)
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	a := nodes[0].(*model.Dataset)
	assert.Equal(t, "/EXO/a", a.Path)
	require.NotNil(t, a.Version)
	assert.Len(t, a.Version.Metadata, 1, "只带出 show 指定的名字")
	assert.Empty(t, a.Version.Locations)
}

func TestStore_SearchRejectsBadPlan(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	root := mustRoot(t, s)
	sel := s.SearchSelect(model.CurrentView())

	_, err := s.Search(ctx, SearchPlan{Select: sel, Max: 1})
	assert.True(t, dcerr.InvalidRequest.Has(err))

	_, err = s.Search(ctx, SearchPlan{Targets: []model.Node{root}, Select: sel})
	assert.True(t, dcerr.InvalidRequest.Has(err))

	_, err = s.Search(ctx, SearchPlan{Targets: []model.Node{root}, Select: sel, Max: 1, Offset: -1})
	assert.True(t, dcerr.InvalidRequest.Has(err))
}
