package view

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"datacat/pkg/dcerr"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 内存版本源，记录读取次数
type fakeSource struct {
	versions map[int64]*model.DatasetVersion
	latest   int64
	calls    atomic.Int32
	delay    time.Duration
}

func (f *fakeSource) Version(_ context.Context, _ types.Pk, versionID int64) (*model.DatasetVersion, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if versionID == types.VersionCurrent {
		versionID = f.latest
	}
	v, ok := f.versions[versionID]
	if !ok {
		return nil, dcerr.NotFound.New("version %d not found", versionID)
	}
	return v.Clone(), nil
}

func newFixture() (*fakeSource, *model.Dataset) {
	src := &fakeSource{
		latest: 2,
		versions: map[int64]*model.DatasetVersion{
			1: {Pk: 10, VersionID: 1, Metadata: model.Metadata{}, Locations: []model.DatasetLocation{}},
			2: {
				Pk: 20, VersionID: 2, Latest: true,
				Metadata: model.Metadata{"run": model.Integer(6200)},
				Locations: []model.DatasetLocation{
					{Pk: 100, Site: "SLAC", Master: true},
					{Pk: 101, Site: "NERSC"},
				},
			},
		},
	}
	ds := &model.Dataset{NodeInfo: model.NodeInfo{Pk: 7, Name: "ds", Path: "/EXO/ds"}}
	return src, ds
}

func view(versionID int64, sel model.SiteSelector, md bool) model.DatasetView {
	return model.DatasetView{VersionID: versionID, Site: sel, IncludeMetadata: md}
}

func TestResolver_EmptyViewReturnsBareNode(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)

	got, err := r.Resolve(context.Background(), model.EmptyView())
	require.NoError(t, err)
	assert.Nil(t, got.Version)
	assert.Equal(t, "/EXO/ds", got.Path)
	assert.Zero(t, src.calls.Load())
}

func TestResolver_CacheHitEqualsMiss(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.CurrentView())
	require.NoError(t, err)
	second, err := r.Resolve(ctx, model.CurrentView())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())

	// latest 版本同时登记在显式键下
	_, err = r.Resolve(ctx, view(2, model.SiteSelector{Mode: model.SitesAll}, true))
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	r.Clear()
	_, err = r.Resolve(ctx, model.CurrentView())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestResolver_MetadataMasking(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)
	ctx := context.Background()

	masked, err := r.Resolve(ctx, view(types.VersionCurrent, model.SiteSelector{Mode: model.SitesZeroOrMore}, false))
	require.NoError(t, err)
	assert.Empty(t, masked.Version.Metadata)

	// 缓存条目不受影响
	full, err := r.Resolve(ctx, model.CurrentView())
	require.NoError(t, err)
	assert.Len(t, full.Version.Metadata, 1)
}

func TestResolver_SiteSelectors(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		versionID int64
		sel       model.SiteSelector
		sites     []string
		notFound  bool
	}{
		{"all", 2, model.SiteSelector{Mode: model.SitesAll}, []string{"SLAC", "NERSC"}, false},
		{"specific", 2, model.SiteSelector{Mode: model.SitesSpecific, Site: "NERSC"}, []string{"NERSC"}, false},
		{"master", 2, model.ParseSite("master"), []string{"SLAC"}, false},
		{"zero", 2, model.SiteSelector{Mode: model.SitesZero}, nil, false},
		{"missing site", 2, model.SiteSelector{Mode: model.SitesSpecific, Site: "IN2P3"}, nil, true},
		{"missing site tolerated", 2, model.SiteSelector{Mode: model.SitesSpecific, Site: "IN2P3", Tolerant: true}, nil, false},
		{"all without locations", 1, model.SiteSelector{Mode: model.SitesAll}, nil, true},
		{"specific without locations", 1, model.SiteSelector{Mode: model.SitesSpecific, Site: "SLAC"}, nil, true},
		{"zero or more without locations", 1, model.SiteSelector{Mode: model.SitesZeroOrMore}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, view(tt.versionID, tt.sel, true))
			if tt.notFound {
				assert.True(t, dcerr.NotFound.Has(err), "expected NotFound, got %v", err)
				return
			}
			require.NoError(t, err)
			var sites []string
			for _, l := range got.Version.Locations {
				sites = append(sites, l.Site)
			}
			assert.Equal(t, tt.sites, sites)
		})
	}
}

func TestResolver_UnknownVersion(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)

	_, err := r.Resolve(context.Background(), view(9, model.SiteSelector{Mode: model.SitesZero}, true))
	assert.True(t, dcerr.NotFound.Has(err))
	assert.Contains(t, err.Error(), "version 9 not found")
}

func TestResolver_ConcurrentMissesShareOneRead(t *testing.T) {
	src, ds := newFixture()
	src.delay = 20 * time.Millisecond
	r := NewResolver(ds, src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), model.CurrentView())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_Seed(t *testing.T) {
	src, ds := newFixture()
	r := NewResolver(ds, src, nil)
	r.Seed(src.versions[2])

	got, err := r.Resolve(context.Background(), model.CurrentView())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version.VersionID)
	assert.Zero(t, src.calls.Load())
}
