package cursor

import (
	"errors"
	"testing"
	"time"

	"datacat/pkg/model"
	"datacat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// sliceCursor：内存游标，记录 Next / Close 调用，用于验证“只消费一次、全部关闭”
// -----------------------------------------------------------------------------
type sliceCursor struct {
	rows    []Record
	pos     int
	nexts   int
	closes  int
	closed  bool
	failAt  int // >0 时在第 failAt 次 Next 返回错误
	lastErr error
}

func newSliceCursor(rows ...Record) *sliceCursor {
	return &sliceCursor{rows: rows, pos: -1}
}

func (c *sliceCursor) Next() bool {
	if c.closed {
		return false
	}
	c.nexts++
	if c.failAt > 0 && c.nexts == c.failAt {
		c.lastErr = errors.New("connection reset")
		return false
	}
	c.pos++
	return c.pos < len(c.rows)
}

func (c *sliceCursor) Record() Record { return c.rows[c.pos] }
func (c *sliceCursor) Err() error     { return c.lastErr }

func (c *sliceCursor) Close() error {
	if !c.closed {
		c.closes++
	}
	c.closed = true
	return nil
}

func datasetRow(pk int64, name string) Record {
	return Record{"type": "D", "pk": pk, "name": name, "parent_pk": int64(1), "parent_type": "F", "created": time.Now()}
}

func versionRow(dsPk, verPk, versionID int64, mdType, mdName string, value any) Record {
	rec := Record{
		"dataset_pk": dsPk, "version_pk": verPk, "version_id": versionID,
		"dataset_source": "EXO", "latest": int64(1),
		"md_type": nil, "md_name": nil, "md_string": nil, "md_number": nil, "md_timestamp": nil,
	}
	if mdName != "" {
		rec["md_type"] = mdType
		rec["md_name"] = mdName
		switch mdType {
		case MetaString:
			rec["md_string"] = value
		case MetaNumber:
			rec["md_number"] = value
		case MetaTimestamp:
			rec["md_timestamp"] = value
		}
	}
	return rec
}

func locationRow(verPk, locPk int64, site string, master bool) Record {
	m := int64(0)
	if master {
		m = 1
	}
	return Record{"version_pk": verPk, "location_pk": locPk, "site": site, "resource": "/data/" + site, "size": int64(10), "master": m}
}

func TestAssemble_MergesCorrelatedCursors(t *testing.T) {
	primary := newSliceCursor(
		datasetRow(1, "D1"),
		datasetRow(2, "D2"),
	)
	versions := newSliceCursor(
		versionRow(1, 10, 1, "", "", nil),
		versionRow(2, 30, 3, MetaNumber, "run", int64(6200)),
		versionRow(2, 30, 3, MetaString, "tag", "golden"),
	)
	locations := newSliceCursor(
		locationRow(30, 100, "A", true),
		locationRow(30, 101, "B", false),
	)

	closed := false
	stream := Assemble(primary, versions, locations, Options{
		PathOf: func(_ types.RecordType, _ types.Pk, name string) string { return "/EXO/" + name },
		OnClose: func() error {
			closed = true
			return nil
		},
	})

	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	d1 := nodes[0].(*model.Dataset)
	assert.Equal(t, "D1", d1.Name)
	assert.Equal(t, "/EXO/D1", d1.Path)
	require.NotNil(t, d1.Version)
	assert.Equal(t, int64(1), d1.Version.VersionID)
	assert.Empty(t, d1.Version.Metadata)
	assert.Empty(t, d1.Version.Locations)

	d2 := nodes[1].(*model.Dataset)
	require.NotNil(t, d2.Version)
	assert.Equal(t, int64(3), d2.Version.VersionID)
	assert.Len(t, d2.Version.Metadata, 2)
	assert.Equal(t, model.Integer(6200).Int, d2.Version.Metadata["run"].Int)
	assert.Equal(t, "golden", d2.Version.Metadata["tag"].Text)
	require.Len(t, d2.Version.Locations, 2)
	assert.Equal(t, "A", d2.Version.Locations[0].Site)
	assert.True(t, d2.Version.Locations[0].Master)
	assert.Equal(t, "B", d2.Version.Locations[1].Site)

	// 每个游标的每一行只读一次 (+1 次发现耗尽)，全部关闭
	assert.Equal(t, 3, primary.nexts)
	assert.Equal(t, 4, versions.nexts)
	assert.Equal(t, 3, locations.nexts)
	for _, c := range []*sliceCursor{primary, versions, locations} {
		assert.Equal(t, 1, c.closes)
	}
	assert.True(t, closed)
}

func TestAssemble_EarlyCloseClosesEverything(t *testing.T) {
	primary := newSliceCursor(datasetRow(1, "a"), datasetRow(2, "b"))
	versions := newSliceCursor(versionRow(1, 10, 1, "", "", nil), versionRow(2, 20, 1, "", "", nil))
	locations := newSliceCursor()

	stream := Assemble(primary, versions, locations, Options{})
	for n, err := range stream.All() {
		require.NoError(t, err)
		assert.Equal(t, "a", n.Info().Name)
		break
	}

	assert.True(t, primary.closed)
	assert.True(t, versions.closed)
	assert.True(t, locations.closed)
	assert.False(t, stream.Next(), "closed stream must not advance")
}

func TestAssemble_ContainersAndMissingVersions(t *testing.T) {
	primary := newSliceCursor(
		Record{"type": "F", "pk": int64(5), "name": "Data", "description": "raw data"},
		datasetRow(7, "no-version"),
		Record{"type": "G", "pk": int64(6), "name": "Runs"},
		datasetRow(8, "x"),
	)
	// 只有 pk=8 有版本；pk=7 请求的版本不存在
	versions := newSliceCursor(versionRow(8, 80, 2, MetaTimestamp, "taken", "2024-01-02 03:04:05+00:00"))

	stream := Assemble(primary, versions, nil, Options{})
	nodes, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	folder := nodes[0].(*model.Folder)
	assert.Equal(t, "raw data", folder.Description)
	assert.Nil(t, nodes[1].(*model.Dataset).Version)
	assert.Equal(t, types.TypeGroup, nodes[2].Type())

	ver := nodes[3].(*model.Dataset).Version
	require.NotNil(t, ver)
	assert.Equal(t, model.KindTimestamp, ver.Metadata["taken"].Kind)
	assert.Equal(t, 2024, ver.Metadata["taken"].Time.Year())
	assert.Empty(t, ver.Locations)
}

func TestAssemble_CursorErrorSurfaces(t *testing.T) {
	primary := newSliceCursor(datasetRow(1, "a"), datasetRow(2, "b"))
	primary.failAt = 2
	versions := newSliceCursor()

	stream := Assemble(primary, versions, nil, Options{})
	nodes, err := stream.Collect()
	assert.Len(t, nodes, 1)
	assert.EqualError(t, err, "connection reset")
	assert.True(t, versions.closed)
}

func TestDecodeHelpers(t *testing.T) {
	assert.Equal(t, "a,b", DecodeACL([]byte(`["a","b"]`)))
	assert.Empty(t, DecodeACL(nil))
	assert.Equal(t, "legacy", DecodeACL("legacy"))

	v, ok := AsInt64([]byte("42"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	assert.True(t, AsBool(int64(1)))
	assert.True(t, AsBool("t"))
	assert.False(t, AsBool(nil))

	ts, ok := AsTime("2024-05-06 07:08:09.5+00:00")
	assert.True(t, ok)
	assert.Equal(t, 5, ts.Day())
	assert.Nil(t, AsTimePtr(nil))
}
