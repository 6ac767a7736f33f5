package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	dcrpc "datacat/pkg/api/dcrpc/v1"
	"datacat/pkg/model"
	"datacat/pkg/query"
	"datacat/pkg/store"
	"datacat/pkg/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client 封装了与 datacat 服务端的连接，把 Struct 协议翻译回模型类型
type Client struct {
	conn *grpc.ClientConn
	rpc  dcrpc.CatalogClient
}

// NewClient 创建客户端。只负责创建对象，不等待连接就绪。
func NewClient(addr string, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64 * 1024 * 1024),
		),
		// 保持连接活跃
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	// 立即返回，连接在后台进行；这里的 err 只是配置错误
	conn, err := grpc.NewClient(addr, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	return &Client{conn: conn, rpc: dcrpc.NewCatalogClient(conn)}, nil
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// 读
// -----------------------------------------------------------------------------

func (c *Client) Get(ctx context.Context, path string, view model.DatasetView) (model.Node, error) {
	resp, err := c.call(ctx, dcrpc.Catalog_Get_FullMethodName, map[string]any{
		"path": path,
		"view": dcrpc.EncodeView(view),
	})
	if err != nil {
		return nil, err
	}
	return dcrpc.DecodeNode(resp)
}

func (c *Client) Stat(ctx context.Context, path string, kind model.StatKind) (*model.Stat, error) {
	resp, err := c.call(ctx, dcrpc.Catalog_Stat_FullMethodName, map[string]any{
		"path": path,
		"kind": string(kind),
	})
	if err != nil {
		return nil, err
	}
	return dcrpc.DecodeStat(resp), nil
}

// List 一次性收集容器的全部子节点
func (c *Client) List(ctx context.Context, path string, view model.DatasetView) ([]model.Node, error) {
	return c.collect(ctx, dcrpc.Catalog_List_FullMethodName, map[string]any{
		"path": path,
		"view": dcrpc.EncodeView(view),
	})
}

// SearchRequest 字段含义与服务端一致
type SearchRequest struct {
	Targets []string
	Query   string
	View    model.DatasetView
	Sort    []string
	Show    []string
	Offset  int
	Max     int
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]model.Node, error) {
	return c.collect(ctx, dcrpc.Catalog_Search_FullMethodName, map[string]any{
		"targets": anyList(req.Targets),
		"query":   req.Query,
		"view":    dcrpc.EncodeView(req.View),
		"sort":    anyList(req.Sort),
		"show":    anyList(req.Show),
		"offset":  float64(req.Offset),
		"max":     float64(req.Max),
	})
}

// Metanames reload 为 true 时服务端先重新扫描元数据表
func (c *Client) Metanames(ctx context.Context, reload bool) ([]query.Group, error) {
	resp, err := c.call(ctx, dcrpc.Catalog_Metanames_FullMethodName, map[string]any{"reload": reload})
	if err != nil {
		return nil, err
	}
	f := dcrpc.Fields{S: resp}
	var out []query.Group
	for _, item := range f.List("groups") {
		g := dcrpc.Fields{S: item.GetStructValue()}
		out = append(out, query.Group{Prefix: g.String("prefix"), Names: g.Strings("names")})
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// 写
// -----------------------------------------------------------------------------

// Mkdir parents 为 true 时补齐缺失的父目录
func (c *Client) Mkdir(ctx context.Context, path string, parents bool, req store.NewContainer) (model.Node, error) {
	return c.createNode(ctx, "folder", path, parents, containerFields(req))
}

func (c *Client) CreateGroup(ctx context.Context, path string, req store.NewContainer) (model.Node, error) {
	return c.createNode(ctx, "group", path, false, containerFields(req))
}

func (c *Client) CreateDataset(ctx context.Context, path string, parents bool, req store.NewDataset) (model.Node, error) {
	m := map[string]any{
		"acl":        anyList(req.ACL),
		"dataType":   req.DataType,
		"fileFormat": req.FileFormat,
	}
	if req.Version != nil {
		m["version"] = versionFields(*req.Version)
	}
	return c.createNode(ctx, "dataset", path, parents, m)
}

func (c *Client) CreateVersion(ctx context.Context, path string, req store.NewVersion) (*model.DatasetVersion, error) {
	m := versionFields(req)
	m["path"] = path
	m["type"] = "version"
	resp, err := c.call(ctx, dcrpc.Catalog_Create_FullMethodName, m)
	if err != nil {
		return nil, err
	}
	return dcrpc.DecodeVersion(resp)
}

func (c *Client) CreateLocation(ctx context.Context, path string, versionID int64, req store.NewLocation) (model.DatasetLocation, error) {
	m := locationFields(req)
	m["path"] = path
	m["type"] = "location"
	m["versionId"] = versionValue(versionID)
	resp, err := c.call(ctx, dcrpc.Catalog_Create_FullMethodName, m)
	if err != nil {
		return model.DatasetLocation{}, err
	}
	return dcrpc.DecodeLocation(resp)
}

// PatchTarget 修改的对象
type PatchTarget string

const (
	PatchContainer PatchTarget = "container"
	PatchDataset   PatchTarget = "dataset"
	PatchVersion   PatchTarget = "version"
	PatchLocation  PatchTarget = "location"
)

// Patch versionID 和 site 只对 version / location 有意义
func (c *Client) Patch(ctx context.Context, path string, target PatchTarget, versionID int64, site string, p store.Patch) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	_, err := c.call(ctx, dcrpc.Catalog_Patch_FullMethodName, map[string]any{
		"path":      path,
		"target":    string(target),
		"versionId": versionValue(versionID),
		"site":      site,
		"fields":    fields,
		"metadata":  dcrpc.EncodeMetadata(p.Metadata),
	})
	return err
}

// Delete 删除节点
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.call(ctx, dcrpc.Catalog_Delete_FullMethodName, map[string]any{"path": path})
	return err
}

func (c *Client) DeleteVersion(ctx context.Context, path string, versionID int64) error {
	_, err := c.call(ctx, dcrpc.Catalog_Delete_FullMethodName, map[string]any{
		"path": path, "target": "version", "versionId": versionValue(versionID),
	})
	return err
}

func (c *Client) DeleteLocation(ctx context.Context, path string, versionID int64, site string) error {
	_, err := c.call(ctx, dcrpc.Catalog_Delete_FullMethodName, map[string]any{
		"path": path, "target": "location", "versionId": versionValue(versionID), "site": site,
	})
	return err
}

// Scan 让服务端扫描一个位置 (site 为空时取 master)
func (c *Client) Scan(ctx context.Context, path string, versionID int64, site string) (model.DatasetLocation, error) {
	resp, err := c.call(ctx, dcrpc.Catalog_Scan_FullMethodName, map[string]any{
		"path": path, "versionId": versionValue(versionID), "site": site,
	})
	if err != nil {
		return model.DatasetLocation{}, err
	}
	return dcrpc.DecodeLocation(resp)
}

func (c *Client) Register(ctx context.Context, reg store.Registry, entry store.Registration) error {
	m := map[string]any{
		"registry":    string(reg),
		"name":        entry.Name,
		"description": entry.Description,
		"creator":     entry.Creator,
	}
	if entry.Properties != nil {
		m["properties"] = entry.Properties
	}
	_, err := c.call(ctx, dcrpc.Catalog_Register_FullMethodName, m)
	return err
}

// -----------------------------------------------------------------------------
// 内部
// -----------------------------------------------------------------------------

func (c *Client) call(ctx context.Context, method string, m map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.rpc.Invoke(ctx, method, req)
}

func (c *Client) createNode(ctx context.Context, typ, path string, parents bool, m map[string]any) (model.Node, error) {
	m["path"] = path
	m["type"] = typ
	m["parents"] = parents
	resp, err := c.call(ctx, dcrpc.Catalog_Create_FullMethodName, m)
	if err != nil {
		return nil, err
	}
	return dcrpc.DecodeNode(resp)
}

// collect 读完整个服务端流
func (c *Client) collect(ctx context.Context, method string, m map[string]any) ([]model.Node, error) {
	req, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	stream, err := c.rpc.Stream(ctx, method, req)
	if err != nil {
		return nil, err
	}

	var out []model.Node
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		n, err := dcrpc.DecodeNode(msg)
		if err != nil {
			return out, err
		}
		out = append(out, n)
	}
}

func containerFields(req store.NewContainer) map[string]any {
	return map[string]any{
		"acl":         anyList(req.ACL),
		"description": req.Description,
		"metadata":    dcrpc.EncodeMetadata(req.Metadata),
	}
}

func versionFields(req store.NewVersion) map[string]any {
	locs := make([]any, len(req.Locations))
	for i, l := range req.Locations {
		locs[i] = locationFields(l)
	}
	return map[string]any{
		"versionId":     versionValue(req.VersionID),
		"datasetSource": req.DatasetSource,
		"metadata":      dcrpc.EncodeMetadata(req.Metadata),
		"locations":     locs,
	}
}

func locationFields(req store.NewLocation) map[string]any {
	m := map[string]any{
		"site":       req.Site,
		"resource":   req.Resource,
		"size":       float64(req.Size),
		"scanStatus": req.ScanStatus,
		"master":     req.Master,
	}
	if req.Checksum != nil {
		m["checksum"] = strconv.FormatUint(uint64(*req.Checksum), 16)
	}
	for key, v := range map[string]*int64{"runMin": req.RunMin, "runMax": req.RunMax, "eventCount": req.EventCount} {
		if v != nil {
			m[key] = float64(*v)
		}
	}
	if req.Modified != nil {
		m["modified"] = req.Modified.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// versionValue 特殊版本号用名字传，避免和真实版本号混淆
func versionValue(id int64) any {
	switch id {
	case types.VersionCurrent:
		return "current"
	case types.VersionNew:
		return "new"
	}
	return float64(id)
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
