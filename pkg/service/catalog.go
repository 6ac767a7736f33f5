package service

import (
	"context"
	"strings"

	dcrpc "datacat/pkg/api/dcrpc/v1"
	"datacat/pkg/catalog"
	"datacat/pkg/model"
	"datacat/pkg/store"
	"datacat/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// CatalogService 把 gRPC 请求翻译成目录操作
type CatalogService struct {
	dcrpc.UnimplementedCatalogServer
	cat *catalog.Catalog
	log *zap.Logger
}

func NewCatalogService(cat *catalog.Catalog, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{cat: cat, log: log}
}

var empty = &structpb.Struct{}

// Get 按路径取节点，数据集按 view 投影
func (s *CatalogService) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}
	view, err := dcrpc.DecodeView(f.Struct("view"))
	if err != nil {
		return nil, invalid("%v", err)
	}

	node, err := s.cat.Get(ctx, path, view)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dcrpc.EncodeNode(node))
}

// Stat 容器统计
func (s *CatalogService) Stat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}
	kind, err := model.ParseStatKind(f.String("kind"))
	if err != nil {
		return nil, toStatus(err)
	}
	st, err := s.cat.Stat(ctx, path, kind)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dcrpc.EncodeStat(st))
}

// Create 按 type 创建 folder / group / dataset / version / location
func (s *CatalogService) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}
	md, err := dcrpc.DecodeMetadata(f.Struct("metadata"))
	if err != nil {
		return nil, invalid("%v", err)
	}

	// parents 只对容器和数据集有意义：先补齐父目录
	typ := strings.ToLower(f.String("type"))
	if f.Bool("parents") && (typ == "folder" || typ == "group" || typ == "dataset") {
		parent, _ := types.Split(types.CleanPath(path))
		if _, err := s.cat.MkdirAll(ctx, parent); err != nil {
			return nil, toStatus(err)
		}
	}

	switch typ {
	case "folder", "":
		n, err := s.cat.CreateFolder(ctx, path, containerRequest(f, md))
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(dcrpc.EncodeNode(n))

	case "group":
		n, err := s.cat.CreateGroup(ctx, path, containerRequest(f, md))
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(dcrpc.EncodeNode(n))

	case "dataset":
		ds := store.NewDataset{
			ACL:        f.Strings("acl"),
			DataType:   f.String("dataType"),
			FileFormat: f.String("fileFormat"),
		}
		if vs := f.Struct("version"); vs != nil {
			v, err := versionRequest(dcrpc.Fields{S: vs})
			if err != nil {
				return nil, err
			}
			ds.Version = &v
		}
		n, err := s.cat.CreateDataset(ctx, path, ds)
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(dcrpc.EncodeNode(n))

	case "version":
		v, err := versionRequest(f)
		if err != nil {
			return nil, err
		}
		out, err := s.cat.CreateVersion(ctx, path, v)
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(dcrpc.EncodeVersion(out))

	case "location":
		vid, err := versionOf(f, types.VersionCurrent)
		if err != nil {
			return nil, err
		}
		loc, err := locationRequest(f)
		if err != nil {
			return nil, err
		}
		out, err := s.cat.CreateLocation(ctx, path, vid, loc)
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(dcrpc.EncodeLocation(*out))
	}
	return nil, invalid("unknown type %q", typ)
}

// Patch 按 target 修改 container / dataset / version / location
func (s *CatalogService) Patch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}
	md, err := dcrpc.DecodeMetadata(f.Struct("metadata"))
	if err != nil {
		return nil, invalid("%v", err)
	}
	p := store.Patch{Fields: f.Struct("fields").AsMap(), Metadata: md}
	if p.IsEmpty() {
		return nil, invalid("nothing to patch")
	}

	switch strings.ToLower(f.String("target")) {
	case "container":
		err = s.cat.PatchContainer(ctx, path, p)
	case "dataset", "":
		err = s.cat.PatchDataset(ctx, path, p)
	case "version":
		vid, verr := versionOf(f, types.VersionCurrent)
		if verr != nil {
			return nil, verr
		}
		err = s.cat.PatchVersion(ctx, path, vid, p)
	case "location":
		vid, verr := versionOf(f, types.VersionCurrent)
		if verr != nil {
			return nil, verr
		}
		err = s.cat.PatchLocation(ctx, path, vid, f.String("site"), p)
	default:
		return nil, invalid("unknown target %q", f.String("target"))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

// Delete 删除节点、版本或位置
func (s *CatalogService) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(f.String("target")) {
	case "node", "":
		err = s.cat.Delete(ctx, path)
	case "version":
		vid, verr := versionOf(f, types.VersionCurrent)
		if verr != nil {
			return nil, verr
		}
		err = s.cat.DeleteVersion(ctx, path, vid)
	case "location":
		vid, verr := versionOf(f, types.VersionCurrent)
		if verr != nil {
			return nil, verr
		}
		err = s.cat.DeleteLocation(ctx, path, vid, f.String("site"))
	default:
		return nil, invalid("unknown target %q", f.String("target"))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

// Scan 扫描一个位置并回填
func (s *CatalogService) Scan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return nil, err
	}
	vid, err := versionOf(f, types.VersionCurrent)
	if err != nil {
		return nil, err
	}
	site := f.String("site")
	if site == "" {
		site = "master"
	}
	loc, err := s.cat.ScanLocation(ctx, path, vid, site)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(dcrpc.EncodeLocation(*loc))
}

// Metanames 已知元数据名，按前缀分组
func (s *CatalogService) Metanames(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if (dcrpc.Fields{S: req}).Bool("reload") {
		if err := s.cat.ReloadMetanames(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	groups := s.cat.Metanames()
	out := make([]any, len(groups))
	for i, g := range groups {
		names := make([]any, len(g.Names))
		for j, n := range g.Names {
			names[j] = n
		}
		out[i] = map[string]any{"prefix": g.Prefix, "names": names}
	}
	return encode(structpb.NewStruct(map[string]any{"groups": out}))
}

// Register 登记数据来源 / 类型 / 格式
func (s *CatalogService) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := dcrpc.Fields{S: req}
	reg, err := store.ParseRegistry(f.String("registry"))
	if err != nil {
		return nil, toStatus(err)
	}
	entry := store.Registration{
		Name:        f.String("name"),
		Description: f.String("description"),
		Creator:     f.String("creator"),
		Properties:  f.Struct("properties").AsMap(),
	}
	if err := s.cat.Register(ctx, reg, entry); err != nil {
		return nil, toStatus(err)
	}
	s.log.Info("registered", zap.String("registry", string(reg)), zap.String("name", entry.Name))
	return empty, nil
}

// -----------------------------------------------------------------------------
// 请求解析
// -----------------------------------------------------------------------------

func requirePath(f dcrpc.Fields) (string, error) {
	path := strings.TrimSpace(f.String("path"))
	if path == "" {
		return "", invalid("path is required")
	}
	return path, nil
}

// versionOf versionId 可以是数字或 "current" / "new"
func versionOf(f dcrpc.Fields, def int64) (int64, error) {
	if !f.Has("versionId") {
		return def, nil
	}
	if s := f.String("versionId"); s != "" {
		vid, err := model.ParseVersion(s)
		if err != nil {
			return 0, invalid("%v", err)
		}
		return vid, nil
	}
	return f.Int("versionId"), nil
}

func containerRequest(f dcrpc.Fields, md model.Metadata) store.NewContainer {
	return store.NewContainer{
		ACL:         f.Strings("acl"),
		Description: f.String("description"),
		Metadata:    md,
	}
}

func versionRequest(f dcrpc.Fields) (store.NewVersion, error) {
	vid, err := versionOf(f, types.VersionNew)
	if err != nil {
		return store.NewVersion{}, err
	}
	md, err := dcrpc.DecodeMetadata(f.Struct("metadata"))
	if err != nil {
		return store.NewVersion{}, invalid("%v", err)
	}
	v := store.NewVersion{VersionID: vid, DatasetSource: f.String("datasetSource"), Metadata: md}
	for _, item := range f.List("locations") {
		loc, err := locationRequest(dcrpc.Fields{S: item.GetStructValue()})
		if err != nil {
			return store.NewVersion{}, err
		}
		v.Locations = append(v.Locations, loc)
	}
	return v, nil
}

func locationRequest(f dcrpc.Fields) (store.NewLocation, error) {
	loc := store.NewLocation{
		Site:       f.String("site"),
		Resource:   f.String("resource"),
		Size:       f.Int("size"),
		RunMin:     f.OptInt("runMin"),
		RunMax:     f.OptInt("runMax"),
		EventCount: f.OptInt("eventCount"),
		ScanStatus: f.String("scanStatus"),
		Modified:   f.OptTime("modified"),
		Master:     f.Bool("master"),
	}
	if hex := f.String("checksum"); hex != "" {
		sum, err := model.ParseChecksum(hex)
		if err != nil {
			return loc, invalid("malformed checksum %q", hex)
		}
		loc.Checksum = &sum
	}
	return loc, nil
}

func encode(s *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return s, nil
}
