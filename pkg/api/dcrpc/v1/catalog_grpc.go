// Package dcrpc 定义 datacat.v1.Catalog 服务。
//
// 消息统一使用 google.protobuf.Struct，字段约定见 wire.go 和各方法的注释。
package dcrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "datacat.v1.Catalog"

const (
	Catalog_Get_FullMethodName       = "/datacat.v1.Catalog/Get"
	Catalog_Stat_FullMethodName      = "/datacat.v1.Catalog/Stat"
	Catalog_Create_FullMethodName    = "/datacat.v1.Catalog/Create"
	Catalog_Patch_FullMethodName     = "/datacat.v1.Catalog/Patch"
	Catalog_Delete_FullMethodName    = "/datacat.v1.Catalog/Delete"
	Catalog_Scan_FullMethodName      = "/datacat.v1.Catalog/Scan"
	Catalog_Metanames_FullMethodName = "/datacat.v1.Catalog/Metanames"
	Catalog_Register_FullMethodName  = "/datacat.v1.Catalog/Register"
	Catalog_List_FullMethodName      = "/datacat.v1.Catalog/List"
	Catalog_Search_FullMethodName    = "/datacat.v1.Catalog/Search"
)

// CatalogServer 服务端需要实现的方法
//
//	Get       {path, view}                                        -> node
//	Stat      {path, kind}                                        -> stat
//	Create    {path, type, parents, ...}                          -> node | version | location
//	Patch     {path, target, versionId, site, fields, metadata}   -> {}
//	Delete    {path, target, versionId, site}                     -> {}
//	Scan      {path, versionId, site}                             -> location
//	Metanames {}                                                  -> {groups: [{prefix, names}]}
//	Register  {registry, name, description, creator, properties}  -> {}
//	List      {path, view}                                        -> stream node
//	Search    {targets, query, sort, show, offset, max, view}     -> stream node
type CatalogServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Patch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Scan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Metanames(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	Search(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedCatalogServer 嵌入后未实现的方法返回 Unimplemented
type UnimplementedCatalogServer struct{}

func (UnimplementedCatalogServer) Get(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedCatalogServer) Stat(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Stat not implemented")
}
func (UnimplementedCatalogServer) Create(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}
func (UnimplementedCatalogServer) Patch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Patch not implemented")
}
func (UnimplementedCatalogServer) Delete(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedCatalogServer) Scan(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Scan not implemented")
}
func (UnimplementedCatalogServer) Metanames(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Metanames not implemented")
}
func (UnimplementedCatalogServer) Register(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedCatalogServer) List(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method List not implemented")
}
func (UnimplementedCatalogServer) Search(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method Search not implemented")
}

func RegisterCatalogServer(s grpc.ServiceRegistrar, srv CatalogServer) {
	s.RegisterService(&Catalog_ServiceDesc, srv)
}

type unaryCall func(CatalogServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler 解码请求并经过拦截器调用 call
func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CatalogServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CatalogServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type streamCall func(CatalogServer, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error

func streamHandler(call streamCall) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(CatalogServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}

// Catalog_ServiceDesc 是 datacat.v1.Catalog 的服务描述
var Catalog_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(Catalog_Get_FullMethodName, CatalogServer.Get)},
		{MethodName: "Stat", Handler: unaryHandler(Catalog_Stat_FullMethodName, CatalogServer.Stat)},
		{MethodName: "Create", Handler: unaryHandler(Catalog_Create_FullMethodName, CatalogServer.Create)},
		{MethodName: "Patch", Handler: unaryHandler(Catalog_Patch_FullMethodName, CatalogServer.Patch)},
		{MethodName: "Delete", Handler: unaryHandler(Catalog_Delete_FullMethodName, CatalogServer.Delete)},
		{MethodName: "Scan", Handler: unaryHandler(Catalog_Scan_FullMethodName, CatalogServer.Scan)},
		{MethodName: "Metanames", Handler: unaryHandler(Catalog_Metanames_FullMethodName, CatalogServer.Metanames)},
		{MethodName: "Register", Handler: unaryHandler(Catalog_Register_FullMethodName, CatalogServer.Register)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "List", Handler: streamHandler(CatalogServer.List), ServerStreams: true},
		{StreamName: "Search", Handler: streamHandler(CatalogServer.Search), ServerStreams: true},
	},
	Metadata: "datacat/v1/catalog.proto",
}

// -----------------------------------------------------------------------------
// 客户端桩
// -----------------------------------------------------------------------------

// CatalogClient 是原始的 Struct 进 Struct 出客户端，带类型的封装见 pkg/client
type CatalogClient interface {
	Invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Stream(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type catalogClient struct {
	cc grpc.ClientConnInterface
}

func NewCatalogClient(cc grpc.ClientConnInterface) CatalogClient {
	return &catalogClient{cc: cc}
}

func (c *catalogClient) Invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *catalogClient) Stream(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
