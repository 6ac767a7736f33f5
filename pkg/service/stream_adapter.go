package service

import (
	"fmt"

	dcrpc "datacat/pkg/api/dcrpc/v1"
	"datacat/pkg/catalog"
	"datacat/pkg/cursor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// =============================================================================
// cursor.Stream -> gRPC Stream
// =============================================================================

// NodeSender 定义了发送节点所需的最小集合，方便测试 Mock
type NodeSender interface {
	Send(*structpb.Struct) error
}

// sendNodes 逐个编码并发送节点，直到流结束、出错或客户端断开。
// 无论哪种情况都会关闭 stream (回滚读事务)。
func sendNodes(stream *cursor.Stream, out NodeSender) (int, error) {
	defer stream.Close()

	sent := 0
	for stream.Next() {
		msg, err := dcrpc.EncodeNode(stream.Node())
		if err != nil {
			return sent, toStatus(fmt.Errorf("encode %s: %w", stream.Node().Info().Path, err))
		}
		if err := out.Send(msg); err != nil {
			// 客户端断开，Send 已经是 gRPC 状态
			return sent, err
		}
		sent++
	}
	return sent, toStatus(stream.Err())
}

// List 子节点流
func (s *CatalogService) List(req *structpb.Struct, srv grpc.ServerStreamingServer[structpb.Struct]) error {
	f := dcrpc.Fields{S: req}
	path, err := requirePath(f)
	if err != nil {
		return err
	}
	view, err := dcrpc.DecodeView(f.Struct("view"))
	if err != nil {
		return invalid("%v", err)
	}

	stream, err := s.cat.List(srv.Context(), path, view)
	if err != nil {
		return toStatus(err)
	}
	_, err = sendNodes(stream, srv)
	return err
}

// Search 搜索结果流，一个数据集一条消息
func (s *CatalogService) Search(req *structpb.Struct, srv grpc.ServerStreamingServer[structpb.Struct]) error {
	f := dcrpc.Fields{S: req}
	view, err := dcrpc.DecodeView(f.Struct("view"))
	if err != nil {
		return invalid("%v", err)
	}
	sr := catalog.SearchRequest{
		Targets: f.Strings("targets"),
		Query:   f.String("query"),
		View:    view,
		Sort:    f.Strings("sort"),
		Show:    f.Strings("show"),
		Offset:  int(f.Int("offset")),
		Max:     int(f.Int("max")),
	}

	stream, err := s.cat.Search(srv.Context(), sr)
	if err != nil {
		return toStatus(err)
	}
	n, err := sendNodes(stream, srv)
	s.log.Debug("search streamed", zap.Strings("targets", sr.Targets), zap.Int("results", n), zap.Error(err))
	return err
}
