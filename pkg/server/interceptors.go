package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader 客户端可以自带请求 ID，没有时服务端生成
const RequestIDHeader = "x-request-id"

// Interceptors 持有日志器，提供 logging / recovery 两组拦截器
type Interceptors struct {
	log *zap.Logger
}

func NewInterceptors(log *zap.Logger) *Interceptors {
	if log == nil {
		log = zap.NewNop()
	}
	return &Interceptors{log: log}
}

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// Unary 普通请求 (Get / Create / Patch ...)
func (i *Interceptors) Unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	id := requestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

	resp, err := handler(ctx, req)

	i.logRPC("unary", info.FullMethod, id, time.Since(start), err)
	return resp, err
}

// Stream 流式请求 (List / Search)
func (i *Interceptors) Stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	id := requestID(ss.Context())
	_ = ss.SetHeader(metadata.Pairs(RequestIDHeader, id))

	err := handler(srv, ss)

	i.logRPC("stream", info.FullMethod, id, time.Since(start), err)
	return err
}

func (i *Interceptors) logRPC(kind, method, id string, duration time.Duration, err error) {
	code := status.Code(err)

	level := zapcore.InfoLevel
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.Unavailable:
		level = zapcore.ErrorLevel
	default:
		// NotFound / InvalidArgument 之类是调用方的问题
		level = zapcore.WarnLevel
	}

	if ce := i.log.Check(level, "grpc request"); ce != nil {
		ce.Write(
			zap.String("kind", kind),
			zap.String("method", method),
			zap.String("request_id", id),
			zap.String("code", code.String()),
			zap.Duration("dur", duration),
			zap.Error(err),
		)
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

// =============================================================================
// 2. Recovery Interceptor
// =============================================================================

// UnaryRecovery 捕获 panic
func (i *Interceptors) UnaryRecovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

// StreamRecovery 捕获 panic
func (i *Interceptors) StreamRecovery(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(info.FullMethod, r)
		}
	}()
	return handler(srv, ss)
}

func (i *Interceptors) recoverFromPanic(method string, p any) error {
	i.log.Error("panic recovered",
		zap.String("method", method),
		zap.Any("panic", p),
		zap.ByteString("stack", debug.Stack()),
	)
	// 返回 Internal 而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
