package service

import (
	"context"
	"errors"

	"datacat/pkg/dcerr"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus 把目录错误映射为 gRPC 状态码
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case dcerr.NotFound.Has(err):
		code = codes.NotFound
	case dcerr.AlreadyExists.Has(err):
		code = codes.AlreadyExists
	case dcerr.NotEmpty.Has(err):
		code = codes.FailedPrecondition
	case dcerr.InvalidRequest.Has(err):
		code = codes.InvalidArgument
	case dcerr.StoreFailure.Has(err):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// invalid 请求本身格式不对 (在进入目录之前)
func invalid(format string, args ...any) error {
	return toStatus(dcerr.InvalidRequest.New(format, args...))
}
