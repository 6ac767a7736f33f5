// Package dcerr 定义目录服务的错误分类
// 所有组件都通过这些 Class 构造或包装错误，上游边界据此映射状态码。
package dcerr

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
)

var (
	// NotFound 路径、版本或站点位置不存在
	NotFound = errs.Class("not found")
	// AlreadyExists 同名节点或重复的业务主键
	AlreadyExists = errs.Class("already exists")
	// NotEmpty 删除仍有子节点的容器
	NotEmpty = errs.Class("not empty")
	// InvalidRequest 无法解析的标识符、非法元数据类型、不支持的统计类型等
	InvalidRequest = errs.Class("invalid request")
	// StoreFailure 底层关系存储 I/O 失败 (包括事务被取消)
	StoreFailure = errs.Class("store failure")
	// Internal 不变量被破坏，属于缺陷
	Internal = errs.Class("internal")
)

var classes = []*errs.Class{&NotFound, &AlreadyExists, &NotEmpty, &InvalidRequest, &StoreFailure, &Internal}

// Kind 返回错误所属分类的名字，未分类错误返回 "unknown"
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		if c.Has(err) {
			return string(*c)
		}
	}
	return "unknown"
}

// Store 将底层存储错误包装为 StoreFailure；已分类的错误原样返回
func Store(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		if c.Has(err) {
			return err
		}
	}
	return StoreFailure.Wrap(err)
}

// IsCanceled 判断错误是否来自上下文取消或超时
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
