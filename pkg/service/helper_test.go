package service

import (
	"context"
	"fmt"
	"testing"

	"datacat/pkg/catalog"
	"datacat/pkg/meta"
	"datacat/pkg/store"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestService 是所有 Service 测试共享的基础设施初始化逻辑
func setupTestService(t *testing.T) *CatalogService {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.Migrate(context.Background()))

	cat, err := catalog.New(context.Background(), store.New(metaDB, nil), catalog.Options{})
	require.NoError(t, err)
	return NewCatalogService(cat, nil)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

// =============================================================================
// Mocks (模拟 gRPC 流的行为)
// =============================================================================

// MockNodeStream 模拟服务端流式响应
type MockNodeStream struct {
	grpc.ServerStream
	Ctx     context.Context
	Sent    []*structpb.Struct
	SendErr error // 非空时模拟客户端断开
}

func (m *MockNodeStream) Context() context.Context {
	if m.Ctx == nil {
		return context.Background()
	}
	return m.Ctx
}

func (m *MockNodeStream) Send(s *structpb.Struct) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, s)
	return nil
}

func (m *MockNodeStream) Paths() []string {
	out := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		out[i] = s.GetFields()["path"].GetStringValue()
	}
	return out
}
