package meta

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config 数据库配置
type Config struct {
	Driver   string // "postgres" | "sqlite"
	DSN      string // sqlite 文件路径，或完整的 postgres DSN (优先于下面的字段)
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable" for local
	// FetchSize 大列表/搜索时服务端游标每批取回的行数
	FetchSize int
	// LogSQL 打开 GORM 的全量 SQL 日志
	LogSQL bool
}

// DB 封装了 GORM 实例，作为元数据层的入口
type DB struct {
	conn      *gorm.DB
	fetchSize int
}

// Open 初始化数据库连接并迁移表结构
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
				cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
			)
		}
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite driver requires database.dsn")
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层 sql.DB 以配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 连接池配置 (生产环境必配)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if cfg.Driver == DriverSQLite {
		// sqlite 只有一个写者，多连接只会换来 SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	// 验证连接是否存活
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := NewWithConn(db)
	d.fetchSize = cfg.FetchSize
	if d.fetchSize <= 0 {
		d.fetchSize = DefaultFetchSize
	}

	if err := d.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return d, nil
}

// DefaultFetchSize 服务端游标默认批大小
const DefaultFetchSize = 500

// NewWithConn 允许使用现有的 GORM 连接初始化 DB。
// 这对于依赖注入、复用连接池或单元测试非常有用。
func NewWithConn(conn *gorm.DB) *DB {
	return &DB{conn: conn, fetchSize: DefaultFetchSize}
}

// Conn 返回底层 GORM 连接
func (d *DB) Conn() *gorm.DB {
	return d.conn
}

// Dialect 返回方言名 ("postgres" / "sqlite")
func (d *DB) Dialect() string {
	return d.conn.Dialector.Name()
}

// FetchSize 服务端游标批大小
func (d *DB) FetchSize() int {
	return d.fetchSize
}

// Close 关闭连接池
func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
