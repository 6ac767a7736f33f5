// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"datacat/pkg/catalog"
	"datacat/pkg/config"
	"datacat/pkg/ignore"
	"datacat/pkg/meta"
	"datacat/pkg/query"
	"datacat/pkg/scan"
	"datacat/pkg/scan/disk"
	"datacat/pkg/scan/s3"
	"datacat/pkg/stat"
	"datacat/pkg/store"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Catalog *catalog.Catalog
	Store   *store.Store
	DB      *meta.DB
	Log     *zap.Logger

	shared *stat.RedisCache
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令或服务端
func NewApp(ctx context.Context) (*App, error) {
	// 1. 日志
	log, err := initLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		return nil, err
	}

	// 2. 元数据库
	db, err := initDB(ctx)
	if err != nil {
		return nil, err
	}
	st := store.New(db, log.Named("store"))

	// 3. 可选组件
	shared, err := initShared()
	if err != nil {
		db.Close()
		return nil, err
	}
	plugins, err := initPlugins()
	if err != nil {
		closeAll(db, shared)
		return nil, err
	}
	matcher, err := ignore.NewMatcher(viper.GetStringSlice("search.ignore"), viper.GetString("search.ignore_file"))
	if err != nil {
		closeAll(db, shared)
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	scanners, err := initScanners(ctx)
	if err != nil {
		closeAll(db, shared)
		return nil, err
	}

	opts := catalog.Options{
		Plugins:   plugins,
		Ignore:    matcher,
		Scanners:  scanners,
		CacheSize: viper.GetInt("cache.instances"),
		SearchMax: viper.GetInt("search.max"),
		Logger:    log,
	}
	// 接口值里不能放 nil 指针
	if shared != nil {
		opts.Shared = shared
	}

	// 4. 目录服务
	cat, err := catalog.New(ctx, st, opts)
	if err != nil {
		closeAll(db, shared)
		return nil, fmt.Errorf("failed to init catalog: %w", err)
	}

	log.Info("datacat initialized",
		zap.String("driver", db.Dialect()),
		zap.Bool("sharedStats", shared != nil),
		zap.Strings("plugins", plugins.Namespaces()))

	return &App{Catalog: cat, Store: st, DB: db, Log: log, shared: shared}, nil
}

// Close 释放数据库和 Redis 连接
func (a *App) Close() error {
	_ = a.Log.Sync()
	return closeAll(a.DB, a.shared)
}

func closeAll(db *meta.DB, shared *stat.RedisCache) error {
	var errs []error
	if shared != nil {
		errs = append(errs, shared.Close())
	}
	if db != nil {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

// initLogger format 为 json 时用生产配置，否则用开发者友好的 console 输出
func initLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log.format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func initDB(ctx context.Context) (*meta.DB, error) {
	cfg := meta.Config{
		Driver:    viper.GetString("database.driver"),
		DSN:       viper.GetString("database.dsn"),
		Host:      viper.GetString("database.host"),
		Port:      viper.GetInt("database.port"),
		User:      viper.GetString("database.user"),
		Password:  viper.GetString("database.password"),
		DBName:    viper.GetString("database.name"),
		SSLMode:   viper.GetString("database.sslmode"),
		FetchSize: viper.GetInt("database.fetch_size"),
		LogSQL:    viper.GetBool("database.log_sql"),
	}
	if cfg.Driver == meta.DriverSQLite && cfg.DSN == "" {
		cfg.DSN = config.DefaultSQLiteDSN()
	}

	// sqlite 文件所在目录不存在时先创建
	if cfg.Driver == meta.DriverSQLite && cfg.DSN != "" && !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := meta.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	return db, nil
}

// initShared 未配置 cache.redis_url 时返回 nil，统计只在进程内缓存
func initShared() (*stat.RedisCache, error) {
	url := viper.GetString("cache.redis_url")
	if url == "" {
		return nil, nil
	}
	c, err := stat.NewRedisCache(stat.Config{RedisURL: url, TTL: viper.GetDuration("cache.ttl")})
	if err != nil {
		return nil, fmt.Errorf("failed to init stat cache: %w", err)
	}
	return c, nil
}

// initPlugins 读取 search.plugins 列表
func initPlugins() (*query.Plugins, error) {
	var cfgs []query.TablePluginConfig
	if err := viper.UnmarshalKey("search.plugins", &cfgs); err != nil {
		return nil, fmt.Errorf("invalid search.plugins: %w", err)
	}
	plugins := query.NewPlugins()
	for _, cfg := range cfgs {
		p, err := query.NewTablePlugin(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := plugins.Plugin(p.Namespace()); dup {
			return nil, fmt.Errorf("duplicate plugin namespace %q", p.Namespace())
		}
		plugins.Register(p)
	}
	return plugins, nil
}

// initScanners 本地文件总是可扫描；配置了 scan.s3 的 bucket 或 endpoint 时加上 S3
func initScanners(ctx context.Context) (*scan.Registry, error) {
	reg := scan.NewRegistry()
	reg.Register("file", disk.NewScanner(viper.GetString("scan.root")))

	var s3cfg s3.Config
	if err := viper.UnmarshalKey("scan.s3", &s3cfg); err != nil {
		return nil, fmt.Errorf("invalid scan.s3: %w", err)
	}
	if s3cfg.Bucket == "" && s3cfg.Endpoint == "" {
		return reg, nil
	}
	sc, err := s3.NewScanner(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init s3 scanner: %w", err)
	}
	reg.Register("s3", sc)
	return reg, nil
}
