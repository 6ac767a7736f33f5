package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DC_DATABASE_DRIVER -> database.driver
var envKeys = strings.NewReplacer(".", "_")

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 默认值
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.datacat -> ~/.datacat
		viper.AddConfigPath(".")
		viper.AddConfigPath(".datacat")
		viper.AddConfigPath(filepath.Join(home, ".datacat"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. 环境变量 (DC_DATABASE_DRIVER 等)
	viper.SetEnvPrefix("DC")
	viper.SetEnvKeyReplacer(envKeys)
	viper.AutomaticEnv()

	// 4. 读取配置文件。没找到文件不算错，格式错误才是
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

// Used 实际读取的配置文件，没有时为空
func Used() string {
	return viper.ConfigFileUsed()
}

// DefaultSQLiteDSN sqlite 未指定 dsn 时使用工作目录下的 .datacat/catalog.db。
// 不放进 viper 默认值，否则 postgres 也会拿到它。
func DefaultSQLiteDSN() string {
	wd, _ := os.Getwd()
	return filepath.Join(wd, ".datacat", "catalog.db")
}

func setDefaults() {
	// 数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "datacat")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.fetch_size", 500)

	// 日志
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	// 共享统计缓存，redis_url 为空表示不启用
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", 10*time.Minute)
	viper.SetDefault("cache.instances", 1024)

	// 服务端
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.metrics_addr", ":9090")

	// 搜索
	viper.SetDefault("search.max", 100)
	viper.SetDefault("search.ignore_file", ".dcignore")

	// 扫描
	viper.SetDefault("scan.root", "")
	viper.SetDefault("scan.s3.region", "us-east-1")
}
