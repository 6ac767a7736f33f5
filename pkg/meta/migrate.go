package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Migrate 迁移全部表结构，并确保根目录存在
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.conn.WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
		return err
	}
	_, err := d.RootPk(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		root := FolderModel{Name: ""}
		if err := d.conn.WithContext(ctx).Create(&root).Error; err != nil {
			return fmt.Errorf("failed to create root folder: %w", err)
		}
		return nil
	}
	return err
}

// RootPk 返回根目录主键
func (d *DB) RootPk(ctx context.Context) (int64, error) {
	var root FolderModel
	err := d.conn.WithContext(ctx).
		Where("parent_pk IS NULL").
		Order("pk").
		First(&root).Error
	if err != nil {
		return 0, err
	}
	return root.Pk, nil
}

// IsDuplicate 兼容性，处理不同数据库(PG与SQLite)的唯一约束错误
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
