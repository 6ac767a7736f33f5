package store

import (
	"context"
	"fmt"

	"datacat/pkg/cursor"
	"datacat/pkg/dcerr"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"

	"gorm.io/gorm"
)

// readMetadata 读取一个所有者在三张表里的全部元数据，合并成一个 map
func readMetadata(ctx context.Context, tx *gorm.DB, owner meta.Owner, pk types.Pk) (model.Metadata, error) {
	q := "SELECT md_type, md_name, md_string, md_number, md_timestamp FROM (" +
		metaUnion(owner) + ") md WHERE md.owner_pk = ?"
	recs, err := records(ctx, tx, q, int64(pk))
	if err != nil {
		return nil, err
	}
	md := make(model.Metadata, len(recs))
	for _, rec := range recs {
		if err := cursor.AddMetadata(md, rec); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// writeMetadata 按值类型写入对应的表。调用方保证同名条目已经删除。
func writeMetadata(ctx context.Context, tx *gorm.DB, owner meta.Owner, pk types.Pk, md model.Metadata) error {
	if err := md.Validate(); err != nil {
		return dcerr.InvalidRequest.Wrap(err)
	}
	for name, v := range md {
		vt, err := meta.ValueTableFor(v.Kind)
		if err != nil {
			return dcerr.InvalidRequest.Wrap(err)
		}
		table := meta.MetaTable(owner, vt)
		db := tx.WithContext(ctx).Table(table)

		switch vt {
		case meta.ValueString:
			err = db.Create(&meta.MetaString{OwnerPk: int64(pk), MetaName: name, MetaValue: v.Text}).Error
		case meta.ValueNumber:
			err = db.Create(&meta.MetaNumber{OwnerPk: int64(pk), MetaName: name, MetaValue: meta.NumericOf(v)}).Error
		case meta.ValueTimestamp:
			err = db.Create(&meta.MetaTimestamp{OwnerPk: int64(pk), MetaName: name, MetaValue: v.Time}).Error
		}
		if err != nil {
			return fmt.Errorf("write metadata %q: %w", name, err)
		}
	}
	return nil
}

// removeMetadata 删除所有者的元数据；names 为空时删除全部
func removeMetadata(ctx context.Context, tx *gorm.DB, owner meta.Owner, pk types.Pk, names ...string) error {
	for _, vt := range meta.ValueTables {
		db := tx.WithContext(ctx).Table(meta.MetaTable(owner, vt)).Where("owner_pk = ?", int64(pk))
		if len(names) > 0 {
			db = db.Where("meta_name IN ?", names)
		}
		if err := db.Delete(&meta.MetaString{}).Error; err != nil {
			return fmt.Errorf("remove %s metadata: %w", owner, err)
		}
	}
	return nil
}

// mergeMetadata 合并补丁：Kind 为零值的条目表示删除，其他条目覆盖同名旧值 (类型可以改变)
func mergeMetadata(ctx context.Context, tx *gorm.DB, owner meta.Owner, pk types.Pk, patch model.Metadata) error {
	if len(patch) == 0 {
		return nil
	}
	names := make([]string, 0, len(patch))
	set := make(model.Metadata, len(patch))
	for name, v := range patch {
		names = append(names, name)
		if v.Kind != 0 {
			set[name] = v
		}
	}
	if err := removeMetadata(ctx, tx, owner, pk, names...); err != nil {
		return err
	}
	return writeMetadata(ctx, tx, owner, pk, set)
}

func ownerOf(t types.RecordType) meta.Owner {
	if t == types.TypeGroup {
		return meta.OwnerGroup
	}
	return meta.OwnerFolder
}
