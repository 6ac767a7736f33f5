package store

import (
	"fmt"
	"strings"

	"datacat/pkg/cursor"
	"datacat/pkg/meta"
	"datacat/pkg/model"
	"datacat/pkg/types"
)

// 这里生成的 SQL 只使用 "?" 占位符，gorm 按方言替换。
// 列别名必须与 cursor/rows.go 的行约定一致。

// objectsSQL 是 folder / group / dataset 三张表的统一视图 (primary 游标)。
// name 非空时只取同名子节点。
func objectsSQL(parent model.Node, name *string) (string, []any) {
	parentPk := int64(parent.Info().Pk)
	var branches []string
	var args []any

	branch := func(sql string, branchArgs ...any) {
		if name != nil {
			sql += " AND name = ?"
			branchArgs = append(branchArgs, *name)
		}
		branches = append(branches, sql)
		args = append(args, branchArgs...)
	}

	if parent.Type() == types.TypeFolder {
		branch(`SELECT 'F' AS type, f.pk AS pk, f.name AS name, f.parent_pk AS parent_pk, 'F' AS parent_type,
		f.acl AS acl, f.description AS description, NULL AS data_type, NULL AS file_format, f.created AS created
		FROM `+meta.TableFolders+` f WHERE f.parent_pk = ?`, parentPk)
		branch(`SELECT 'G' AS type, g.pk AS pk, g.name AS name, g.folder_pk AS parent_pk, 'F' AS parent_type,
		g.acl AS acl, g.description AS description, NULL AS data_type, NULL AS file_format, g.created AS created
		FROM `+meta.TableGroups+` g WHERE g.folder_pk = ?`, parentPk)
	}
	branch(`SELECT 'D' AS type, d.pk AS pk, d.name AS name, d.parent_pk AS parent_pk, d.parent_type AS parent_type,
		d.acl AS acl, NULL AS description, d.data_type AS data_type, d.file_format AS file_format, d.created AS created
		FROM `+meta.TableDatasets+` d WHERE d.parent_type = ? AND d.parent_pk = ?`, string(parent.Type()), parentPk)

	return "SELECT * FROM (" + strings.Join(branches, " UNION ALL ") + ") objects ORDER BY name", args
}

// scope 描述版本游标和位置游标共享的 FROM / WHERE / ORDER BY。
// 两个游标使用同一个 scope，排序才能与 primary 保持一致。
type scope struct {
	from      string
	fromArgs  []any
	where     string
	whereArgs []any
	order     string
	orderArgs []any
}

// args 按 SQL 中出现的顺序拼接参数
func (sc scope) args() []any {
	out := make([]any, 0, len(sc.fromArgs)+len(sc.whereArgs)+len(sc.orderArgs))
	out = append(out, sc.fromArgs...)
	out = append(out, sc.whereArgs...)
	return append(out, sc.orderArgs...)
}

// versionJoin 根据视图选择版本：当前版本走 latest 指针，指定版本按 version_id 匹配
func versionJoin(versionID int64) (string, []any) {
	if versionID < 0 {
		return "JOIN " + meta.TableVersions + " v ON v.pk = d.latest_version_pk", nil
	}
	return "JOIN " + meta.TableVersions + " v ON v.dataset_pk = d.pk AND v.version_id = ?", []any{versionID}
}

// childScope 是容器列表使用的 scope：该容器下全部数据集按名字排序
func childScope(parent model.Node, view model.DatasetView) scope {
	join, joinArgs := versionJoin(view.CacheKey())
	return scope{
		from:      meta.TableDatasets + " d " + join,
		fromArgs:  joinArgs,
		where:     "d.parent_type = ? AND d.parent_pk = ?",
		whereArgs: []any{string(parent.Type()), int64(parent.Info().Pk)},
		order:     "d.name",
	}
}

// allVersions 让 datasetScope 不按版本过滤
const allVersions int64 = -3

// datasetScope 单个数据集的全部版本 (或指定版本)
func datasetScope(datasetPk types.Pk, versionID int64) scope {
	sc := scope{
		from:      meta.TableDatasets + " d JOIN " + meta.TableVersions + " v ON v.dataset_pk = d.pk",
		where:     "d.pk = ?",
		whereArgs: []any{int64(datasetPk)},
		order:     "d.name",
	}
	switch {
	case versionID == types.VersionCurrent:
		sc.where += " AND v.pk = d.latest_version_pk"
	case versionID >= 0:
		sc.where += " AND v.version_id = ?"
		sc.whereArgs = append(sc.whereArgs, versionID)
	}
	return sc
}

// metaUnion 把某类所有者的三张元数据表合成一个带类型标识的子查询。
// NULL 列显式转换类型，否则 postgres 逐对推断 UNION 列类型时会失败。
func metaUnion(owner meta.Owner) string {
	return fmt.Sprintf(`SELECT '%s' AS md_type, owner_pk, meta_name AS md_name, meta_value AS md_string,
		CAST(NULL AS NUMERIC) AS md_number, CAST(NULL AS TIMESTAMP) AS md_timestamp FROM %s
		UNION ALL SELECT '%s', owner_pk, meta_name, CAST(NULL AS TEXT), meta_value, CAST(NULL AS TIMESTAMP) FROM %s
		UNION ALL SELECT '%s', owner_pk, meta_name, CAST(NULL AS TEXT), CAST(NULL AS NUMERIC), meta_value FROM %s`,
		cursor.MetaString, meta.MetaTable(owner, meta.ValueString),
		cursor.MetaNumber, meta.MetaTable(owner, meta.ValueNumber),
		cursor.MetaTimestamp, meta.MetaTable(owner, meta.ValueTimestamp))
}

const versionColumns = `d.pk AS dataset_pk, v.pk AS version_pk, v.version_id AS version_id,
	v.dataset_source AS dataset_source, v.created AS created,
	CASE WHEN d.latest_version_pk = v.pk THEN 1 ELSE 0 END AS latest`

// versionRowsSQL 版本 + 元数据游标：每个 (版本, 元数据项) 一行，没有元数据的版本一行空值。
// mdFilter 非空时只带出这些名字的元数据。
func versionRowsSQL(sc scope, includeMetadata bool, mdFilter []string) (string, []any) {
	var b strings.Builder
	args := append([]any(nil), sc.fromArgs...)

	b.WriteString("SELECT " + versionColumns)
	if !includeMetadata && len(mdFilter) == 0 {
		b.WriteString(`, NULL AS md_type, NULL AS md_name, NULL AS md_string, NULL AS md_number, NULL AS md_timestamp`)
		b.WriteString(" FROM " + sc.from)
	} else {
		b.WriteString(", md.md_type AS md_type, md.md_name AS md_name, md.md_string AS md_string, md.md_number AS md_number, md.md_timestamp AS md_timestamp")
		b.WriteString(" FROM " + sc.from)
		b.WriteString(" LEFT OUTER JOIN (" + metaUnion(meta.OwnerVersion) + ") md ON md.owner_pk = v.pk")
		if !includeMetadata && len(mdFilter) > 0 {
			b.WriteString(" AND md.md_name IN (" + placeholders(len(mdFilter)) + ")")
			for _, name := range mdFilter {
				args = append(args, name)
			}
		}
	}
	b.WriteString(" WHERE " + sc.where)
	args = append(args, sc.whereArgs...)
	b.WriteString(" ORDER BY " + sc.order + ", v.version_id DESC")
	args = append(args, sc.orderArgs...)
	return b.String(), args
}

// locationRowsSQL 位置游标，排序键与版本游标一致
func locationRowsSQL(sc scope) (string, []any) {
	q := `SELECT l.version_pk AS version_pk, l.pk AS location_pk, l.site AS site, l.resource AS resource,
		l.size AS size, l.checksum AS checksum, l.run_min AS run_min, l.run_max AS run_max,
		l.event_count AS event_count, l.scan_status AS scan_status, l.created AS created,
		l.modified AS modified, l.scanned AS scanned,
		CASE WHEN v.master_location_pk = l.pk THEN 1 ELSE 0 END AS master
		FROM ` + sc.from + ` JOIN ` + meta.TableLocations + ` l ON l.version_pk = v.pk
		WHERE ` + sc.where + `
		ORDER BY ` + sc.order + `, v.version_id DESC, l.created, l.pk`
	return q, sc.args()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
