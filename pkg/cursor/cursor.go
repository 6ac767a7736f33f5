// Package cursor 把多个按同一自然键排序的结果游标合并成嵌套的节点树
package cursor

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// Record 是一行结果：列名 -> 驱动返回的原始值
type Record map[string]any

// Cursor 是只进、单遍的行来源
type Cursor interface {
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// -----------------------------------------------------------------------------
// SQLCursor：直接包装 *sql.Rows
// -----------------------------------------------------------------------------

type SQLCursor struct {
	rows   *sql.Rows
	cols   []string
	rec    Record
	err    error
	closed bool
}

func NewSQLCursor(rows *sql.Rows) (*SQLCursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &SQLCursor{rows: rows, cols: cols}, nil
}

func (c *SQLCursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.Close()
		return false
	}

	values := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = err
		c.Close()
		return false
	}

	rec := make(Record, len(c.cols))
	for i, col := range c.cols {
		rec[col] = values[i]
	}
	c.rec = rec
	return true
}

func (c *SQLCursor) Record() Record { return c.rec }
func (c *SQLCursor) Err() error     { return c.err }

func (c *SQLCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// -----------------------------------------------------------------------------
// FetchCursor：postgres 服务端游标，每次 FETCH 一批，内存受 fetchSize 约束
// pgx 同一连接上不能同时挂多个未读完的结果集，所以三个游标都走 DECLARE/FETCH。
// -----------------------------------------------------------------------------

type FetchCursor struct {
	ctx       context.Context
	tx        *gorm.DB
	name      string
	fetchSize int

	batch  []Record
	pos    int
	done   bool
	rec    Record
	err    error
	closed bool
}

func openFetchCursor(ctx context.Context, tx *gorm.DB, name, query string, args []any, fetchSize int) (*FetchCursor, error) {
	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query)
	if err := tx.WithContext(ctx).Exec(declare, args...).Error; err != nil {
		return nil, fmt.Errorf("declare cursor %s: %w", name, err)
	}
	return &FetchCursor{ctx: ctx, tx: tx, name: name, fetchSize: fetchSize}, nil
}

func (c *FetchCursor) Next() bool {
	if c.closed {
		return false
	}
	if c.pos >= len(c.batch) {
		if c.done || !c.fetch() {
			c.Close()
			return false
		}
	}
	c.rec = c.batch[c.pos]
	c.batch[c.pos] = nil
	c.pos++
	return true
}

// fetch 取下一批，返回是否拿到了行
func (c *FetchCursor) fetch() bool {
	rows, err := c.tx.WithContext(c.ctx).
		Raw(fmt.Sprintf("FETCH FORWARD %d FROM %s", c.fetchSize, c.name)).
		Rows()
	if err != nil {
		c.err = err
		return false
	}
	inner, err := NewSQLCursor(rows)
	if err != nil {
		c.err = err
		return false
	}

	c.batch = c.batch[:0]
	c.pos = 0
	for inner.Next() {
		c.batch = append(c.batch, inner.Record())
	}
	if err := inner.Err(); err != nil {
		c.err = err
		return false
	}
	if len(c.batch) < c.fetchSize {
		c.done = true
	}
	return len(c.batch) > 0
}

func (c *FetchCursor) Record() Record { return c.rec }
func (c *FetchCursor) Err() error     { return c.err }

func (c *FetchCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.batch = nil
	// 事务已经中止时 CLOSE 会失败，回滚本身也会关闭游标
	if c.err != nil {
		return nil
	}
	return c.tx.WithContext(context.WithoutCancel(c.ctx)).Exec("CLOSE " + c.name).Error
}

// Open 在事务 tx 上打开一个游标。postgres 且 fetchSize > 0 时使用服务端游标。
// name 只用于服务端游标，调用方保证在同一事务内唯一。
func Open(ctx context.Context, tx *gorm.DB, name, query string, args []any, fetchSize int) (Cursor, error) {
	if tx.Dialector.Name() == "postgres" && fetchSize > 0 {
		c, err := openFetchCursor(ctx, tx, name, query, args, fetchSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	rows, err := tx.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	c, err := NewSQLCursor(rows)
	if err != nil {
		return nil, err
	}
	return c, nil
}
