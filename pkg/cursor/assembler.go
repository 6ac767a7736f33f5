package cursor

import (
	"errors"
	"iter"

	"datacat/pkg/model"
	"datacat/pkg/types"
)

// PathFunc 根据父节点和名字计算节点路径
type PathFunc func(parentType types.RecordType, parentPk types.Pk, name string) string

// Options 控制装配行为
type Options struct {
	PathOf PathFunc
	// OnClose 在三个游标都关闭之后调用 (例如回滚只读事务)
	OnClose func() error
}

// Stream 是惰性、只进、单遍的节点序列
//
// primary 给出节点本身；versions 和 locations 与 primary 按同一自然键
// (父节点, 名字, 版本号降序) 排序，装配时只向前推进，从不回退。
type Stream struct {
	primary   Cursor
	versions  *peeker
	locations *peeker
	opts      Options

	node   model.Node
	err    error
	closed bool
}

// Assemble 组装一个 Stream。versions / locations 可以为 nil (视图不需要时不打开)。
func Assemble(primary, versions, locations Cursor, opts Options) *Stream {
	s := &Stream{primary: primary, opts: opts}
	if versions != nil {
		s.versions = &peeker{cur: versions}
	}
	if locations != nil {
		s.locations = &peeker{cur: locations}
	}
	return s
}

// Next 读取并装配下一个节点。序列结束或出错时自动关闭。
func (s *Stream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	if !s.primary.Next() {
		s.fail(s.primary.Err())
		s.Close()
		return false
	}

	node, err := DecodeNode(s.primary.Record(), s.opts.PathOf)
	if err != nil {
		s.fail(err)
		s.Close()
		return false
	}

	if ds, ok := node.(*model.Dataset); ok && s.versions != nil {
		ver, err := s.assembleVersion(ds.Pk)
		if err != nil {
			s.fail(err)
			s.Close()
			return false
		}
		ds.Version = ver
	}

	s.node = node
	return true
}

// assembleVersion 推进版本游标直到数据集键或版本键不再匹配，
// 同时嵌套推进位置游标收集该版本的位置
func (s *Stream) assembleVersion(datasetPk types.Pk) (*model.DatasetVersion, error) {
	rec, ok, err := s.versions.peek()
	if err != nil || !ok {
		return nil, err
	}
	if key(rec, ColDatasetPk) != int64(datasetPk) {
		return nil, nil
	}

	ver := DecodeVersion(rec)
	for {
		rec, ok, err := s.versions.peek()
		if err != nil {
			return nil, err
		}
		if !ok || key(rec, ColDatasetPk) != int64(datasetPk) || key(rec, ColVersionPk) != int64(ver.Pk) {
			break
		}
		if err := AddMetadata(ver.Metadata, rec); err != nil {
			return nil, err
		}
		s.versions.advance()
	}

	if s.locations != nil {
		for {
			rec, ok, err := s.locations.peek()
			if err != nil {
				return nil, err
			}
			if !ok || key(rec, ColVersionPk) != int64(ver.Pk) {
				break
			}
			ver.Locations = append(ver.Locations, DecodeLocation(rec))
			s.locations.advance()
		}
	}
	return ver, nil
}

// Node 返回当前节点
func (s *Stream) Node() model.Node { return s.node }

// Err 返回第一个错误
func (s *Stream) Err() error { return s.err }

// Close 关闭三个游标并执行 OnClose，可以重复调用
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.node = nil

	errs := []error{s.primary.Close()}
	if s.versions != nil {
		errs = append(errs, s.versions.cur.Close())
	}
	if s.locations != nil {
		errs = append(errs, s.locations.cur.Close())
	}
	if s.opts.OnClose != nil {
		errs = append(errs, s.opts.OnClose())
	}
	return errors.Join(errs...)
}

// All 适配 range-over-func；提前 break 同样会关闭全部游标
func (s *Stream) All() iter.Seq2[model.Node, error] {
	return func(yield func(model.Node, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.node, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect 读完整个序列 (测试和小列表用)
func (s *Stream) Collect() ([]model.Node, error) {
	var out []model.Node
	for n, err := range s.All() {
		if err != nil {
			return out, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Stream) fail(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
}

func key(rec Record, col string) int64 {
	v, ok := AsInt64(rec[col])
	if !ok {
		return -1
	}
	return v
}

// peeker 给游标加一行前瞻
type peeker struct {
	cur    Cursor
	rec    Record
	has    bool
	primed bool
	done   bool
	err    error
}

func (p *peeker) peek() (Record, bool, error) {
	if !p.primed {
		p.fill()
	}
	return p.rec, p.has, p.err
}

func (p *peeker) advance() {
	p.primed = false
}

func (p *peeker) fill() {
	p.primed = true
	if p.done {
		p.has = false
		return
	}
	if p.cur.Next() {
		p.rec = p.cur.Record()
		p.has = true
		return
	}
	p.rec = nil
	p.has = false
	p.done = true
	p.err = p.cur.Err()
	p.cur.Close()
}

// CollectVersions 合并版本游标和位置游标，得到完整的版本列表 (顺序与版本游标一致)。
// 用于单个数据集的版本读取；两个游标最终都会关闭。
func CollectVersions(versions, locations Cursor) ([]*model.DatasetVersion, error) {
	s := &Stream{versions: &peeker{cur: versions}}
	if locations != nil {
		s.locations = &peeker{cur: locations}
	}
	defer func() {
		versions.Close()
		if locations != nil {
			locations.Close()
		}
	}()

	var out []*model.DatasetVersion
	for {
		rec, ok, err := s.versions.peek()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ver, err := s.assembleVersion(types.Pk(key(rec, ColDatasetPk)))
		if err != nil {
			return nil, err
		}
		out = append(out, ver)
	}
	if s.locations != nil {
		if _, _, err := s.locations.peek(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
