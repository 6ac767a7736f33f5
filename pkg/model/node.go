package model

import (
	"encoding/hex"
	"strconv"
	"time"

	"datacat/pkg/types"
)

// Node 是目录树上任何有身份的实体 (Folder / Group / Dataset)
type Node interface {
	Info() *NodeInfo
	Type() types.RecordType
}

// NodeInfo 是三种节点共享的身份字段
type NodeInfo struct {
	Pk         types.Pk
	ParentPk   types.Pk
	ParentType types.RecordType
	Name       string
	Path       string
	ACL        string
	Created    time.Time
}

func (n *NodeInfo) Info() *NodeInfo { return n }

// Container 是 Folder 和 Group 共有的组件：描述 + 元数据
type Container struct {
	Description string
	Metadata    Metadata
}

type Folder struct {
	NodeInfo
	Container
}

func (*Folder) Type() types.RecordType { return types.TypeFolder }

type Group struct {
	NodeInfo
	Container
}

func (*Group) Type() types.RecordType { return types.TypeGroup }

// Dataset 是带版本的数据集。
// Version 为 nil 表示“裸节点”；投影后的 Dataset 只携带被选中的版本和位置。
type Dataset struct {
	NodeInfo
	DataType   string
	FileFormat string
	Version    *DatasetVersion
}

func (*Dataset) Type() types.RecordType { return types.TypeDataset }

// Bare 返回去掉版本视图的副本
func (d *Dataset) Bare() *Dataset {
	cp := *d
	cp.Version = nil
	return &cp
}

// ContainerOf 取出容器组件，非容器返回 nil
func ContainerOf(n Node) *Container {
	switch v := n.(type) {
	case *Folder:
		return &v.Container
	case *Group:
		return &v.Container
	default:
		return nil
	}
}

// DatasetVersion 是数据集的一个不可变快照
type DatasetVersion struct {
	Pk            types.Pk
	DatasetPk     types.Pk
	VersionID     int64
	DatasetSource string
	Created       time.Time
	Latest        bool
	Metadata      Metadata
	Locations     []DatasetLocation
}

// Clone 拷贝版本，元数据和位置切片都不与原对象共享
func (v *DatasetVersion) Clone() *DatasetVersion {
	if v == nil {
		return nil
	}
	cp := *v
	cp.Metadata = v.Metadata.Clone()
	if v.Locations != nil {
		cp.Locations = append([]DatasetLocation(nil), v.Locations...)
	}
	return &cp
}

// Location 按站点查找位置
func (v *DatasetVersion) Location(site string) (DatasetLocation, bool) {
	for _, l := range v.Locations {
		if l.Site == site {
			return l, true
		}
	}
	return DatasetLocation{}, false
}

// Master 返回主位置
func (v *DatasetVersion) Master() (DatasetLocation, bool) {
	for _, l := range v.Locations {
		if l.Master {
			return l, true
		}
	}
	return DatasetLocation{}, false
}

// DatasetLocation 是某个版本在某个站点上的物理文件
type DatasetLocation struct {
	Pk         types.Pk
	VersionPk  types.Pk
	Site       string
	Resource   string
	Size       int64
	Checksum   *int64
	RunMin     *int64
	RunMax     *int64
	EventCount *int64
	ScanStatus string
	Created    time.Time
	Modified   *time.Time
	Scanned    *time.Time
	Master     bool
}

// ChecksumHex 校验和在库里是整数，对外以十六进制展示
func (l DatasetLocation) ChecksumHex() string {
	if l.Checksum == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*l.Checksum), 16)
}

// ParseChecksum 解析十六进制校验和
func ParseChecksum(s string) (int64, error) {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return int64(u), nil
}
