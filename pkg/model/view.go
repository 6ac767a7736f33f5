package model

import (
	"fmt"
	"strconv"
	"strings"

	"datacat/pkg/types"
)

// SiteMode 站点选择方式
type SiteMode int

const (
	SitesAll SiteMode = iota
	SitesSpecific
	SitesZero
	SitesZeroOrMore
)

// SiteSelector 决定投影中携带哪些位置
type SiteSelector struct {
	Mode SiteMode
	Site string // 仅 SitesSpecific 使用
	// Tolerant 允许 ALL / SPECIFIC 在没有位置时返回空集合而不是 NotFound
	Tolerant bool
}

// TolerateZero 选择器是否接受空位置集合
func (s SiteSelector) TolerateZero() bool {
	return s.Mode == SitesZero || s.Mode == SitesZeroOrMore || s.Tolerant
}

func (s SiteSelector) String() string {
	switch s.Mode {
	case SitesAll:
		return "all"
	case SitesSpecific:
		return s.Site
	case SitesZero:
		return "zero"
	default:
		return "zero_or_more"
	}
}

// DatasetView 是请求侧的视图规格，不落库
type DatasetView struct {
	VersionID       int64
	Site            SiteSelector
	IncludeMetadata bool
	// Empty 为 true 时解析器直接返回裸节点
	Empty bool
}

// EmptyView 不需要版本信息的视图
func EmptyView() DatasetView {
	return DatasetView{Empty: true}
}

// CurrentView 最常见的视图：当前版本、全部位置、带元数据、允许没有位置
func CurrentView() DatasetView {
	return DatasetView{
		VersionID:       types.VersionCurrent,
		Site:            SiteSelector{Mode: SitesZeroOrMore},
		IncludeMetadata: true,
	}
}

// IsEmpty 空视图：不要版本/元数据/位置
func (v DatasetView) IsEmpty() bool { return v.Empty }

// CacheKey 返回解析器缓存使用的版本键。版本号从 0 开始，0 是合法版本。
func (v DatasetView) CacheKey() int64 {
	if v.VersionID == types.VersionNew {
		return types.VersionCurrent
	}
	return v.VersionID
}

// ParseVersion 解析 "current" / "new" / 数字
func ParseVersion(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "current", "latest":
		return types.VersionCurrent, nil
	case "new":
		return types.VersionNew, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return id, nil
}

// ParseSite 解析 "all" / "*" / "zero" / "any" / 具体站点
func ParseSite(s string) SiteSelector {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "zero_or_more":
		return SiteSelector{Mode: SitesZeroOrMore}
	case "all", "*":
		return SiteSelector{Mode: SitesAll}
	case "zero", "none":
		return SiteSelector{Mode: SitesZero}
	case "master", "canonical":
		return SiteSelector{Mode: SitesSpecific, Site: "master"}
	}
	return SiteSelector{Mode: SitesSpecific, Site: s}
}
