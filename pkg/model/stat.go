package model

import (
	"strings"

	"datacat/pkg/dcerr"
)

// StatKind 容器统计的种类
type StatKind string

const (
	StatNone    StatKind = "none"
	StatBasic   StatKind = "basic"
	StatDataset StatKind = "dataset"
)

// ParseStatKind "basic"/"count" -> Basic, "dataset" -> Dataset, 其他报错
func ParseStatKind(s string) (StatKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return StatNone, nil
	case "basic", "count":
		return StatBasic, nil
	case "dataset":
		return StatDataset, nil
	default:
		return "", dcerr.InvalidRequest.New("unsupported stat kind %q", s)
	}
}

// BasicStat 按类型统计直接子节点
type BasicStat struct {
	Datasets int64 `cbor:"1,keyasint" json:"datasets"`
	Groups   int64 `cbor:"2,keyasint" json:"groups"`
	Folders  int64 `cbor:"3,keyasint" json:"folders"`
}

// DatasetStat 只统计“最新版本的主位置”
type DatasetStat struct {
	Files      int64  `cbor:"1,keyasint" json:"files"`
	EventCount int64  `cbor:"2,keyasint" json:"eventCount"`
	Size       int64  `cbor:"3,keyasint" json:"size"`
	RunMin     *int64 `cbor:"4,keyasint,omitempty" json:"runMin,omitempty"`
	RunMax     *int64 `cbor:"5,keyasint,omitempty" json:"runMax,omitempty"`
}

// Stat 是一次统计的结果。Dataset 统计同时带上 Basic 部分。
type Stat struct {
	Kind    StatKind     `cbor:"1,keyasint" json:"kind"`
	Basic   BasicStat    `cbor:"2,keyasint" json:"basic"`
	Dataset *DatasetStat `cbor:"3,keyasint,omitempty" json:"dataset,omitempty"`
}
