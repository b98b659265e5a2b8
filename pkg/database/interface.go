package database

import (
	"Media_Catalog/internal/models"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// SchemaVersion 是所有存储共用的记录结构版本。读到更高的版本时拒绝加载。
const SchemaVersion = 1

// ErrCorrupt 表示持久化数据无法解析：魔数错误、版本未知、记录截断或无法解码。
var ErrCorrupt = errors.New("corrupt persistence")

// Store 是目录记录的持久化边界。目录在内存中维护索引，
// 只在启动时整体加载、在批处理结束后整体保存。
type Store interface {
	// LoadRecords 返回存储中的全部记录；存储为空（或尚不存在）时返回空列表。
	LoadRecords(ctx context.Context) ([]RecordDocument, error)
	// SaveRecords 用 docs 替换存储中的全部记录。
	SaveRecords(ctx context.Context, docs []RecordDocument) error
	Close(ctx context.Context) error
}

// RecordDocument 是 MediaRecord 的持久化形式，snapshot 文件与 MongoDB 共用同一套 bson 字段。
// Created 以 Unix 纳秒保存，避免 BSON datetime 的毫秒截断。
type RecordDocument struct {
	Hash           string   `bson:"_id"`
	FilePath       string   `bson:"filePath"`
	Format         string   `bson:"format"`
	Created        *int64   `bson:"created,omitempty"`
	Latitude       *float64 `bson:"latitude,omitempty"`
	Longitude      *float64 `bson:"longitude,omitempty"`
	Device         string   `bson:"device,omitempty"`
	ISO            *int     `bson:"iso,omitempty"`
	PerceptualHash string   `bson:"perceptualHash,omitempty"`
	Size           int64    `bson:"size"`
	Labels         []string `bson:"labels,omitempty"`
}

// FromRecord 把内存模型转换为持久化文档。
func FromRecord(r models.MediaRecord) RecordDocument {
	d := RecordDocument{
		Hash:           r.Hash,
		FilePath:       r.Filepath,
		Format:         r.Format.String(),
		Device:         r.Device,
		PerceptualHash: r.PerceptualHash,
		Size:           r.Size,
		Labels:         slices.Clone(r.Labels),
	}
	if r.Created != nil {
		ns := r.Created.UnixNano()
		d.Created = &ns
	}
	if r.Location != nil {
		lat, long := r.Location.Latitude, r.Location.Longitude
		d.Latitude, d.Longitude = &lat, &long
	}
	if r.ISO != nil {
		iso := *r.ISO
		d.ISO = &iso
	}
	return d
}

// ToRecord 把持久化文档还原为内存模型。格式无法识别或必填字段为空时返回 ErrCorrupt。
func (d RecordDocument) ToRecord() (models.MediaRecord, error) {
	if d.Hash == "" || d.FilePath == "" {
		return models.MediaRecord{}, fmt.Errorf("%w: 记录缺少 hash 或 filePath", ErrCorrupt)
	}
	f, err := models.ParseFormat(d.Format)
	if err != nil {
		return models.MediaRecord{}, fmt.Errorf("%w: 记录 %s: %v", ErrCorrupt, d.Hash, err)
	}
	r := models.MediaRecord{
		Hash:           d.Hash,
		Filepath:       d.FilePath,
		Format:         f,
		Device:         d.Device,
		PerceptualHash: d.PerceptualHash,
		Size:           d.Size,
		Labels:         slices.Clone(d.Labels),
	}
	if d.Created != nil {
		t := time.Unix(0, *d.Created).UTC()
		r.Created = &t
	}
	if d.Latitude != nil && d.Longitude != nil {
		r.Location = &models.Location{Latitude: *d.Latitude, Longitude: *d.Longitude}
	}
	if d.ISO != nil {
		iso := *d.ISO
		r.ISO = &iso
	}
	return r, nil
}
