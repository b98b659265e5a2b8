// Package snapshot 实现目录的单文件快照：一串连续的 BSON 文档，
// 第一个是头部（魔数、版本、记录数），之后是 count 条记录。
package snapshot

import (
	"Media_Catalog/pkg/database"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Magic 标识快照文件。
const Magic = "media-catalog-snapshot"

type header struct {
	Magic     string `bson:"magic"`
	Version   int    `bson:"version"`
	Count     int64  `bson:"count"`
	WrittenAt int64  `bson:"writtenAt"`
}

// Encode 把记录编码为快照字节。
func Encode(docs []database.RecordDocument) ([]byte, error) {
	var buf bytes.Buffer
	h := header{Magic: Magic, Version: database.SchemaVersion, Count: int64(len(docs)), WrittenAt: time.Now().UnixNano()}
	b, err := bson.Marshal(h)
	if err != nil {
		return nil, err
	}
	buf.Write(b)
	for _, d := range docs {
		b, err := bson.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("编码记录 %s 失败: %w", d.Hash, err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// Decode 从 r 读取快照。任何结构问题（魔数、版本、截断、多余数据）都返回 database.ErrCorrupt；
// 读取本身的失败原样返回。
func Decode(r io.Reader) ([]database.RecordDocument, error) {
	raw, err := readDoc(r)
	if err != nil {
		return nil, corruptOrIO("读取头部", err)
	}
	var h header
	if err := bson.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: 头部无法解码: %v", database.ErrCorrupt, err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: 魔数不匹配 %q", database.ErrCorrupt, h.Magic)
	}
	if h.Version < 1 || h.Version > database.SchemaVersion {
		return nil, fmt.Errorf("%w: 未知的版本 %d", database.ErrCorrupt, h.Version)
	}
	if h.Count < 0 {
		return nil, fmt.Errorf("%w: 记录数为负 %d", database.ErrCorrupt, h.Count)
	}

	docs := make([]database.RecordDocument, 0, min(h.Count, 1<<16))
	for i := int64(0); i < h.Count; i++ {
		raw, err := readDoc(r)
		if err != nil {
			return nil, corruptOrIO(fmt.Sprintf("读取第 %d 条记录", i+1), err)
		}
		var d database.RecordDocument
		if err := bson.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: 第 %d 条记录无法解码: %v", database.ErrCorrupt, i+1, err)
		}
		docs = append(docs, d)
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: 记录之后存在多余数据", database.ErrCorrupt)
	}
	return docs, nil
}

// maxDocSize 与 MongoDB 的单文档上限一致，防止损坏的长度字段导致超大分配。
const maxDocSize = 16 << 20

func readDoc(r io.Reader) (bson.Raw, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(lb[:]))
	if n < 5 || n > maxDocSize {
		return nil, fmt.Errorf("文档长度异常: %d", n)
	}
	doc := make([]byte, n)
	copy(doc, lb[:])
	if _, err := io.ReadFull(r, doc[4:]); err != nil {
		return nil, err
	}
	raw := bson.Raw(doc)
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return raw, nil
}

// 底层文件读取失败视为 IO 错误，截断（EOF）与长度字段异常视为损坏。
func corruptOrIO(what string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %v", database.ErrCorrupt, what, err)
}
