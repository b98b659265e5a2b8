package snapshot

import (
	"Media_Catalog/pkg/database"
	"Media_Catalog/pkg/fsx"
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Store 是 database.Store 的单文件实现（database.driver=file）。
type Store struct {
	path string
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

func New(path string) *Store {
	return &Store{path: path}
}

// Path 返回快照文件路径。
func (s *Store) Path() string { return s.path }

// ReadFile 读取并解码快照文件。
func ReadFile(path string) ([]database.RecordDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// WriteFile 原子地写入快照：同目录临时文件、fsync、rename。
func WriteFile(path string, docs []database.RecordDocument) error {
	data, err := Encode(docs)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(abs), filepath.Base(abs), data)
}

// LoadRecords 读取快照；文件不存在时视为空目录。
func (s *Store) LoadRecords(ctx context.Context) ([]database.RecordDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs, err := ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return docs, err
}

func (s *Store) SaveRecords(ctx context.Context, docs []database.RecordDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteFile(s.path, docs)
}

func (s *Store) Close(context.Context) error { return nil }
