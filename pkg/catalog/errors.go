package catalog

import (
	"Media_Catalog/pkg/database"
	"errors"
)

var (
	// ErrIO 包装快照、锁文件等底层读写失败。
	ErrIO = errors.New("catalog io error")
	// ErrDuplicateHash 表示目录中已有相同内容哈希的记录。
	ErrDuplicateHash = errors.New("duplicate hash")
	// ErrDuplicatePath 表示路径已被另一条记录占用。
	ErrDuplicatePath = errors.New("duplicate path")
	// ErrRecordNotFound 表示按哈希找不到记录。
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidRecord 表示记录缺少 hash 或路径。
	ErrInvalidRecord = errors.New("invalid record")
	// ErrCorruptPersistence 表示快照或数据库内容无法解析，与 database.ErrCorrupt 是同一个值。
	ErrCorruptPersistence = database.ErrCorrupt
	// ErrInvalidLabel 表示标签为空、过长或含有路径分隔符与控制字符。
	ErrInvalidLabel = errors.New("invalid label")
	// ErrCatalogLocked 表示另一个进程持有该目录的写锁。
	ErrCatalogLocked = errors.New("catalog is locked by another writer")
)
