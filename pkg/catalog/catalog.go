// Package catalog 维护内容寻址的媒体目录：hash → 记录 与 路径 → hash 两个索引始终同步更新。
package catalog

import (
	"Media_Catalog/internal/models"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Catalog 是线程安全的内存目录。写操作互斥，读操作可并发。
type Catalog struct {
	mu     sync.RWMutex
	byHash map[string]models.MediaRecord
	byPath map[string]string

	// sorted 是按 hash 排好序的快照缓存，任何修改都会把它置空。
	sorted []models.MediaRecord

	// persistMu 串行化并发的 WriteToDisk / Save。
	persistMu sync.Mutex
}

func New() *Catalog {
	return &Catalog{
		byHash: make(map[string]models.MediaRecord),
		byPath: make(map[string]string),
	}
}

// Insert 添加一条新记录。
func (c *Catalog) Insert(rec models.MediaRecord) error {
	if rec.Hash == "" || rec.Filepath == "" {
		return fmt.Errorf("%w: hash 与路径不能为空", ErrInvalidRecord)
	}
	rec = rec.Clone()
	rec.Filepath = filepath.Clean(rec.Filepath)
	slices.Sort(rec.Labels)
	rec.Labels = slices.Compact(rec.Labels)
	if len(rec.Labels) == 0 {
		rec.Labels = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byHash[rec.Hash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHash, rec.Hash)
	}
	if other, ok := c.byPath[rec.Filepath]; ok {
		return fmt.Errorf("%w: %s 已属于 %s", ErrDuplicatePath, rec.Filepath, other)
	}
	c.byHash[rec.Hash] = rec
	c.byPath[rec.Filepath] = rec.Hash
	c.sorted = nil
	return nil
}

// Remove 删除一条记录。
func (c *Catalog) Remove(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byHash[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	delete(c.byHash, hash)
	delete(c.byPath, rec.Filepath)
	c.sorted = nil
	return nil
}

// UpdatePath 修改记录的路径，两个索引一起更新。新路径与当前路径相同时什么也不做。
func (c *Catalog) UpdatePath(hash, newPath string) error {
	if newPath == "" {
		return fmt.Errorf("%w: 路径不能为空", ErrInvalidRecord)
	}
	newPath = filepath.Clean(newPath)

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byHash[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	if rec.Filepath == newPath {
		return nil
	}
	if other, ok := c.byPath[newPath]; ok {
		return fmt.Errorf("%w: %s 已属于 %s", ErrDuplicatePath, newPath, other)
	}
	delete(c.byPath, rec.Filepath)
	rec.Filepath = newPath
	c.byHash[hash] = rec
	c.byPath[newPath] = hash
	c.sorted = nil
	return nil
}

// LookupByHash 按内容哈希查找记录。返回的是深拷贝。
func (c *Catalog) LookupByHash(hash string) (models.MediaRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byHash[hash]
	return rec.Clone(), ok
}

// LookupByPath 按路径查找记录。
func (c *Catalog) LookupByPath(path string) (models.MediaRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.byPath[filepath.Clean(path)]
	if !ok {
		return models.MediaRecord{}, false
	}
	return c.byHash[hash].Clone(), true
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

// Records 返回调用时刻全部记录的副本，按 hash 排序。
// 副本是深拷贝，调用方修改它不会影响目录。
func (c *Catalog) Records() []models.MediaRecord {
	snap := c.snapshot()
	out := make([]models.MediaRecord, len(snap))
	for i, rec := range snap {
		out[i] = rec.Clone()
	}
	return out
}

// All 遍历调用时刻的记录快照（按 hash 排序）。遍历期间的修改不影响本次遍历。
func (c *Catalog) All() iter.Seq[models.MediaRecord] {
	snap := c.snapshot()
	return func(yield func(models.MediaRecord) bool) {
		for _, rec := range snap {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// snapshot 返回排序后的记录切片。返回值在下次修改后不会再被写入，只读使用是安全的。
func (c *Catalog) snapshot() []models.MediaRecord {
	c.mu.RLock()
	if c.sorted != nil || len(c.byHash) == 0 {
		s := c.sorted
		c.mu.RUnlock()
		return s
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sorted == nil {
		s := make([]models.MediaRecord, 0, len(c.byHash))
		for _, rec := range c.byHash {
			s = append(s, rec)
		}
		slices.SortFunc(s, func(a, b models.MediaRecord) int { return strings.Compare(a.Hash, b.Hash) })
		c.sorted = s
	}
	return c.sorted
}
