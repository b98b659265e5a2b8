package fsx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Entry 是遍历产生的一个普通文件。
type Entry struct {
	Path string // 绝对路径
	Rel  string // 相对遍历根目录的路径
	Dir  fs.DirEntry
}

// WalkOptions 控制遍历范围。
type WalkOptions struct {
	// SkipHidden 跳过以 '.' 开头的文件和目录。
	SkipHidden bool
	// Exclude 中的目录（绝对路径）及其子树不会被遍历。
	Exclude []string
	// OnError 接收子目录读取失败；为 nil 时静默跳过该目录。
	OnError func(path string, err error)
}

type frame struct {
	dir     string
	entries []fs.DirEntry
	next    int
}

// Walker 是基于显式栈的惰性深度优先遍历器：每次 Next 只读取需要的目录，
// 同一目录内按名称排序，因此文件系统不变时输出顺序确定。不跟随符号链接。
type Walker struct {
	root  string
	opts  WalkOptions
	stack []*frame
	cur   Entry
}

// NewWalker 打开 root 并返回遍历器。root 不可读是致命错误。
func NewWalker(root string, opts WalkOptions) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", abs)
	}
	w := &Walker{root: abs, opts: opts}
	w.opts.Exclude = make([]string, 0, len(opts.Exclude))
	for _, ex := range opts.Exclude {
		w.opts.Exclude = append(w.opts.Exclude, filepath.Clean(ex))
	}
	f, err := w.open(abs)
	if err != nil {
		return nil, err
	}
	w.stack = append(w.stack, f)
	return w, nil
}

// Root 返回遍历根目录的绝对路径。
func (w *Walker) Root() string { return w.root }

func (w *Walker) open(dir string) (*frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	// os.ReadDir 已按文件名排序，这里再排一次以免依赖实现细节。
	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return &frame{dir: dir, entries: entries}, nil
}

func (w *Walker) excluded(path string) bool {
	return slices.Contains(w.opts.Exclude, path)
}

// Next 前进到下一个普通文件，没有更多文件时返回 false。
func (w *Walker) Next() bool {
	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		if top.next >= len(top.entries) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}
		d := top.entries[top.next]
		top.next++

		name := d.Name()
		if w.opts.SkipHidden && strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(top.dir, name)

		switch {
		case d.IsDir():
			if w.excluded(path) {
				continue
			}
			f, err := w.open(path)
			if err != nil {
				if w.opts.OnError != nil {
					w.opts.OnError(path, err)
				}
				continue
			}
			w.stack = append(w.stack, f)
		case d.Type().IsRegular():
			rel, _ := filepath.Rel(w.root, path)
			w.cur = Entry{Path: path, Rel: rel, Dir: d}
			return true
		}
	}
	return false
}

// Entry 返回 Next 最近一次定位到的文件。
func (w *Walker) Entry() Entry { return w.cur }
