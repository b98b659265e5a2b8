package fsx

import (
	"Media_Catalog/pkg/hasher"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV、不支持硬链接等错误。
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

var (
	// ErrRenameCollision 表示目标路径已被占用，本包从不覆盖已有文件。
	ErrRenameCollision = errors.New("目标路径已存在")
	// ErrHashMismatch 表示复制后的内容哈希与期望不一致。
	ErrHashMismatch = errors.New("复制后哈希不一致")
)

// tmpMarker 出现在本包创建的所有临时文件名中。
const tmpMarker = ".tmp-"

// IsTempName 判断文件名是否是本包写入过程中的临时文件（以 '.' 开头并带 .tmp- 标记）。
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tmpMarker)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// Exists 用 Lstat 判断路径上是否有任何文件系统对象（符号链接本身也算）。
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteFileAtomic 在 dir 下原子写入 name（临时文件 + fsync + rename），覆盖同名文件。
// 写入中途崩溃时，旧文件保持完整。
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免污染媒体库视图）。
	tmp, err := os.CreateTemp(dir, "."+name+tmpMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort。
	_ = syncDirBestEffort(dir)
	return nil
}

// CopyVerified 把 src 复制到 dst：先写入目标目录下的临时文件并 fsync，
// 重新读取临时文件校验哈希，最后以不覆盖的方式放到 dst。
// wantHash 为空时不做校验。dst 已存在时返回 ErrRenameCollision，任何失败都不会留下临时文件。
func CopyVerified(src, dst, wantHash string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+tmpMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// 保留源文件的修改时间，mtime 回退依赖它。
	_ = os.Chtimes(tmpName, info.ModTime(), info.ModTime())

	if wantHash != "" {
		got, err := hasher.CalculateSHA256(tmpName)
		if err != nil {
			return err
		}
		if got != wantHash {
			return fmt.Errorf("%w: %s 期望 %s 实际 %s", ErrHashMismatch, dst, wantHash, got)
		}
	}

	return placeNoClobber(tmpName, dst)
}

// placeNoClobber 把 tmp 放到 dst，dst 已存在时失败。
// 优先用硬链接（内核保证不覆盖），文件系统不支持时退回 Lstat + rename。
func placeNoClobber(tmp, dst string) error {
	err := linkFunc(tmp, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrRenameCollision, dst)
	}
	exists, lerr := Exists(dst)
	if lerr != nil {
		return lerr
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRenameCollision, dst)
	}
	return Rename(tmp, dst)
}

// Move 把 src 移动到 dst，不覆盖已有文件。
// 同一文件系统内使用 rename；跨盘时退回 复制 + 校验 + 删除源文件。
func Move(src, dst string) error {
	exists, err := Exists(dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRenameCollision, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	err = Rename(src, dst)
	if err == nil {
		return nil
	}
	if !IsCrossDevice(err) {
		return err
	}

	want, err := hasher.CalculateSHA256(src)
	if err != nil {
		return err
	}
	if err := CopyVerified(src, dst, want); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		// 回滚，保证同一内容在磁盘上只有一个受管理的副本。
		_ = os.Remove(dst)
		return fmt.Errorf("已复制到 %s 但无法删除源文件: %w", dst, err)
	}
	return nil
}

// maxSuffix 限制 UniquePath 尝试的后缀数量。
const maxSuffix = 100000

// ErrNoFreePath 表示在 maxSuffix 个后缀内找不到空闲路径。
var ErrNoFreePath = errors.New("找不到空闲的目标路径")

// UniquePath 返回第一个 taken 判定为空闲的路径：先试 p 本身，
// 再依次试 name_1.ext、name_2.ext ...。第二个返回值是使用的后缀（0 表示未加后缀）。
// taken 返回错误（例如父目录不可访问）时立即停止并返回该错误。
func UniquePath(p string, taken func(string) (bool, error)) (string, int, error) {
	busy, err := taken(p)
	if err != nil {
		return "", 0, err
	}
	if !busy {
		return p, 0, nil
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for n := 1; n <= maxSuffix; n++ {
		c := fmt.Sprintf("%s_%d%s", base, n, ext)
		busy, err := taken(c)
		if err != nil {
			return "", 0, err
		}
		if !busy {
			return c, n, nil
		}
	}
	return "", 0, fmt.Errorf("%w: %s", ErrNoFreePath, p)
}

// Within 判断 path 是否等于 root 或位于 root 之下（两者都应是清理过的绝对路径）。
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// PruneEmptyDirs 自底向上删除 root 之下的空目录（root 本身保留），返回删除的数量。
// 用显式栈做后序遍历，目录层级再深也不会耗尽调用栈。
func PruneEmptyDirs(root string) (int, error) {
	type frame struct {
		dir      string
		expanded bool
	}
	removed := 0
	stack := []frame{{dir: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.expanded {
			top.expanded = true
			dir := top.dir
			entries, err := os.ReadDir(dir)
			if err != nil {
				return removed, err
			}
			for _, e := range entries {
				if e.IsDir() {
					stack = append(stack, frame{dir: filepath.Join(dir, e.Name())})
				}
			}
			continue
		}
		// 子目录都已处理完
		dir := top.dir
		stack = stack[:len(stack)-1]
		if dir == root {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
