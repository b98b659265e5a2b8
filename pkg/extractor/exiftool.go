package extractor

import (
	"Media_Catalog/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// exiftoolTimeout 限制单个文件交给 exiftool 的时间。
const exiftoolTimeout = 30 * time.Second

// exiftoolDateLayout 是 exiftool 默认的日期格式。
const exiftoolDateLayout = "2006:01:02 15:04:05"

// ExiftoolExtractor 先使用内置提取器，拿不到拍摄时间时再调用外部 exiftool 补齐缺失字段。
// 只有能 Seek 的输入才会交给 exiftool，因为内置提取器已经读过一遍。
type ExiftoolExtractor struct {
	Primary FormatExtractor
	// Path 是 exiftool 可执行文件，为空时在 PATH 中查找 "exiftool"。
	Path string
}

type exiftoolOutput struct {
	CreateDate       string `json:"CreateDate"`
	DateTimeOriginal string `json:"DateTimeOriginal"`
	Model            string `json:"Model"`
}

func (e ExiftoolExtractor) Extract(r io.Reader) (models.Metadata, error) {
	meta, err := e.Primary.Extract(r)
	if meta.Created != nil {
		return meta, err
	}
	s, ok := r.(io.Seeker)
	if !ok {
		return meta, err
	}
	if _, serr := s.Seek(0, io.SeekStart); serr != nil {
		return meta, errors.Join(err, fmt.Errorf("%w: %v", ErrExtractionFailed, serr))
	}

	out, xerr := e.run(r)
	if xerr != nil {
		return meta, errors.Join(err, xerr)
	}
	for _, v := range []string{out.DateTimeOriginal, out.CreateDate} {
		if t, perr := time.Parse(exiftoolDateLayout, v); perr == nil && !t.IsZero() {
			meta.Created = &t
			break
		}
	}
	if meta.Device == "" {
		meta.Device = strings.TrimSpace(out.Model)
	}
	if meta.Created != nil {
		// exiftool 补齐了内置提取器缺失的时间，之前的失败不再算作诊断
		return meta, nil
	}
	return meta, err
}

// run 通过标准输入把文件内容交给 exiftool -json。
func (e ExiftoolExtractor) run(r io.Reader) (exiftoolOutput, error) {
	path := e.Path
	if path == "" {
		path = "exiftool"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return exiftoolOutput{}, fmt.Errorf("%w: 找不到 exiftool: %v", ErrExtractionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), exiftoolTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "-json", "-CreateDate", "-DateTimeOriginal", "-Model", "-")
	cmd.Stdin = r
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return exiftoolOutput{}, fmt.Errorf("%w: exiftool 执行失败: %v: %s", ErrExtractionFailed, err, strings.TrimSpace(stderr.String()))
	}

	var outs []exiftoolOutput
	if err := json.Unmarshal(stdout.Bytes(), &outs); err != nil {
		return exiftoolOutput{}, fmt.Errorf("%w: 无法解析 exiftool 输出: %v", ErrExtractionFailed, err)
	}
	if len(outs) == 0 {
		return exiftoolOutput{}, fmt.Errorf("%w: exiftool 没有输出", ErrExtractionFailed)
	}
	return outs[0], nil
}
