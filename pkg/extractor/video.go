package extractor

import (
	"Media_Catalog/internal/models"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

// macEpochOffset 是 1904-01-01（QuickTime 纪元）到 1970-01-01 的秒数。
const macEpochOffset = 2082844800

// maxMoovSize 限制读入内存的 moov 盒大小。
const maxMoovSize = 64 << 20

// 出现在 ISO BMFF（MP4、MOV、3GP）文件开头的顶层盒类型。
var bmffTopLevel = map[string]bool{
	"ftyp": true, "moov": true, "mdat": true, "free": true,
	"skip": true, "wide": true, "pnot": true, "uuid": true,
}

var errTruncatedBox = errors.New("盒结构被截断")

// VideoExtractor 从 MP4/QuickTime 容器读取元数据：mvhd 中的创建时间，
// udta 中的 ©xyz（ISO 6709 坐标）与 ©mod（设备型号）。
// 其它容器（AVI、MKV 等）不解析，返回空元数据。
type VideoExtractor struct{}

func (VideoExtractor) Extract(r io.Reader) (models.Metadata, error) {
	var meta models.Metadata
	br := boxReader{r: r}
	if s, ok := r.(io.Seeker); ok {
		br.s = s
	}

	for first := true; ; first = false {
		typ, size, err := br.next()
		if errors.Is(err, io.EOF) {
			// 没有 moov（例如分片的 MP4）
			return meta, nil
		}
		if err != nil {
			if first {
				return meta, nil
			}
			return meta, fmt.Errorf("%w: 读取视频容器失败: %v", ErrExtractionFailed, err)
		}
		if first && !bmffTopLevel[typ] {
			return meta, nil
		}
		if typ != "moov" {
			if size < 0 {
				return meta, nil
			}
			if err := br.skip(size); err != nil {
				return meta, fmt.Errorf("%w: 跳过 %s 失败: %v", ErrExtractionFailed, typ, err)
			}
			continue
		}

		if size < 0 || size > maxMoovSize {
			return meta, fmt.Errorf("%w: moov 大小异常: %d", ErrExtractionFailed, size)
		}
		moov := make([]byte, size)
		if _, err := io.ReadFull(r, moov); err != nil {
			return meta, fmt.Errorf("%w: 读取 moov 失败: %v", ErrExtractionFailed, err)
		}
		if err := parseMoov(moov, &meta); err != nil {
			return meta, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return meta, nil
	}
}

// boxReader 顺序读取顶层盒头。能 Seek 时跳过盒内容不需要读出数据。
type boxReader struct {
	r io.Reader
	s io.Seeker
}

// next 返回下一个盒的类型和内容长度；长度为 -1 表示盒一直延伸到文件末尾。
func (b boxReader) next() (string, int64, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(b.r, hdr[:]); err != nil {
		return "", 0, err
	}
	size := uint64(binary.BigEndian.Uint32(hdr[:4]))
	typ := string(hdr[4:])
	switch size {
	case 0:
		return typ, -1, nil
	case 1:
		var large [8]byte
		if _, err := io.ReadFull(b.r, large[:]); err != nil {
			return "", 0, io.ErrUnexpectedEOF
		}
		size = binary.BigEndian.Uint64(large[:])
		if size < 16 {
			return "", 0, errTruncatedBox
		}
		return typ, int64(size - 16), nil
	}
	if size < 8 {
		return "", 0, errTruncatedBox
	}
	return typ, int64(size - 8), nil
}

func (b boxReader) skip(n int64) error {
	if b.s != nil {
		_, err := b.s.Seek(n, io.SeekCurrent)
		return err
	}
	_, err := io.CopyN(io.Discard, b.r, n)
	return err
}

// children 依次回调 b 中的每个子盒。
func children(b []byte, fn func(typ string, payload []byte) error) error {
	for len(b) > 0 {
		if len(b) < 8 {
			return errTruncatedBox
		}
		size := uint64(binary.BigEndian.Uint32(b[:4]))
		typ := string(b[4:8])
		hdr := uint64(8)
		switch size {
		case 0:
			size = uint64(len(b))
		case 1:
			if len(b) < 16 {
				return errTruncatedBox
			}
			size, hdr = binary.BigEndian.Uint64(b[8:16]), 16
		}
		if size < hdr || size > uint64(len(b)) {
			return fmt.Errorf("%w: %s", errTruncatedBox, typ)
		}
		if err := fn(typ, b[hdr:size]); err != nil {
			return err
		}
		b = b[size:]
	}
	return nil
}

func parseMoov(moov []byte, meta *models.Metadata) error {
	return children(moov, func(typ string, p []byte) error {
		switch typ {
		case "mvhd":
			if t, ok := mvhdCreated(p); ok {
				meta.Created = &t
			}
		case "udta":
			return children(p, func(typ string, p []byte) error {
				s, ok := udtaString(p)
				if !ok {
					return nil
				}
				switch typ {
				case "\xa9xyz":
					if loc, ok := parseISO6709(s); ok {
						meta.Location = &loc
					}
				case "\xa9mod":
					meta.Device = cleanExifString(s)
				}
				return nil
			})
		}
		return nil
	})
}

// mvhdCreated 读取 mvhd 的 creation_time（版本 0 为 32 位，版本 1 为 64 位，自 1904 年起的秒数）。
func mvhdCreated(p []byte) (time.Time, bool) {
	if len(p) < 4 {
		return time.Time{}, false
	}
	var secs uint64
	switch p[0] {
	case 0:
		if len(p) < 8 {
			return time.Time{}, false
		}
		secs = uint64(binary.BigEndian.Uint32(p[4:8]))
	case 1:
		if len(p) < 12 {
			return time.Time{}, false
		}
		secs = binary.BigEndian.Uint64(p[4:12])
	default:
		return time.Time{}, false
	}
	// 0 表示未设置；早于 1970 年的值基本都是未设置时钟的相机写入的
	if secs <= macEpochOffset {
		return time.Time{}, false
	}
	return time.Unix(int64(secs-macEpochOffset), 0).UTC(), true
}

// udtaString 解析 QuickTime 国际文本条目：2 字节长度、2 字节语言码、文本。
func udtaString(p []byte) (string, bool) {
	if len(p) < 4 {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(p[:2]))
	if 4+n > len(p) {
		n = len(p) - 4
	}
	return string(p[4 : 4+n]), true
}

var iso6709 = regexp.MustCompile(`^([+-]\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)`)

// parseISO6709 解析 "+52.5200+013.4050+034.000/" 形式的坐标（十进制度）。
func parseISO6709(s string) (models.Location, bool) {
	m := iso6709.FindStringSubmatch(s)
	if m == nil {
		return models.Location{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	loc := models.Location{Latitude: lat, Longitude: lon}
	if err1 != nil || err2 != nil || !loc.Valid() {
		return models.Location{}, false
	}
	return loc, true
}
