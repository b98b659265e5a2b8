package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	// 匿名导入 (blank import) image解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/ajdnik/imghash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// CalculateSHA256FromBytes 从字节切片计算 SHA-256 哈希
func CalculateSHA256FromBytes(data []byte) string {
	hashBytes := sha256.Sum256(data)
	return hex.EncodeToString(hashBytes[:])
}

// CalculateSHA256FromReader 流式计算 r 的 SHA-256，返回哈希和读取的字节数。
// 大文件不会被整体读入内存。
func CalculateSHA256FromReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// CalculateSHA256 计算并返回一个文件的SHA-256哈希值。
func CalculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	sum, _, err := CalculateSHA256FromReader(file)
	return sum, err
}

// CalculatePerceptualHashFromImage 从已解码的 image.Image 对象计算感知哈希
func CalculatePerceptualHashFromImage(img image.Image) string {
	phasher := imghash.NewPHash()
	pHash := phasher.Calculate(img)
	return fmt.Sprintf("%d", pHash)
}

// CalculatePerceptualHashFromReader 解码图片（按 EXIF 方向摆正）后计算 pHash。
// 同一张照片旋转保存的两个副本因此得到相同的感知哈希。
func CalculatePerceptualHashFromReader(r io.Reader) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("解码图片失败: %w", err)
	}
	return CalculatePerceptualHashFromImage(img), nil
}

// CalculatePerceptualHash 计算并返回一个图片的感知哈希(pHash)值。
func CalculatePerceptualHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return CalculatePerceptualHashFromReader(file)
}
