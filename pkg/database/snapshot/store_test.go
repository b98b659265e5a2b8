package snapshot

import (
	"Media_Catalog/pkg/database"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func sampleDocs() []database.RecordDocument {
	created := int64(1622550645123456789)
	lat, long := 52.52, 13.405
	iso := 200
	return []database.RecordDocument{
		{Hash: "aa", FilePath: "/lib/a.jpg", Format: "image/jpeg", Created: &created, Latitude: &lat, Longitude: &long, Device: "CamX", ISO: &iso, Size: 10, Labels: []string{"family", "trip"}},
		{Hash: "bb", FilePath: "/lib/b.mp4", Format: "video/mp4", Size: 20},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.snapshot")
	s := New(path)
	ctx := context.Background()

	docs, err := s.LoadRecords(ctx)
	if err != nil || len(docs) != 0 {
		t.Fatalf("不存在的快照应视为空：%v %v", docs, err)
	}

	if err := s.SaveRecords(ctx, sampleDocs()); err != nil {
		t.Fatalf("保存失败：%v", err)
	}
	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("加载失败：%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("记录数不符：%d", len(got))
	}
	if *got[0].Created != 1622550645123456789 || *got[0].ISO != 200 || got[0].Device != "CamX" {
		t.Fatalf("字段丢失：%+v", got[0])
	}
	if !slices.Equal(got[0].Labels, []string{"family", "trip"}) {
		t.Fatalf("标签丢失：%v", got[0].Labels)
	}
	if got[1].Created != nil || got[1].ISO != nil || got[1].Latitude != nil || got[1].Labels != nil {
		t.Fatalf("空字段应保持为空：%+v", got[1])
	}
}

func TestDecode_Corrupt(t *testing.T) {
	good, err := Encode(sampleDocs())
	if err != nil {
		t.Fatalf("编码失败：%v", err)
	}
	badMagic, _ := bson.Marshal(header{Magic: "nope", Version: 1})
	future, _ := bson.Marshal(header{Magic: Magic, Version: database.SchemaVersion + 1})

	cases := map[string][]byte{
		"空文件":  nil,
		"截断":   good[:len(good)-5],
		"魔数错误": badMagic,
		"未知版本": future,
		"多余数据": append(append([]byte{}, good...), 0x01),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(bytes.NewReader(data)); !errors.Is(err, database.ErrCorrupt) {
				t.Fatalf("期望 ErrCorrupt，实际：%v", err)
			}
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "none"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("期望 ErrNotExist，实际：%v", err)
	}
}
