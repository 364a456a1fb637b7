package application

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jobrunner/geopub/internal/domain"
)

// writeZip creates an archive with the given entries (name -> content).
func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func newOrderDir(t *testing.T, orderID string) (string, string) {
	t.Helper()
	downloadDir := t.TempDir()
	orderDir := filepath.Join(downloadDir, orderID)
	if err := os.MkdirAll(orderDir, 0o750); err != nil {
		t.Fatalf("mkdir order: %v", err)
	}
	return downloadDir, orderDir
}

func TestDetectOrderNotFound(t *testing.T) {
	d := NewDetector(t.TempDir(), &mockOpener{}, testLogger())
	_, err := d.Detect(context.Background(), "missing-order")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("Detect() error = %v, want ErrOrderNotFound", err)
	}
}

func TestDetectMajorityCount(t *testing.T) {
	// One .gpkg against three .laz entries: point cloud wins by count.
	downloadDir, orderDir := newOrderDir(t, "order-1")
	writeZip(t, filepath.Join(orderDir, "delivery.zip"), map[string][]byte{
		"data/area.gpkg":  []byte("x"),
		"data/tile_1.laz": []byte("x"),
		"data/tile_2.laz": []byte("x"),
		"data/tile_3.laz": []byte("x"),
	})

	d := NewDetector(downloadDir, &mockOpener{}, testLogger())
	order, err := d.Detect(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if order.DataType != domain.TypePointCloudRaw {
		t.Errorf("DataType = %s, want %s", order.DataType, domain.TypePointCloudRaw)
	}
	if order.FileCount() != 4 {
		t.Errorf("FileCount() = %d, want 4", order.FileCount())
	}
}

func TestDetectVectorReadsActualLayers(t *testing.T) {
	downloadDir, orderDir := newOrderDir(t, "order-2")
	writeZip(t, filepath.Join(orderDir, "buildings.zip"), map[string][]byte{
		"Buildings_sverige.gpkg": []byte("not inspected by the mock opener"),
	})

	d := NewDetector(downloadDir, &mockOpener{layers: []string{"byggnad", "anlaggning"}}, testLogger())
	order, err := d.Detect(context.Background(), "order-2")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if order.DataType != domain.TypeVectorGeoPackage {
		t.Fatalf("DataType = %s, want vector", order.DataType)
	}
	want := []string{"anlaggning", "byggnad"}
	if !reflect.DeepEqual(order.Layers, want) {
		t.Errorf("Layers = %v, want %v", order.Layers, want)
	}
}

func TestDetectHintOverridesRasterOnly(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string][]byte
		sidecar string
		want    domain.DataType
	}{
		{
			name:    "tif defaults to elevation",
			entries: map[string][]byte{"dem_1.tif": []byte("x"), "dem_2.tif": []byte("x")},
			want:    domain.TypeRasterElevation,
		},
		{
			name:    "ortofoto hint overrides tif",
			entries: map[string][]byte{"img_1.tif": []byte("x"), "img_2.tif": []byte("x")},
			sidecar: `{"produkttyp": "Ortofoto 0.5m"}`,
			want:    domain.TypeRasterOrtho,
		},
		{
			name:    "hint never overrides point cloud count",
			entries: map[string][]byte{"a.laz": []byte("x"), "b.laz": []byte("x")},
			sidecar: `{"produkttyp": "Ortofoto"}`,
			want:    domain.TypePointCloudRaw,
		},
		{
			name:    "unparseable sidecar is ignored",
			entries: map[string][]byte{"dem.tif": []byte("x")},
			sidecar: `{not json`,
			want:    domain.TypeRasterElevation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			downloadDir, orderDir := newOrderDir(t, "order-3")
			writeZip(t, filepath.Join(orderDir, "delivery.zip"), tt.entries)
			if tt.sidecar != "" {
				if err := os.WriteFile(filepath.Join(orderDir, "uttag.json"), []byte(tt.sidecar), 0o600); err != nil {
					t.Fatalf("write sidecar: %v", err)
				}
			}

			d := NewDetector(downloadDir, &mockOpener{}, testLogger())
			order, err := d.Detect(context.Background(), "order-3")
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if order.DataType != tt.want {
				t.Errorf("DataType = %s, want %s", order.DataType, tt.want)
			}
		})
	}
}

func TestDetectSkipsCorruptArchive(t *testing.T) {
	downloadDir, orderDir := newOrderDir(t, "order-4")
	if err := os.WriteFile(filepath.Join(orderDir, "broken.zip"), []byte("not a zip"), 0o600); err != nil {
		t.Fatalf("write broken archive: %v", err)
	}
	writeZip(t, filepath.Join(orderDir, "good.zip"), map[string][]byte{
		"tile.laz": []byte("x"),
	})

	d := NewDetector(downloadDir, &mockOpener{}, testLogger())
	order, err := d.Detect(context.Background(), "order-4")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if order.DataType != domain.TypePointCloudRaw {
		t.Errorf("DataType = %s, want %s", order.DataType, domain.TypePointCloudRaw)
	}
	if order.FileCount() != 1 {
		t.Errorf("FileCount() = %d, want 1", order.FileCount())
	}
}

func TestDetectTileIndex(t *testing.T) {
	downloadDir, orderDir := newOrderDir(t, "order-5")
	index := `[
		{"href": "https://example.com/t1.laz", "title": "19B001_616_62_2500.laz", "length": 1024},
		{"href": "https://example.com/t2.laz", "title": "19B001_616_63_2500.laz", "length": 2048}
	]`
	if err := os.WriteFile(filepath.Join(orderDir, "616_62"), []byte(index), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}

	d := NewDetector(downloadDir, &mockOpener{}, testLogger())
	order, err := d.Detect(context.Background(), "order-5")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if order.DataType != domain.TypePointCloudIndex {
		t.Fatalf("DataType = %s, want %s", order.DataType, domain.TypePointCloudIndex)
	}

	tiles, err := d.Tiles(context.Background(), "order-5")
	if err != nil {
		t.Fatalf("Tiles() error = %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("Tiles() returned %d tiles, want 2", len(tiles))
	}
	if tiles[0].Scan != "19B001" || tiles[0].X != 616 || tiles[0].Y != 62 {
		t.Errorf("tile = %+v, want scan 19B001 at (616, 62)", tiles[0])
	}
	if tiles[1].Length != 2048 {
		t.Errorf("tile length = %d, want 2048", tiles[1].Length)
	}
}

func TestDetectEmptyOrder(t *testing.T) {
	downloadDir, _ := newOrderDir(t, "order-6")
	d := NewDetector(downloadDir, &mockOpener{}, testLogger())
	order, err := d.Detect(context.Background(), "order-6")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if order.DataType != domain.TypeUnknown {
		t.Errorf("DataType = %s, want %s", order.DataType, domain.TypeUnknown)
	}
}

func TestListOrders(t *testing.T) {
	downloadDir := t.TempDir()
	for _, name := range []string{"b-order", "a-order"} {
		if err := os.MkdirAll(filepath.Join(downloadDir, name), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(downloadDir, "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	d := NewDetector(downloadDir, &mockOpener{}, testLogger())
	orders, err := d.ListOrders()
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if !reflect.DeepEqual(orders, []string{"a-order", "b-order"}) {
		t.Errorf("ListOrders() = %v, want sorted directories only", orders)
	}
}
