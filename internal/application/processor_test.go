package application

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/ports/output"
)

func newProcessor(t *testing.T, downloadDir string, opener *mockOpener, loader *mockLoader) *Processor {
	t.Helper()
	detector := NewDetector(downloadDir, opener, testLogger())
	return NewProcessor(detector, loader, opener, &output.NoOpMetrics{}, testLogger(), 4326, 100)
}

func vectorOrder(t *testing.T, orderID string) string {
	t.Helper()
	downloadDir, orderDir := newOrderDir(t, orderID)
	writeZip(t, filepath.Join(orderDir, "delivery.zip"), map[string][]byte{
		"byggnad_sverige.gpkg": []byte("container payload"),
	})
	return downloadDir
}

func TestProcessOrderLoadsLayers(t *testing.T) {
	downloadDir := vectorOrder(t, "order-1")
	opener := &mockOpener{layers: []string{"byggnad"}}
	loader := &mockLoader{}
	p := newProcessor(t, downloadDir, opener, loader)

	var progress []string
	p.SetProgress(func(layer string, index, total int) {
		progress = append(progress, layer)
		if total != 1 || index != 1 {
			t.Errorf("progress(%s) = %d/%d, want 1/1", layer, index, total)
		}
	})

	result := p.ProcessOrder(context.Background(), "order-1", nil)

	if !result.Success {
		t.Fatalf("ProcessOrder() failed: %s", result.Error)
	}
	if len(result.Results) != 1 || result.Results[0].LayerName != "byggnad" {
		t.Fatalf("Results = %+v, want one byggnad load", result.Results)
	}
	if !reflect.DeepEqual(loader.loadCalls, []string{"order-1/byggnad"}) {
		t.Errorf("loadCalls = %v, want [order-1/byggnad]", loader.loadCalls)
	}
	if !reflect.DeepEqual(progress, []string{"byggnad"}) {
		t.Errorf("progress = %v, want [byggnad]", progress)
	}
}

func TestProcessOrderSkipsCurrentLayers(t *testing.T) {
	downloadDir := vectorOrder(t, "order-2")
	opener := &mockOpener{layers: []string{"byggnad"}}
	loader := &mockLoader{
		currentFn: func(_, _ string) bool { return true },
	}
	p := newProcessor(t, downloadDir, opener, loader)

	result := p.ProcessOrder(context.Background(), "order-2", nil)

	if !result.Success {
		t.Fatalf("ProcessOrder() failed: %s", result.Error)
	}
	if len(result.Results) != 0 {
		t.Errorf("Results = %+v, want none for a fully-skipped order", result.Results)
	}
	if !reflect.DeepEqual(result.Skipped, []string{"byggnad"}) {
		t.Errorf("Skipped = %v, want [byggnad]", result.Skipped)
	}
	if len(loader.loadCalls) != 0 {
		t.Errorf("loadCalls = %v, want none", loader.loadCalls)
	}
}

func TestProcessOrderPartialFailure(t *testing.T) {
	downloadDir := vectorOrder(t, "order-3")
	opener := &mockOpener{layers: []string{"byggnad", "vag"}}
	loader := &mockLoader{
		loadFn: func(layer string, _ output.LoadOptions) domain.LoadResult {
			if layer == "vag" {
				return domain.LoadResult{LayerName: layer, Error: "invalid geometry at byte 12"}
			}
			return domain.LoadResult{LayerName: layer, TableName: layer, FeatureCount: 3, Success: true}
		},
	}
	p := newProcessor(t, downloadDir, opener, loader)

	result := p.ProcessOrder(context.Background(), "order-3", nil)

	if result.Success {
		t.Fatal("ProcessOrder() succeeded, want partial failure")
	}
	if len(result.Results) != 2 {
		t.Fatalf("Results = %+v, want two attempts", result.Results)
	}
	byLayer := map[string]domain.LoadResult{}
	for _, lr := range result.Results {
		byLayer[lr.LayerName] = lr
	}
	if !byLayer["byggnad"].Success {
		t.Error("byggnad load should have succeeded")
	}
	if byLayer["vag"].Success || byLayer["vag"].Error == "" {
		t.Error("vag load should carry its error")
	}
}

func TestProcessOrderNotPublishable(t *testing.T) {
	downloadDir, orderDir := newOrderDir(t, "order-4")
	writeZip(t, filepath.Join(orderDir, "delivery.zip"), map[string][]byte{
		"tile.laz": []byte("x"),
	})
	p := newProcessor(t, downloadDir, &mockOpener{}, &mockLoader{})

	result := p.ProcessOrder(context.Background(), "order-4", nil)

	if result.Success {
		t.Fatal("ProcessOrder() succeeded for a point-cloud order")
	}
	if result.Error == "" {
		t.Error("Error should describe the non-publishable type")
	}
	if result.DataType != domain.TypePointCloudRaw {
		t.Errorf("DataType = %s, want %s", result.DataType, domain.TypePointCloudRaw)
	}
}

func TestProcessOrderMissingDirectory(t *testing.T) {
	p := newProcessor(t, t.TempDir(), &mockOpener{}, &mockLoader{})

	result := p.ProcessOrder(context.Background(), "no-such-order", nil)

	if result.Success {
		t.Fatal("ProcessOrder() succeeded for a missing order")
	}
	if result.Error == "" {
		t.Error("Error should be set for a missing order")
	}
}

func TestProcessOrderAllowlist(t *testing.T) {
	// The entry byggnad_sverige.gpkg yields the guess "byggnad"; the
	// container's actual layers are byggnad and vag. The allowlist gates
	// both the filename-derived guess and the actual names.
	tests := []struct {
		name      string
		requested []string
		wantCalls []string
	}{
		{"matching layer", []string{"byggnad"}, []string{"order-5/byggnad"}},
		{"guess mismatch filters entry", []string{"vag"}, []string{}},
		{"no match", []string{"unrelated"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			downloadDir := vectorOrder(t, "order-5")
			opener := &mockOpener{layers: []string{"byggnad", "vag"}}
			loader := &mockLoader{}
			p := newProcessor(t, downloadDir, opener, loader)

			result := p.ProcessOrder(context.Background(), "order-5", tt.requested)
			if !result.Success {
				t.Fatalf("ProcessOrder() failed: %s", result.Error)
			}
			got := loader.loadCalls
			if got == nil {
				got = []string{}
			}
			if !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("loadCalls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestProcessIncremental(t *testing.T) {
	downloadDir := vectorOrder(t, "order-a")
	orderDirB := filepath.Join(downloadDir, "order-b")
	if err := os.MkdirAll(orderDirB, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeZip(t, filepath.Join(orderDirB, "delivery.zip"), map[string][]byte{
		"Roads_sverige.gpkg": []byte("container payload"),
	})

	opener := &mockOpener{layers: []string{"vag"}}
	loader := &mockLoader{
		metadataRecs: []domain.MetadataRecord{
			{OrderID: "order-a", LayerName: "byggnad", TableName: "byggnad"},
		},
	}
	p := newProcessor(t, downloadDir, opener, loader)

	results, err := p.ProcessIncremental(context.Background())
	if err != nil {
		t.Fatalf("ProcessIncremental() error = %v", err)
	}
	if len(results) != 1 || results[0].OrderID != "order-b" {
		t.Fatalf("results = %+v, want only order-b", results)
	}
	if !reflect.DeepEqual(loader.loadCalls, []string{"order-b/vag"}) {
		t.Errorf("loadCalls = %v, want [order-b/vag]", loader.loadCalls)
	}
}

func TestStatus(t *testing.T) {
	downloadDir := vectorOrder(t, "order-a")
	loader := &mockLoader{
		metadataRecs: []domain.MetadataRecord{
			{OrderID: "order-a", LayerName: "byggnad", FeatureCount: 10},
			{OrderID: "order-a", LayerName: "vag", FeatureCount: 5},
			{OrderID: "order-gone", LayerName: "old", FeatureCount: 1},
		},
		tables: []domain.TableInfo{{Schema: "geodata", Name: "byggnad"}},
	}
	p := newProcessor(t, downloadDir, &mockOpener{}, loader)

	status, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !reflect.DeepEqual(status.OrdersOnDisk, []string{"order-a"}) {
		t.Errorf("OrdersOnDisk = %v, want [order-a]", status.OrdersOnDisk)
	}
	if !reflect.DeepEqual(status.OrdersLoaded, []string{"order-a", "order-gone"}) {
		t.Errorf("OrdersLoaded = %v, want [order-a order-gone]", status.OrdersLoaded)
	}
	if status.FeaturesTotal != 16 {
		t.Errorf("FeaturesTotal = %d, want 16", status.FeaturesTotal)
	}
	if len(status.Tables) != 1 {
		t.Errorf("Tables = %v, want one entry", status.Tables)
	}
}

func TestCleanupStaleTables(t *testing.T) {
	downloadDir := vectorOrder(t, "order-a")
	loader := &mockLoader{
		metadataRecs: []domain.MetadataRecord{
			{OrderID: "order-a", LayerName: "byggnad", TableName: "byggnad"},
			{OrderID: "order-gone", LayerName: "old_layer", TableName: "old_layer"},
		},
	}
	p := newProcessor(t, downloadDir, &mockOpener{}, loader)

	dropped, err := p.CleanupStaleTables(context.Background())
	if err != nil {
		t.Fatalf("CleanupStaleTables() error = %v", err)
	}
	if dropped != 1 {
		t.Errorf("CleanupStaleTables() = %d, want 1", dropped)
	}
	if !reflect.DeepEqual(loader.dropped, []string{"order-gone/old_layer"}) {
		t.Errorf("dropped = %v, want [order-gone/old_layer]", loader.dropped)
	}
}
