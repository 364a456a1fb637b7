package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockContainer implements output.Container with fixed layer names.
type mockContainer struct {
	layers []string
}

func (m *mockContainer) ListLayers(_ context.Context) ([]string, error) {
	return m.layers, nil
}

func (m *mockContainer) LayerInfo(_ context.Context, layer string) (*domain.LayerInfo, error) {
	for _, l := range m.layers {
		if l == layer {
			return &domain.LayerInfo{Name: layer, GeometryColumn: "geom", SRID: 3006}, nil
		}
	}
	return nil, domain.ErrLayerNotFound
}

func (m *mockContainer) ReadLayer(_ context.Context, _ string, _, _ int) ([]domain.Feature, error) {
	return nil, nil
}

func (m *mockContainer) ReadBatches(_ context.Context, _ string, _ int, _ func([]domain.Feature) error) error {
	return nil
}

func (m *mockContainer) Extent(_ context.Context, _ string) (domain.Extent, error) {
	return domain.Extent{}, nil
}

func (m *mockContainer) Close() error { return nil }

// mockOpener implements output.ContainerOpener, returning the same layer
// set for every opened container.
type mockOpener struct {
	layers  []string
	openErr error
}

func (m *mockOpener) Open(_ context.Context, _ string) (output.Container, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &mockContainer{layers: m.layers}, nil
}

// mockLoader implements output.SpatialLoader with recording and
// configurable behavior.
type mockLoader struct {
	mu           sync.Mutex
	loadCalls    []string // "orderID/layer"
	currentFn    func(layer, orderID string) bool
	loadFn       func(layer string, opts output.LoadOptions) domain.LoadResult
	metadataRecs []domain.MetadataRecord
	tables       []domain.TableInfo
	dropped      []string // "orderID/layer"
	dropErr      error
}

func (m *mockLoader) Bootstrap(_ context.Context) error { return nil }

func (m *mockLoader) LoadLayer(_ context.Context, _, requestedLayer string, opts output.LoadOptions) domain.LoadResult {
	m.mu.Lock()
	m.loadCalls = append(m.loadCalls, opts.OrderID+"/"+requestedLayer)
	m.mu.Unlock()

	if m.loadFn != nil {
		return m.loadFn(requestedLayer, opts)
	}
	return domain.LoadResult{
		TableName:    requestedLayer,
		LayerName:    requestedLayer,
		FeatureCount: 1,
		Success:      true,
	}
}

func (m *mockLoader) IsLayerCurrent(_ context.Context, _, layer, orderID string) (bool, error) {
	if m.currentFn != nil {
		return m.currentFn(layer, orderID), nil
	}
	return false, nil
}

func (m *mockLoader) ListTables(_ context.Context) ([]domain.TableInfo, error) {
	return m.tables, nil
}

func (m *mockLoader) TableStats(_ context.Context, table string) (*domain.TableStats, error) {
	return &domain.TableStats{Table: table}, nil
}

func (m *mockLoader) Metadata(_ context.Context) ([]domain.MetadataRecord, error) {
	return m.metadataRecs, nil
}

func (m *mockLoader) DropLayer(_ context.Context, _, orderID, layer string) error {
	if m.dropErr != nil {
		return m.dropErr
	}
	m.mu.Lock()
	m.dropped = append(m.dropped, orderID+"/"+layer)
	m.mu.Unlock()
	return nil
}

// mockStorage implements output.ObjectStorage over an in-memory object set.
type mockStorage struct {
	objects map[string][]byte
	listErr error
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var objects []output.StorageObject
	for key, data := range m.objects {
		objects = append(objects, output.StorageObject{Key: key, Size: int64(len(data))})
	}
	return objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o600)
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}
