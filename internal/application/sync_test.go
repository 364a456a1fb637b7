package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/geopub/internal/ports/output"
)

func TestSyncDownloadsMissingFiles(t *testing.T) {
	downloadDir := t.TempDir()
	storage := &mockStorage{objects: map[string][]byte{
		"order-1/delivery.zip":        []byte("archive bytes"),
		"order-1/uttag.json":          []byte(`{"produkttyp": "Fastighetskartan"}`),
		"order-2/order_metadata.json": []byte("{}"),
	}}
	s := NewSyncer(storage, &output.NoOpMetrics{}, testLogger(), downloadDir)

	stats, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Downloaded != 3 || stats.Skipped != 0 || stats.Total != 3 {
		t.Errorf("stats = %+v, want 3 downloaded of 3", stats)
	}

	got, err := os.ReadFile(filepath.Join(downloadDir, "order-1", "delivery.zip"))
	if err != nil {
		t.Fatalf("read mirrored file: %v", err)
	}
	if string(got) != "archive bytes" {
		t.Errorf("mirrored content = %q", got)
	}
}

func TestSyncSkipsUnchangedFiles(t *testing.T) {
	downloadDir := t.TempDir()
	storage := &mockStorage{objects: map[string][]byte{
		"order-1/delivery.zip": []byte("archive bytes"),
		"order-1/uttag.json":   []byte("{}"),
	}}

	// Pre-place one file with the same size as its remote counterpart.
	orderDir := filepath.Join(downloadDir, "order-1")
	if err := os.MkdirAll(orderDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orderDir, "delivery.zip"), []byte("archive bytes"), 0o600); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	s := NewSyncer(storage, &output.NoOpMetrics{}, testLogger(), downloadDir)
	stats, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Downloaded != 1 || stats.Skipped != 1 || stats.Total != 2 {
		t.Errorf("stats = %+v, want one downloaded, one skipped", stats)
	}
}

func TestSyncRedownloadsChangedSize(t *testing.T) {
	downloadDir := t.TempDir()
	storage := &mockStorage{objects: map[string][]byte{
		"order-1/delivery.zip": []byte("longer archive bytes"),
	}}

	orderDir := filepath.Join(downloadDir, "order-1")
	if err := os.MkdirAll(orderDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orderDir, "delivery.zip"), []byte("stale"), 0o600); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	s := NewSyncer(storage, &output.NoOpMetrics{}, testLogger(), downloadDir)
	stats, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Downloaded != 1 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want the changed file re-downloaded", stats)
	}

	got, err := os.ReadFile(filepath.Join(orderDir, "delivery.zip"))
	if err != nil {
		t.Fatalf("read mirrored file: %v", err)
	}
	if string(got) != "longer archive bytes" {
		t.Errorf("mirrored content = %q", got)
	}
}

func TestSyncListError(t *testing.T) {
	storage := &mockStorage{listErr: errors.New("bucket unreachable")}
	s := NewSyncer(storage, &output.NoOpMetrics{}, testLogger(), t.TempDir())

	if _, err := s.Sync(context.Background()); err == nil {
		t.Fatal("Sync() succeeded, want list error")
	}
}
