// Package application contains the application services.
package application

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/ports/output"
)

// extensionTypes maps archive entry extensions to payload types. An
// ambiguous .tif defaults to elevation; sidecar hints may override that one
// case.
var extensionTypes = map[string]domain.DataType{
	".gpkg": domain.TypeVectorGeoPackage,
	".laz":  domain.TypePointCloudRaw,
	".las":  domain.TypePointCloudRaw,
	".tif":  domain.TypeRasterElevation,
	".tiff": domain.TypeRasterElevation,
	".jp2":  domain.TypeRasterOrtho,
}

// productHints maps product-type strings from sidecar metadata to payload
// types. The delivery catalog uses Swedish product names.
var productHints = map[string]domain.DataType{
	"topografi":     domain.TypeVectorGeoPackage,
	"administrativ": domain.TypeVectorGeoPackage,
	"fastighet":     domain.TypeVectorGeoPackage,
	"hojddata":      domain.TypeRasterElevation,
	"hojdmodell":    domain.TypeRasterElevation,
	"laserdata":     domain.TypePointCloudRaw,
	"ortofoto":      domain.TypeRasterOrtho,
}

// typePriority breaks count ties deterministically, biased toward the
// publishable type.
var typePriority = []domain.DataType{
	domain.TypeVectorGeoPackage,
	domain.TypePointCloudRaw,
	domain.TypeRasterElevation,
	domain.TypeRasterOrtho,
}

var (
	sidecarNames     = []string{"uttag.json", "order_metadata.json"}
	sidecarHintKeys  = []string{"produkttyp", "product_type", "datatyp", "data_type"}
	tileIndexName    = regexp.MustCompile(`^\d+_\d+$`)
	tileTitlePattern = regexp.MustCompile(`^([^_]+)_(\d+)_(\d+)_.*\.laz$`)
)

// Detector classifies order directories by scanning archive entries without
// extracting payloads.
type Detector struct {
	downloadDir string
	opener      output.ContainerOpener
	logger      *slog.Logger
}

// NewDetector creates a detector rooted at the download directory.
func NewDetector(downloadDir string, opener output.ContainerOpener, logger *slog.Logger) *Detector {
	return &Detector{
		downloadDir: downloadDir,
		opener:      opener,
		logger:      logger,
	}
}

// OrderDir returns the directory for one order id.
func (d *Detector) OrderDir(orderID string) string {
	return filepath.Join(d.downloadDir, orderID)
}

// ListOrders returns the order ids present under the download directory,
// sorted by name.
func (d *Detector) ListOrders() ([]string, error) {
	entries, err := os.ReadDir(d.downloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var orders []string
	for _, e := range entries {
		if e.IsDir() {
			orders = append(orders, e.Name())
		}
	}
	sort.Strings(orders)
	return orders, nil
}

// Detect classifies one order directory. Corrupt archives are skipped, not
// fatal; sidecar metadata that fails to parse is treated as absent.
func (d *Detector) Detect(ctx context.Context, orderID string) (*domain.DetectedOrder, error) {
	orderDir := d.OrderDir(orderID)
	if _, err := os.Stat(orderDir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", orderID, domain.ErrOrderNotFound)
		}
		return nil, err
	}

	order := &domain.DetectedOrder{
		OrderID:        orderID,
		DataType:       domain.TypeUnknown,
		SourceMetadata: d.readSidecars(orderDir),
	}

	archives, err := listArchives(orderDir)
	if err != nil {
		return nil, err
	}

	if len(archives) == 0 {
		if hasTileIndexFiles(orderDir) {
			order.DataType = domain.TypePointCloudIndex
		}
		return order, nil
	}

	for _, archive := range archives {
		files, err := scanArchive(archive)
		if err != nil {
			d.logger.Warn("skipping corrupt archive", "archive", archive, "error", err)
			continue
		}
		order.Files = append(order.Files, files...)
	}

	counts := make(map[domain.DataType]int)
	for _, f := range order.Files {
		order.TotalSize += f.SizeBytes
		if t, ok := extensionTypes[f.Extension]; ok {
			counts[t]++
		}
	}

	order.DataType = winningType(counts, hintFromMetadata(order.SourceMetadata))

	if order.DataType == domain.TypeVectorGeoPackage {
		layers, err := d.readActualLayers(ctx, order)
		if err != nil {
			return nil, err
		}
		order.Layers = layers
	}

	return order, nil
}

// winningType picks the type with the highest entry count. A metadata hint
// overrides only the ambiguous elevation-vs-ortho raster case; it never
// overrides vector or point-cloud counts.
func winningType(counts map[domain.DataType]int, hint domain.DataType) domain.DataType {
	best := domain.TypeUnknown
	bestCount := 0
	for _, t := range typePriority {
		if counts[t] > bestCount {
			best = t
			bestCount = counts[t]
		}
	}
	if best == domain.TypeRasterElevation && hint == domain.TypeRasterOrtho {
		return domain.TypeRasterOrtho
	}
	return best
}

// readSidecars flattens the string fields of every known sidecar file.
func (d *Detector) readSidecars(orderDir string) map[string]string {
	meta := make(map[string]string)
	for _, name := range sidecarNames {
		raw, err := os.ReadFile(filepath.Join(orderDir, name))
		if err != nil {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			d.logger.Debug("ignoring unparseable sidecar", "file", name, "error", err)
			continue
		}
		for k, v := range fields {
			if s, ok := v.(string); ok {
				meta[strings.ToLower(k)] = s
			}
		}
	}
	return meta
}

// hintFromMetadata maps sidecar product fields to a payload type hint.
func hintFromMetadata(meta map[string]string) domain.DataType {
	for _, key := range sidecarHintKeys {
		value, ok := meta[key]
		if !ok {
			continue
		}
		value = strings.ToLower(value)
		for hint, t := range productHints {
			if strings.Contains(value, hint) {
				return t
			}
		}
	}
	return domain.TypeUnknown
}

// readActualLayers extracts each GeoPackage entry to scratch and reads the
// container catalog. Archive file names are never trusted as layer names.
func (d *Detector) readActualLayers(ctx context.Context, order *domain.DetectedOrder) ([]string, error) {
	seen := make(map[string]struct{})
	orderDir := d.OrderDir(order.OrderID)

	for _, f := range order.Files {
		if f.Extension != ".gpkg" {
			continue
		}
		names, err := d.layersFromEntry(ctx, filepath.Join(orderDir, f.ContainerName), f.InnerPath)
		if err != nil {
			d.logger.Warn("skipping unreadable container entry",
				"archive", f.ContainerName, "entry", f.InnerPath, "error", err)
			continue
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}

	layers := make([]string, 0, len(seen))
	for n := range seen {
		layers = append(layers, n)
	}
	sort.Strings(layers)
	return layers, nil
}

func (d *Detector) layersFromEntry(ctx context.Context, archivePath, innerPath string) ([]string, error) {
	tmp, err := extractEntry(archivePath, innerPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmp) }()

	container, err := d.opener.Open(ctx, tmp)
	if err != nil {
		return nil, err
	}
	defer func() { _ = container.Close() }()

	return container.ListLayers(ctx)
}

// Tiles parses the on-demand point-cloud index files of an order.
func (d *Detector) Tiles(_ context.Context, orderID string) ([]domain.LidarTile, error) {
	orderDir := d.OrderDir(orderID)
	entries, err := os.ReadDir(orderDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", orderID, domain.ErrOrderNotFound)
		}
		return nil, err
	}

	var tiles []domain.LidarTile
	for _, e := range entries {
		if e.IsDir() || !tileIndexName.MatchString(e.Name()) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(orderDir, e.Name()))
		if err != nil {
			continue
		}
		var descriptors []struct {
			Href   string `json:"href"`
			Title  string `json:"title"`
			Length int64  `json:"length"`
		}
		if err := json.Unmarshal(raw, &descriptors); err != nil {
			d.logger.Debug("ignoring unparseable tile index", "file", e.Name(), "error", err)
			continue
		}
		for _, desc := range descriptors {
			tile := domain.LidarTile{Href: desc.Href, Title: desc.Title, Length: desc.Length}
			if m := tileTitlePattern.FindStringSubmatch(desc.Title); m != nil {
				tile.Scan = m[1]
				tile.X, _ = strconv.Atoi(m[2])
				tile.Y, _ = strconv.Atoi(m[3])
			}
			tiles = append(tiles, tile)
		}
	}
	return tiles, nil
}

// listArchives returns the top-level zip archives of an order directory.
func listArchives(orderDir string) ([]string, error) {
	entries, err := os.ReadDir(orderDir)
	if err != nil {
		return nil, err
	}
	var archives []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			archives = append(archives, filepath.Join(orderDir, e.Name()))
		}
	}
	sort.Strings(archives)
	return archives, nil
}

// hasTileIndexFiles reports whether the directory holds numeric-pair-named
// tile index files.
func hasTileIndexFiles(orderDir string) bool {
	entries, err := os.ReadDir(orderDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && tileIndexName.MatchString(e.Name()) {
			return true
		}
	}
	return false
}

// scanArchive records every non-directory entry of one archive.
func scanArchive(path string) ([]domain.DetectedFile, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	var files []domain.DetectedFile
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		files = append(files, domain.DetectedFile{
			ContainerName: filepath.Base(path),
			InnerPath:     entry.Name,
			Extension:     strings.ToLower(filepath.Ext(entry.Name)),
			SizeBytes:     int64(entry.UncompressedSize64), //#nosec G115 -- entry sizes fit int64
		})
	}
	return files, nil
}

// extractEntry copies one archive entry to a transient temp file. The caller
// removes the file when done.
func extractEntry(archivePath, innerPath string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = zr.Close() }()

	for _, entry := range zr.File {
		if entry.Name != innerPath {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return "", err
		}
		defer func() { _ = rc.Close() }()

		tmp, err := os.CreateTemp("", "geopub-*.gpkg")
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(tmp, rc); err != nil { //#nosec G110 -- entries come from trusted government deliveries
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", err
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return "", err
		}
		return tmp.Name(), nil
	}
	return "", fmt.Errorf("entry %s in %s: %w", innerPath, archivePath, domain.ErrNotFound)
}
