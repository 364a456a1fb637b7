// Package domain contains the core business entities and value objects.
package domain

import (
	"path/filepath"
	"strings"
)

// DataType classifies the payload of an order delivery.
type DataType string

// Known payload types.
const (
	TypeVectorGeoPackage DataType = "vector_gpkg"
	TypePointCloudRaw    DataType = "pointcloud_raw"
	TypePointCloudIndex  DataType = "pointcloud_index"
	TypeRasterElevation  DataType = "raster_elevation"
	TypeRasterOrtho      DataType = "raster_ortho"
	TypeUnknown          DataType = "unknown"
)

// IsPublishable reports whether the payload type can be loaded into the
// spatial store. Only vector GeoPackage deliveries are.
func (t DataType) IsPublishable() bool {
	return t == TypeVectorGeoPackage
}

// Label returns a human-readable name for the type.
func (t DataType) Label() string {
	switch t {
	case TypeVectorGeoPackage:
		return "Vector (GeoPackage)"
	case TypePointCloudRaw:
		return "Point cloud (LAZ)"
	case TypePointCloudIndex:
		return "Point cloud (tile index)"
	case TypeRasterElevation:
		return "Raster (elevation)"
	case TypeRasterOrtho:
		return "Raster (orthophoto)"
	default:
		return "Unknown"
	}
}

// DetectedFile is one archive entry recorded during order scanning.
type DetectedFile struct {
	ContainerName string // Archive file the entry came from
	InnerPath     string // Path of the entry inside the archive
	Extension     string // Lowercased extension including the dot
	SizeBytes     int64  // Uncompressed entry size
}

// BaseName returns the entry's file name without directories or extension.
func (f DetectedFile) BaseName() string {
	base := filepath.Base(f.InnerPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DetectedOrder is the result of classifying one order directory.
// It is recomputed on every detection call and never persisted.
type DetectedOrder struct {
	OrderID        string
	DataType       DataType
	Files          []DetectedFile
	TotalSize      int64
	Layers         []string          // Actual container layer names (vector only)
	SourceMetadata map[string]string // Flattened sidecar metadata fields
}

// FileCount returns the number of recorded archive entries.
func (o DetectedOrder) FileCount() int {
	return len(o.Files)
}

// LidarTile describes one tile from an on-demand point-cloud index file.
type LidarTile struct {
	Href   string
	Title  string
	Length int64
	Scan   string // Scan identifier parsed from the title
	X      int    // Tile grid easting parsed from the title
	Y      int    // Tile grid northing parsed from the title
}
