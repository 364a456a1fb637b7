package domain

import "strings"

// Common SRID constants.
const (
	SRIDWGS84       = 4326 // WGS 84
	SRIDWebMercator = 3857 // Web Mercator
	SRIDSWEREF99TM  = 3006 // SWEREF99 TM, the national grid of Swedish deliveries
)

// Column describes one attribute column of a source layer.
type Column struct {
	Name       string
	SourceType string // Declared container type (INTEGER, TEXT, ...)
}

// LayerInfo is a read-only view of one feature layer's catalog entry.
type LayerInfo struct {
	Name           string
	GeometryColumn string
	GeometryType   string // Catalog label such as POLYGON or MULTILINESTRING
	SRID           int
	FeatureCount   int64
	Columns        []Column // Attribute columns, geometry and identity excluded
}

// ColumnNames returns the attribute column names in declaration order.
func (l LayerInfo) ColumnNames() []string {
	names := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		names[i] = c.Name
	}
	return names
}

// IsMulti reports whether the catalog geometry type is a multi-variant.
func (l LayerInfo) IsMulti() bool {
	return strings.HasPrefix(strings.ToUpper(l.GeometryType), "MULTI")
}

// Feature is one row read from a source layer. Geometry holds the raw
// container-native bytes; header decoding is deferred to the codec.
type Feature struct {
	ID         int64
	Geometry   []byte
	Properties map[string]interface{}
}

// Extent is a spatial bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	SRID int
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Union returns the smallest extent covering both e and other.
func (e Extent) Union(other Extent) Extent {
	out := e
	if other.MinX < out.MinX {
		out.MinX = other.MinX
	}
	if other.MinY < out.MinY {
		out.MinY = other.MinY
	}
	if other.MaxX > out.MaxX {
		out.MaxX = other.MaxX
	}
	if other.MaxY > out.MaxY {
		out.MaxY = other.MaxY
	}
	return out
}
