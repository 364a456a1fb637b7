package domain

import "time"

// ConflictPolicy controls what happens when a destination table already exists.
type ConflictPolicy string

// Conflict policies.
const (
	PolicyReplace ConflictPolicy = "replace" // Drop and recreate
	PolicyAppend  ConflictPolicy = "append"  // Insert into the existing table
	PolicyFail    ConflictPolicy = "fail"    // Refuse to touch an existing table
)

// Valid reports whether the policy is one of the known values.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case PolicyReplace, PolicyAppend, PolicyFail:
		return true
	}
	return false
}

// LoadResult records the outcome of one attempted layer load.
// Never mutated after creation.
type LoadResult struct {
	TableName    string        `json:"table_name"`
	LayerName    string        `json:"layer_name"`
	FeatureCount int64         `json:"feature_count"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// ProcessResult aggregates the per-layer results of one order.
type ProcessResult struct {
	OrderID  string        `json:"order_id"`
	DataType DataType      `json:"data_type"`
	Results  []LoadResult  `json:"results"`
	Skipped  []string      `json:"skipped,omitempty"` // Layers current by content hash
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// FeatureTotal returns the total number of features loaded across layers.
func (r ProcessResult) FeatureTotal() int64 {
	var n int64
	for _, lr := range r.Results {
		n += lr.FeatureCount
	}
	return n
}

// MetadataRecord is the durable per-layer provenance record owned by the
// spatial loader, unique on (OrderID, LayerName). SourceHash always reflects
// the exact byte content of the container that produced the loaded table.
type MetadataRecord struct {
	OrderID      string
	SourceFile   string
	SourceHash   string
	TableName    string
	LayerName    string
	FeatureCount int64
	BBox         string // WKT polygon of the loaded extent
	LoadedAt     time.Time
}

// TableInfo describes one published feature table.
type TableInfo struct {
	Schema       string
	Name         string
	GeometryType string
	SRID         int
}

// TableStats carries row-level statistics for one published table.
type TableStats struct {
	Table    string
	RowCount int64
	Extent   string // WKT polygon, empty when the table is empty
}

// ProcessingStatus summarizes the pipeline state across all orders.
type ProcessingStatus struct {
	OrdersOnDisk  []string    `json:"orders_on_disk"`
	OrdersLoaded  []string    `json:"orders_loaded"`
	Tables        []TableInfo `json:"tables"`
	FeaturesTotal int64       `json:"features_total"`
	CheckedAt     time.Time   `json:"checked_at"`
}
