package output

import (
	"context"

	"github.com/jobrunner/geopub/internal/domain"
)

// LoadOptions parameterizes one layer load.
type LoadOptions struct {
	OrderID    string
	TargetSRID int
	Policy     domain.ConflictPolicy
	BatchSize  int
}

// SpatialLoader defines the secondary port for the destination spatial
// store. Implementations own the destination connection and schema.
type SpatialLoader interface {
	// Bootstrap idempotently ensures the spatial extension, the
	// destination schema and the metadata table exist.
	Bootstrap(ctx context.Context) error

	// LoadLayer resolves requestedLayer against the container catalog,
	// creates or reuses the destination table per the conflict policy,
	// streams features with coordinate transformation, rebuilds the
	// spatial index and upserts the metadata record. Failures are
	// encoded in the returned LoadResult, never raised.
	LoadLayer(ctx context.Context, containerPath, requestedLayer string, opts LoadOptions) domain.LoadResult

	// IsLayerCurrent reports whether the stored content hash for
	// (orderID, layer) matches the live digest of path. This is the sole
	// idempotence gate.
	IsLayerCurrent(ctx context.Context, path, layer, orderID string) (bool, error)

	// ListTables returns the published feature tables. Read-only.
	ListTables(ctx context.Context) ([]domain.TableInfo, error)

	// TableStats returns row statistics for one published table. Read-only.
	TableStats(ctx context.Context, table string) (*domain.TableStats, error)

	// Metadata returns all layer provenance records. Read-only.
	Metadata(ctx context.Context) ([]domain.MetadataRecord, error)

	// DropLayer drops a published table and deletes its metadata record.
	// Explicit maintenance action, never invoked implicitly.
	DropLayer(ctx context.Context, table, orderID, layer string) error
}
