package output

import (
	"context"

	"github.com/jobrunner/geopub/internal/domain"
)

// ContainerOpener defines the secondary port for opening GeoPackage
// containers on local disk.
type ContainerOpener interface {
	// Open opens a container file. Fails with domain.ErrContainerNotFound
	// if the path does not exist.
	Open(ctx context.Context, path string) (Container, error)
}

// Container is an open GeoPackage. Every call is idempotent; no layer
// discovery is cached between calls.
type Container interface {
	// ListLayers returns feature layer names ordered by name, sourced
	// from the container catalog.
	ListLayers(ctx context.Context) ([]string, error)

	// LayerInfo returns the catalog view of one layer. Fails with
	// domain.ErrLayerNotFound if the layer is not in the catalog.
	LayerInfo(ctx context.Context, layer string) (*domain.LayerInfo, error)

	// ReadLayer returns features in table storage order. Geometry bytes
	// are container-native (GeoPackage Binary), not yet WKB. A limit of
	// zero means no limit.
	ReadLayer(ctx context.Context, layer string, limit, offset int) ([]domain.Feature, error)

	// ReadBatches streams the layer in bounded batches, invoking fn for
	// each batch until the layer is exhausted or fn returns an error.
	ReadBatches(ctx context.Context, layer string, batchSize int, fn func([]domain.Feature) error) error

	// Extent returns the layer's bounding box, preferring the catalog
	// values and falling back to scanning geometry envelopes.
	Extent(ctx context.Context, layer string) (domain.Extent, error)

	// Close releases the underlying connection.
	Close() error
}
