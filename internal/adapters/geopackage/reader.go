// Package geopackage provides read-only access to GeoPackage containers.
package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/geometry"
	"github.com/jobrunner/geopub/internal/ports/output"
)

// identityColumn is the auto-increment primary key every GeoPackage feature
// table carries. It is excluded from the attribute column list.
const identityColumn = "fid"

// Opener implements the ContainerOpener port.
type Opener struct{}

// NewOpener creates a container opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open implements output.ContainerOpener.
func (o *Opener) Open(ctx context.Context, path string) (output.Container, error) {
	return Open(ctx, path)
}

// Reader is an open GeoPackage container. The underlying database is opened
// read-only; the reader never mutates the container.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens a GeoPackage container file.
func Open(ctx context.Context, path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrContainerNotFound)
		}
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening container: %w", err)
	}

	return &Reader{db: db, path: path}, nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the container file path.
func (r *Reader) Path() string {
	return r.path
}

// ListLayers returns feature layer names ordered by name.
func (r *Reader) ListLayers(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name FROM gpkg_contents
		WHERE data_type = 'features'
		ORDER BY table_name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layer catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning layer name: %w", err)
		}
		layers = append(layers, name)
	}
	return layers, rows.Err()
}

// LayerInfo returns the catalog view of one layer.
func (r *Reader) LayerInfo(ctx context.Context, layer string) (*domain.LayerInfo, error) {
	info := &domain.LayerInfo{Name: layer}

	query := `
		SELECT column_name, geometry_type_name, srs_id
		FROM gpkg_geometry_columns
		WHERE table_name = ?
	`
	err := r.db.QueryRowContext(ctx, query, layer).Scan(
		&info.GeometryColumn, &info.GeometryType, &info.SRID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", layer, domain.ErrLayerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading geometry catalog: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(layer)) //#nosec G201 -- table name from trusted catalog
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&info.FeatureCount); err != nil {
		return nil, fmt.Errorf("counting features: %w", err)
	}

	columns, err := r.readColumns(ctx, layer, info.GeometryColumn)
	if err != nil {
		return nil, err
	}
	info.Columns = columns

	return info, nil
}

// readColumns lists attribute columns, excluding the geometry column and
// the identity column.
func (r *Reader) readColumns(ctx context.Context, layer, geomColumn string) ([]domain.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(layer)) //#nosec G201 -- table name from trusted catalog
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []domain.Column
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning table info: %w", err)
		}
		if name == geomColumn || name == identityColumn {
			continue
		}
		columns = append(columns, domain.Column{Name: name, SourceType: ctype})
	}
	return columns, rows.Err()
}

// ReadLayer reads features in table storage order. Geometry bytes are
// returned container-native; header decoding is the codec's job.
func (r *Reader) ReadLayer(ctx context.Context, layer string, limit, offset int) ([]domain.Feature, error) {
	info, err := r.LayerInfo(ctx, layer)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(info.Columns)+2)
	cols = append(cols, quoteIdent(identityColumn), quoteIdent(info.GeometryColumn))
	for _, c := range info.Columns {
		cols = append(cols, quoteIdent(c.Name))
	}

	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(cols, ", "), quoteIdent(layer)) //#nosec G201 -- identifiers from trusted catalog
	var args []interface{}
	switch {
	case limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	case offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading layer %s: %w", layer, err)
	}
	defer func() { _ = rows.Close() }()

	var features []domain.Feature
	for rows.Next() {
		f, err := scanFeature(rows, info.Columns)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// ReadBatches streams a layer in bounded batches.
func (r *Reader) ReadBatches(ctx context.Context, layer string, batchSize int, fn func([]domain.Feature) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := r.ReadLayer(ctx, layer, batchSize, offset)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

// Extent returns the layer bounding box, preferring the precomputed catalog
// values. When any corner is absent it scans the geometry blobs and unions
// their native envelopes.
func (r *Reader) Extent(ctx context.Context, layer string) (domain.Extent, error) {
	info, err := r.LayerInfo(ctx, layer)
	if err != nil {
		return domain.Extent{}, err
	}

	var minX, minY, maxX, maxY sql.NullFloat64
	query := `SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = ?`
	err = r.db.QueryRowContext(ctx, query, layer).Scan(&minX, &minY, &maxX, &maxY)
	if err != nil && err != sql.ErrNoRows {
		return domain.Extent{}, fmt.Errorf("reading catalog extent: %w", err)
	}
	if minX.Valid && minY.Valid && maxX.Valid && maxY.Valid {
		return domain.Extent{
			MinX: minX.Float64, MinY: minY.Float64,
			MaxX: maxX.Float64, MaxY: maxY.Float64,
			SRID: info.SRID,
		}, nil
	}

	return r.scanExtent(ctx, layer, info)
}

// scanExtent computes the extent from geometry envelopes.
func (r *Reader) scanExtent(ctx context.Context, layer string, info *domain.LayerInfo) (domain.Extent, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(info.GeometryColumn), quoteIdent(layer),
		quoteIdent(info.GeometryColumn)) //#nosec G201 -- identifiers from trusted catalog
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return domain.Extent{}, fmt.Errorf("scanning geometries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		ext   domain.Extent
		found bool
	)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return domain.Extent{}, fmt.Errorf("scanning geometry: %w", err)
		}
		e, err := blobExtent(blob)
		if err != nil {
			continue // malformed geometry does not abort the extent scan
		}
		if !found {
			ext = e
			found = true
		} else {
			ext = ext.Union(e)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Extent{}, err
	}
	if !found {
		return domain.Extent{}, fmt.Errorf("layer %s has no geometries: %w", layer, domain.ErrNotFound)
	}
	ext.SRID = info.SRID
	return ext, nil
}

// blobExtent extracts a bounding box from one geometry blob, using the
// GeoPackage Binary envelope when present and decoding the WKB otherwise.
func blobExtent(blob []byte) (domain.Extent, error) {
	if e, ok := geometry.GPBEnvelope(blob); ok {
		return e, nil
	}
	wkbBytes, err := geometry.GPBToWKB(blob)
	if err != nil {
		return domain.Extent{}, err
	}
	g, err := geometry.WKBToGeometry(wkbBytes)
	if err != nil {
		return domain.Extent{}, err
	}
	b := g.Bound()
	return domain.Extent{
		MinX: b.Min[0], MinY: b.Min[1],
		MaxX: b.Max[0], MaxY: b.Max[1],
	}, nil
}

// scanFeature scans one row into a Feature.
func scanFeature(rows *sql.Rows, columns []domain.Column) (domain.Feature, error) {
	f := domain.Feature{Properties: make(map[string]interface{}, len(columns))}

	dests := make([]interface{}, 0, len(columns)+2)
	var geom []byte
	dests = append(dests, &f.ID, &geom)
	values := make([]interface{}, len(columns))
	for i := range values {
		dests = append(dests, &values[i])
	}

	if err := rows.Scan(dests...); err != nil {
		return domain.Feature{}, fmt.Errorf("scanning feature: %w", err)
	}

	f.Geometry = geom
	for i, c := range columns {
		if values[i] != nil {
			f.Properties[c.Name] = values[i]
		}
	}
	return f, nil
}

// quoteIdent double-quotes an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
