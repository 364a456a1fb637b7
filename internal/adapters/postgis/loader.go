// Package postgis implements the spatial loader against a PostGIS database.
package postgis

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	// Registers the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jobrunner/geopub/internal/domain"
	"github.com/jobrunner/geopub/internal/geometry"
	"github.com/jobrunner/geopub/internal/ports/output"
)

const (
	defaultBatchSize = 1000
	metadataTable    = "_metadata"
)

// typeMap maps source container column types to destination column types.
// Unknown types fall back to TEXT.
var typeMap = map[string]string{
	"INTEGER":   "BIGINT",
	"INT":       "BIGINT",
	"BIGINT":    "BIGINT",
	"MEDIUMINT": "BIGINT",
	"SMALLINT":  "BIGINT",
	"TINYINT":   "BIGINT",
	"REAL":      "DOUBLE PRECISION",
	"DOUBLE":    "DOUBLE PRECISION",
	"FLOAT":     "DOUBLE PRECISION",
	"TEXT":      "TEXT",
	"VARCHAR":   "TEXT",
	"CHAR":      "TEXT",
	"BLOB":      "BYTEA",
	"NUMERIC":   "NUMERIC",
	"BOOLEAN":   "BOOLEAN",
	"DATE":      "DATE",
	"DATETIME":  "TIMESTAMP",
}

// Loader implements the SpatialLoader port. It owns one destination
// connection pool; callers sharing a loader against the same table must
// serialize externally.
type Loader struct {
	db     *sql.DB
	schema string
	opener output.ContainerOpener
	logger *slog.Logger
}

// NewLoader creates a loader publishing into the given schema.
func NewLoader(db *sql.DB, schema string, opener output.ContainerOpener, logger *slog.Logger) *Loader {
	return &Loader{
		db:     db,
		schema: sanitizeName(schema),
		opener: opener,
		logger: logger,
	}
}

// Connect opens a destination connection pool.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening destination: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging destination: %w", err)
	}
	return db, nil
}

// Bootstrap idempotently ensures the spatial extension, the destination
// schema and the metadata table exist.
func (l *Loader) Bootstrap(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", l.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			source_file TEXT NOT NULL,
			source_hash TEXT NOT NULL,
			table_name TEXT NOT NULL,
			layer_name TEXT NOT NULL,
			feature_count BIGINT NOT NULL DEFAULT 0,
			bbox geometry(Polygon, 4326),
			loaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (order_id, layer_name)
		)`, l.schema, metadataTable), //#nosec G201 -- schema name is sanitized
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StorageError{Operation: "bootstrap", Err: err}
		}
	}
	l.logger.Info("destination bootstrapped", "schema", l.schema)
	return nil
}

// LoadLayer publishes one container layer into the destination. All failure
// is encoded in the returned LoadResult.
func (l *Loader) LoadLayer(ctx context.Context, containerPath, requestedLayer string, opts output.LoadOptions) domain.LoadResult {
	start := time.Now()
	result := domain.LoadResult{LayerName: requestedLayer}

	fail := func(err error) domain.LoadResult {
		result.Duration = time.Since(start)
		result.Error = err.Error()
		l.logger.Error("layer load failed", "layer", result.LayerName, "error", err)
		return result
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.TargetSRID == 0 {
		opts.TargetSRID = domain.SRIDWGS84
	}
	if opts.Policy == "" {
		opts.Policy = domain.PolicyReplace
	}
	if !opts.Policy.Valid() {
		return fail(fmt.Errorf("conflict policy %q: %w", opts.Policy, domain.ErrInvalidInput))
	}

	hash, err := FileHash(containerPath)
	if err != nil {
		return fail(fmt.Errorf("hashing container: %w", err))
	}

	container, err := l.opener.Open(ctx, containerPath)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = container.Close() }()

	available, err := container.ListLayers(ctx)
	if err != nil {
		return fail(err)
	}
	layer, err := resolveLayer(requestedLayer, available)
	if err != nil {
		return fail(err)
	}
	result.LayerName = layer

	info, err := container.LayerInfo(ctx, layer)
	if err != nil {
		return fail(err)
	}

	table := sanitizeName(layer)
	result.TableName = table

	l.logger.Info("loading layer",
		"layer", layer,
		"table", table,
		"features", info.FeatureCount,
		"source_srid", info.SRID,
		"target_srid", opts.TargetSRID,
	)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(&domain.StorageError{Operation: "begin", Table: table, Err: err})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	count, err := l.loadInto(ctx, tx, container, info, table, hash, containerPath, opts)
	if err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(&domain.StorageError{Operation: "commit", Table: table, Err: err})
	}
	committed = true

	result.FeatureCount = count
	result.Duration = time.Since(start)
	result.Success = true
	l.logger.Info("layer loaded", "layer", layer, "table", table, "features", count,
		"duration", result.Duration)
	return result
}

// loadInto runs the full per-layer sequence inside one transaction:
// table creation per the conflict policy, batched inserts, index rebuild
// and metadata upsert.
func (l *Loader) loadInto(
	ctx context.Context,
	tx *sql.Tx,
	container output.Container,
	info *domain.LayerInfo,
	table, hash, sourcePath string,
	opts output.LoadOptions,
) (int64, error) {
	qualified := l.schema + "." + table

	exists, err := l.tableExists(ctx, tx, table)
	if err != nil {
		return 0, err
	}

	switch opts.Policy {
	case domain.PolicyFail:
		if exists {
			return 0, fmt.Errorf("table %s: %w", qualified, domain.ErrSchemaConflict)
		}
	case domain.PolicyReplace:
		if exists {
			drop := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified) //#nosec G201 -- identifiers are sanitized
			if _, err := tx.ExecContext(ctx, drop); err != nil {
				return 0, &domain.StorageError{Operation: "drop table", Table: table, Err: err}
			}
			exists = false
		}
	}

	if !exists {
		if _, err := tx.ExecContext(ctx, createTableSQL(qualified, info, opts.TargetSRID)); err != nil {
			return 0, &domain.StorageError{Operation: "create table", Table: table, Err: err}
		}
	}

	count, err := l.insertFeatures(ctx, tx, container, info, qualified, opts)
	if err != nil {
		return 0, err
	}

	indexName := fmt.Sprintf("idx_%s_geom", table)
	dropIdx := fmt.Sprintf("DROP INDEX IF EXISTS %s.%s", l.schema, indexName) //#nosec G201 -- identifiers are sanitized
	if _, err := tx.ExecContext(ctx, dropIdx); err != nil {
		return 0, &domain.StorageError{Operation: "drop index", Table: table, Err: err}
	}
	createIdx := fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (geom)", indexName, qualified) //#nosec G201 -- identifiers are sanitized
	if _, err := tx.ExecContext(ctx, createIdx); err != nil {
		return 0, &domain.StorageError{Operation: "create index", Table: table, Err: err}
	}

	if err := l.upsertMetadata(ctx, tx, qualified, table, info.Name, hash, sourcePath, count, opts.OrderID); err != nil {
		return 0, err
	}

	return count, nil
}

// insertFeatures streams the layer in batches through one prepared insert.
func (l *Loader) insertFeatures(
	ctx context.Context,
	tx *sql.Tx,
	container output.Container,
	info *domain.LayerInfo,
	qualified string,
	opts output.LoadOptions,
) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, insertSQL(qualified, info, opts.TargetSRID))
	if err != nil {
		return 0, &domain.StorageError{Operation: "prepare insert", Table: qualified, Err: err}
	}
	defer func() { _ = stmt.Close() }()

	var count int64
	err = container.ReadBatches(ctx, info.Name, opts.BatchSize, func(batch []domain.Feature) error {
		for _, f := range batch {
			wkbBytes, err := geometry.GPBToWKB(f.Geometry)
			if err != nil {
				return err
			}
			// Reject malformed geometry before it reaches the
			// destination; a truncated feature aborts the layer.
			if _, err := geometry.WKBToGeometry(wkbBytes); err != nil {
				return err
			}

			args := make([]interface{}, 0, len(info.Columns)+2)
			for _, c := range info.Columns {
				args = append(args, f.Properties[c.Name])
			}
			args = append(args, opts.OrderID, wkbBytes)

			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return &domain.StorageError{Operation: "insert", Table: qualified, Err: err}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// upsertMetadata replaces the provenance record for (orderID, layer) with
// the freshly computed hash, count and bounding box.
func (l *Loader) upsertMetadata(
	ctx context.Context,
	tx *sql.Tx,
	qualified, table, layer, hash, sourcePath string,
	count int64,
	orderID string,
) error {
	var bbox sql.NullString
	bboxQuery := fmt.Sprintf(
		"SELECT ST_AsText(ST_Envelope(ST_Collect(geom))) FROM %s", qualified) //#nosec G201 -- identifiers are sanitized
	if err := tx.QueryRowContext(ctx, bboxQuery).Scan(&bbox); err != nil {
		return &domain.StorageError{Operation: "compute bbox", Table: table, Err: err}
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s.%s
			(order_id, source_file, source_hash, table_name, layer_name, feature_count, bbox, loaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromText($7, 4326), NOW())
		ON CONFLICT (order_id, layer_name) DO UPDATE SET
			source_file = EXCLUDED.source_file,
			source_hash = EXCLUDED.source_hash,
			table_name = EXCLUDED.table_name,
			feature_count = EXCLUDED.feature_count,
			bbox = EXCLUDED.bbox,
			loaded_at = NOW()
	`, l.schema, metadataTable) //#nosec G201 -- schema name is sanitized

	var bboxArg interface{}
	if bbox.Valid {
		bboxArg = bbox.String
	}
	_, err := tx.ExecContext(ctx, upsert,
		orderID, sourcePath, hash, table, layer, count, bboxArg)
	if err != nil {
		return &domain.StorageError{Operation: "upsert metadata", Table: table, Err: err}
	}
	return nil
}

// IsLayerCurrent reports whether the stored hash for (orderID, layer)
// matches the live digest of path.
func (l *Loader) IsLayerCurrent(ctx context.Context, path, layer, orderID string) (bool, error) {
	hash, err := FileHash(path)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		"SELECT source_hash FROM %s.%s WHERE order_id = $1 AND layer_name = $2",
		l.schema, metadataTable) //#nosec G201 -- schema name is sanitized
	var stored string
	err = l.db.QueryRowContext(ctx, query, orderID, layer).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &domain.StorageError{Operation: "read metadata", Err: err}
	}
	return stored == hash, nil
}

func (l *Loader) tableExists(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	if err := tx.QueryRowContext(ctx, query, l.schema, table).Scan(&exists); err != nil {
		return false, &domain.StorageError{Operation: "check table", Table: table, Err: err}
	}
	return exists, nil
}

// createTableSQL builds the destination DDL: mapped attribute columns, two
// provenance columns and a generic geometry column at the target SRID.
func createTableSQL(qualified string, info *domain.LayerInfo, targetSRID int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualified)
	b.WriteString("\tfid BIGSERIAL PRIMARY KEY,\n")
	for _, c := range info.Columns {
		fmt.Fprintf(&b, "\t%s %s,\n", sanitizeName(c.Name), mapColumnType(c.SourceType))
	}
	b.WriteString("\t_source_order TEXT,\n")
	b.WriteString("\t_loaded_at TIMESTAMPTZ DEFAULT NOW(),\n")
	fmt.Fprintf(&b, "\tgeom geometry(Geometry, %d)\n", targetSRID)
	b.WriteString(")")
	return b.String()
}

// insertSQL builds the parameterized insert. ST_Transform is applied only
// when the source SRID differs from the target, avoiding needless precision
// loss on already-matching data.
func insertSQL(qualified string, info *domain.LayerInfo, targetSRID int) string {
	cols := make([]string, 0, len(info.Columns)+2)
	params := make([]string, 0, len(info.Columns)+2)
	n := 1
	for _, c := range info.Columns {
		cols = append(cols, sanitizeName(c.Name))
		params = append(params, fmt.Sprintf("$%d", n))
		n++
	}
	cols = append(cols, "_source_order")
	params = append(params, fmt.Sprintf("$%d", n))
	n++

	cols = append(cols, "geom")
	var geomExpr string
	if info.SRID != targetSRID {
		geomExpr = fmt.Sprintf("ST_Transform(ST_SetSRID(ST_GeomFromWKB($%d), %d), %d)",
			n, info.SRID, targetSRID)
	} else {
		geomExpr = fmt.Sprintf("ST_SetSRID(ST_GeomFromWKB($%d), %d)", n, targetSRID)
	}
	params = append(params, geomExpr)

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified, strings.Join(cols, ", "), strings.Join(params, ", "))
}

// resolveLayer matches a requested name against the container catalog:
// exact match, then the sole layer, then a single case-insensitive match.
func resolveLayer(requested string, available []string) (string, error) {
	for _, name := range available {
		if name == requested {
			return name, nil
		}
	}
	if len(available) == 1 {
		return available[0], nil
	}

	var matches []string
	for _, name := range available {
		if strings.EqualFold(name, requested) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", &domain.LayerResolutionError{Requested: requested, Available: available}
	default:
		return "", &domain.LayerResolutionError{Requested: requested, Available: available, Ambiguous: true}
	}
}

var identifierSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeName makes a safe lowercase SQL identifier.
func sanitizeName(name string) string {
	s := identifierSanitizer.ReplaceAllString(name, "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "_" + s
	}
	return strings.ToLower(s)
}

// mapColumnType maps a source declared type to the destination type.
func mapColumnType(source string) string {
	s := strings.ToUpper(strings.TrimSpace(source))
	if idx := strings.Index(s, "("); idx > 0 {
		s = s[:idx]
	}
	if mapped, ok := typeMap[s]; ok {
		return mapped
	}
	return "TEXT"
}

// FileHash computes the whole-file SHA-256 digest used as the
// change-detection key.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, domain.ErrContainerNotFound)
		}
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
