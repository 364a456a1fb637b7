package postgis

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobrunner/geopub/internal/domain"
)

// ListTables returns the published feature tables registered in
// geometry_columns, skipping internal tables. Read-only.
func (l *Loader) ListTables(ctx context.Context) ([]domain.TableInfo, error) {
	query := `
		SELECT f_table_schema, f_table_name, type, srid
		FROM geometry_columns
		WHERE f_table_schema = $1
		ORDER BY f_table_name
	`
	rows, err := l.db.QueryContext(ctx, query, l.schema)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list tables", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var tables []domain.TableInfo
	for rows.Next() {
		var t domain.TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.GeometryType, &t.SRID); err != nil {
			return nil, &domain.StorageError{Operation: "list tables", Err: err}
		}
		if strings.HasPrefix(t.Name, "_") {
			continue
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// TableStats returns row statistics for one published table. Read-only.
func (l *Loader) TableStats(ctx context.Context, table string) (*domain.TableStats, error) {
	qualified := l.schema + "." + sanitizeName(table)
	query := fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(ST_AsText(ST_Extent(geom)::geometry), '') FROM %s",
		qualified) //#nosec G201 -- identifiers are sanitized

	stats := &domain.TableStats{Table: sanitizeName(table)}
	if err := l.db.QueryRowContext(ctx, query).Scan(&stats.RowCount, &stats.Extent); err != nil {
		return nil, &domain.StorageError{Operation: "table stats", Table: table, Err: err}
	}
	return stats, nil
}

// Metadata returns all layer provenance records. Read-only.
func (l *Loader) Metadata(ctx context.Context) ([]domain.MetadataRecord, error) {
	query := fmt.Sprintf(`
		SELECT order_id, source_file, source_hash, table_name, layer_name,
			feature_count, COALESCE(ST_AsText(bbox), ''), loaded_at
		FROM %s.%s
		ORDER BY loaded_at
	`, l.schema, metadataTable) //#nosec G201 -- schema name is sanitized

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read metadata", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var records []domain.MetadataRecord
	for rows.Next() {
		var r domain.MetadataRecord
		err := rows.Scan(&r.OrderID, &r.SourceFile, &r.SourceHash, &r.TableName,
			&r.LayerName, &r.FeatureCount, &r.BBox, &r.LoadedAt)
		if err != nil {
			return nil, &domain.StorageError{Operation: "read metadata", Err: err}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DropLayer drops a published table and deletes its metadata record in one
// transaction. Explicit maintenance action.
func (l *Loader) DropLayer(ctx context.Context, table, orderID, layer string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Operation: "begin", Table: table, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE",
		l.schema, sanitizeName(table)) //#nosec G201 -- identifiers are sanitized
	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return &domain.StorageError{Operation: "drop table", Table: table, Err: err}
	}

	del := fmt.Sprintf("DELETE FROM %s.%s WHERE order_id = $1 AND layer_name = $2",
		l.schema, metadataTable) //#nosec G201 -- schema name is sanitized
	if _, err := tx.ExecContext(ctx, del, orderID, layer); err != nil {
		return &domain.StorageError{Operation: "delete metadata", Table: table, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Operation: "commit", Table: table, Err: err}
	}
	committed = true

	l.logger.Info("dropped published layer", "table", table, "order", orderID, "layer", layer)
	return nil
}
