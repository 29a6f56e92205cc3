package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/starford/pkgsnap/internal/models"
)

// Entities returns every package in rowid order with its tags attached.
// Rows without an id are skipped. Snapshots without the tag tables yield
// packages without tags.
func (db *DB) Entities(ctx context.Context, logger *slog.Logger) ([]models.Entity, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tags, err := db.tagsByPackage(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, packagesQuery)
	if err != nil {
		return nil, fmt.Errorf("catalog: query packages: %w", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var (
			rowid   int64
			id      sql.NullString
			name    sql.NullString
			version sql.NullString
		)
		if err := rows.Scan(&rowid, &id, &name, &version); err != nil {
			return nil, fmt.Errorf("catalog: scan package: %w", err)
		}
		if !id.Valid || id.String == "" {
			logger.Debug("catalog: skipping package without id", slog.Int64("rowid", rowid))
			continue
		}
		e := models.Entity{
			ID:      id.String,
			Version: version.String,
			Tags:    models.NormalizeTags(tags[rowid]),
		}
		if name.Valid {
			e.Name = models.StringPtr(name.String)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate packages: %w", err)
	}
	return out, nil
}

func (db *DB) tagsByPackage(ctx context.Context) (map[int64][]string, error) {
	out := make(map[int64][]string)
	for _, table := range []string{"tags2", "tags2_map"} {
		ok, err := tableExists(ctx, db.conn, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
	}

	rows, err := db.conn.QueryContext(ctx, tagsQuery)
	if err != nil {
		return nil, fmt.Errorf("catalog: query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pkg int64
			tag sql.NullString
		)
		if err := rows.Scan(&pkg, &tag); err != nil {
			return nil, fmt.Errorf("catalog: scan tag: %w", err)
		}
		if tag.Valid {
			out[pkg] = append(out[pkg], tag.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate tags: %w", err)
	}
	return out, nil
}
