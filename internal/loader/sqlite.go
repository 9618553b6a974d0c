package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// sqliteLoader serves table metadata from a SQLite file via PRAGMAs. SQLite
// has no stored procedures, so procedure lookups always come back empty;
// the file loader covers procedure source in SQLite deployments.
type sqliteLoader struct {
	db *sql.DB
}

func (l *sqliteLoader) Close() error { return l.db.Close() }

func (l *sqliteLoader) LoadProcedures(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (l *sqliteLoader) LoadProcedure(context.Context, string) (string, error) {
	return "", nil
}

func (l *sqliteLoader) LoadTable(ctx context.Context, name string) (*graph.TableInput, error) {
	schema := ""
	if s, n, ok := strings.Cut(name, "."); ok {
		schema, name = s, n
	}

	columns, err := l.loadColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	fks, err := l.loadForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	// Backfill per-column FK flags from the constraint list.
	for i := range columns {
		for _, fk := range fks {
			for j, col := range fk.Columns {
				if col == columns[i].Name {
					columns[i].IsForeignKey = true
					columns[i].ForeignKeyTable = fk.ReferencedTable
					if j < len(fk.ReferencedColumns) {
						columns[i].ForeignKeyColumn = fk.ReferencedColumns[j]
					}
				}
			}
		}
	}

	indexes, err := l.loadIndexes(ctx, name)
	if err != nil {
		return nil, err
	}

	return &graph.TableInput{
		Name:        name,
		Schema:      schema,
		Columns:     columns,
		ForeignKeys: fks,
		Indexes:     indexes,
	}, nil
}

func (l *sqliteLoader) loadColumns(ctx context.Context, table string) ([]graph.Column, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite table_info %s: %w", table, err)
	}
	defer rows.Close()

	var columns []graph.Column
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var defVal sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defVal, &pk); err != nil {
			return nil, fmt.Errorf("scan sqlite column row: %w", err)
		}
		columns = append(columns, graph.Column{
			Name:         name,
			DataType:     colType,
			Nullable:     notNull == 0,
			IsPrimaryKey: pk > 0,
			DefaultValue: defVal.String,
		})
	}
	return columns, rows.Err()
}

func (l *sqliteLoader) loadForeignKeys(ctx context.Context, table string) ([]graph.ForeignKey, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite foreign_key_list %s: %w", table, err)
	}
	defer rows.Close()

	// Rows arrive as (id, seq, table, from, to, on_update, on_delete, match);
	// one id per constraint, one row per column.
	byID := map[int]*graph.ForeignKey{}
	var order []int
	for rows.Next() {
		var id, seq int
		var refTable, from string
		var to sql.NullString
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("scan sqlite foreign key row: %w", err)
		}
		fk, ok := byID[id]
		if !ok {
			fk = &graph.ForeignKey{ReferencedTable: refTable}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fks := make([]graph.ForeignKey, 0, len(order))
	for _, id := range order {
		fks = append(fks, *byID[id])
	}
	return fks, nil
}

func (l *sqliteLoader) loadIndexes(ctx context.Context, table string) ([]graph.Index, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("sqlite index_list %s: %w", table, err)
	}

	type indexHead struct {
		name   string
		unique bool
	}
	var heads []indexHead
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sqlite index row: %w", err)
		}
		heads = append(heads, indexHead{name: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var indexes []graph.Index
	for _, h := range heads {
		cols, err := l.indexColumns(ctx, h.name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, graph.Index{Name: h.name, Columns: cols, Unique: h.unique})
	}
	return indexes, nil
}

func (l *sqliteLoader) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", index))
	if err != nil {
		return nil, fmt.Errorf("sqlite index_info %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("scan sqlite index column row: %w", err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}
