package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// mysqlLoader reads procedures and table metadata from INFORMATION_SCHEMA.
type mysqlLoader struct {
	db  *sql.DB
	cfg DBConfig
}

func (l *mysqlLoader) Close() error { return l.db.Close() }

const mysqlProcList = `
SELECT ROUTINE_SCHEMA, ROUTINE_NAME, ROUTINE_DEFINITION
FROM INFORMATION_SCHEMA.ROUTINES
WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = ?`

func (l *mysqlLoader) LoadProcedures(ctx context.Context) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, mysqlProcList, l.cfg.scope())
	if err != nil {
		return nil, fmt.Errorf("list mysql procedures: %w", err)
	}
	defer rows.Close()

	procedures := map[string]string{}
	for rows.Next() {
		var schema, name string
		var definition sql.NullString
		if err := rows.Scan(&schema, &name, &definition); err != nil {
			return nil, fmt.Errorf("scan mysql procedure row: %w", err)
		}
		source := strings.TrimSpace(definition.String)
		if source == "" {
			slog.Warn("loader.skip_empty_procedure", "schema", schema, "name", name)
			continue
		}
		procedures[schema+"."+name] = source
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql procedures: %w", err)
	}
	slog.Info("loader.db_procedures", "driver", "mysql", "count", len(procedures))
	return procedures, nil
}

const mysqlProcOne = `
SELECT ROUTINE_DEFINITION
FROM INFORMATION_SCHEMA.ROUTINES
WHERE ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_SCHEMA = ? AND ROUTINE_NAME = ?`

func (l *mysqlLoader) LoadProcedure(ctx context.Context, name string) (string, error) {
	schema := l.cfg.scope()
	if s, n, ok := strings.Cut(name, "."); ok {
		schema, name = s, n
	}

	var definition sql.NullString
	err := l.db.QueryRowContext(ctx, mysqlProcOne, schema, name).Scan(&definition)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load mysql procedure %s.%s: %w", schema, name, err)
	}
	return strings.TrimSpace(definition.String), nil
}

const mysqlColumns = `
SELECT
    c.COLUMN_NAME,
    c.COLUMN_TYPE,
    c.IS_NULLABLE,
    c.COLUMN_DEFAULT,
    c.COLUMN_COMMENT,
    c.COLUMN_KEY,
    fk.REFERENCED_TABLE_NAME,
    fk.REFERENCED_COLUMN_NAME
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE fk
    ON fk.TABLE_SCHEMA = c.TABLE_SCHEMA
    AND fk.TABLE_NAME = c.TABLE_NAME
    AND fk.COLUMN_NAME = c.COLUMN_NAME
    AND fk.REFERENCED_TABLE_NAME IS NOT NULL
WHERE c.TABLE_SCHEMA = ? AND c.TABLE_NAME = ?
ORDER BY c.ORDINAL_POSITION`

const mysqlForeignKeys = `
SELECT
    ku.CONSTRAINT_NAME,
    ku.COLUMN_NAME,
    ku.REFERENCED_TABLE_NAME,
    ku.REFERENCED_COLUMN_NAME
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
WHERE ku.TABLE_SCHEMA = ? AND ku.TABLE_NAME = ?
    AND ku.REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY ku.CONSTRAINT_NAME, ku.ORDINAL_POSITION`

const mysqlIndexes = `
SELECT INDEX_NAME, NON_UNIQUE, GROUP_CONCAT(COLUMN_NAME ORDER BY SEQ_IN_INDEX) AS COLS
FROM INFORMATION_SCHEMA.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
GROUP BY INDEX_NAME, NON_UNIQUE`

const mysqlRowCount = `
SELECT TABLE_ROWS FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`

func (l *mysqlLoader) LoadTable(ctx context.Context, name string) (*graph.TableInput, error) {
	schema := l.cfg.scope()
	if s, n, ok := strings.Cut(name, "."); ok {
		schema, name = s, n
	}

	columns, err := l.loadColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	fks, err := l.loadForeignKeys(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	indexes, err := l.loadIndexes(ctx, schema, name)
	if err != nil {
		return nil, err
	}

	var rowCount sql.NullInt64
	if err := l.db.QueryRowContext(ctx, mysqlRowCount, schema, name).Scan(&rowCount); err != nil && err != sql.ErrNoRows {
		slog.Warn("loader.row_count", "table", schema+"."+name, "error", err)
	}

	return &graph.TableInput{
		Name:        name,
		Schema:      schema,
		Columns:     columns,
		ForeignKeys: fks,
		Indexes:     indexes,
		RowCount:    rowCount.Int64,
	}, nil
}

func (l *mysqlLoader) loadColumns(ctx context.Context, schema, table string) ([]graph.Column, error) {
	rows, err := l.db.QueryContext(ctx, mysqlColumns, schema, table)
	if err != nil {
		return nil, fmt.Errorf("load mysql columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []graph.Column
	for rows.Next() {
		var name, colType, nullable, colKey string
		var defVal, comment, refTable, refColumn sql.NullString
		if err := rows.Scan(&name, &colType, &nullable, &defVal, &comment, &colKey, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan mysql column row: %w", err)
		}
		columns = append(columns, graph.Column{
			Name:             name,
			DataType:         colType,
			Nullable:         nullable == "YES",
			IsPrimaryKey:     colKey == "PRI",
			IsForeignKey:     refTable.Valid,
			ForeignKeyTable:  refTable.String,
			ForeignKeyColumn: refColumn.String,
			DefaultValue:     defVal.String,
			Comment:          comment.String,
		})
	}
	return columns, rows.Err()
}

func (l *mysqlLoader) loadForeignKeys(ctx context.Context, schema, table string) ([]graph.ForeignKey, error) {
	rows, err := l.db.QueryContext(ctx, mysqlForeignKeys, schema, table)
	if err != nil {
		return nil, fmt.Errorf("load mysql foreign keys for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	// Multi-column constraints arrive as one row per column, ordered.
	byName := map[string]*graph.ForeignKey{}
	var order []string
	for rows.Next() {
		var constraint, column, refTable, refColumn string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan mysql foreign key row: %w", err)
		}
		fk, ok := byName[constraint]
		if !ok {
			fk = &graph.ForeignKey{ReferencedTable: refTable}
			byName[constraint] = fk
			order = append(order, constraint)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fks := make([]graph.ForeignKey, 0, len(order))
	for _, name := range order {
		fks = append(fks, *byName[name])
	}
	return fks, nil
}

func (l *mysqlLoader) loadIndexes(ctx context.Context, schema, table string) ([]graph.Index, error) {
	rows, err := l.db.QueryContext(ctx, mysqlIndexes, schema, table)
	if err != nil {
		return nil, fmt.Errorf("load mysql indexes for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var indexes []graph.Index
	for rows.Next() {
		var name, cols string
		var nonUnique int
		if err := rows.Scan(&name, &nonUnique, &cols); err != nil {
			return nil, fmt.Errorf("scan mysql index row: %w", err)
		}
		indexes = append(indexes, graph.Index{
			Name:    name,
			Columns: strings.Split(cols, ","),
			Unique:  nonUnique == 0,
		})
	}
	return indexes, rows.Err()
}
