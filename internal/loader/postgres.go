package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// postgresLoader reads procedures and table metadata from the PostgreSQL
// catalogs. Procedure source comes from pg_get_functiondef with an
// information_schema fallback for older servers.
type postgresLoader struct {
	db  *sql.DB
	cfg DBConfig
}

func (l *postgresLoader) Close() error { return l.db.Close() }

const pgProcList = `
SELECT n.nspname, p.proname, pg_get_functiondef(p.oid)
FROM pg_proc p
JOIN pg_namespace n ON p.pronamespace = n.oid
WHERE p.prokind = 'p' AND ($1 = '' OR n.nspname = $1)`

func (l *postgresLoader) LoadProcedures(ctx context.Context) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, pgProcList, l.cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("list postgres procedures: %w", err)
	}
	defer rows.Close()

	procedures := map[string]string{}
	for rows.Next() {
		var schema, name string
		var definition sql.NullString
		if err := rows.Scan(&schema, &name, &definition); err != nil {
			return nil, fmt.Errorf("scan postgres procedure row: %w", err)
		}
		source := strings.TrimSpace(definition.String)
		if source == "" {
			slog.Warn("loader.skip_empty_procedure", "schema", schema, "name", name)
			continue
		}
		procedures[schema+"."+name] = source
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres procedures: %w", err)
	}
	slog.Info("loader.db_procedures", "driver", "postgres", "count", len(procedures))
	return procedures, nil
}

const pgProcOne = `
SELECT pg_get_functiondef(p.oid)
FROM pg_proc p
JOIN pg_namespace n ON p.pronamespace = n.oid
WHERE n.nspname = $1 AND p.proname = $2 AND p.prokind = 'p'`

const pgProcOneFallback = `
SELECT routine_definition
FROM information_schema.routines
WHERE routine_schema = $1 AND routine_name = $2 AND routine_type = 'PROCEDURE'`

func (l *postgresLoader) LoadProcedure(ctx context.Context, name string) (string, error) {
	schema := l.cfg.Schema
	if schema == "" {
		schema = "public"
	}
	if s, n, ok := strings.Cut(name, "."); ok {
		schema, name = s, n
	}
	schema = strings.ToLower(schema)
	name = strings.ToLower(name)

	var definition sql.NullString
	err := l.db.QueryRowContext(ctx, pgProcOne, schema, name).Scan(&definition)
	if err == nil && strings.TrimSpace(definition.String) != "" {
		return strings.TrimSpace(definition.String), nil
	}
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("load postgres procedure %s.%s: %w", schema, name, err)
	}

	err = l.db.QueryRowContext(ctx, pgProcOneFallback, schema, name).Scan(&definition)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load postgres procedure %s.%s: %w", schema, name, err)
	}
	return strings.TrimSpace(definition.String), nil
}

const pgColumns = `
SELECT
    c.column_name,
    c.data_type,
    c.is_nullable,
    c.column_default,
    COALESCE(pk.is_pk, false),
    fk.foreign_table,
    fk.foreign_column
FROM information_schema.columns c
LEFT JOIN (
    SELECT ku.column_name, true AS is_pk
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage ku
        ON tc.constraint_name = ku.constraint_name
    WHERE tc.constraint_type = 'PRIMARY KEY'
        AND tc.table_schema = $1 AND tc.table_name = $2
) pk ON pk.column_name = c.column_name
LEFT JOIN (
    SELECT ku.column_name,
           ccu.table_schema || '.' || ccu.table_name AS foreign_table,
           ccu.column_name AS foreign_column
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage ku
        ON tc.constraint_name = ku.constraint_name
    JOIN information_schema.constraint_column_usage ccu
        ON tc.constraint_name = ccu.constraint_name
    WHERE tc.constraint_type = 'FOREIGN KEY'
        AND tc.table_schema = $1 AND tc.table_name = $2
) fk ON fk.column_name = c.column_name
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

const pgForeignKeys = `
SELECT tc.constraint_name,
       ku.column_name,
       ccu.table_schema || '.' || ccu.table_name,
       ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage ku
    ON tc.constraint_name = ku.constraint_name
JOIN information_schema.constraint_column_usage ccu
    ON tc.constraint_name = ccu.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY'
    AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY tc.constraint_name, ku.ordinal_position`

func (l *postgresLoader) LoadTable(ctx context.Context, name string) (*graph.TableInput, error) {
	schema := l.cfg.Schema
	if schema == "" {
		schema = "public"
	}
	if s, n, ok := strings.Cut(name, "."); ok {
		schema, name = s, n
	}
	schema = strings.ToLower(schema)
	name = strings.ToLower(name)

	rows, err := l.db.QueryContext(ctx, pgColumns, schema, name)
	if err != nil {
		return nil, fmt.Errorf("load postgres columns for %s.%s: %w", schema, name, err)
	}
	defer rows.Close()

	var columns []graph.Column
	for rows.Next() {
		var colName, dataType, nullable string
		var defVal, refTable, refColumn sql.NullString
		var isPK bool
		if err := rows.Scan(&colName, &dataType, &nullable, &defVal, &isPK, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan postgres column row: %w", err)
		}
		columns = append(columns, graph.Column{
			Name:             colName,
			DataType:         dataType,
			Nullable:         nullable == "YES",
			IsPrimaryKey:     isPK,
			IsForeignKey:     refTable.Valid,
			ForeignKeyTable:  refTable.String,
			ForeignKeyColumn: refColumn.String,
			DefaultValue:     defVal.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	fks, err := l.loadForeignKeys(ctx, schema, name)
	if err != nil {
		return nil, err
	}

	return &graph.TableInput{
		Name:        name,
		Schema:      schema,
		Columns:     columns,
		ForeignKeys: fks,
	}, nil
}

func (l *postgresLoader) loadForeignKeys(ctx context.Context, schema, table string) ([]graph.ForeignKey, error) {
	rows, err := l.db.QueryContext(ctx, pgForeignKeys, schema, table)
	if err != nil {
		return nil, fmt.Errorf("load postgres foreign keys for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	byName := map[string]*graph.ForeignKey{}
	var order []string
	for rows.Next() {
		var constraint, column, refTable, refColumn string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan postgres foreign key row: %w", err)
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
