package loader

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// DBConfig selects and parameterizes a database backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
}

// Enabled reports whether a database backend is configured at all.
func (c DBConfig) Enabled() bool { return c.Driver != "" }

// DatabaseLoader fetches procedure source and table metadata from a live
// database. A missing entity is (zero value, nil), not an error.
type DatabaseLoader interface {
	// LoadProcedure fetches the source of one procedure by name. The name
	// may be schema-qualified.
	LoadProcedure(ctx context.Context, name string) (string, error)
	// LoadProcedures lists every procedure in the configured scope as
	// qualified name -> source.
	LoadProcedures(ctx context.Context) (map[string]string, error)
	// LoadTable fetches column/key/index metadata for one table.
	LoadTable(ctx context.Context, name string) (*graph.TableInput, error)
	Close() error
}

// Open connects the configured backend.
func Open(cfg DBConfig) (DatabaseLoader, error) {
	switch cfg.Driver {
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return &mysqlLoader{db: db, cfg: cfg}, nil
	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, port, cfg.User, cfg.Password, cfg.Database)
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &postgresLoader{db: db, cfg: cfg}, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &sqliteLoader{db: db}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// scope returns the schema filter for catalog queries: the explicit schema
// if set, otherwise the database name.
func (c DBConfig) scope() string {
	if c.Schema != "" {
		return c.Schema
	}
	return c.Database
}
