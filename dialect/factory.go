package dialect

import (
	"fmt"
	"strings"
)

// ForName returns the Dialect implementation for a dialect or driver name.
func ForName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return &PostgresDialect{}, nil
	case "mysql", "mariadb":
		return &MysqlDialect{}, nil
	case "sqlserver", "mssql":
		return &MSSQLDialect{}, nil
	case "oracle":
		return &OracleDialect{}, nil
	case "sqlite", "sqlite3":
		return &SQLiteDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database dialect %q", name)
}

// Ensure interface implementation
var _ Dialect = (*PostgresDialect)(nil)
var _ Dialect = (*MysqlDialect)(nil)
var _ Dialect = (*MSSQLDialect)(nil)
var _ Dialect = (*OracleDialect)(nil)
var _ Dialect = (*SQLiteDialect)(nil)
