// Package migrations resolves the embedded credential_records schema for each
// supported dialect.
package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	credentials "github.com/goliatone/go-credentials"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// Table is the only table the schema creates.
	Table = "credential_records"
)

var dialectDirs = map[string]string{
	DialectPostgres: "data/sql/migrations",
	DialectSQLite:   "data/sql/migrations/sqlite",
}

// ForDialect returns the migrations of one dialect. The result is checked to
// hold both halves of every credential_records migration so a partial embed
// fails at startup rather than at rollback.
func ForDialect(dialect string) (fs.FS, error) {
	return fromRoot(credentials.GetMigrationsFS(), dialect)
}

func fromRoot(root fs.FS, dialect string) (fs.FS, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	dir, ok := dialectDirs[dialect]
	if !ok {
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*_"+Table+".up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: list %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no %s migrations", dir, Table)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(sub, down); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no rollback: %w", dir, up, err)
		}
	}
	return sub, nil
}
