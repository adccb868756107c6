package postgresql

import (
	"github.com/radarsiope/radar/data/sqldb"

	_ "github.com/lib/pq" // import lib pq here rather than main
)

// PostgreSQL implements the store interface for postgres. Supabase projects are plain
// postgres databases and work with their connection string.
type PostgreSQL struct {
	*sqldb.SQLDatabase
}

// GetPostgreSQLDB returns a new postgres db or panics
func GetPostgreSQLDB(dbURL string) *PostgreSQL {
	return &PostgreSQL{sqldb.New("postgres", dbURL, sqldb.WithRowLocking())}
}
