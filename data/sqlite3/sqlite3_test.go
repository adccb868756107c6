package sqlite3

import (
	"path/filepath"
	"testing"

	"github.com/radarsiope/radar/data"
	"github.com/stretchr/testify/require"
)

func TestSQLite3(t *testing.T) {
	db := GetSQLite3DB(filepath.Join(t.TempDir(), "test.sqlite3"))
	defer db.Close()

	require.NoError(t, db.Start())

	// iterate over the testing suite and call the function
	for _, f := range data.TestingFuncs {
		f(t, db)
	}
}
