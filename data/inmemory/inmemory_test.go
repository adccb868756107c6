package inmemory

import (
	"context"
	"testing"

	"github.com/radarsiope/radar/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDB(t *testing.T) {
	db := GetInMemoryDB()

	// iterate over the testing suite and call the function
	for _, f := range data.TestingFuncs {
		f(t, db)
	}
}

func TestInMemory_GetReturnsCopy(t *testing.T) {
	db := GetInMemoryDB()
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "leads/l1", data.Fields{"name": "Ana"}, false))

	d, err := db.Get(ctx, "leads/l1")
	require.NoError(t, err)
	d.Fields["name"] = "changed"

	d, err = db.Get(ctx, "leads/l1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", d.Fields.String("name"))
}
