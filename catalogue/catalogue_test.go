package catalogue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &Catalogue{postgres: true}
	assert.Equal(t, "VALUES ($1, $2, $3)", pg.rebind("VALUES (?, ?, ?)"))
	lite := &Catalogue{}
	assert.Equal(t, "VALUES (?, ?)", lite.rebind("VALUES (?, ?)"))
}

func TestLocalStats(t *testing.T) {
	ctx := context.Background()
	c, err := Open("sqlite://" + filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	defer c.Close()

	rows := []LocalStat{
		{File: "b.tif", CaseStudy: "Catalonia_30", Habitat: "forest", Metric: "ICT", Year: "2020", Min: 0, Max: 2, Mean: 1, StdDev: 0.5, Valid: true},
		{File: "a.tif", CaseStudy: "Catalonia_30", Habitat: "forest", Metric: "ICT", Year: "2010"},
		{File: "c.tif", CaseStudy: "Other", Metric: "corridor", Year: "2010", Valid: true},
	}
	for _, row := range rows {
		require.NoError(t, c.InsertLocalStats(ctx, "run-1", row))
	}

	got, err := c.LocalStats(ctx, "Catalonia_30")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[1], got[0])
	assert.Equal(t, rows[0], got[1])
	assert.False(t, got[0].Valid)
}

func TestInsertGlobalIndex(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.InsertGlobalIndex(ctx, "run-1", GlobalIndex{CaseStudy: "cs", Habitat: "forest", Metric: "EC", Year: "2018", Value: "12.5"}))

	var value string
	require.NoError(t, c.db.QueryRow(`SELECT value FROM global_indices WHERE metric = 'EC'`).Scan(&value))
	assert.Equal(t, "12.5", value)
}
