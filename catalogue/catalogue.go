// Package catalogue keeps the statistics produced by a run in a SQL
// database: PostgreSQL for shared deployments, SQLite for local runs.
package catalogue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_stats (
	run_id     TEXT NOT NULL,
	file       TEXT NOT NULL,
	case_study TEXT,
	habitat    TEXT,
	metric     TEXT,
	year       TEXT,
	min        DOUBLE PRECISION,
	max        DOUBLE PRECISION,
	mean       DOUBLE PRECISION,
	std        DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS global_indices (
	run_id     TEXT NOT NULL,
	case_study TEXT,
	habitat    TEXT,
	metric     TEXT,
	year       TEXT,
	value      TEXT
);
`

type LocalStat struct {
	File      string
	CaseStudy string
	Habitat   string
	Metric    string
	Year      string
	Min       float64
	Max       float64
	Mean      float64
	StdDev    float64
	Valid     bool
}

type GlobalIndex struct {
	CaseStudy string
	Habitat   string
	Metric    string
	Year      string
	Value     string
}

type Catalogue struct {
	db       *sql.DB
	postgres bool
}

// Open connects to a postgres:// or postgresql:// DSN, anything else is a
// SQLite file path with an optional sqlite:// prefix.
func Open(dsn string) (*Catalogue, error) {
	c := &Catalogue{}
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		c.postgres = true
		c.db, err = sql.Open("postgres", dsn)
	} else {
		c.db, err = sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
	}
	if err != nil {
		return nil, fmt.Errorf("opening catalogue: %w", err)
	}

	for _, stmt := range strings.Split(schema, ";") {
		if len(strings.TrimSpace(stmt)) == 0 {
			continue
		}
		if _, err = c.db.Exec(stmt); err != nil {
			c.db.Close()
			return nil, fmt.Errorf("creating catalogue schema: %w", err)
		}
	}
	return c, nil
}

func (c *Catalogue) Close() error {
	return c.db.Close()
}

// rebind turns ? placeholders into $N for PostgreSQL.
func (c *Catalogue) rebind(query string) string {
	if !c.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func nullable(val float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: val, Valid: valid}
}

func (c *Catalogue) InsertLocalStats(ctx context.Context, runID string, row LocalStat) error {
	_, err := c.db.ExecContext(ctx, c.rebind(`INSERT INTO local_stats
		(run_id, file, case_study, habitat, metric, year, min, max, mean, std)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, row.File, row.CaseStudy, row.Habitat, row.Metric, row.Year,
		nullable(row.Min, row.Valid), nullable(row.Max, row.Valid),
		nullable(row.Mean, row.Valid), nullable(row.StdDev, row.Valid))
	if err != nil {
		return fmt.Errorf("inserting stats of %s: %w", row.File, err)
	}
	return nil
}

func (c *Catalogue) InsertGlobalIndex(ctx context.Context, runID string, row GlobalIndex) error {
	_, err := c.db.ExecContext(ctx, c.rebind(`INSERT INTO global_indices
		(run_id, case_study, habitat, metric, year, value)
		VALUES (?, ?, ?, ?, ?, ?)`),
		runID, row.CaseStudy, row.Habitat, row.Metric, row.Year, row.Value)
	if err != nil {
		return fmt.Errorf("inserting %s index of %s: %w", row.Metric, row.CaseStudy, err)
	}
	return nil
}

// LocalStats returns the stored rows of a case study ordered by metric,
// habitat and year.
func (c *Catalogue) LocalStats(ctx context.Context, caseStudy string) ([]LocalStat, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`SELECT file, case_study, habitat, metric, year, min, max, mean, std
		FROM local_stats WHERE case_study = ? ORDER BY metric, habitat, year, file`), caseStudy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []LocalStat
	for rows.Next() {
		var s LocalStat
		var min, max, mean, std sql.NullFloat64
		var habitat, metric, year sql.NullString
		if err = rows.Scan(&s.File, &s.CaseStudy, &habitat, &metric, &year, &min, &max, &mean, &std); err != nil {
			return nil, err
		}
		s.Habitat, s.Metric, s.Year = habitat.String, metric.String, year.String
		s.Valid = min.Valid && max.Valid && mean.Valid && std.Valid
		s.Min, s.Max, s.Mean, s.StdDev = min.Float64, max.Float64, mean.Float64, std.Float64
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
