package indices

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad4gd/bioconn/catalogue"
	"github.com/ad4gd/bioconn/table"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func writeGlobTables(t *testing.T, dir string) {
	t.Helper()
	write(t, filepath.Join(dir, "glob_EC_2010.txt"), "Graph\td\tp\tbeta\tEC\ng1\t1000\t0.05\t1\t12.5\n")
	write(t, filepath.Join(dir, "glob_EC_2020.txt"), "Graph\td\tp\tbeta\tEC\ng1\t1000\t0.05\t1\t13.5\n")
	write(t, filepath.Join(dir, "glob_IIC_2010.txt"), "Graph\tIIC\ng1\t0.002\n")
	write(t, filepath.Join(dir, "glob_BC.txt"), "Graph\tBC\ng1\t4\n")
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "EC", MetricName("glob_EC_2010.txt"))
	assert.Equal(t, "Unknown", MetricName("glob.txt"))
}

func TestAppendYear(t *testing.T) {
	dir := t.TempDir()
	writeGlobTables(t, dir)
	require.NoError(t, AppendYear(dir))

	tbl, err := table.Read(filepath.Join(dir, "glob_IIC_2010.txt"), table.Tab)
	require.NoError(t, err)
	assert.Equal(t, []string{"Graph", "IIC", "year"}, tbl.Columns)
	assert.Equal(t, [][]string{{"g1", "0.002", "2010"}}, tbl.Rows)

	tbl, err = table.Read(filepath.Join(dir, "glob_BC.txt"), table.Tab)
	require.NoError(t, err)
	assert.Equal(t, []string{"Graph", "BC"}, tbl.Columns)

	// running twice overwrites the column
	require.NoError(t, AppendYear(dir))
	tbl, err = table.Read(filepath.Join(dir, "glob_EC_2020.txt"), table.Tab)
	require.NoError(t, err)
	assert.Equal(t, []string{"Graph", "d", "p", "beta", "EC", "year"}, tbl.Columns)
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	writeGlobTables(t, dir)
	write(t, filepath.Join(dir, "glob_PC_2010.txt"), "Graph\td\tp\tbeta\tPC\ng1\t1000\t0.05\t1\t12.5\n")
	require.NoError(t, AppendYear(dir))

	csvPath, err := Concat(dir, "Catalonia_30")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ConcatCsv), csvPath)
	assert.FileExists(t, filepath.Join(dir, ConcatTxt))

	tbl, err := table.Read(csvPath, table.Comma)
	require.NoError(t, err)
	want := &table.Table{
		Columns: []string{"Graph", "d", "p", "beta", "metric_val", "year", "metric", "case_study"},
		Rows: [][]string{
			{"g1", "1000", "0.05", "1", "12.5", "2010", "PC", "Catalonia_30"},
			{"g1", "1000", "0.05", "1", "13.5", "2020", "EC", "Catalonia_30"},
			{"g1", "", "", "", "0.002", "2010", "IIC", "Catalonia_30"},
		},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("concat mismatch (-want +got):\n%s", diff)
	}

	_, err = Concat(t.TempDir(), "cs")
	assert.Error(t, err)
}

func TestCombineAndPanels(t *testing.T) {
	base := t.TempDir()
	forest := filepath.Join(base, "forest", ConcatCsv)
	aquatic := filepath.Join(base, "aquatic", ConcatCsv)
	write(t, forest, "Graph,metric_val,year,metric,case_study\ng1,1,2010,EC,cs\ng1,2,2020,EC,cs\n")
	write(t, aquatic, "Graph,metric_val,year,metric,case_study\ng1,3,2010,EC,cs\ng1,x,2020,EC,cs\n")

	out, err := Combine([]string{forest, aquatic}, base)
	require.NoError(t, err)
	tbl, err := table.Read(out, table.Comma)
	require.NoError(t, err)
	assert.Equal(t, "habitat", tbl.Columns[len(tbl.Columns)-1])
	assert.Len(t, tbl.Rows, 4)
	assert.Equal(t, "aquatic", tbl.Value(3, "habitat"))

	panels := Panels(tbl, true)
	require.Len(t, panels, 1)
	require.Len(t, panels[0].Series, 2)
	assert.Equal(t, "aquatic", panels[0].Series[0].Name)
	assert.Len(t, panels[0].Series[0].Points, 1)

	panels = Panels(tbl, false)
	require.Len(t, panels[0].Series, 1)
	assert.Equal(t, "EC", panels[0].Series[0].Name)

	_, err = Combine(nil, base)
	assert.Error(t, err)
}

type memRecorder struct {
	rows []catalogue.GlobalIndex
}

func (m *memRecorder) InsertGlobalIndex(ctx context.Context, runID string, row catalogue.GlobalIndex) error {
	m.rows = append(m.rows, row)
	return nil
}

func TestStepRun(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	configDir := filepath.Join(root, "config")
	write(t, filepath.Join(configDir, "cs", "forest.yaml"), "habitat: [1]\nhabitat_forest: [1]\n")
	habitatDir := filepath.Join(dataDir, "cs", "output", "forest")
	writeGlobTables(t, habitatDir)

	rec := &memRecorder{}
	step := &Step{DataDir: dataDir, ConfigDir: configDir, CleanTemp: true, Catalogue: rec, RunID: "r1"}
	res, err := step.Run(context.Background(), "cs")
	require.NoError(t, err)

	assert.Equal(t, []string{"forest"}, res.Habitats)
	assert.Equal(t, filepath.Join(dataDir, "cs", "output", CombinedCsv), res.Combined)
	assert.Equal(t, filepath.Join(dataDir, "cs", "output", "stats_glob_plot.png"), res.Plot)
	assert.FileExists(t, filepath.Join(dataDir, "cs", "output", "stats_glob_plot.html"))

	require.Len(t, rec.rows, 3)
	assert.Equal(t, catalogue.GlobalIndex{CaseStudy: "cs", Habitat: "forest", Metric: "EC", Year: "2010", Value: "12.5"}, rec.rows[0])

	assert.NoFileExists(t, filepath.Join(habitatDir, "glob_EC_2010.txt"))
	assert.FileExists(t, filepath.Join(habitatDir, ConcatTxt))

	_, err = step.Run(context.Background(), "missing")
	assert.Error(t, err)
}
