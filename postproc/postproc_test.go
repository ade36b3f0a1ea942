package postproc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad4gd/bioconn/catalogue"
	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/table"
	"github.com/ad4gd/bioconn/utils"
	"github.com/ad4gd/bioconn/worker/workertest"
)

type raster struct {
	x, y   int
	dtype  gdal.DataType
	nodata *float64
	values []float64
	desc   string
}

func f64(v float64) *float64 { return &v }

func writeRaster(t *testing.T, path string, r raster) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	ds, err := gdal.Create(path, r.x, r.y, 1, r.dtype, nil)
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.SetGeoTransform(gdal.GeoTransform{0, 10, 0, float64(r.y * 10), 0, -10}))
	if r.nodata != nil {
		require.NoError(t, ds.SetNoData(1, *r.nodata))
	}
	require.NoError(t, ds.Write(1, r.values))
	if len(r.desc) > 0 {
		require.NoError(t, ds.SetMetadataItem(gdal.ImageDescription, r.desc))
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func TestParseDescription(t *testing.T) {
	metric, year, err := ParseDescription(" INDEX:F; TIMESTAMP:2018-12-31 23:59:59 ")
	require.NoError(t, err)
	assert.Equal(t, "F", metric)
	assert.Equal(t, "2018", year)

	metric, _, err = ParseDescription("INDEX:PC; TIMESTAMP:None")
	assert.Error(t, err)
	assert.Equal(t, "PC", metric)

	_, _, err = ParseDescription("INDEX only")
	assert.Error(t, err)
	_, _, err = ParseDescription("INDEX; TIMESTAMP")
	assert.Error(t, err)
}

func TestFilenameMetadata(t *testing.T) {
	tests := []struct {
		name string
		want Metadata
	}{
		{"ICT_30_Boscos_2018_v1.tif", Metadata{CaseStudy: "cat_aggr_buf_30m", Habitat: "forest", Metric: "ICT", Year: "2018"}},
		{"ict_390_Aquatics_1700_2010_v1.tif", Metadata{CaseStudy: "cat_aggr_buf_390m_test", Habitat: "aquatic", Metric: "ICT", Year: "2010"}},
		{"ICT_high_PratsMatollars_2050_v1.tif", Metadata{CaseStudy: "cat_aggr_buf_30m", Habitat: "ml_output_shrubland", Metric: "ICT", Year: "2050"}},
		{"ict_unknown.tif", Metadata{Habitat: "ml_output", Metric: "ICT"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilenameMetadata(filepath.Join("bucket_ext", "ict", tc.name)))
		})
	}
}

func TestClip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output_F.tif")
	values := make([]float64, 16)
	for i := range values {
		values[i] = float64(i)
	}
	writeRaster(t, path, raster{x: 4, y: 4, dtype: gdal.Int16, nodata: f64(-1), values: values, desc: "INDEX:F; TIMESTAMP:2018-12-31 23:59:59"})
	ref := filepath.Join(dir, "lulc.tif")
	writeRaster(t, ref, raster{x: 2, y: 2, dtype: gdal.Byte, values: []float64{1, 1, 1, 1}})

	clipped, err := CheckAndClip(path, ref, 1)
	require.NoError(t, err)
	assert.True(t, clipped)

	ds, err := gdal.Open(path, false)
	require.NoError(t, err)
	defer ds.Close()
	x, y := ds.Size()
	assert.Equal(t, []int{2, 2}, []int{x, y})
	assert.Equal(t, gdal.Int16, ds.DataType(1))
	gt, err := ds.GeoTransform()
	require.NoError(t, err)
	assert.Equal(t, gdal.GeoTransform{10, 10, 0, 30, 0, -10}, gt)
	nodata, ok := ds.NoData(1)
	assert.True(t, ok)
	assert.Equal(t, -1.0, nodata)
	assert.Equal(t, "INDEX:F; TIMESTAMP:2018-12-31 23:59:59", ds.Description())
	data, err := ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 9, 10}, data)

	clipped, err = CheckAndClip(path, ref, 1)
	require.NoError(t, err)
	assert.False(t, clipped)

	assert.Error(t, Clip(path, 1))
}

func TestApplyNoDataMask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output_F.tif")
	writeRaster(t, path, raster{x: 2, y: 2, dtype: gdal.Float32, nodata: f64(0), values: []float64{0, 1.5, 2, 3}, desc: "INDEX:F; TIMESTAMP:None"})
	lulc := filepath.Join(dir, "lulc.tif")
	writeRaster(t, lulc, raster{x: 2, y: 2, dtype: gdal.Int32, nodata: f64(255), values: []float64{1, 1, 255, 1}})

	require.NoError(t, ApplyNoDataMask(path, lulc, -9999))

	ds, err := gdal.Open(path, false)
	require.NoError(t, err)
	defer ds.Close()
	data, err := ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-9999, 1.5, -9999, 3}, data)
	nodata, _ := ds.NoData(1)
	assert.Equal(t, -9999.0, nodata)
	assert.Equal(t, "INDEX:F; TIMESTAMP:None", ds.Description())

	other := filepath.Join(dir, "small.tif")
	writeRaster(t, other, raster{x: 1, y: 1, dtype: gdal.Int32, values: []float64{1}})
	assert.Error(t, ApplyNoDataMask(path, other, -9999))
}

func TestCompressCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output_F.tif")
	writeRaster(t, path, raster{x: 2, y: 1, dtype: gdal.Int32, values: []float64{1, 2}, desc: "INDEX:F; TIMESTAMP:None"})
	require.NoError(t, CompressCopy(path, -9999))

	ds, err := gdal.Open(path, false)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, gdal.Float32, ds.DataType(1))
	assert.Equal(t, "INDEX:F; TIMESTAMP:None", ds.Description())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(path), "compressed_output_F.tif"))
}

func TestTargets(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{
		"forest/output_F.tif",
		"forest/compressed_output_F.tif",
		"forest/corridors/Corridor_d_1000.tif",
		"forest/patches.tif",
		"forest/ml/ict_2018.tif",
		"forest/ml/sub/ict_2018.tif",
		"ICT_30_2018.tif",
	} {
		touch(t, filepath.Join(base, name))
	}

	step := &Step{Pattern: utils.DefaultPostprocPattern, SkipDirs: []string{"ml", "output"}}
	targets, err := step.Targets(base)
	require.NoError(t, err)
	want := []string{
		filepath.Join(base, "ICT_30_2018.tif"),
		filepath.Join(base, "forest", "corridors", "Corridor_d_1000.tif"),
		filepath.Join(base, "forest", "ml", "sub", "ict_2018.tif"),
		filepath.Join(base, "forest", "output_F.tif"),
	}
	if diff := cmp.Diff(want, targets); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestIsCOG(t *testing.T) {
	rec := &workertest.Recorder{Stdout: func(c workertest.Call) string {
		if strings.Contains(c.Args[0], "cog") {
			return "Metadata (IMAGE_STRUCTURE):\n  LAYOUT=COG\n"
		}
		return "Driver: GTiff/GeoTIFF\n"
	}}
	step := &Step{Exec: rec, Gdalinfo: "gdalinfo"}
	assert.True(t, step.IsCOG(context.Background(), "a_cog.tif"))
	assert.False(t, step.IsCOG(context.Background(), "a.tif"))
}

func TestYLimit(t *testing.T) {
	assert.Equal(t, 2.5, YLimit("ICT"))
	assert.Equal(t, 1.0, YLimit("Corridor"))
	assert.Equal(t, 0.0, YLimit("corridor_beta"))
	assert.Equal(t, 0.0, YLimit("F"))
}

func TestLocalPanels(t *testing.T) {
	tbl := table.New(StatsColumns...)
	tbl.Append("cs", "forest", "ICT", "2018", "0", "2", "1", "0.5", "a.tif")
	tbl.Append("cs", "forest", "ICT", "2010.0", "0", "2", "0.8", "0.5", "b.tif")
	tbl.Append("cs", "", "ICT", "2010", "0", "2", "0.8", "0.5", "c.tif")
	tbl.Append("cs", "aquatic", "corridor", "", "0", "2", "0.8", "0.5", "d.tif")
	tbl.Append("other", "forest", "ICT", "2010", "0", "2", "0.8", "0.5", "e.tif")
	tbl.Append("cs", "aquatic", "corridor", "2012", "", "", "", "", "f.tif")

	panels := LocalPanels(tbl, "cs")
	require.Len(t, panels, 1)
	assert.Equal(t, "ICT", panels[0].Title)
	assert.Equal(t, 2.5, panels[0].YMax)
	require.Len(t, panels[0].Series, 1)
	assert.Len(t, panels[0].Series[0].Points, 2)
	assert.Equal(t, 2010.0, panels[0].Series[0].Points[0].X)
}

type memRecorder struct {
	rows []catalogue.LocalStat
}

func (m *memRecorder) InsertLocalStats(ctx context.Context, runID string, row catalogue.LocalStat) error {
	m.rows = append(m.rows, row)
	return nil
}

func TestRunCaseStudy(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	extDir := filepath.Join(root, "bucket_ext")
	lulcDir := filepath.Join(dataDir, "cs", "input", "lulc")
	habitatDir := filepath.Join(dataDir, "cs", "output", "forest")

	writeRaster(t, filepath.Join(lulcDir, "lulc_2018.tif"), raster{x: 2, y: 2, dtype: gdal.Int32, nodata: f64(0), values: []float64{1, 1, 0, 1}})
	require.NoError(t, os.MkdirAll(habitatDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(habitatDir, "forest_2018.xml"), []byte(
		"<Project><habitats><entry><Habitat><name>forest</name></Habitat></entry></habitats></Project>"), 0644))
	writeRaster(t, filepath.Join(habitatDir, "output_F_d1000.tif"), raster{
		x: 4, y: 4, dtype: gdal.Float32, nodata: f64(-1),
		values: []float64{
			0, 0, 0, 0,
			0, 1, 2, 0,
			0, 3, -1, 0,
			0, 0, 0, 0,
		},
		desc: "INDEX:F; TIMESTAMP:2018-12-31 23:59:59",
	})
	writeRaster(t, filepath.Join(extDir, "ICT_30_Boscos_2018", "ICT_30_Boscos_2018.tif"), raster{
		x: 2, y: 2, dtype: gdal.Float32, values: []float64{1, 2, 3, -9999},
	})

	rec := &workertest.Recorder{
		Hook: func(c workertest.Call) error {
			if c.Name == "gdal_translate" {
				return workertest.CopyFile(c.Args[len(c.Args)-2], c.Args[len(c.Args)-1])
			}
			return nil
		},
		Stdout: func(workertest.Call) string { return "Driver: GTiff/GeoTIFF\n" },
	}
	cat := &memRecorder{}
	step := &Step{
		Exec: rec, GdalTranslate: "gdal_translate", Gdalinfo: "gdalinfo",
		NoData: -9999, ClipSize: 1, COG: true,
		Pattern: utils.DefaultPostprocPattern, SkipDirs: []string{"ml", "output"},
		Catalogue: cat, RunID: "r1",
	}

	results, err := step.RunCaseStudy(context.Background(), "cs", dataDir, extDir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0].Processed, 1)
	assert.Len(t, results[1].Processed, 1)
	assert.Empty(t, results[0].Failed)
	assert.Empty(t, results[1].Failed)

	stats, err := table.Read(filepath.Join(dataDir, "cs", "output", StatsCsv), table.Comma)
	require.NoError(t, err)
	assert.Equal(t, StatsColumns, stats.Columns)
	require.Len(t, stats.Rows, 1)
	assert.Equal(t, []string{"cs", "forest", "F", "2018", "1", "2", "1.5", "0.5",
		filepath.Join(habitatDir, "output_F_d1000.tif")}, stats.Rows[0])
	assert.FileExists(t, filepath.Join(dataDir, "cs", "output", "stats_loc_plot.png"))

	ext, err := table.Read(filepath.Join(dataDir, "cs", "output", ExtStatsCsv), table.Comma)
	require.NoError(t, err)
	require.Len(t, ext.Rows, 1)
	assert.Equal(t, []string{"cat_aggr_buf_30m", "forest", "ICT"}, ext.Rows[0][:3])

	require.Len(t, cat.rows, 2)
	assert.Equal(t, "forest", cat.rows[0].Habitat)

	// gdalinfo for both ICT-free targets, gdal_translate for every processed one
	assert.Equal(t, []string{"gdalinfo", "gdal_translate", "gdal_translate"}, rec.Names())

	ds, err := gdal.Open(filepath.Join(habitatDir, "output_F_d1000.tif"), false)
	require.NoError(t, err)
	defer ds.Close()
	data, err := ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, -9999, -9999}, data)
}
