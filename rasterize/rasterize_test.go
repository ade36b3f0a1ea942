package rasterize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/worker/workertest"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func writeRaster(t *testing.T, path string, nodata float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	ds, err := gdal.Create(path, 4, 4, 1, gdal.Int32, nil)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(gdal.GeoTransform{0, 10, 0, 40, 0, -10}))
	require.NoError(t, ds.SetNoData(1, nodata))
	require.NoError(t, ds.Fill(1, 1))
	ds.Close()
}

func writePatches(t *testing.T, dir string) {
	t.Helper()
	writeRaster(t, filepath.Join(dir, PatchesTif), -1)
	features := []gdal.VectorFeature{
		{WKT: "POLYGON ((0 40,0 20,20 20,20 40,0 40))", Values: map[string]float64{"Id": 1, "area": 400, "F_d1000": 0.5}},
		{WKT: "POLYGON ((20 20,20 0,40 0,40 20,20 20))", Values: map[string]float64{"Id": 2, "area": 400, "F_d1000": 2}},
	}
	require.NoError(t, gdal.CreateVectorPolygons(filepath.Join(dir, PatchesGpkg), "patches", "", []string{"Id", "area", "F_d1000"}, features))
}

func TestFindPatchFiles(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "forest", PatchesTif))
	touch(t, filepath.Join(base, "forest", PatchesGpkg))
	touch(t, filepath.Join(base, "aquatic", PatchesTif))

	pairs, err := FindPatchFiles(base)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, filepath.Join(base, "forest"), pairs[0].Dir)
	assert.Equal(t, filepath.Join(base, "forest", PatchesGpkg), pairs[0].Gpkg)
}

func TestTimestamp(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "forest", "corridors")
	touch(t, filepath.Join(sub, "corridor_d_1000.tif"))
	touch(t, filepath.Join(base, "forest", "forest_2018.xml"))
	touch(t, filepath.Join(base, "forest", "a.aux.xml"))

	assert.Equal(t, "2018-12-31 23:59:59", Timestamp(filepath.Join(sub, "corridor_d_1000.tif")))

	touch(t, filepath.Join(sub, "project.xml"))
	assert.Equal(t, NoTimestamp, Timestamp(filepath.Join(sub, "corridor_d_1000.tif")))

	assert.Equal(t, NoTimestamp, Timestamp(filepath.Join(t.TempDir(), "x", "y.tif")))
}

func TestJoinPatches(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "forest")
	writePatches(t, dir)
	touch(t, filepath.Join(dir, "forest_2020.xml"))

	step := &Step{ExcludeFields: DefaultExcludeFields}
	outputs, err := step.JoinPatches(PatchFiles{Dir: dir, Tif: filepath.Join(dir, PatchesTif), Gpkg: filepath.Join(dir, PatchesGpkg)})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "output_F_d1000.tif")}, outputs)

	ds, err := gdal.Open(outputs[0], false)
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, gdal.Float32, ds.DataType(1))
	nodata, ok := ds.NoData(1)
	assert.True(t, ok)
	assert.Equal(t, -1.0, nodata)
	assert.Equal(t, "INDEX:F; TIMESTAMP:2020-12-31 23:59:59", ds.Description())
	software, _ := ds.MetadataItem(gdal.Software)
	assert.Equal(t, SoftwareTag, software)

	data, err := ds.Read(1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, data[0])
	assert.Equal(t, 2.0, data[15])
}

func TestTagCorridors(t *testing.T) {
	base := t.TempDir()
	corridor := filepath.Join(base, "forest", "Corridor_d_1000.tif")
	writeRaster(t, corridor, 0)
	touch(t, filepath.Join(base, "forest", "corridor.tif"))
	touch(t, filepath.Join(base, "forest", "forest_2010.xml"))

	rec := &workertest.Recorder{Hook: workertest.CopyArgs(-2, -1)}
	step := &Step{Exec: rec, GdalTranslate: "gdal_translate"}
	tagged, err := step.TagCorridors(context.Background(), base, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{corridor}, tagged)

	require.Len(t, rec.Calls, 1)
	assert.Equal(t, []string{"-mo", "TIFFTAG_IMAGEDESCRIPTION=INDEX:1000; TIMESTAMP:2010-12-31 23:59:59",
		corridor, filepath.Join(base, "forest", "Corridor_d_1000_tmp.tif")}, rec.Calls[0].Args)
	assert.NoFileExists(t, filepath.Join(base, "forest", "Corridor_d_1000_tmp.tif"))
	assert.FileExists(t, corridor)
}

func TestTagCorridorsFailure(t *testing.T) {
	base := t.TempDir()
	corridor := filepath.Join(base, "corridor_d_1000.tif")
	writeRaster(t, corridor, 0)

	rec := &workertest.Recorder{Hook: func(workertest.Call) error { return errors.New("exit status 1") }}
	step := &Step{Exec: rec, GdalTranslate: "gdal_translate"}
	res := &Result{}
	tagged, err := step.TagCorridors(context.Background(), base, res)
	require.NoError(t, err)
	assert.Empty(t, tagged)
	assert.Equal(t, []string{corridor}, res.Failed)
}

func TestRun(t *testing.T) {
	base := t.TempDir()
	writePatches(t, filepath.Join(base, "forest"))
	writeRaster(t, filepath.Join(base, "forest", "corridor_d_1000.tif"), 0)

	rec := &workertest.Recorder{Hook: workertest.CopyArgs(-2, -1)}
	step := &Step{Exec: rec, GdalTranslate: "gdal_translate", ExcludeFields: DefaultExcludeFields}
	res, err := step.Run(context.Background(), base)
	require.NoError(t, err)
	assert.Len(t, res.Outputs, 1)
	assert.Len(t, res.Corridors, 1)
	assert.Empty(t, res.Failed)
}
