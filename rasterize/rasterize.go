// Package rasterize burns the patch attributes computed by Graphab into
// rasters on the patches grid and tags corridor rasters with their index
// and timestamp.
package rasterize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/graphab"
	"github.com/ad4gd/bioconn/worker"
)

const (
	PatchesTif  = "patches.tif"
	PatchesGpkg = "patches.gpkg"
	SoftwareTag = "Graphab (c) Foltete JC, Vuidel G, Clauzel C et al. Licensed under GNU GPL."
	NoTimestamp = "None"
)

var DefaultExcludeFields = []string{"Id", "area", "perim", "capacity", "idhab"}

var xmlYear = regexp.MustCompile(`(\d{4})\.xml$`)

type PatchFiles struct {
	Dir  string
	Tif  string
	Gpkg string
}

// FindPatchFiles returns the directories below base holding both
// patches.tif and patches.gpkg.
func FindPatchFiles(base string) ([]PatchFiles, error) {
	entries, err := crawl.Files(base, fmt.Sprintf(`type == 'd' || name == '%s' || name == '%s'`, PatchesTif, PatchesGpkg))
	if err != nil {
		return nil, err
	}

	byDir := make(map[string]*PatchFiles)
	for _, e := range entries {
		pf, ok := byDir[e.Dir]
		if !ok {
			pf = &PatchFiles{Dir: e.Dir}
			byDir[e.Dir] = pf
		}
		if e.Name == PatchesTif {
			pf.Tif = e.Path
		} else {
			pf.Gpkg = e.Path
		}
	}

	var out []PatchFiles
	for _, pf := range byDir {
		if len(pf.Tif) > 0 && len(pf.Gpkg) > 0 {
			out = append(out, *pf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

// Timestamp derives the end of year timestamp from the project xml name,
// such as forest_2018.xml. NoTimestamp is returned when there is none.
func Timestamp(path string) string {
	xml, ok := graphab.FindProjectXML(path)
	if !ok {
		log.Infof("No .xml file found in the current or parent directory of %s", path)
		return NoTimestamp
	}
	m := xmlYear.FindStringSubmatch(filepath.Base(xml))
	if m == nil {
		log.Infof("No valid year found in the XML filename %s", xml)
		return NoTimestamp
	}
	return m[1] + "-12-31 23:59:59"
}

func Description(index, timestamp string) string {
	return fmt.Sprintf("INDEX:%s; TIMESTAMP:%s", index, timestamp)
}

type Step struct {
	Exec          worker.Executor
	GdalTranslate string
	ExcludeFields []string
}

type Result struct {
	Outputs   []string
	Corridors []string
	Failed    []string
}

func (s *Step) excluded(field string) bool {
	for _, f := range s.ExcludeFields {
		if f == field {
			return true
		}
	}
	return false
}

// Run joins every patches pair below base then tags the corridors.
func (s *Step) Run(ctx context.Context, base string) (*Result, error) {
	pairs, err := FindPatchFiles(base)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(pairs) == 0 {
		log.Warnf("No valid patches.tif and patches.gpkg pairs found in %s", base)
	}
	for _, pf := range pairs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outputs, err := s.JoinPatches(pf)
		res.Outputs = append(res.Outputs, outputs...)
		if err != nil {
			log.Errorf("Joining %s: %v", pf.Dir, err)
			res.Failed = append(res.Failed, pf.Gpkg)
		}
	}

	corridors, err := s.TagCorridors(ctx, base, res)
	res.Corridors = corridors
	return res, err
}

// JoinPatches writes output_{field}.tif for every non excluded field of
// every layer in the GeoPackage. A failed field is logged and skipped.
func (s *Step) JoinPatches(pf PatchFiles) ([]string, error) {
	grid, err := gdal.Open(pf.Tif, false)
	if err != nil {
		return nil, err
	}
	defer grid.Close()
	nodata, hasNoData := grid.NoData(1)

	vec, err := gdal.OpenVector(pf.Gpkg)
	if err != nil {
		return nil, err
	}
	defer vec.Close()

	timestamp := Timestamp(pf.Gpkg)
	var outputs []string
	for _, layer := range vec.Layers() {
		for _, field := range layer.Fields {
			if s.excluded(field) {
				continue
			}
			log.Infof("Processing field: %s", field)

			out := filepath.Join(pf.Dir, fmt.Sprintf("output_%s.tif", field))
			desc := Description(strings.SplitN(field, "_", 2)[0], timestamp)
			if err := s.rasterizeField(grid, layer, field, out, nodata, hasNoData, desc); err != nil {
				log.Errorf("Field %s of %s: %v", field, pf.Gpkg, err)
				continue
			}
			outputs = append(outputs, out)
			log.Infof("Field '%s' rasterized to %s, metadata set: %s", field, out, desc)
		}
	}
	return outputs, nil
}

func (s *Step) rasterizeField(grid *gdal.Dataset, layer *gdal.Layer, field, out string, nodata float64, hasNoData bool, desc string) error {
	dst, err := gdal.CreateLike(out, grid, 1, gdal.Float32, []string{"COMPRESS=LZW"})
	if err != nil {
		return err
	}
	defer dst.Close()

	if hasNoData {
		if err = dst.SetNoData(1, nodata); err != nil {
			return err
		}
	}
	if err = gdal.RasterizeLayer(dst, layer, field, nodata); err != nil {
		return err
	}
	if err = dst.SetMetadataItem(gdal.ImageDescription, desc); err != nil {
		return err
	}
	if err = dst.SetMetadataItem(gdal.Software, SoftwareTag); err != nil {
		return err
	}
	dst.Flush()
	return nil
}

// TagCorridors rewrites the description of every corridor raster named
// like {prefix}_{...}_{index}.tif through gdal_translate.
func (s *Step) TagCorridors(ctx context.Context, base string, res *Result) ([]string, error) {
	entries, err := crawl.Files(base, `type == 'd' || (name =~ '(?i)corridor' && name =~ '[.]tif$')`)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		log.Info("No valid corridor TIFFs found.")
		return nil, nil
	}

	var tagged []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return tagged, err
		}
		parts := strings.Split(strings.TrimSuffix(e.Name, ".tif"), "_")
		if len(parts) < 3 {
			log.Warnf("Corridor filename %s does not follow the expected pattern", e.Name)
			continue
		}

		desc := Description(parts[len(parts)-1], Timestamp(e.Path))
		tmp := strings.TrimSuffix(e.Path, ".tif") + "_tmp.tif"
		err := s.Exec.Run(ctx, s.GdalTranslate, "-mo", gdal.ImageDescription+"="+desc, e.Path, tmp)
		if err == nil {
			err = os.Rename(tmp, e.Path)
		}
		if err != nil {
			os.Remove(tmp)
			log.Errorf("Tagging %s: %v", e.Path, err)
			if res != nil {
				res.Failed = append(res.Failed, e.Path)
			}
			continue
		}
		tagged = append(tagged, e.Path)
		log.Infof("Metadata set for %s: %s", e.Path, desc)
	}
	return tagged, nil
}
