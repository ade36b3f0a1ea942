package gdal

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdal_alg.h"
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"
)

// Layer is a vector layer owned by its Dataset.
type Layer struct {
	Name   string
	Fields []string
	h      C.OGRLayerH
}

// OpenVector opens a vector dataset such as a GeoPackage read-only.
func OpenVector(path string) (*Dataset, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	h := C.GDALOpenEx(cPath, C.GDAL_OF_VECTOR|C.GDAL_OF_READONLY|C.GDAL_OF_VERBOSE_ERROR, nil, nil, nil)
	if h == nil {
		return nil, lastError("failed to open vector %s", path)
	}
	return &Dataset{path: path, h: h}, nil
}

func (ds *Dataset) Layers() []*Layer {
	nLayers := int(C.GDALDatasetGetLayerCount(ds.h))
	layers := make([]*Layer, 0, nLayers)
	for i := 0; i < nLayers; i++ {
		hLayer := C.GDALDatasetGetLayer(ds.h, C.int(i))
		if hLayer == nil {
			continue
		}

		layer := &Layer{Name: C.GoString(C.OGR_L_GetName(hLayer)), h: hLayer}
		hDefn := C.OGR_L_GetLayerDefn(hLayer)
		nFields := int(C.OGR_FD_GetFieldCount(hDefn))
		for f := 0; f < nFields; f++ {
			hField := C.OGR_FD_GetFieldDefn(hDefn, C.int(f))
			layer.Fields = append(layer.Fields, C.GoString(C.OGR_Fld_GetNameRef(hField)))
		}
		layers = append(layers, layer)
	}
	return layers
}

// RasterizeLayer burns the layer features into band 1 of dst. With a
// non-empty attribute the feature field value is burnt instead of burn.
func RasterizeLayer(dst *Dataset, layer *Layer, attribute string, burn float64) error {
	var options []string
	if len(attribute) > 0 {
		options = append(options, "ATTRIBUTE="+attribute)
	}
	opts := cStringList(options)
	defer C.CSLDestroy(opts)

	bands := [1]C.int{1}
	layers := [1]C.OGRLayerH{layer.h}
	burnValues := [1]C.double{C.double(burn)}

	cErr := C.GDALRasterizeLayers(dst.h, 1, &bands[0], 1, &layers[0], nil, nil, &burnValues[0], opts, nil, nil)
	if cErr != C.CE_None {
		return lastError("failed to rasterize %s into %s", layer.Name, dst.path)
	}
	return nil
}

// CreateVectorPolygons writes a GeoPackage with one polygon layer whose
// features carry the given float fields. Each feature is a WKT polygon.
func CreateVectorPolygons(path, layerName, srsWkt string, fields []string, features []VectorFeature) error {
	hDriver, err := getDriver("GPKG")
	if err != nil {
		return err
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	h := C.GDALCreate(hDriver, cPath, 0, 0, 0, C.GDT_Unknown, nil)
	if h == nil {
		return lastError("failed to create %s", path)
	}
	defer C.GDALClose(h)

	var hSRS C.OGRSpatialReferenceH
	if len(srsWkt) > 0 {
		cWkt := C.CString(srsWkt)
		hSRS = C.OSRNewSpatialReference(cWkt)
		C.free(unsafe.Pointer(cWkt))
		defer C.OSRDestroySpatialReference(hSRS)
	}

	cLayer := C.CString(layerName)
	defer C.free(unsafe.Pointer(cLayer))
	hLayer := C.GDALDatasetCreateLayer(h, cLayer, hSRS, C.wkbPolygon, nil)
	if hLayer == nil {
		return lastError("failed to create layer %s", layerName)
	}

	for _, name := range fields {
		cName := C.CString(name)
		hField := C.OGR_Fld_Create(cName, C.OFTReal)
		C.free(unsafe.Pointer(cName))
		cErr := C.OGR_L_CreateField(hLayer, hField, 1)
		C.OGR_Fld_Destroy(hField)
		if cErr != C.OGRERR_NONE {
			return fmt.Errorf("failed to create field %s", name)
		}
	}

	hDefn := C.OGR_L_GetLayerDefn(hLayer)
	for _, feat := range features {
		hFeat := C.OGR_F_Create(hDefn)

		cWkt := C.CString(feat.WKT)
		wktPtr := cWkt
		var hGeom C.OGRGeometryH
		C.OGR_G_CreateFromWkt(&wktPtr, hSRS, &hGeom)
		C.free(unsafe.Pointer(cWkt))
		if hGeom == nil {
			C.OGR_F_Destroy(hFeat)
			return fmt.Errorf("invalid wkt: %s", feat.WKT)
		}
		C.OGR_F_SetGeometryDirectly(hFeat, hGeom)

		for i, name := range fields {
			if val, ok := feat.Values[name]; ok {
				C.OGR_F_SetFieldDouble(hFeat, C.int(i), C.double(val))
			}
		}

		cErr := C.OGR_L_CreateFeature(hLayer, hFeat)
		C.OGR_F_Destroy(hFeat)
		if cErr != C.OGRERR_NONE {
			return fmt.Errorf("failed to write feature to %s", path)
		}
	}
	return nil
}

type VectorFeature struct {
	WKT    string
	Values map[string]float64
}
