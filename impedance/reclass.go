// Package impedance turns land-use rasters into impedance and affinity
// surfaces for each habitat using a reclassification table.
package impedance

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/table"
)

// EmptyImpedance is used for classified rows without an impedance in
// integer tables.
const EmptyImpedance = 666

// NoDataCodes are LULC values that always map to the output nodata.
var NoDataCodes = []int64{-2147483647, -32768, 0}

// Reclass maps LULC codes to impedance values.
type Reclass struct {
	Values map[int64]float64
	// Decimal is set when any impedance in the table has a fractional
	// part; the surfaces are then written as Float32 instead of Int32.
	Decimal bool
	NoData  float64
}

func (r *Reclass) DataType() gdal.DataType {
	if r.Decimal {
		return gdal.Float32
	}
	return gdal.Int32
}

// LoadReclass reads a table with the lulc, impedance and type columns.
// Rows without a type, or typed null/none, are ignored.
func LoadReclass(path string, nodata float64) (*Reclass, error) {
	tbl, err := table.Read(path, table.Comma)
	if err != nil {
		return nil, err
	}
	return NewReclass(tbl, nodata)
}

func NewReclass(tbl *table.Table, nodata float64) (*Reclass, error) {
	for _, col := range []string{"lulc", "impedance", "type"} {
		if tbl.Index(col) < 0 {
			return nil, fmt.Errorf("reclassification table has no %s column", col)
		}
	}

	r := &Reclass{Values: make(map[int64]float64), NoData: nodata}
	for i := range tbl.Rows {
		if strings.Contains(tbl.Value(i, "impedance"), ".") {
			r.Decimal = true
			break
		}
	}

	for i, row := range tbl.Rows {
		rowType := strings.ToLower(strings.TrimSpace(tbl.Value(i, "type")))
		if len(tbl.Value(i, "type")) == 0 || rowType == "null" || rowType == "none" {
			continue
		}

		impedance, err := r.parseImpedance(strings.TrimSpace(tbl.Value(i, "impedance")))
		if err != nil {
			log.Errorf("Invalid data format in reclassification table: %v", row)
			continue
		}
		code, err := strconv.ParseInt(strings.TrimSpace(tbl.Value(i, "lulc")), 10, 64)
		if err != nil {
			log.Errorf("Invalid data format in reclassification table: %v", row)
			continue
		}
		r.Values[code] = impedance
	}

	for _, code := range NoDataCodes {
		r.Values[code] = nodata
	}
	log.Infof("Mapping used to classify impedance is: %s", r)
	return r, nil
}

func (r *Reclass) parseImpedance(val string) (float64, error) {
	if r.Decimal {
		return strconv.ParseFloat(val, 64)
	}
	if len(val) == 0 {
		return EmptyImpedance, nil
	}
	v, err := strconv.ParseInt(val, 10, 64)
	return float64(v), err
}

// Apply reclassifies LULC values. Codes missing from the table become
// nodata.
func (r *Reclass) Apply(lulc []float64) []float64 {
	out := make([]float64, len(lulc))
	for i, v := range lulc {
		if math.IsNaN(v) {
			out[i] = r.NoData
			continue
		}
		if imp, ok := r.Values[int64(v)]; ok && float64(int64(v)) == v {
			out[i] = imp
		} else {
			out[i] = r.NoData
		}
	}
	return out
}

func (r *Reclass) String() string {
	codes := make([]int64, 0, len(r.Values))
	for code := range r.Values {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%d: %v", code, r.Values[code])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Affinity inverts impedance values; nodata and zero stay nodata.
func Affinity(impedance []float64, nodata float64) []float64 {
	out := make([]float64, len(impedance))
	for i, v := range impedance {
		if v != nodata && v != 0 {
			out[i] = 1 / v
		} else {
			out[i] = nodata
		}
	}
	return out
}
