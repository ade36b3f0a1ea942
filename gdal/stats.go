package gdal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the valid pixels of a band. Valid is false when no
// pixel survived the nodata filter or a moment is not finite.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Count  int
	Valid  bool
}

// ComputeStats ignores NaN and every value listed in nodata. StdDev is the
// population standard deviation, as GDAL reports it.
func ComputeStats(values []float64, nodata ...float64) Stats {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || isNoData(v, nodata) {
			continue
		}
		valid = append(valid, v)
	}

	if len(valid) == 0 {
		return Stats{}
	}

	mean, std := stat.PopMeanStdDev(valid, nil)
	s := Stats{
		Min:    floats.Min(valid),
		Max:    floats.Max(valid),
		Mean:   mean,
		StdDev: std,
		Count:  len(valid),
	}
	s.Valid = !math.IsNaN(s.Mean) && !math.IsInf(s.Mean, 0) && !math.IsNaN(s.StdDev) && !math.IsInf(s.StdDev, 0)
	return s
}

func isNoData(v float64, nodata []float64) bool {
	for _, nd := range nodata {
		if v == nd {
			return true
		}
	}
	return false
}

// Statistics computes Stats over a band, skipping its own nodata value and
// any extra nodata values given.
func (ds *Dataset) Statistics(band int, extraNoData ...float64) (Stats, error) {
	values, err := ds.Read(band)
	if err != nil {
		return Stats{}, err
	}
	nodata := append([]float64(nil), extraNoData...)
	if nd, ok := ds.NoData(band); ok {
		nodata = append(nodata, nd)
	}
	return ComputeStats(values, nodata...), nil
}
