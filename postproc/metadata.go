package postproc

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Metadata identifies what an output raster describes.
type Metadata struct {
	CaseStudy string
	Habitat   string
	Metric    string
	Year      string
}

// ParseDescription reads the index and the year from a description such
// as "INDEX:F; TIMESTAMP:2018-12-31 23:59:59".
func ParseDescription(desc string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(desc), "; ")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed description: %q", desc)
	}

	index := strings.SplitN(parts[0], ":", 2)
	if len(index) < 2 {
		return "", "", fmt.Errorf("no index in description: %q", desc)
	}
	ts := strings.SplitN(parts[1], ":", 2)
	if len(ts) < 2 {
		return "", "", fmt.Errorf("no timestamp in description: %q", desc)
	}

	t, err := time.Parse(timestampLayout, strings.TrimSpace(ts[1]))
	if err != nil {
		return index[1], "", fmt.Errorf("timestamp of %q: %w", desc, err)
	}
	return index[1], strconv.Itoa(t.Year()), nil
}

type mapping struct {
	token string
	value string
}

// External file names carry case study and habitat tokens of the
// partner's naming scheme.
var caseStudyTokens = []mapping{
	{"_30_", "cat_aggr_buf_30m"},
	{"_390_", "cat_aggr_buf_390m_test"},
	{"high", "cat_aggr_buf_30m"},
	{"low", "cat_aggr_buf_390m_test"},
}

var habitatTokens = []mapping{
	{"aquatics", "aquatic"},
	{"boscos", "forest"},
	{"herbacis", "herbaceous"},
	{"llenyosos", "woody"},
	{"pratsmatollars", "shrubland"},
}

const (
	modelOutputHabitat = "ml_output"
	filenameMetric     = "ICT"
	minYear            = 1800
	maxYear            = 2050
)

var fourDigits = regexp.MustCompile(`^\d{4}$`)

// FilenameMetadata guesses the metadata of a raster without description
// from its file name. Names without a resolution token (_30_, _390_) come
// from the model outputs and get an ml_output habitat prefix.
func FilenameMetadata(path string) Metadata {
	name := strings.ToLower(strings.TrimSpace(filepath.Base(path)))
	md := Metadata{Metric: filenameMetric}

	for i, m := range caseStudyTokens {
		if i >= 2 {
			md.Habitat = modelOutputHabitat
		}
		if strings.Contains(name, m.token) {
			md.CaseStudy = m.value
			break
		}
	}

	for _, m := range habitatTokens {
		if strings.Contains(name, m.token) {
			if len(md.Habitat) > 0 {
				md.Habitat += "_" + m.value
			} else {
				md.Habitat = m.value
			}
			break
		}
	}

	for _, part := range strings.Split(name, "_") {
		if !fourDigits.MatchString(part) {
			continue
		}
		if year, _ := strconv.Atoi(part); year >= minYear && year <= maxYear {
			md.Year = part
			break
		}
	}
	return md
}
