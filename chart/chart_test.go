package chart

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotutil"
)

func TestBuilderPanels(t *testing.T) {
	b := NewBuilder()
	b.Add("PC", "forest", 2020, 0.4)
	b.Add("PC", "aquatic", 2010, 0.1)
	b.Add("PC", "forest", 2010, 0.2)
	b.Add("EC", "forest", 2010, 3)
	b.Add("EC", "forest", 2015, math.NaN())

	want := []Panel{
		{Title: "EC", YLabel: "Value", Series: []Series{{Name: "forest", Points: []Point{{2010, 3}}}}},
		{Title: "PC", YLabel: "Value", Series: []Series{
			{Name: "aquatic", Points: []Point{{2010, 0.1}}},
			{Name: "forest", Points: []Point{{2010, 0.2}, {2020, 0.4}}},
		}},
	}
	if diff := cmp.Diff(want, b.Panels()); diff != "" {
		t.Errorf("panels mismatch (-want +got):\n%s", diff)
	}
}

func TestSeriesColor(t *testing.T) {
	assert.Equal(t, HabitatColors["forest"], seriesColor("forest", 3, true))
	assert.Equal(t, color.Black, seriesColor("desert", 0, true))
	assert.Equal(t, plotutil.Color(2), seriesColor("forest", 2, false))
	assert.Equal(t, "#0000ff", hexColor(HabitatColors["aquatic"]))
}

func TestRender(t *testing.T) {
	b := NewBuilder()
	b.Add("ict", "forest", 2010, 1.2)
	b.Add("ict", "forest", 2020, 1.4)
	b.Add("corridor", "aquatic", 2020, 0.3)
	panels := b.Panels()
	panels[1].YMax = 2.5

	dir := t.TempDir()
	png := filepath.Join(dir, "stats_plot.png")
	require.NoError(t, RenderPNG(png, "Dynamics of local indices", panels, true))
	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	html := filepath.Join(dir, "stats_plot.html")
	require.NoError(t, RenderHTML(html, "Dynamics of local indices", panels, true))
	body, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "corridor"))

	assert.Error(t, RenderPNG(png, "empty", nil, false))
	assert.Error(t, RenderHTML(html, "empty", nil, false))
}
