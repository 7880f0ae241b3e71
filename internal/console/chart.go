package console

import (
	"fmt"
	"math"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/wavelinechart"
	"github.com/NimbleMarkets/ntcharts/sparkline"

	"github.com/fyrsmithlabs/rasac/internal/curve"
)

const (
	defaultChartWidth  = 64
	defaultChartHeight = 14
	minChartWidth      = 20
	minChartHeight     = 6

	sparklineWidth  = 30
	sparklineHeight = 3
)

// Dataset names.
const (
	dsTrain     = "train"
	dsUpper     = "upper"
	dsLower     = "lower"
	dsTestUpper = "test-upper"
	dsTestLower = "test-lower"
)

// chartLine is one plotted curve.
type chartLine struct {
	name   string // empty for the default dataset
	values []float64
}

// renderCurveChart draws the accuracy or loss view of s. The loss view
// adds both Bollinger bands of in when it is available.
func renderCurveChart(s *curve.Series, in *curve.Insights, showLoss bool, width, height int) string {
	if s.Len() == 0 {
		return dimStyle.Render("no data")
	}
	width = max(width, minChartWidth)
	height = max(height, minChartHeight)

	lines := chartLines(s, in, showLoss)
	lo, hi, ok := valueRange(lines)
	if !ok {
		return dimStyle.Render("no numeric data")
	}

	chart := wavelinechart.New(width, height,
		wavelinechart.WithXRange(1, float64(max(s.Len(), 2))),
		wavelinechart.WithYRange(lo, hi),
		wavelinechart.WithStyles(runes.ArcLineStyle, testSeriesStyle),
		wavelinechart.WithDataSetStyles(dsTrain, runes.ArcLineStyle, trainSeriesStyle),
		wavelinechart.WithDataSetStyles(dsUpper, runes.ThinLineStyle, bandStyle),
		wavelinechart.WithDataSetStyles(dsLower, runes.ThinLineStyle, bandStyle),
		wavelinechart.WithDataSetStyles(dsTestUpper, runes.ThinLineStyle, testBandStyle),
		wavelinechart.WithDataSetStyles(dsTestLower, runes.ThinLineStyle, testBandStyle),
	)
	for _, line := range lines {
		for i, v := range line.values {
			if math.IsNaN(v) || math.IsInf(v, 0) || i >= len(s.Epochs) {
				continue
			}
			p := canvas.Float64Point{X: float64(s.Epochs[i]), Y: v}
			if line.name == "" {
				chart.Plot(p)
			} else {
				chart.PlotDataSet(line.name, p)
			}
		}
	}
	chart.DrawAll()
	return chart.View()
}

// chartLines picks the curves of one view. The test curve is the default
// dataset.
func chartLines(s *curve.Series, in *curve.Insights, showLoss bool) []chartLine {
	if !showLoss {
		return []chartLine{{values: s.TestAcc}, {name: dsTrain, values: s.TrainAcc}}
	}
	lines := []chartLine{{values: s.TestLoss}, {name: dsTrain, values: s.TrainLoss}}
	if in != nil {
		lines = append(lines,
			chartLine{name: dsUpper, values: in.TrainBand.Upper},
			chartLine{name: dsLower, values: in.TrainBand.Lower},
			chartLine{name: dsTestUpper, values: in.TestBand.Upper},
			chartLine{name: dsTestLower, values: in.TestBand.Lower},
		)
	}
	return lines
}

// valueRange returns the padded min and max over every finite value.
func valueRange(lines []chartLine) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, line := range lines {
		for _, v := range line.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, false
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.05, 0.01)
	}
	return lo - pad, hi + pad, true
}

// Sparkline renders values as a compact sparkline. Non-finite values are
// skipped.
func Sparkline(values []float64, width int) string {
	if width <= 0 {
		width = sparklineWidth
	}
	var data []float64
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", width, "no data"))
	}

	spark := sparkline.New(width, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
