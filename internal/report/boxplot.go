package report

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/diagnostics"
)

// boxplot layout constants, in SVG user units.
const (
	plotWidth   = 640
	plotHeight  = 120
	plotPadX    = 50
	boxTop      = 35
	boxBottom   = 85
	axisY       = 100
	boxMidlineY = (boxTop + boxBottom) / 2
)

// boxplotSVG renders a horizontal box-and-whisker plot of the R-hat values
// with the convergence threshold marked. Returns an empty string when there
// is nothing to plot.
func boxplotSVG(values []float64, threshold float64) template.HTML {
	if len(values) == 0 {
		return ""
	}

	q1 := diagnostics.Quantile(values, 0.25)
	median := diagnostics.Quantile(values, 0.5)
	q3 := diagnostics.Quantile(values, 0.75)

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	// Keep the threshold visible even when all values sit below it.
	axisLo, axisHi := lo, hi
	if threshold > axisHi {
		axisHi = threshold
	}
	if threshold < axisLo {
		axisLo = threshold
	}
	span := axisHi - axisLo
	if span == 0 {
		span = 0.1
	}
	axisLo -= span * 0.1
	axisHi += span * 0.1

	x := func(v float64) float64 {
		return plotPadX + (v-axisLo)/(axisHi-axisLo)*(plotWidth-2*plotPadX)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg viewBox="0 0 %d %d" role="img" aria-label="R-hat distribution">`, plotWidth, plotHeight)

	// Axis with end labels.
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#999"/>`, x(axisLo), axisY, x(axisHi), axisY)
	fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-size="11" text-anchor="start" fill="#555">%.3f</text>`, x(axisLo), axisY+14, axisLo)
	fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-size="11" text-anchor="end" fill="#555">%.3f</text>`, x(axisHi), axisY+14, axisHi)

	// Whiskers.
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#333"/>`, x(lo), boxMidlineY, x(q1), boxMidlineY)
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#333"/>`, x(q3), boxMidlineY, x(hi), boxMidlineY)
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#333"/>`, x(lo), boxTop+10, x(lo), boxBottom-10)
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#333"/>`, x(hi), boxTop+10, x(hi), boxBottom-10)

	// Interquartile box and median.
	fmt.Fprintf(&b, `<rect x="%.1f" y="%d" width="%.1f" height="%d" fill="#cfe3f5" stroke="#333"/>`,
		x(q1), boxTop, x(q3)-x(q1), boxBottom-boxTop)
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#1a4d80" stroke-width="2"/>`,
		x(median), boxTop, x(median), boxBottom)

	// Threshold marker.
	fmt.Fprintf(&b, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#c0392b" stroke-dasharray="4 3"/>`,
		x(threshold), boxTop-15, x(threshold), axisY)
	fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-size="11" text-anchor="middle" fill="#c0392b">%.2f</text>`,
		x(threshold), boxTop-20, threshold)

	b.WriteString(`</svg>`)
	return template.HTML(b.String()) //nolint:gosec // G203: SVG is built from numeric values only
}
