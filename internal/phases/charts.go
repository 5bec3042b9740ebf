package phases

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

const (
	chartWidth   = 800
	chartBarH    = 24
	chartGap     = 8
	chartLabelW  = 260
	chartTop     = 48
	chartPadding = 16
)

// BarChartSVG renders a horizontal bar chart of data as a standalone SVG.
func BarChartSVG(title string, data []textnorm.Count) []byte {
	maxCount := 1
	for _, d := range data {
		if d.Count > maxCount {
			maxCount = d.Count
		}
	}

	height := chartTop + len(data)*(chartBarH+chartGap) + chartPadding
	plotW := chartWidth - chartLabelW - 2*chartPadding - 48

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`+"\n",
		chartWidth, height, chartWidth, height)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="#ffffff"/>`+"\n")
	fmt.Fprintf(&b, `<text x="%d" y="28" font-size="18" font-weight="bold">%s</text>`+"\n", chartPadding, escape(title))

	for i, d := range data {
		y := chartTop + i*(chartBarH+chartGap)
		w := d.Count * plotW / maxCount
		if w < 1 {
			w = 1
		}
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="12" text-anchor="end">%s</text>`+"\n",
			chartPadding+chartLabelW-8, y+chartBarH-7, escape(truncate(d.Label, 40)))
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#4c72b0"/>`+"\n",
			chartPadding+chartLabelW, y, w, chartBarH)
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-size="12">%d</text>`+"\n",
			chartPadding+chartLabelW+w+6, y+chartBarH-7, d.Count)
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
