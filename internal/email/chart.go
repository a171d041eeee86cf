package email

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"infodigest/internal/core"
)

const (
	chartWidth  = 560
	chartHeight = 180
	chartMaxBar = 12
)

// RenderTrendChart draws a small horizontal bar chart of the top units'
// value scores as a PNG for inline embedding. Returns nil when there is
// nothing to draw.
func RenderTrendChart(units []core.InformationUnit) []byte {
	if len(units) == 0 {
		return nil
	}
	if len(units) > chartMaxBar {
		units = units[:chartMaxBar]
	}

	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	fill(img, img.Bounds(), color.RGBA{248, 250, 252, 255})

	barArea := chartWidth - 40
	barHeight := (chartHeight - 20) / len(units)
	if barHeight < 6 {
		barHeight = 6
	}
	barColor := color.RGBA{37, 99, 235, 255}
	axisColor := color.RGBA{226, 232, 240, 255}

	// Axis line on the left.
	fill(img, image.Rect(20, 10, 21, chartHeight-10), axisColor)

	y := 10
	for _, u := range units {
		w := int(float64(barArea) * u.ValueScore() / 10.0)
		if w < 2 {
			w = 2
		}
		fill(img, image.Rect(21, y+1, 21+w, y+barHeight-1), barColor)
		y += barHeight
		if y+barHeight > chartHeight-10 {
			break
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
