package certificate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/aict-platform/aict/internal/model"
)

const (
	imgW = 1123 // A4 landscape at 96 dpi
	imgH = 794
)

var (
	navyRGBA = color.RGBA{R: 26, G: 42, B: 94, A: 255}
	goldRGBA = color.RGBA{R: 201, G: 162, B: 39, A: 255}
	grayRGBA = color.RGBA{R: 90, G: 90, B: 90, A: 255}
)

// WritePNG renders the certificate as a PNG image. The layout mirrors
// the PDF renderer at screen resolution.
func WritePNG(w io.Writer, data model.CertificateData, verifyURL string) error {
	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	// Double border.
	strokeRect(img, 30, 30, imgW-60, imgH-60, 4, goldRGBA)
	strokeRect(img, 42, 42, imgW-84, imgH-84, 2, navyRGBA)

	// Title banner.
	draw.Draw(img, image.Rect(42, 42, imgW-42, 162), image.NewUniform(navyRGBA), image.Point{}, draw.Src)
	drawCentered(img, "CERTIFICATE OF AI COMPETENCY", imgW/2, 94, color.White)
	drawCentered(img, "AICT Essential", imgW/2, 130, goldRGBA)

	drawCentered(img, "This certifies that", imgW/2, 212, grayRGBA)
	drawCentered(img, data.HolderName, imgW/2, 258, navyRGBA)
	drawCentered(img,
		fmt.Sprintf("has demonstrated essential AI competency for the %s role", data.JobRole),
		imgW/2, 300, grayRGBA)
	drawCentered(img, fmt.Sprintf("Total Score: %d / 100", data.TotalScore), imgW/2, 342, navyRGBA)

	// Competency circles.
	const radius = 44
	count := len(model.Indicators())
	span := imgW - 220
	step := span / count
	cy := 470
	for i, ind := range model.Indicators() {
		cx := 110 + step*i + step/2
		strokeCircle(img, cx, cy, radius, 3, goldRGBA)
		drawCentered(img, fmt.Sprintf("%.0f", data.Competencies[ind]), cx, cy+5, navyRGBA)
		drawCentered(img, indicatorLabels[ind], cx, cy+radius+24, grayRGBA)
	}

	// Footer.
	drawText(img, "Issued: "+data.ExamDate, 76, 676, grayRGBA)
	drawText(img, "Valid until: "+data.ExpiryDate, 76, 700, grayRGBA)
	drawRightAligned(img, "Certificate ID: "+data.CertificateID, imgW-76, 676, grayRGBA)
	if verifyURL != "" {
		drawRightAligned(img, "Verify at "+verifyURL, imgW-76, 700, grayRGBA)
	}

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("render certificate PNG: %w", err)
	}
	return nil
}

func strokeRect(img *image.RGBA, x, y, w, h, thickness int, c color.Color) {
	u := image.NewUniform(c)
	draw.Draw(img, image.Rect(x, y, x+w, y+thickness), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(x, y+h-thickness, x+w, y+h), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(x, y, x+thickness, y+h), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(x+w-thickness, y, x+w, y+h), u, image.Point{}, draw.Src)
}

func strokeCircle(img *image.RGBA, cx, cy, r, thickness int, c color.Color) {
	outer := float64(r)
	inner := float64(r - thickness)
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			d := math.Hypot(float64(x-cx), float64(y-cy))
			if d <= outer && d >= inner {
				img.Set(x, y, c)
			}
		}
	}
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

func drawText(img *image.RGBA, s string, x, y int, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawCentered(img *image.RGBA, s string, cx, y int, c color.Color) {
	drawText(img, s, cx-textWidth(s)/2, y, c)
}

func drawRightAligned(img *image.RGBA, s string, right, y int, c color.Color) {
	drawText(img, s, right-textWidth(s), y, c)
}
