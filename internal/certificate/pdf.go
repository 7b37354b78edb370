package certificate

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/aict-platform/aict/internal/model"
)

// Certificate palette.
var (
	navy = [3]int{26, 42, 94}
	gold = [3]int{201, 162, 39}
	gray = [3]int{90, 90, 90}
)

// indicatorLabels are the display names printed on the certificate.
var indicatorLabels = map[model.Indicator]string{
	model.IndicatorConcept:  "Concepts",
	model.IndicatorPrompt:   "Prompting",
	model.IndicatorData:     "Data Care",
	model.IndicatorVerify:   "Verification",
	model.IndicatorJudgment: "Judgment",
	model.IndicatorWorkflow: "Workflow",
}

// renderEpoch pins the PDF metadata timestamps so that rendering the
// same certificate twice produces identical bytes.
var renderEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// WritePDF renders the certificate as a landscape A4 PDF.
func WritePDF(w io.Writer, data model.CertificateData, verifyURL string) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetCreationDate(renderEpoch)
	pdf.SetModificationDate(renderEpoch)
	pdf.SetTitle("AICT Essential Certificate "+data.CertificateID, false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageW, pageH := 297.0, 210.0

	// Double border: gold outside, navy inside.
	pdf.SetDrawColor(gold[0], gold[1], gold[2])
	pdf.SetLineWidth(1.2)
	pdf.Rect(8, 8, pageW-16, pageH-16, "D")
	pdf.SetDrawColor(navy[0], navy[1], navy[2])
	pdf.SetLineWidth(0.4)
	pdf.Rect(11, 11, pageW-22, pageH-22, "D")

	// Title banner.
	pdf.SetFillColor(navy[0], navy[1], navy[2])
	pdf.Rect(11, 11, pageW-22, 32, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 26)
	pdf.SetXY(11, 18)
	pdf.CellFormat(pageW-22, 10, "CERTIFICATE OF AI COMPETENCY", "", 0, "C", false, 0, "")
	pdf.SetTextColor(gold[0], gold[1], gold[2])
	pdf.SetFont("Helvetica", "", 13)
	pdf.SetXY(11, 31)
	pdf.CellFormat(pageW-22, 7, "AICT Essential", "", 0, "C", false, 0, "")

	// Holder block.
	pdf.SetTextColor(gray[0], gray[1], gray[2])
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetXY(11, 54)
	pdf.CellFormat(pageW-22, 6, "This certifies that", "", 0, "C", false, 0, "")

	pdf.SetTextColor(navy[0], navy[1], navy[2])
	pdf.SetFont("Helvetica", "B", 30)
	pdf.SetXY(11, 63)
	pdf.CellFormat(pageW-22, 12, data.HolderName, "", 0, "C", false, 0, "")

	pdf.SetTextColor(gray[0], gray[1], gray[2])
	pdf.SetFont("Helvetica", "", 12)
	pdf.SetXY(11, 78)
	pdf.CellFormat(pageW-22, 6,
		fmt.Sprintf("has demonstrated essential AI competency for the %s role", data.JobRole),
		"", 0, "C", false, 0, "")

	pdf.SetTextColor(navy[0], navy[1], navy[2])
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(11, 88)
	pdf.CellFormat(pageW-22, 8, fmt.Sprintf("Total Score: %d / 100", data.TotalScore), "", 0, "C", false, 0, "")

	// Competency circles.
	const radius = 11.0
	count := len(model.Indicators())
	span := pageW - 60
	step := span / float64(count)
	y := 118.0
	for i, ind := range model.Indicators() {
		cx := 30 + step*float64(i) + step/2
		pdf.SetDrawColor(gold[0], gold[1], gold[2])
		pdf.SetLineWidth(0.8)
		pdf.Circle(cx, y, radius, "D")

		pdf.SetTextColor(navy[0], navy[1], navy[2])
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetXY(cx-radius, y-4)
		pdf.CellFormat(2*radius, 8, fmt.Sprintf("%.0f", data.Competencies[ind]), "", 0, "C", false, 0, "")

		pdf.SetTextColor(gray[0], gray[1], gray[2])
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetXY(cx-16, y+radius+3)
		pdf.CellFormat(32, 5, indicatorLabels[ind], "", 0, "C", false, 0, "")
	}

	// Footer: dates, ID, verification.
	pdf.SetTextColor(gray[0], gray[1], gray[2])
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(20, 176)
	pdf.CellFormat(120, 5, "Issued: "+data.ExamDate, "", 0, "L", false, 0, "")
	pdf.SetXY(20, 182)
	pdf.CellFormat(120, 5, "Valid until: "+data.ExpiryDate, "", 0, "L", false, 0, "")

	pdf.SetXY(pageW-140, 176)
	pdf.CellFormat(120, 5, "Certificate ID: "+data.CertificateID, "", 0, "R", false, 0, "")
	if verifyURL != "" {
		pdf.SetXY(pageW-140, 182)
		pdf.CellFormat(120, 5, "Verify at "+verifyURL, "", 0, "R", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render certificate PDF: %w", err)
	}
	return nil
}
