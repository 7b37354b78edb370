// Package certificate issues and renders AICT Essential certificates.
// A certificate is immutable once issued: the same data renders to the
// same bytes, and re-issuing for a session returns the stored copy.
package certificate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/aict-platform/aict/internal/model"
)

const dateLayout = "2006-01-02"

// NewID returns a certificate identifier of the form AICT-<year>-<6 digits>.
func NewID(year int) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate certificate number: %w", err)
	}
	return fmt.Sprintf("AICT-%d-%06d", year, n.Int64()), nil
}

// ExpiryDate returns the date one calendar year after the exam date.
// February 29 maps to February 28 of the following year.
func ExpiryDate(examDate time.Time) time.Time {
	e := examDate.AddDate(1, 0, 0)
	if e.Day() != examDate.Day() {
		// AddDate normalized Feb 29 into March 1.
		e = e.AddDate(0, 0, -1)
	}
	return e
}

// Filename returns the download filename for a rendered certificate.
// ext is the extension without the dot, e.g. "pdf" or "png".
func Filename(certificateID, ext string) string {
	return fmt.Sprintf("AICT_Certificate_%s.%s", certificateID, ext)
}

// Build assembles the immutable certificate payload for a passed exam.
func Build(certificateID, holderName, jobRole string, totalScore int, competencies model.CompetencyScores, examDate time.Time) model.CertificateData {
	return model.CertificateData{
		CertificateID: certificateID,
		HolderName:    holderName,
		TotalScore:    totalScore,
		JobRole:       jobRole,
		ExamDate:      examDate.Format(dateLayout),
		ExpiryDate:    ExpiryDate(examDate).Format(dateLayout),
		Competencies:  competencies.Clone(),
	}
}
