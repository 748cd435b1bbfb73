package domain

import (
	"strconv"
	"strings"
)

const (
	// ReportFileName is the download name of an assembled report.
	ReportFileName = "diagnosis_report.txt"
	// ReportContentType is the MIME type of an assembled report.
	ReportContentType = "text/plain; charset=utf-8"

	reportTitle       = "Crop Disease Diagnosis Report"
	noAdvisoryLine    = "- No recommendations found. Seek expert review."
	regulatorNotice   = "Always follow official label instructions approved by regulators (e.g., PCPB in Kenya)."
	NoAdvisoryMessage = "No direct match in recommendations. Consider expert review or submitting more images."
)

// Assemble renders a plain-text report of a diagnosis. Output depends only on
// the arguments.
func Assemble(crop Crop, result ClassificationResult, advisories []AdvisoryEntry, treatments ...Treatment) string {
	var b strings.Builder

	b.WriteString(reportTitle + "\n")
	b.WriteString(strings.Repeat("=", len(reportTitle)) + "\n\n")
	b.WriteString("Crop: " + string(crop) + "\n")
	b.WriteString("Predicted: " + result.Label.Title() + " (confidence=" + formatConfidence(result.Confidence) + ")\n")
	b.WriteString("Note: " + result.Rationale + "\n\n")

	b.WriteString("Recommendations:\n")
	if len(advisories) == 0 {
		b.WriteString(noAdvisoryLine + "\n")
	}
	for _, a := range advisories {
		b.WriteString("- " + a.Topic + ": " + a.Message + "\n")
	}

	if len(treatments) > 0 {
		b.WriteString("\nTreatment options:\n")
		for _, t := range treatments {
			b.WriteString("- " + t.Disease + "\n")
			writeField(&b, "Symptoms", t.Symptoms)
			writeField(&b, "Chemical control", t.Chemical)
			writeField(&b, "Trade names", t.TradeNames)
			writeField(&b, "Dosage & interval", t.Dosage)
			writeField(&b, "Alternative practices", t.Alternatives)
		}
		b.WriteString("\n" + regulatorNotice + "\n")
	}

	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString("    " + name + ": " + value + "\n")
}

// formatConfidence prints the shortest decimal form, e.g. 0.89 or 0.5.
func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}
