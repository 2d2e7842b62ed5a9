package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"docindex/pkg/errkind"
)

// extractPDF extracts per-page text in page order, skipping pages whose
// extraction yields empty, per the spec's ".pdf" contract. Grounded on
// original_source/FileProcessor/file_reader.py's pdfplumber loop
// ("[page.extract_text() for page in pdf.pages if page.extract_text()]").
func extractPDF(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "docindex-extract-*.pdf")
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_pdf", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errkind.New(errkind.ExtractionFailed, "extract_pdf", err)
	}
	tmp.Close()

	f, r, err := pdf.Open(tmp.Name())
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_pdf", fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	var pages []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n"), nil
}
