package extract

import (
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"docindex/pkg/errkind"
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	runTextRe   = regexp.MustCompile(`(?s)<w:t[^>]*>(.*?)</w:t>`)
)

// extractDocx concatenates paragraph texts with newline separators, in
// document order, per the spec's ".docx" contract. The docx library's
// Editable().GetContent() exposes the raw document.xml; paragraph and run
// boundaries are pulled from it directly since the library's own surface
// targets template editing, not plain-text extraction.
func extractDocx(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "docindex-extract-*.docx")
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_docx", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errkind.New(errkind.ExtractionFailed, "extract_docx", err)
	}
	tmp.Close()

	r, err := docx.ReadDocxFile(tmp.Name())
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_docx", fmt.Errorf("open: %w", err))
	}
	defer r.Close()

	return strings.Join(paragraphsFromXML(r.Editable().GetContent()), "\n"), nil
}

// paragraphsFromXML extracts each <w:p>'s run texts, concatenated without a
// separator within a paragraph, in document order.
func paragraphsFromXML(xml string) []string {
	var paragraphs []string
	for _, p := range paragraphRe.FindAllString(xml, -1) {
		var sb strings.Builder
		for _, run := range runTextRe.FindAllStringSubmatch(p, -1) {
			sb.WriteString(html.UnescapeString(run[1]))
		}
		paragraphs = append(paragraphs, sb.String())
	}
	return paragraphs
}
