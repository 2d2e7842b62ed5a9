// Package extract implements the preprocessor's format-specific text
// extraction contracts for the four accepted file kinds: .txt, .docx,
// .pdf, .hwp. Grounded on original_source/FileProcessor/file_reader.py's
// per-extension dispatch and fallback-encoding behavior.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"docindex/pkg/errkind"
)

// Extract dispatches on relativePath's extension and returns the extracted
// plain text for data, the raw bytes of the file. An unsupported extension
// is reported as errkind.Unsupported so the preprocessor can forward the
// watcher's wire error kind unchanged.
func Extract(relativePath string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(relativePath)) {
	case ".txt":
		return extractText(data)
	case ".docx":
		return extractDocx(data)
	case ".pdf":
		return extractPDF(data)
	case ".hwp":
		return extractHWP(data)
	default:
		return "", errkind.New(errkind.Unsupported, "extract", fmt.Errorf("unsupported extension %q", filepath.Ext(relativePath)))
	}
}
