package extract

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"

	"docindex/pkg/errkind"
)

// extractText decodes data as UTF-8; on decode failure it retries with
// CP949, the Windows-Korean legacy encoding the source system's files were
// authored under, per the spec's ".txt: decode as UTF-8; on decode failure,
// retry with a locale-specific legacy encoding."
func extractText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, err := korean.CP949.NewDecoder().Bytes(data)
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_text", fmt.Errorf("decode as utf-8 or cp949: %w", err))
	}
	return string(decoded), nil
}
