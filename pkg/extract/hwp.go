package extract

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf16"

	"docindex/pkg/errkind"
)

const hwpParaTextTag = 67 // HWPTAG_BEGIN(0x10) + 51, per the HWP5 body-text record catalogue.

// extractHWP parses the structured storage, decompresses BodyText sections
// when the file header's compression flag is set, walks each section's
// PARA_TEXT records, and returns the decoded text with control characters
// stripped and whitespace compressed, per the spec's ".hwp" contract.
func extractHWP(data []byte) (string, error) {
	cfb, err := openCFB(data)
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_hwp", fmt.Errorf("open container: %w", err))
	}

	header, err := cfb.Stream("FileHeader")
	if err != nil {
		return "", errkind.New(errkind.ExtractionFailed, "extract_hwp", fmt.Errorf("read FileHeader: %w", err))
	}
	compressed := len(header) > 36 && header[36]&0x01 != 0

	var sb strings.Builder
	for n := 0; ; n++ {
		section, err := cfb.Stream(fmt.Sprintf("BodyText/Section%d", n))
		if err != nil {
			break
		}
		if compressed {
			section, err = inflateRaw(section)
			if err != nil {
				continue
			}
		}
		extractSectionText(section, &sb)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return "", errkind.New(errkind.ExtractionFailed, "extract_hwp", fmt.Errorf("no body text sections found"))
	}

	return compressWhitespace(sb.String()), nil
}

func inflateRaw(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}

// extractSectionText walks a decompressed BodyText section's record
// stream, appending decoded text from PARA_TEXT records.
func extractSectionText(section []byte, sb *strings.Builder) {
	pos := 0
	for pos+4 <= len(section) {
		header := binary.LittleEndian.Uint32(section[pos : pos+4])
		tagID := header & 0x3FF
		size := (header >> 20) & 0xFFF
		pos += 4

		if size == 0xFFF {
			if pos+4 > len(section) {
				break
			}
			size = binary.LittleEndian.Uint32(section[pos : pos+4])
			pos += 4
		}

		if pos+int(size) > len(section) {
			break
		}
		record := section[pos : pos+int(size)]
		pos += int(size)

		if tagID == hwpParaTextTag {
			sb.WriteString(decodeParaText(record))
			sb.WriteString(" ")
		}
	}
}

// decodeParaText decodes a PARA_TEXT record's UTF-16LE char codes, skipping
// control characters. Most control codes below 0x20 introduce an inline
// object (field, table anchor, etc.) occupying 8 WCHARs total including
// the control char itself; paragraph/line breaks (0x0A, 0x0D) become a
// space so words across lines don't run together.
func decodeParaText(record []byte) string {
	units := make([]uint16, 0, len(record)/2)
	for i := 0; i+2 <= len(record); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(record[i:i+2]))
	}

	var out []uint16
	for i := 0; i < len(units); i++ {
		ch := units[i]
		if ch >= 0x20 {
			out = append(out, ch)
			continue
		}
		if ch == 0x0A || ch == 0x0D {
			out = append(out, ' ')
			continue
		}
		i += 7 // skip the extended-character payload
	}

	return string(utf16.Decode(out))
}

var controlCharRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
var whitespaceRunRe = regexp.MustCompile(`[ \t]+`)
var blankLineRunRe = regexp.MustCompile(`\n{3,}`)

func compressWhitespace(text string) string {
	text = controlCharRe.ReplaceAllString(text, "")
	text = whitespaceRunRe.ReplaceAllString(text, " ")
	text = blankLineRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
