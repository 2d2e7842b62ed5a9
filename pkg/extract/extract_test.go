package extract

import (
	"testing"

	"docindex/pkg/errkind"
)

func TestExtract_UnsupportedExtension(t *testing.T) {
	_, err := Extract("notes/a.md", []byte("hello"))
	if !errkind.Is(err, errkind.Unsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestExtractText_ValidUTF8(t *testing.T) {
	text, err := extractText([]byte("hello, world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello, world" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractText_FallsBackToCP949(t *testing.T) {
	// CP949 encoding of "한글" (hangeul, meaning "Korean script").
	cp949Bytes := []byte{0xC7, 0xD1, 0xB1, 0xDB}
	text, err := extractText(cp949Bytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "한글" {
		t.Fatalf("expected decoded hangeul, got %q", text)
	}
}

func TestParagraphsFromXML_ConcatenatesRunsWithinParagraph(t *testing.T) {
	xml := `<w:body>` +
		`<w:p><w:r><w:t>Hello, </w:t></w:r><w:r><w:t>world.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>` +
		`</w:body>`

	paragraphs := paragraphsFromXML(xml)
	if len(paragraphs) != 2 {
		t.Fatalf("expected 2 paragraphs, got %d: %v", len(paragraphs), paragraphs)
	}
	if paragraphs[0] != "Hello, world." {
		t.Fatalf("unexpected first paragraph: %q", paragraphs[0])
	}
	if paragraphs[1] != "Second paragraph." {
		t.Fatalf("unexpected second paragraph: %q", paragraphs[1])
	}
}

func TestParagraphsFromXML_UnescapesEntities(t *testing.T) {
	xml := `<w:p><w:r><w:t>Q&amp;A &lt;draft&gt;</w:t></w:r></w:p>`
	paragraphs := paragraphsFromXML(xml)
	if len(paragraphs) != 1 || paragraphs[0] != "Q&A <draft>" {
		t.Fatalf("unexpected unescaped paragraph: %v", paragraphs)
	}
}

func TestCompressWhitespace_StripsControlCharsAndCollapsesRuns(t *testing.T) {
	input := "line one   here\x01\x02\n\n\n\nline two"
	got := compressWhitespace(input)
	if got != "line one here\n\nline two" {
		t.Fatalf("unexpected compressed text: %q", got)
	}
}

func TestDecodeParaText_SkipsControlCharPayload(t *testing.T) {
	// "Hi" (2 units) + control char 0x01 with a 7-unit payload + "Bye" (3 units).
	units := []uint16{'H', 'i', 0x01, 0, 0, 0, 0, 0, 0, 0, 'B', 'y', 'e'}
	record := make([]byte, len(units)*2)
	for i, u := range units {
		record[i*2] = byte(u)
		record[i*2+1] = byte(u >> 8)
	}
	got := decodeParaText(record)
	if got != "HiBye" {
		t.Fatalf("expected control payload to be skipped, got %q", got)
	}
}
