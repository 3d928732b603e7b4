package extract

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"regexp"
	"strings"
)

// OCREngine is the narrow interface a concrete OCR backend implements. No OCR
// third-party dependency exists anywhere in the example pack, so the shipped
// implementation is NoopOCR, a stub satisfying the interface.
type OCREngine interface {
	// Recognize returns extracted text and a confidence in [0,1].
	Recognize(ctx context.Context, image []byte) (text string, confidence float64, err error)
}

// NoopOCR always reports no recognized text, matching the
// text_recognized=false boundary behavior when no OCR backend is wired.
type NoopOCR struct{}

func (NoopOCR) Recognize(context.Context, []byte) (string, float64, error) { return "", 0, nil }

const ocrConfidenceThreshold = 0.5

// PDFExtractor performs minimal embedded-text extraction per page (decoding
// FlateDecode content streams and pulling operands of the Tj/TJ text-showing
// operators), falling back to OCR on pages with ≤5 characters of extracted
// text per 100cm^2 (approximated here as "page yielded under minPageChars").
type PDFExtractor struct {
	ocr OCREngine
}

func NewPDFExtractor(ocr OCREngine) *PDFExtractor {
	if ocr == nil {
		ocr = NoopOCR{}
	}
	return &PDFExtractor{ocr: ocr}
}

const minPageChars = 5

var streamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
var textShowRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
var textArrayRe = regexp.MustCompile(`\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
var arrayStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

func (e *PDFExtractor) Extract(ctx context.Context, in Input) (RawDocument, error) {
	if len(in.Data) == 0 {
		return RawDocument{}, extractionFailed("empty_pdf")
	}

	streams := streamRe.FindAllSubmatch(in.Data, -1)
	if len(streams) == 0 {
		return RawDocument{}, extractionFailed("no_content_streams")
	}

	var blocks []Block
	for i, m := range streams {
		content := decodeStream(m[1])
		text := extractShownText(content)
		if len(strings.TrimSpace(text)) < minPageChars {
			if ocrText, conf, err := e.ocr.Recognize(ctx, in.Data); err == nil && conf >= ocrConfidenceThreshold && ocrText != "" {
				text = ocrText
			}
		}
		text = strings.TrimSpace(text)
		blocks = append(blocks, Block{
			Kind:     BlockParagraph,
			Text:     text,
			Metadata: map[string]string{"page": itoa(i + 1)},
		})
	}
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockParagraph, Text: ""}}
	}
	return RawDocument{Blocks: blocks}, nil
}

func decodeStream(raw []byte) []byte {
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw // not Flate-encoded (or already plaintext); best effort
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil || len(out) == 0 {
		return raw
	}
	return out
}

func extractShownText(content []byte) string {
	var sb strings.Builder
	for _, m := range textShowRe.FindAllSubmatch(content, -1) {
		sb.WriteString(unescapePDFString(m[1]))
		sb.WriteString(" ")
	}
	for _, m := range textArrayRe.FindAllSubmatch(content, -1) {
		for _, s := range arrayStringRe.FindAllSubmatch(m[1], -1) {
			sb.WriteString(unescapePDFString(s[1]))
		}
		sb.WriteString(" ")
	}
	return sb.String()
}

func unescapePDFString(b []byte) string {
	s := string(b)
	replacer := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "")
	return replacer.Replace(s)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
