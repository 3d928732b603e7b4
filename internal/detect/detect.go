// Package detect classifies an input blob into one of the closed set of
// format tags the rest of the ingestion pipeline dispatches on.
package detect

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"finderskeepers/internal/model"
)

// Result carries the detected tag plus the evidence that produced it, useful
// for logging and for the code-language sub-classifier.
type Result struct {
	Format model.FormatTag
	Lang   string // set when Format == FormatCode
	MIME   string
}

const sniffWindow = 512

var magicTable = []struct {
	prefix []byte
	format model.FormatTag
}{
	{[]byte("%PDF-"), model.FormatPDF},
	{[]byte("PK\x03\x04"), model.FormatArchive}, // zip-family: office docs re-sniffed below
	{[]byte("\x89PNG\r\n\x1a\n"), model.FormatImage},
	{[]byte("\xff\xd8\xff"), model.FormatImage}, // jpeg
	{[]byte("GIF87a"), model.FormatImage},
	{[]byte("GIF89a"), model.FormatImage},
	{[]byte("RIFF"), model.FormatAudio}, // WAV/AVI/WebP all start RIFF; refineZip disambiguates by form type
	{[]byte("\x1aE\xdf\xa3"), model.FormatVideo}, // webm/mkv (EBML)
	{[]byte("ustar"), model.FormatArchive},       // tar (offset 257, checked separately)
}

var extTable = map[string]model.FormatTag{
	".md":       model.FormatMarkdown,
	".markdown": model.FormatMarkdown,
	".txt":      model.FormatText,
	".html":     model.FormatHTML,
	".htm":      model.FormatHTML,
	".pdf":      model.FormatPDF,
	".docx":     model.FormatOffice,
	".xlsx":     model.FormatOffice,
	".pptx":     model.FormatOffice,
	".png":      model.FormatImage,
	".jpg":      model.FormatImage,
	".jpeg":     model.FormatImage,
	".gif":      model.FormatImage,
	".webp":     model.FormatImage,
	".mp3":      model.FormatAudio,
	".wav":      model.FormatAudio,
	".flac":     model.FormatAudio,
	".mp4":      model.FormatVideo,
	".mov":      model.FormatVideo,
	".mkv":      model.FormatVideo,
	".webm":     model.FormatVideo,
	".zip":      model.FormatArchive,
	".tar":      model.FormatArchive,
}

var codeExtLang = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".sh":   "bash",
	".sql":  "sql",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".xml":  "xml",
	".csv":  "csv",
}

// Detect runs the four-step algorithm: magic bytes, MIME sniffing, extension
// table, then a UTF-8/printable-ratio heuristic. `binary-unknown` is returned
// only once all four are exhausted.
func Detect(data []byte, filename string) Result {
	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}

	if r, ok := byMagic(window); ok {
		return refineZip(r, data, filename)
	}

	mtype := mimetype.Detect(data)
	if r, ok := byMIME(mtype.String()); ok {
		return r
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if tag, ok := extTable[ext]; ok {
		if tag == model.FormatCode {
			return Result{Format: model.FormatCode, Lang: codeExtLang[ext], MIME: mtype.String()}
		}
		return Result{Format: tag, MIME: mtype.String()}
	}
	if lang, ok := codeExtLang[ext]; ok {
		return Result{Format: model.FormatCode, Lang: lang, MIME: mtype.String()}
	}

	if looksLikeText(data) {
		if lang, ok := codeExtLang[ext]; ok {
			return Result{Format: model.FormatCode, Lang: lang, MIME: "text/plain"}
		}
		return Result{Format: model.FormatText, MIME: "text/plain"}
	}

	return Result{Format: model.FormatUnknown, MIME: mtype.String()}
}

func byMagic(window []byte) (Result, bool) {
	for _, m := range magicTable {
		if bytes.HasPrefix(window, m.prefix) {
			return Result{Format: m.format}, true
		}
	}
	if len(window) >= 262 && bytes.Equal(window[257:262], []byte("ustar")) {
		return Result{Format: model.FormatArchive}, true
	}
	return Result{}, false
}

// refineZip disambiguates a zip-magic hit into office:* vs plain archive by
// the filename extension (.docx/.xlsx/.pptx), and a RIFF hit into audio,
// video or image by its form type (WAVE, AVI, WEBP).
func refineZip(r Result, data []byte, filename string) Result {
	ext := strings.ToLower(filepath.Ext(filename))
	if r.Format == model.FormatArchive {
		if ext == ".docx" || ext == ".xlsx" || ext == ".pptx" {
			return Result{Format: model.FormatOffice}
		}
	}
	if r.Format == model.FormatAudio && len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) {
		switch string(data[8:12]) {
		case "AVI ":
			return Result{Format: model.FormatVideo}
		case "WEBP":
			return Result{Format: model.FormatImage}
		}
	}
	return r
}

func byMIME(mt string) (Result, bool) {
	switch {
	case strings.HasPrefix(mt, "image/"):
		return Result{Format: model.FormatImage, MIME: mt}, true
	case strings.HasPrefix(mt, "audio/"):
		return Result{Format: model.FormatAudio, MIME: mt}, true
	case strings.HasPrefix(mt, "video/"):
		return Result{Format: model.FormatVideo, MIME: mt}, true
	case mt == "application/pdf":
		return Result{Format: model.FormatPDF, MIME: mt}, true
	case mt == "application/zip":
		return Result{}, false // too ambiguous; let extension/magic disambiguate office vs archive
	case mt == "text/html":
		return Result{Format: model.FormatHTML, MIME: mt}, true
	case strings.HasPrefix(mt, "text/"):
		return Result{}, false // fall through to extension/heuristic for code sub-classification
	}
	return Result{}, false
}

// looksLikeText applies the UTF-8 + printable-ratio heuristic: valid UTF-8
// and at least 95% printable characters (including common whitespace).
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if !utf8.Valid(sample) {
		return false
	}
	printable := 0
	total := 0
	for _, r := range string(sample) {
		total++
		if r == '\n' || r == '\t' || r == '\r' || (r >= 0x20 && r != 0x7f) {
			printable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(printable)/float64(total) >= 0.95
}
