package extract

import (
	"context"
	"strings"
)

// PassthroughExtractor handles text, markdown, and code: structure is
// preserved verbatim, split into paragraph blocks on blank lines (markdown
// headings become heading blocks), with no re-flowing of code.
type PassthroughExtractor struct{}

func (PassthroughExtractor) Extract(_ context.Context, in Input) (RawDocument, error) {
	text := string(in.Data)
	if strings.TrimSpace(text) == "" {
		return RawDocument{Blocks: []Block{{Kind: BlockParagraph, Text: ""}}}, nil
	}

	if in.Format == "code" {
		return RawDocument{Blocks: []Block{{Kind: BlockCode, Text: text, Lang: in.Lang}}}, nil
	}

	var blocks []Block
	var para strings.Builder
	flush := func() {
		if s := strings.TrimSpace(para.String()); s != "" {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: s})
		}
		para.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if level, heading, ok := parseHeading(line); ok {
			flush()
			blocks = append(blocks, Block{Kind: BlockHeading, Level: level, Text: heading})
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if para.Len() > 0 {
			para.WriteString("\n")
		}
		para.WriteString(line)
	}
	flush()
	if len(blocks) == 0 {
		blocks = []Block{{Kind: BlockParagraph, Text: ""}}
	}
	return RawDocument{Blocks: blocks}, nil
}

func parseHeading(line string) (level int, text string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(trimmed[n:]), true
}
