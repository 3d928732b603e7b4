package chunker

import (
	"strings"
	"testing"

	"finderskeepers/internal/config"
	"finderskeepers/internal/extract"
)

func testChunker() Chunker { return New(config.ChunkerConfig{}) }

func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestChunk_SmallDocumentIsOneChunk(t *testing.T) {
	raw := extract.RawDocument{Blocks: []extract.Block{
		{Kind: extract.BlockHeading, Level: 1, Text: "Intro"},
		{Kind: extract.BlockParagraph, Text: words(50)},
	}}
	chunks := testChunker().Chunk(raw, "doc-1", "proj")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].DocumentID != "doc-1" || chunks[0].Project != "proj" {
		t.Fatalf("unexpected chunk scoping: %+v", chunks[0])
	}
}

func TestChunk_HeadingsNeverCoalesce(t *testing.T) {
	raw := extract.RawDocument{Blocks: []extract.Block{
		{Kind: extract.BlockHeading, Level: 1, Text: "A"},
		{Kind: extract.BlockParagraph, Text: words(4000)},
		{Kind: extract.BlockHeading, Level: 1, Text: "B"},
		{Kind: extract.BlockParagraph, Text: words(10)},
	}}
	chunks := testChunker().Chunk(raw, "doc-2", "proj")
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks across headings, got %d", len(chunks))
	}
	for _, c := range chunks {
		if strings.Contains(c.Text, "# A") && strings.Contains(c.Text, "# B") {
			t.Fatalf("chunk coalesced across heading boundary: %q", c.Text[:40])
		}
	}
}

func TestChunk_LargeParagraphIsWindowSplit(t *testing.T) {
	raw := extract.RawDocument{Blocks: []extract.Block{
		{Kind: extract.BlockParagraph, Text: words(6000)},
	}}
	chunks := testChunker().Chunk(raw, "doc-3", "proj")
	if len(chunks) < 2 {
		t.Fatalf("expected the oversized paragraph to be split, got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if c.TokenLen > 1200 {
			t.Fatalf("chunk exceeds hard max: %d tokens", c.TokenLen)
		}
	}
}

func TestChunk_IDsAreDeterministic(t *testing.T) {
	raw := extract.RawDocument{Blocks: []extract.Block{
		{Kind: extract.BlockParagraph, Text: words(20)},
	}}
	a := testChunker().Chunk(raw, "doc-4", "proj")
	b := testChunker().Chunk(raw, "doc-4", "proj")
	if a[0].ID != b[0].ID {
		t.Fatalf("expected stable chunk id, got %s vs %s", a[0].ID, b[0].ID)
	}
}

func TestChunk_CodeBlockSplitsOnDeclarations(t *testing.T) {
	code := "func A() {\n" + words(500) + "\n}\n\nfunc B() {\n" + words(500) + "\n}\n"
	raw := extract.RawDocument{Blocks: []extract.Block{
		{Kind: extract.BlockCode, Text: code, Lang: "go"},
	}}
	chunks := testChunker().Chunk(raw, "doc-5", "proj")
	if len(chunks) != 2 {
		t.Fatalf("expected one chunk per declaration, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "func A") || !strings.HasPrefix(chunks[1].Text, "func B") {
		t.Fatalf("expected chunks to start at func A and func B, got %q / %q", chunks[0].Text[:10], chunks[1].Text[:10])
	}
}
