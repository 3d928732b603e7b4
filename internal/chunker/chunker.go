// Package chunker splits a RawDocument's ordered blocks into Chunks with
// deterministic ids, generalizing internal/rag/chunker.SimpleChunker's
// fixed/markdown/code heuristics into one heading-aware policy.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"finderskeepers/internal/config"
	"finderskeepers/internal/extract"
	"finderskeepers/internal/model"
	"finderskeepers/internal/util"
)

// Chunker turns a document's extracted blocks into persistable Chunks
// against a target/max/min token policy.
type Chunker struct {
	target int
	max    int
	min    int
}

// New builds a Chunker from config, defaulting to 800/1200/200 tokens (the
// policy named in the spec) when a field is left at its zero value.
func New(cfg config.ChunkerConfig) Chunker {
	c := Chunker{target: cfg.TargetTokens, max: cfg.MaxTokens, min: cfg.MinTokens}
	if c.target <= 0 {
		c.target = 800
	}
	if c.max <= 0 {
		c.max = 1200
	}
	if c.min <= 0 {
		c.min = 200
	}
	return c
}

// Chunk splits raw into ordered Chunks scoped to documentID/project. Chunk
// ids are UUID v5, deterministic in (documentID, ordinal) so re-chunking an
// unchanged document reproduces identical ids.
func (c Chunker) Chunk(raw extract.RawDocument, documentID, project string) []model.Chunk {
	groups := groupByHeading(raw.Blocks)

	var out []model.Chunk
	ordinal := 0
	for _, g := range groups {
		for _, text := range c.splitGroup(g) {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			out = append(out, model.Chunk{
				ID:         chunkID(documentID, ordinal),
				DocumentID: documentID,
				Project:    project,
				Index:      ordinal,
				Text:       text,
				TokenLen:   estimateTokens(text),
			})
			ordinal++
		}
	}
	if len(out) == 0 {
		out = append(out, model.Chunk{
			ID:         chunkID(documentID, 0),
			DocumentID: documentID,
			Project:    project,
			Index:      0,
			Text:       "",
			TokenLen:   0,
			Empty:      true,
		})
	}
	return out
}

func chunkID(documentID string, ordinal int) string {
	name := fmt.Sprintf("%s:%d", documentID, ordinal)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// estimateTokens uses a word/punctuation count rather than a flat
// chars-per-token ratio, grounded on internal/util.CountTokens.
func estimateTokens(s string) int {
	return util.CountTokens(s)
}

// blockGroup is a run of blocks under the same heading ancestry; blocks
// across headings never coalesce into the same group.
type blockGroup struct {
	heading string
	blocks  []extract.Block
	isCode  bool
}

func groupByHeading(blocks []extract.Block) []blockGroup {
	var groups []blockGroup
	var cur blockGroup
	curHeading := ""
	flush := func() {
		if len(cur.blocks) > 0 {
			groups = append(groups, cur)
		}
		cur = blockGroup{heading: curHeading}
	}
	for _, b := range blocks {
		if b.Kind == extract.BlockHeading {
			flush()
			curHeading = b.Text
			cur.heading = curHeading
			cur.blocks = append(cur.blocks, b)
			continue
		}
		if b.Kind == extract.BlockCode {
			flush()
			cur.isCode = true
			cur.blocks = append(cur.blocks, b)
			flush()
			cur.isCode = false
			continue
		}
		cur.blocks = append(cur.blocks, b)
	}
	flush()
	return groups
}

// splitGroup renders one heading group's blocks to text, then splits it on
// paragraph, then sentence, then fixed-window boundaries until every piece
// is within [min, max] (best effort: a single over-long paragraph or
// sentence is window-split regardless of the soft minimum).
func (c Chunker) splitGroup(g blockGroup) []string {
	if g.isCode {
		return c.splitCode(g.blocks)
	}

	joined := renderBlocks(g.blocks)
	if estimateTokens(joined) <= c.max {
		return []string{joined}
	}

	paras := strings.Split(joined, "\n\n")
	return c.coalesce(paras, splitSentences)
}

func renderBlocks(blocks []extract.Block) string {
	var parts []string
	for _, b := range blocks {
		switch b.Kind {
		case extract.BlockHeading:
			level := b.Level
			if level < 1 {
				level = 1
			}
			parts = append(parts, strings.Repeat("#", level)+" "+b.Text)
		default:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

var sentenceBoundaryRe = regexp.MustCompile(`(?s)([.!?])\s+`)

func splitSentences(s string) []string {
	parts := sentenceBoundaryRe.Split(s, -1)
	matches := sentenceBoundaryRe.FindAllStringSubmatch(s, -1)
	var out []string
	for i, p := range parts {
		if i < len(matches) {
			p += matches[i][1]
		}
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}

// coalesce packs units (paragraphs or sentences) into chunks near the
// target token count, splitting any unit too large on its own via splitFn
// (sentence splitting, then fixed windows as a last resort).
func (c Chunker) coalesce(units []string, splitFn func(string) []string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
	}
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if estimateTokens(u) > c.max {
			flush()
			if splitFn != nil {
				out = append(out, c.coalesce(splitFn(u), nil)...)
			} else {
				out = append(out, c.fixedWindow(u)...)
			}
			continue
		}
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(u) > c.max {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(u)
		if estimateTokens(buf.String()) >= c.target {
			flush()
		}
	}
	flush()
	return c.mergeShortTail(out)
}

// mergeShortTail folds a final chunk under the soft minimum into its
// predecessor rather than shipping an undersized trailing chunk, unless it
// is the only chunk.
func (c Chunker) mergeShortTail(chunks []string) []string {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if estimateTokens(last) >= c.min {
		return chunks
	}
	merged := chunks[:len(chunks)-2]
	combined := chunks[len(chunks)-2] + "\n\n" + last
	return append(merged, combined)
}

// fixedWindowCharsPerToken sizes the byte window fixedWindow carves text
// into; estimateTokens itself is word-based, but slicing raw bytes needs a
// rough chars-per-token ratio to pick a window length.
const fixedWindowCharsPerToken = 4

func (c Chunker) fixedWindow(s string) []string {
	tgt := c.target * fixedWindowCharsPerToken
	var out []string
	start := 0
	for start < len(s) {
		end := start + tgt
		if end > len(s) {
			end = len(s)
		} else if i := strings.LastIndex(s[start:end], " "); i > tgt/2 {
			end = start + i
		}
		piece := strings.TrimSpace(s[start:end])
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(s) {
			break
		}
		start = end
	}
	return out
}

// codeDeclRe mirrors rag/chunker's codeSplitRe declaration-boundary
// heuristic, extended with brace tracking so a chunk is never cut inside an
// unbalanced block under the hard max.
var codeDeclRe = regexp.MustCompile(`(?m)^\s*(func |class |def |#[#\s]|//)`)

func (c Chunker) splitCode(blocks []extract.Block) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, c.splitCodeText(b.Text)...)
	}
	return out
}

func (c Chunker) splitCodeText(text string) []string {
	lines := strings.Split(text, "\n")
	var out []string
	var buf strings.Builder
	depth := 0
	for i, ln := range lines {
		isDecl := codeDeclRe.MatchString(ln)
		if isDecl && depth == 0 && buf.Len() > 0 && estimateTokens(buf.String()) >= c.min {
			out = append(out, strings.TrimRight(buf.String(), "\n"))
			buf.Reset()
		}
		buf.WriteString(ln)
		if i < len(lines)-1 {
			buf.WriteString("\n")
		}
		depth += strings.Count(ln, "{") - strings.Count(ln, "}")
		if depth < 0 {
			depth = 0
		}
		if depth == 0 && estimateTokens(buf.String()) >= c.max {
			out = append(out, strings.TrimRight(buf.String(), "\n"))
			buf.Reset()
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, s)
	}
	return out
}
