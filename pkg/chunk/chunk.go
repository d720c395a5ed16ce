// Package chunk splits extracted document text into retrieval-sized
// pieces along paragraph and sentence boundaries. Chunking is
// deterministic: the same text and options always produce the same
// chunks, which keeps chunk point ids stable across re-ingestion.
package chunk

import (
	"regexp"
	"strings"
)

const (
	defaultMaxTokens = 512
)

// Chunk is one retrieval unit of a document.
type Chunk struct {
	Text       string
	TokenCount int
	Index      int
	Metadata   map[string]string
}

// Options configures the chunker.
type Options struct {
	MaxTokens         int          // Upper bound per chunk (default: 512)
	OverlapTokens     int          // Approximate sentence-tail overlap between chunks (default: 0)
	PreserveStructure bool         // Start chunks at headings and carry the heading text
	Counter           TokenCounter // Token counter (default: HeuristicCounter)
}

// Chunker splits text according to fixed options.
type Chunker struct {
	opts Options
}

// New creates a chunker. Zero or negative option values fall back to
// defaults, and the overlap is clamped to half the chunk budget.
func New(opts Options) *Chunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens > opts.MaxTokens/2 {
		opts.OverlapTokens = opts.MaxTokens / 2
	}
	if opts.Counter == nil {
		opts.Counter = HeuristicCounter{}
	}
	return &Chunker{opts: opts}
}

// Chunk splits the text into ordered chunks of at most MaxTokens
// tokens each. Paragraphs stay whole when they fit, oversized ones
// break at sentence boundaries, and words are never split.
func (c *Chunker) Chunk(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p := &packer{opts: c.opts}
	for _, b := range parseBlocks(text) {
		if b.heading && c.opts.PreserveStructure {
			p.startSection(b.text)
			continue
		}
		p.addBlock(b.text)
	}
	p.flush()
	return p.chunks
}

var (
	headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	blankLines  = regexp.MustCompile(`\n\s*\n`)
)

type block struct {
	heading bool
	text    string
}

// parseBlocks splits text into heading and paragraph blocks. Headings
// are recognised on any line, not only after blank lines, because the
// extractor emits "## Seite N" markers mid-stream.
func parseBlocks(text string) []block {
	var blocks []block

	var lines []string
	flush := func() {
		para := strings.TrimSpace(strings.Join(lines, "\n"))
		if para != "" {
			blocks = append(blocks, block{text: para})
		}
		lines = lines[:0]
	}

	for _, para := range blankLines.Split(text, -1) {
		for _, line := range strings.Split(para, "\n") {
			if headingLine.MatchString(strings.TrimSpace(line)) {
				flush()
				blocks = append(blocks, block{heading: true, text: strings.TrimSpace(line)})
				continue
			}
			lines = append(lines, line)
		}
		flush()
	}
	return blocks
}

// piece is a fragment of the chunk under construction together with
// the separator that precedes it when the chunk is assembled.
type piece struct {
	text string
	sep  string
}

type packer struct {
	opts Options

	chunks []Chunk
	pieces []piece
	tokens int

	section    string   // current heading text, kept as chunk metadata
	headerOnly bool     // the open chunk holds nothing but heading lines
	overlap    []string // tail sentences of the last flushed chunk
}

func (p *packer) push(text, sep string, tokens int) {
	p.pieces = append(p.pieces, piece{text: text, sep: sep})
	p.tokens += tokens
}

// startSection closes the open chunk and begins a new one led by the
// heading line. Overlap never crosses a section boundary.
func (p *packer) startSection(heading string) {
	if !p.headerOnly {
		p.flush()
	}
	p.overlap = nil
	if m := headingLine.FindStringSubmatch(heading); m != nil {
		p.section = m[2]
	}
	p.push(heading, "\n\n", p.opts.Counter.Count(heading))
	p.headerOnly = true
}

func (p *packer) addBlock(text string) {
	headerOnly := p.headerOnly
	p.headerOnly = false

	tokens := p.opts.Counter.Count(text)
	if tokens <= p.opts.MaxTokens {
		if p.tokens+tokens <= p.opts.MaxTokens {
			p.push(text, "\n\n", tokens)
			return
		}
		// A heading alone must not become its own chunk, so the
		// section's first block is packed sentence by sentence
		// instead of being pushed whole into the next chunk.
		if !headerOnly {
			p.breakChunk(tokens)
			p.push(text, "\n\n", tokens)
			return
		}
	}

	p.packFragments(text)
}

// packFragments fills chunks sentence by sentence (line by line for
// list blocks) when a block cannot be placed whole.
func (p *packer) packFragments(text string) {
	fragments, joiner := splitSentences(text), " "
	if isListBlock(text) {
		fragments, joiner = splitLines(text), "\n"
	}

	sep := "\n\n"
	for _, frag := range fragments {
		tokens := p.opts.Counter.Count(frag)
		if tokens > p.opts.MaxTokens {
			sep = p.packWords(frag, sep, joiner)
			continue
		}
		if p.tokens+tokens > p.opts.MaxTokens && p.tokens > 0 {
			p.breakChunk(tokens)
			sep = joiner
		}
		p.push(frag, sep, tokens)
		sep = joiner
	}
}

// packWords splits a single oversized sentence on word boundaries.
func (p *packer) packWords(sentence, sep, joiner string) string {
	var group []string
	groupTokens := 0

	emit := func() {
		if len(group) == 0 {
			return
		}
		text := strings.Join(group, " ")
		if p.tokens+groupTokens > p.opts.MaxTokens && p.tokens > 0 {
			p.breakChunk(groupTokens)
			sep = joiner
		}
		p.push(text, sep, groupTokens)
		sep = joiner
		group, groupTokens = nil, 0
	}

	for _, word := range strings.Fields(sentence) {
		tokens := p.opts.Counter.Count(word)
		if groupTokens+tokens > p.opts.MaxTokens && len(group) > 0 {
			emit()
		}
		group = append(group, word)
		groupTokens += tokens
	}
	emit()
	return sep
}

// breakChunk flushes the open chunk and seeds the next one with as
// much of the previous chunk's sentence tail as leaves room for the
// incoming fragment.
func (p *packer) breakChunk(incoming int) {
	p.flush()

	budget := p.opts.MaxTokens - incoming
	keep := len(p.overlap)
	total := 0
	for keep > 0 {
		tokens := p.opts.Counter.Count(p.overlap[keep-1])
		if total+tokens > budget {
			break
		}
		total += tokens
		keep--
	}

	sep := ""
	for _, s := range p.overlap[keep:] {
		p.push(s, sep, p.opts.Counter.Count(s))
		sep = " "
	}
}

func (p *packer) flush() {
	p.headerOnly = false
	if len(p.pieces) == 0 {
		return
	}

	var sb strings.Builder
	for i, pc := range p.pieces {
		if i > 0 {
			sb.WriteString(pc.sep)
		}
		sb.WriteString(pc.text)
	}
	p.pieces = nil
	p.tokens = 0

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return
	}

	chunk := Chunk{
		Text:       text,
		TokenCount: p.opts.Counter.Count(text),
		Index:      len(p.chunks),
	}
	if p.section != "" {
		chunk.Metadata = map[string]string{"section": p.section}
	}
	p.chunks = append(p.chunks, chunk)
	p.overlap = tailSentences(text, p.opts.Counter, p.opts.OverlapTokens)
}

// tailSentences collects sentences from the end of the text until the
// overlap budget is met. A single-sentence chunk yields no overlap,
// which keeps a short chunk from being duplicated wholesale into its
// successor.
func tailSentences(text string, counter TokenCounter, budget int) []string {
	if budget <= 0 {
		return nil
	}
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return nil
	}

	i := len(sentences)
	total := 0
	for i > 1 && total < budget {
		i--
		total += counter.Count(sentences[i])
	}
	return sentences[i:]
}

// splitLines returns the non-empty trimmed lines of a block.
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
