// Package chunker splits extracted page text into overlapping chunks sized
// for embedding.
//
// All offsets are rune offsets into the text produced by Join. Each chunk
// owns a core [Core, End); cores are contiguous and together cover the
// joined text exactly. The span [Start, Core) repeats the tail of the
// previous chunk on the same page. No chunk text is blank: a core that
// would hold only whitespace is folded into the previous core, so End may
// reach past the end of Text.
package chunker

import (
	"strings"
	"unicode"

	"intellixdoc/internal/pkg/pdfextract"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
	DefaultTolerance = 200

	pageSeparator = "\n\n"
)

type Chunk struct {
	Ordinal int
	Page    int
	Text    string
	Start   int
	Core    int
	End     int
}

// PageSpan locates a page's trimmed text inside the joined text.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters, overlap included.
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithTolerance sets how far before the size limit a natural boundary is
// searched for before falling back to a hard cut.
func WithTolerance(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.tolerance = n
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap > c.size/2 {
		c.overlap = c.size / 2
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.size }
func (c *Chunker) Overlap() int   { return c.overlap }

// Join builds the document text: trimmed non-blank pages separated by a
// blank line. Blank pages contribute nothing.
func Join(pages []pdfextract.Page) (string, []PageSpan) {
	var b strings.Builder
	var spans []PageSpan
	offset := 0
	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if len(spans) > 0 {
			b.WriteString(pageSeparator)
			offset += len([]rune(pageSeparator))
		}
		n := len([]rune(text))
		spans = append(spans, PageSpan{Page: p.Number, Start: offset, End: offset + n})
		b.WriteString(text)
		offset += n
	}
	return b.String(), spans
}

// Split chunks the pages. Page boundaries are always cut points, so every
// chunk belongs to exactly one page; the blank line separating two pages
// opens the first chunk of the later one.
func (c *Chunker) Split(pages []pdfextract.Page) []Chunk {
	text, spans := Join(pages)
	if len(spans) == 0 {
		return nil
	}
	runes := []rune(text)

	var chunks []Chunk
	regionStart := 0
	for _, span := range spans {
		chunks = c.splitRegion(chunks, runes, span, regionStart)
		regionStart = span.End
	}
	return chunks
}

// splitRegion chunks [regionStart, span.End). The region opens with the
// separator before the page, if any, so the first core of a page carries it.
func (c *Chunker) splitRegion(out []Chunk, runes []rune, span PageSpan, regionStart int) []Chunk {
	pos := regionStart
	for pos < span.End {
		start := pos
		if pos > span.Start && c.overlap > 0 {
			start = max(span.Start, pos-c.overlap)
			for start < pos && start > span.Start && !unicode.IsSpace(runes[start-1]) {
				start++
			}
		}

		budget := c.size - (pos - start)
		end := span.End
		if limit := pos + budget; limit < span.End {
			end = c.cutPoint(runes, max(pos, span.Start)+1, limit)
		}

		// A whitespace run longer than the overlap would become a chunk with
		// nothing to embed. The previous core absorbs it instead.
		if n := len(out); n > 0 && out[n-1].Page == span.Page && isBlank(runes[start:end]) {
			out[n-1].End = end
			pos = end
			continue
		}

		out = append(out, Chunk{
			Ordinal: len(out),
			Page:    span.Page,
			Text:    string(runes[start:end]),
			Start:   start,
			Core:    pos,
			End:     end,
		})
		pos = end
	}
	return out
}

// cutPoint picks where a core ends, preferring a paragraph break, then a
// sentence end, then any whitespace, within the tolerance window before
// limit. The result is never below floor.
func (c *Chunker) cutPoint(runes []rune, floor, limit int) int {
	lo := max(floor, limit-c.tolerance)

	for i := limit; i >= lo; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := limit; i >= lo; i-- {
		if i >= 2 && unicode.IsSpace(runes[i-1]) && isSentenceEnd(runes[i-2]) {
			return i
		}
	}
	for i := limit; i >= lo; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return max(limit, floor)
}

func isBlank(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
