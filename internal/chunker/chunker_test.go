package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellixdoc/internal/pkg/pdfextract"
)

func pages(texts ...string) []pdfextract.Page {
	out := make([]pdfextract.Page, len(texts))
	for i, t := range texts {
		out[i] = pdfextract.Page{Number: i + 1, Text: t}
	}
	return out
}

func cores(text string, chunks []Chunk) string {
	runes := []rune(text)
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(string(runes[c.Core:c.End]))
	}
	return b.String()
}

func longText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog number ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString(". ")
		if i%9 == 8 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestSplitCoversTextExactly(t *testing.T) {
	inputs := [][]pdfextract.Page{
		pages(longText(80)),
		pages(longText(30), "", longText(55), "   \n", "short tail"),
		pages(strings.Repeat("a", 2500)),
		pages("Ünïcödé ✓ " + strings.Repeat("日本語のテキスト。", 300)),
	}
	for _, in := range inputs {
		c := New(WithChunkSize(300), WithOverlap(60), WithTolerance(80))
		text, _ := Join(in)
		chunks := c.Split(in)

		require.NotEmpty(t, chunks)
		assert.Equal(t, text, cores(text, chunks))
		assert.Equal(t, 0, chunks[0].Core)
		assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].End)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Ordinal)
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 300)
			assert.Less(t, ch.Core, ch.End)
			if i > 0 {
				assert.Equal(t, chunks[i-1].End, ch.Core)
			}
		}
	}
}

func TestSplitFoldsWhitespaceRuns(t *testing.T) {
	in := pages("Intro line about apples." + strings.Repeat(" \n", 200) + "Closing line about pears.")
	text, _ := Join(in)
	chunks := New(WithChunkSize(120), WithOverlap(30), WithTolerance(40)).Split(in)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, text, cores(text, chunks))
	assert.Equal(t, utf8.RuneCountInString(text), chunks[len(chunks)-1].End)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.NotEmpty(t, strings.TrimSpace(ch.Text), "chunk %d", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 120)
		if i > 0 {
			assert.Equal(t, chunks[i-1].End, ch.Core)
		}
	}
	assert.Contains(t, chunks[0].Text, "apples")
	assert.Contains(t, chunks[len(chunks)-1].Text, "pears")
}

func TestSplitIsDeterministic(t *testing.T) {
	in := pages(longText(40), longText(20))
	c := New(WithChunkSize(250), WithOverlap(50))

	assert.Equal(t, c.Split(in), c.Split(in))
}

func TestSplitSkipsBlankPages(t *testing.T) {
	c := New()
	assert.Empty(t, c.Split(pages("", "  \n\t ")))

	chunks := c.Split(pages("", "only page two has words", ""))
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].Page)
	assert.Equal(t, "only page two has words", chunks[0].Text)
}

func TestSplitNeverCrossesPages(t *testing.T) {
	in := pages("Page one talks about apples.", "Page two talks about pears.")
	chunks := New().Split(in)

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 2, chunks[1].Page)
	assert.NotContains(t, chunks[1].Text, "apples")
	assert.Equal(t, chunks[1].Core, chunks[1].Start, "overlap must not reach into the previous page")
}

func TestSplitPrefersParagraphThenSentence(t *testing.T) {
	para := strings.Repeat("word ", 30) + "\n\n" + strings.Repeat("next ", 30)
	chunks := New(WithChunkSize(200), WithOverlap(0), WithTolerance(100)).Split(pages(para))
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))

	sent := strings.Repeat("alpha beta. ", 30)
	chunks = New(WithChunkSize(100), WithOverlap(0), WithTolerance(50)).Split(pages(sent))
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, ". "))
}

func TestSplitHardCutsWithoutBoundaries(t *testing.T) {
	chunks := New(WithChunkSize(100), WithOverlap(0), WithTolerance(10)).Split(pages(strings.Repeat("z", 250)))

	require.Len(t, chunks, 3)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0].Text))
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[1].Text))
	assert.Equal(t, 50, utf8.RuneCountInString(chunks[2].Text))
}

func TestOverlapRepeatsPreviousTail(t *testing.T) {
	chunks := New(WithChunkSize(120), WithOverlap(40), WithTolerance(40)).Split(pages(longText(20)))
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		overlap := []rune(cur.Text)[:cur.Core-cur.Start]
		assert.True(t, strings.HasSuffix(prev.Text, string(overlap)))
		assert.LessOrEqual(t, len(overlap), 40)
	}
}

func TestOverlapClampedToHalfSize(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(500))
	assert.Equal(t, 50, c.Overlap())
	assert.Equal(t, 100, c.ChunkSize())
}
