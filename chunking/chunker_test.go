package chunking

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/counselor/corpus"
)

func collect(c *Chunker, doc corpus.Document) []corpus.Chunk {
	var out []corpus.Chunk
	for chunk := range c.Chunks(doc) {
		out = append(out, chunk)
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{10, 10},
		{10, 11},
		{0, 0},
		{10, 0},
		{-5, 2},
	}
	for _, tc := range cases {
		c, err := New(tc.size, tc.overlap)
		assert.Nil(t, c)

		var invalid *InvalidChunkConfigError
		require.True(t, errors.As(err, &invalid), "size=%d overlap=%d", tc.size, tc.overlap)
		assert.Equal(t, tc.size, invalid.Size)
	}
}

func TestChunksSizeTenOverlapThree(t *testing.T) {
	c, err := New(10, 3)
	require.NoError(t, err)

	text := "abcdefghijklmnopqrstuvwxy"
	require.Len(t, text, 25)
	chunks := collect(c, corpus.Document{ID: "doc", Content: text})

	require.Len(t, chunks, 4)
	assert.Equal(t, "abcdefghij", chunks[0].Content)
	assert.Equal(t, "hijklmnopq", chunks[1].Content)
	assert.Equal(t, "opqrstuvwx", chunks[2].Content)
	// the final window is cut short at the end of the text
	assert.Equal(t, "vwxy", chunks[3].Content)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 10)
		assert.Equal(t, "doc", chunk.DocumentID)
		assert.Equal(t, i, chunk.Index)
		if i > 0 {
			prev := chunks[i-1].Content
			assert.Equal(t, prev[len(prev)-3:], chunk.Content[:3])
		}
	}
}

func TestChunksCoverTail(t *testing.T) {
	c, err := New(10, 3)
	require.NoError(t, err)

	text := "abcdefghijklmnopqrstuvwxyz0123"
	chunks := collect(c, corpus.Document{ID: "d", Content: text})
	last := chunks[len(chunks)-1].Content
	assert.True(t, strings.HasSuffix(text, last))
	assert.Equal(t, text, c.Reassemble(chunks))
}

func TestReassembleReconstructsContent(t *testing.T) {
	texts := []string{
		"",
		"short",
		strings.Repeat("0123456789", 30),
		"Title: Data Scientist\nEmployer: Acme\nDescription: Build models with Python, SQL and a healthy dose of statistics.",
		"héllo wörld, ünïcode çharacters ☃ are counted as runes not bytes",
	}
	configs := [][2]int{{10, 3}, {7, 1}, {50, 49}, {1000, 200}, {2, 1}}

	for _, cfg := range configs {
		c, err := New(cfg[0], cfg[1])
		require.NoError(t, err)
		for _, text := range texts {
			chunks := collect(c, corpus.Document{ID: "d", Content: text})
			assert.Equal(t, text, c.Reassemble(chunks), "size=%d overlap=%d", cfg[0], cfg[1])
			for _, chunk := range chunks {
				assert.LessOrEqual(t, len([]rune(chunk.Content)), cfg[0])
			}
		}
	}
}

func TestChunksEmptyDocument(t *testing.T) {
	c, err := New(10, 3)
	require.NoError(t, err)
	assert.Empty(t, collect(c, corpus.Document{ID: "d"}))
}

func TestChunksIsRestartable(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	seq := c.Chunks(corpus.Document{ID: "d", Content: "abcdefghij"})
	var first, second []corpus.Chunk
	for chunk := range seq {
		first = append(first, chunk)
	}
	for chunk := range seq {
		second = append(second, chunk)
	}
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestChunksStopsEarly(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	count := 0
	for range c.Chunks(corpus.Document{ID: "d", Content: strings.Repeat("x", 100)}) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestSplitKeepsMetadataAndSource(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	docs := []corpus.Document{
		{ID: "a", Content: strings.Repeat("a", 15), Metadata: corpus.Metadata{Title: "A", Employer: "Acme"}},
		{ID: "b", Content: "bbb", Metadata: corpus.Metadata{Title: "B", Employer: "Beta"}},
	}
	chunks := c.Split(docs)

	require.Len(t, chunks, 3)
	assert.Equal(t, "a", chunks[1].DocumentID)
	assert.Equal(t, "Acme", chunks[1].Metadata.Employer)
	assert.Equal(t, "b", chunks[2].DocumentID)
	assert.Equal(t, "b:0", chunks[2].ID)
}
