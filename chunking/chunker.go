// Package chunking splits documents into overlapping fixed-size windows.
package chunking

import (
	"fmt"
	"iter"
	"strconv"

	"github.com/fabfab/counselor/corpus"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// InvalidChunkConfigError reports a size/overlap pair that cannot produce
// forward-moving windows.
type InvalidChunkConfigError struct {
	Size    int
	Overlap int
}

func (e *InvalidChunkConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config: size %d, overlap %d (need 0 < overlap < size)", e.Size, e.Overlap)
}

// Chunker cuts text into windows of at most Size characters. Each window
// after the first starts Overlap characters before the previous one ended.
// Lengths are counted in runes.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap <= 0 || overlap >= size {
		return nil, &InvalidChunkConfigError{Size: size, Overlap: overlap}
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy sequence over doc. Ranging over it again restarts
// from the first window.
func (c *Chunker) Chunks(doc corpus.Document) iter.Seq[corpus.Chunk] {
	return func(yield func(corpus.Chunk) bool) {
		text := []rune(doc.Content)
		if len(text) == 0 {
			return
		}

		start, idx := 0, 0
		for {
			end := min(start+c.size, len(text))
			chunk := corpus.Chunk{
				ID:         doc.ID + ":" + strconv.Itoa(idx),
				DocumentID: doc.ID,
				Index:      idx,
				Content:    string(text[start:end]),
				Metadata:   doc.Metadata,
			}
			if !yield(chunk) || end == len(text) {
				return
			}
			start = end - c.overlap
			idx++
		}
	}
}

// Split collects the chunks of every document in order.
func (c *Chunker) Split(docs []corpus.Document) []corpus.Chunk {
	var out []corpus.Chunk
	for _, doc := range docs {
		for chunk := range c.Chunks(doc) {
			out = append(out, chunk)
		}
	}
	return out
}

// Reassemble joins chunk contents, dropping the overlapped prefix of every
// chunk after the first. For chunks of a single document it returns the
// original content.
func (c *Chunker) Reassemble(chunks []corpus.Chunk) string {
	var out []rune
	for i, chunk := range chunks {
		text := []rune(chunk.Content)
		if i > 0 {
			text = text[min(c.overlap, len(text)):]
		}
		out = append(out, text...)
	}
	return string(out)
}
