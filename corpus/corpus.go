// Package corpus holds the document and chunk types shared by ingestion,
// chunking and the index backends.
package corpus

// Metadata carries the posting fields copied verbatim from the input record.
type Metadata struct {
	Title    string `json:"title"`
	Employer string `json:"employer"`
}

// Document is one normalized job posting. It is never modified after
// ingestion.
type Document struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Chunk is a bounded window over a Document's content.
type Chunk struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"documentId"`
	Index      int      `json:"index"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
}
