package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/fabfab/counselor/corpus"
)

// Column names expected in the header row.
const (
	ColumnTitle       = "title"
	ColumnEmployer    = "company"
	ColumnDescription = "description"
)

var requiredColumns = []string{ColumnTitle, ColumnEmployer, ColumnDescription}

// MalformedRecordError reports a posting without one of its required fields.
// Row is 1-based over data rows; 0 means the header itself is incomplete.
type MalformedRecordError struct {
	Row   int
	Field string
}

func (e *MalformedRecordError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("malformed input: missing required column %q", e.Field)
	}
	return fmt.Sprintf("malformed record at row %d: missing required field %q", e.Row, e.Field)
}

// Posting is one row of the job postings table.
type Posting struct {
	Row         int
	Title       string
	Employer    string
	Description string
}

// NewDocument normalizes a posting into a Document. Field values are kept
// verbatim.
func NewDocument(p Posting) (corpus.Document, error) {
	fields := []struct {
		name  string
		value string
	}{
		{ColumnTitle, p.Title},
		{ColumnEmployer, p.Employer},
		{ColumnDescription, p.Description},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return corpus.Document{}, &MalformedRecordError{Row: p.Row, Field: f.name}
		}
	}

	return corpus.Document{
		ID:      uuid.NewString(),
		Content: FormatContent(p),
		Metadata: corpus.Metadata{
			Title:    p.Title,
			Employer: p.Employer,
		},
	}, nil
}

// FormatContent renders the text that gets chunked and embedded.
func FormatContent(p Posting) string {
	return "Title: " + p.Title + "\nEmployer: " + p.Employer + "\nDescription: " + p.Description
}

// ReadPostings parses a header-led table. Columns may appear in any order and
// unknown columns are ignored. Short rows are returned with empty fields so
// NewDocument can report them.
func ReadPostings(r io.Reader, format DocumentFormat) ([]Posting, error) {
	reader := csv.NewReader(r)
	reader.Comma = format.delimiter()
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedRecordError{Row: 0, Field: ColumnTitle}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, &MalformedRecordError{Row: 0, Field: col}
		}
	}

	field := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	var postings []Posting
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		postings = append(postings, Posting{
			Row:         row,
			Title:       field(record, ColumnTitle),
			Employer:    field(record, ColumnEmployer),
			Description: field(record, ColumnDescription),
		})
	}
	return postings, nil
}
