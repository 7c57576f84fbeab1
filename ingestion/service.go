package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/fabfab/counselor/chunking"
	"github.com/fabfab/counselor/corpus"
	"github.com/fabfab/counselor/knowledge"
	"github.com/fabfab/counselor/metrics"
)

// GraphSyncer mirrors postings into the knowledge graph.
type GraphSyncer interface {
	SyncPosting(ctx context.Context, posting knowledge.Posting) error
}

// Report summarizes one ingestion run. Skipped rows do not stop the batch.
type Report struct {
	Rows     int
	Ingested int
	Skipped  []*MalformedRecordError
}

type Batch struct {
	Documents []corpus.Document
	Chunks    []corpus.Chunk
	Report    Report
}

type Service struct {
	chunker *chunking.Chunker
	graph   GraphSyncer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService wires an ingestion service. graph and m may be nil.
func NewService(chunker *chunking.Chunker, graph GraphSyncer, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		chunker: chunker,
		graph:   graph,
		logger:  logger,
		metrics: m,
	}
}

func (s *Service) IngestFile(ctx context.Context, path string) (Batch, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return Batch{}, fmt.Errorf("unsupported posting file %s: expected .csv or .tsv", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open postings: %w", err)
	}
	defer f.Close()

	batch, err := s.Ingest(ctx, f, format)
	if err != nil {
		return Batch{}, fmt.Errorf("ingest %s: %w", path, err)
	}
	s.logger.Info("loaded job postings",
		zap.String("path", path),
		zap.Int("rows", batch.Report.Rows),
		zap.Int("ingested", batch.Report.Ingested),
		zap.Int("skipped", len(batch.Report.Skipped)),
		zap.Int("chunks", len(batch.Chunks)))
	return batch, nil
}

// Ingest reads postings from r, converts and chunks them. Malformed rows are
// logged and reported; a malformed header fails the whole call.
func (s *Service) Ingest(ctx context.Context, r io.Reader, format DocumentFormat) (Batch, error) {
	if s.chunker == nil {
		return Batch{}, fmt.Errorf("chunker not configured")
	}

	postings, err := ReadPostings(r, format)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{Report: Report{Rows: len(postings)}}
	for _, posting := range postings {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}

		doc, err := NewDocument(posting)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				s.logger.Warn("skip malformed posting", zap.Int("row", malformed.Row), zap.String("field", malformed.Field))
				batch.Report.Skipped = append(batch.Report.Skipped, malformed)
				continue
			}
			return Batch{}, err
		}

		var chunks []corpus.Chunk
		for chunk := range s.chunker.Chunks(doc) {
			chunks = append(chunks, chunk)
		}
		batch.Documents = append(batch.Documents, doc)
		batch.Chunks = append(batch.Chunks, chunks...)
		batch.Report.Ingested++

		s.syncGraph(ctx, doc, chunks)
	}

	s.metrics.AddRecords(metrics.RecordIngested, batch.Report.Ingested)
	s.metrics.AddRecords(metrics.RecordMalformed, len(batch.Report.Skipped))
	return batch, nil
}

func (s *Service) syncGraph(ctx context.Context, doc corpus.Document, chunks []corpus.Chunk) {
	if s.graph == nil {
		return
	}

	posting := knowledge.Posting{
		ID:       doc.ID,
		Title:    doc.Metadata.Title,
		Employer: doc.Metadata.Employer,
		Chunks:   make([]knowledge.Chunk, len(chunks)),
	}
	for i, chunk := range chunks {
		posting.Chunks[i] = knowledge.Chunk{ID: chunk.ID, Index: chunk.Index, Text: chunk.Content}
	}

	if err := s.graph.SyncPosting(ctx, posting); err != nil {
		s.logger.Warn("sync knowledge graph failed", zap.String("document", doc.ID), zap.Error(err))
	}
}
