package chat

// EmployerInsight is the knowledge graph's view of the employer behind a
// retrieved posting.
type EmployerInsight struct {
	Employer      string
	PostingCount  int
	PostingTitles []string
}

// Source is one posting that contributed context to an answer. Chunks from
// the same posting are folded into a single Source with the best score.
type Source struct {
	DocumentID string
	Title      string
	Employer   string
	Snippet    string
	Score      float64
	Insight    EmployerInsight
}

// Response carries the model's answer and the postings it was grounded on,
// highest score first.
type Response struct {
	Answer  string
	Sources []Source
}
