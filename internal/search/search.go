package search

// ResultType identifies the kind of record in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultEntity   ResultType = "entity"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	EntityType string     `json:"entityType,omitempty"`
	Start      int        `json:"start,omitempty"`
	End        int        `json:"end,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all kinds
	EntityType string
	DocumentID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push records into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	ReplaceEntities(documentID string, entities []EntityRecord) error
	IndexDocuments(documents []DocumentRecord) error
	IndexEntities(entities []EntityRecord) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	DocNumber string `json:"docNumber"`
	DocType   string `json:"docType"`
	Status    string `json:"status"`
}

// EntityRecord is the data we index for one span. ID is unique across
// documents; EntID is the span id inside its document.
type EntityRecord struct {
	ID           string `json:"id"`
	EntID        string `json:"entId"`
	DocumentID   string `json:"documentId"`
	DocTitle     string `json:"docTitle"`
	Type         string `json:"type"`
	Text         string `json:"text"`
	Normalized   string `json:"normalized"`
	CanonicalNum string `json:"canonicalNum"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
}

// EntityKey builds the index-wide key for a span.
func EntityKey(documentID, entID string) string {
	return documentID + "__" + entID
}
