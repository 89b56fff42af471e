package crawler

import "time"

// DocumentStub is one row of a search listing page.
type DocumentStub struct {
	Href         string `json:"href"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	AcceptedDate string `json:"accepted_date"`
}

// FileStub is one row of a document page's file table, exactly as displayed.
type FileStub struct {
	Filename    string `json:"filename"`
	Size        string `json:"size"`
	Access      string `json:"access"`
	Description string `json:"description"`
	FileType    string `json:"file_type"`
	Href        string `json:"href"`
}

// DocumentPage is everything extracted from a document detail page.
type DocumentPage struct {
	Kind       string            `json:"kind"`
	Taxonomy   []string          `json:"taxonomy"`
	Attributes map[string]string `json:"attributes"`
	Files      []FileStub        `json:"files"`
}

// Document is a persisted repository document. It is never mutated after creation.
type Document struct {
	ID           int64     `json:"id"`
	Href         string    `json:"href"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	AcceptedDate string    `json:"accepted_date"`
	InsertedAt   time.Time `json:"inserted_at"`
}

// FileRecord is a persisted file that survived classification.
// IsLocal is the only field that changes after insertion.
type FileRecord struct {
	ID                int64   `json:"id"`
	Href              string  `json:"href"`
	Filename          string  `json:"filename"`
	SizeMB            float64 `json:"size_mb"`
	Access            string  `json:"access"`
	Description       string  `json:"description"`
	FileType          string  `json:"file_type"`
	RelativeDirectory string  `json:"relative_directory"`
	IsLocal           bool    `json:"is_local"`
	DocumentID        int64   `json:"document_id"`
}

// FailedDocument is a document whose detail page could not be fetched or parsed.
type FailedDocument struct {
	DocumentID int64  `json:"document_id"`
	Href       string `json:"href"`
	Reason     string `json:"reason"`
}

// StoreSummary counts the durable crawl state.
type StoreSummary struct {
	Documents       int `json:"documents" yaml:"documents"`
	Files           int `json:"files" yaml:"files"`
	LocalFiles      int `json:"local_files" yaml:"local_files"`
	Checkpoints     int `json:"checkpoints" yaml:"checkpoints"`
	FailedDocuments int `json:"failed_documents" yaml:"failed_documents"`
}

// Candidate is a file stub annotated with its parsed size.
type Candidate struct {
	FileStub
	SizeMB float64 `json:"size_mb"`
}

// Classification partitions a document's files. Only Kept proceeds to download.
type Classification struct {
	Kept         []Candidate `json:"kept"`
	Blocked      []Candidate `json:"blocked"`
	Investigate  []Candidate `json:"investigate"`
	Unclassified []Candidate `json:"unclassified"`
	KeptMB       float64     `json:"kept_mb"`
}

// Report summarizes one crawl run.
type Report struct {
	PagesVisited     int     `json:"pages_visited"`
	PagesSkipped     int     `json:"pages_skipped"`
	PagesFailed      int     `json:"pages_failed"`
	Checkpoints      int     `json:"checkpoints"`
	Documents        int     `json:"documents"`
	DocumentsFailed  int     `json:"documents_failed"`
	DocumentsRetried int     `json:"documents_retried"`
	FilesKept        int     `json:"files_kept"`
	KeptMB           float64 `json:"kept_mb"`
	BudgetExhausted  bool    `json:"budget_exhausted"`
	Canceled         bool    `json:"canceled"`
	EndOfResults     bool    `json:"end_of_results"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}
