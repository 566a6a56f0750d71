package models

// QueryResult is a single retrieval hit.
type QueryResult struct {
	ID    uint64  `json:"id"`
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Answer is a generated answer and the distinct source filenames backing it,
// in the order they were first retrieved.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
	// Fallback is set when the index had nothing to retrieve and Text is the fixed fallback answer.
	Fallback bool `json:"fallback,omitempty"`
}

// IngestResult is the outcome of one successful ingestion call.
type IngestResult struct {
	Source     string `json:"source"`
	ChunkCount int    `json:"chunk_count"`
	Note       string `json:"note,omitempty"`
	// NoText marks a document without a usable text layer (e.g. a scanned PDF).
	NoText bool `json:"no_text,omitempty"`
	// Skipped marks a watcher or bootstrap job for a file already in the ledger.
	Skipped bool `json:"skipped,omitempty"`
}

// Trigger names what requested an ingestion.
type Trigger string

const (
	TriggerUpload    Trigger = "upload"
	TriggerWatch     Trigger = "watch"
	TriggerCLI       Trigger = "cli"
	TriggerBootstrap Trigger = "bootstrap"
)
