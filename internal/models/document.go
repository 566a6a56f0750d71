// Package models defines core data structures for documents, chunks, and answers.
package models

// Page is the raw text of one physical page of a source document.
type Page struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Document is a loaded source file. It only lives for one ingestion call.
type Document struct {
	Source     string `json:"source"`
	Path       string `json:"path"`
	Pages      []Page `json:"pages"`
	TotalChars int    `json:"total_chars"` // runes of trimmed page text
}

// Chunk is an immutable segment of a document's text, the unit stored and retrieved.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page"`
	Order  int    `json:"order"`
}
