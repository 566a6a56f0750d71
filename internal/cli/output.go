// Package cli provides output formatting and an HTTP client for the yvan CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// AnswerOutput is the JSON shape of an answered question.
type AnswerOutput struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Fallback bool     `json:"fallback,omitempty"`
}

// WriteAnswer writes an answer and its sources to w.
func WriteAnswer(w io.Writer, question string, ans *models.Answer, format OutputFormat) error {
	sources := ans.Sources
	if sources == nil {
		sources = []string{}
	}
	if format == OutputJSON {
		return writeJSON(w, AnswerOutput{Question: question, Answer: ans.Text, Sources: sources, Fallback: ans.Fallback})
	}
	fmt.Fprintf(w, "%s\n", strings.TrimSpace(ans.Text))
	if len(sources) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for _, s := range sources {
		fmt.Fprintf(w, "  - %s\n", s)
	}
	return nil
}

// IngestOutput is the JSON shape of an ingest run.
type IngestOutput struct {
	Files   []app.FileOutcome `json:"files"`
	Summary app.Summary       `json:"summary"`
}

// WriteIngestResults writes one line per file followed by the totals.
func WriteIngestResults(w io.Writer, outcomes []app.FileOutcome, format OutputFormat) error {
	sum := app.Summarize(outcomes)
	if format == OutputJSON {
		if outcomes == nil {
			outcomes = []app.FileOutcome{}
		}
		return writeJSON(w, IngestOutput{Files: outcomes, Summary: sum})
	}
	for _, o := range outcomes {
		fmt.Fprintln(w, outcomeLine(o))
	}
	if len(outcomes) != 1 {
		fmt.Fprintf(w, "\n%d file(s), %d chunk(s) added; %d without text, %d skipped, %d failed\n",
			sum.Files, sum.Chunks, sum.NoText, sum.Skipped, sum.Failed)
	}
	return nil
}

func outcomeLine(o app.FileOutcome) string {
	switch {
	case o.Err != nil || o.Error != "":
		msg := o.Error
		if msg == "" {
			msg = o.Err.Error()
		}
		return fmt.Sprintf("failed   %s: %s", o.Path, msg)
	case o.Result == nil:
		return fmt.Sprintf("failed   %s", o.Path)
	case o.Result.Skipped:
		return fmt.Sprintf("skipped  %s", o.Path)
	case o.Result.NoText:
		return fmt.Sprintf("no text  %s: %s", o.Path, o.Result.Note)
	default:
		return fmt.Sprintf("ok       %s (%d chunks)", o.Path, o.Result.ChunkCount)
	}
}

// WriteStatus writes index and configuration status.
func WriteStatus(w io.Writer, st *app.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "index_size:           %d   # chunks in the vector index\n", st.IndexSize)
	fmt.Fprintf(w, "dimension:            %d   # embedding dimension (0 = empty index)\n", st.Dimension)
	fmt.Fprintf(w, "documents:            %d   # ingested documents in the ledger\n", st.Documents)
	if st.Failed > 0 {
		fmt.Fprintf(w, "failed:               %d   # failed ingestion attempts\n", st.Failed)
	}
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:     %d   # index + ledger on disk\n", *st.DiskUsageBytes)
	}
	if len(st.WatchedDirectories) > 0 {
		fmt.Fprintf(w, "watched_directories:  %s\n", strings.Join(st.WatchedDirectories, ", "))
	}

	c := st.Config
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "embedding:            %s", c.EmbeddingProvider)
	if c.EmbeddingModel != "" {
		fmt.Fprintf(w, " (%s)", c.EmbeddingModel)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "generation:           %s", c.GenerationProvider)
	if c.GenerationModel != "" {
		fmt.Fprintf(w, " (%s)", c.GenerationModel)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "chunk_size:           %d\n", c.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:        %d\n", c.ChunkOverlap)
	fmt.Fprintf(w, "top_k:                %d\n", c.TopK)
	if c.DocumentsDir != "" {
		fmt.Fprintf(w, "documents_dir:        %s\n", c.DocumentsDir)
	}
	if c.SnapshotPath != "" {
		fmt.Fprintf(w, "snapshot_path:        %s\n", c.SnapshotPath)
	}
	if c.LedgerPath != "" {
		fmt.Fprintf(w, "ledger_path:          %s\n", c.LedgerPath)
	}
	return nil
}

// WriteDocuments writes ingestion records, one per line.
func WriteDocuments(w io.Writer, records []ledger.Record, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []ledger.Record{}
		}
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No documents ingested yet.")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-8s %-9s %-4d %s", r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status, r.Trigger, r.ChunkCount, r.Source)
		if r.Error != "" {
			line += "  # " + utils.Truncate(r.Error, 80)
		} else if r.Note != "" {
			line += "  # " + r.Note
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
