// Package extract loads documents from disk and returns their text page by page.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// pageFunc extracts the pages of one format from raw file content.
type pageFunc func(content []byte) ([]string, error)

var formats = map[string]pageFunc{
	".pdf":  pdfPages,
	".txt":  plainPages,
	".md":   plainPages,
	".docx": docxPages,
	".xlsx": excelPages,
	".pptx": pptxPages,
	".odp":  odfPages,
	".ods":  odfPages,
	".odt":  catPages,
	".rtf":  catPages,
}

// SupportedExtensions returns the lower-case extensions Load accepts, with leading dot.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	return exts
}

// Supported reports whether path has an extension Load accepts.
func Supported(path string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Loader reads documents and splits them into pages.
type Loader struct {
	logger *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// NewLoader returns a new Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, o := range opts {
		o(l)
	}
	l.logger = utils.OrNop(l.logger)
	return l
}

// Load reads the file at path and returns its pages in physical order.
// Any failure (unreadable file, unsupported or malformed format) wraps models.ErrLoad.
// A document without extractable text is not an error: its pages are blank and TotalChars is 0.
func (l *Loader) Load(path string) (*models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrLoad, path, err)
	}
	doc, err := l.LoadBytes(filepath.Base(path), content)
	if err != nil {
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// LoadBytes extracts pages from content; name selects the format by extension and becomes the source.
func (l *Loader) LoadBytes(name string, content []byte) (doc *models.Document, err error) {
	ext := strings.ToLower(filepath.Ext(name))
	fn, ok := formats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %q", models.ErrLoad, ext)
	}

	// Parsers of untrusted binary formats may panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("parser panic", zap.String("source", name), zap.Any("panic", r))
			doc, err = nil, fmt.Errorf("%w: %s: malformed %s: %v", models.ErrLoad, name, ext, r)
		}
	}()

	texts, err := fn(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrLoad, name, err)
	}

	doc = &models.Document{Source: name, Pages: make([]models.Page, len(texts))}
	for i, t := range texts {
		if !utf8.ValidString(t) {
			t = strings.ToValidUTF8(t, "\ufffd")
		}
		doc.Pages[i] = models.Page{Index: i, Text: t}
		doc.TotalChars += utf8.RuneCountInString(strings.TrimSpace(t))
	}
	l.logger.Debug("document loaded",
		zap.String("source", name),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chars", doc.TotalChars))
	return doc, nil
}
