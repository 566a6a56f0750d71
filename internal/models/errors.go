package models

import "errors"

// Error kinds returned by the ingestion and query core. Callers match them with errors.Is.
var (
	ErrLoad              = errors.New("load error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrEmbed             = errors.New("embed error")
	ErrGeneration        = errors.New("generation error")
	ErrPersist           = errors.New("persist error")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidInput      = errors.New("invalid input")
	ErrClosed            = errors.New("pipeline closed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrLoad, "load"},
	{ErrDimensionMismatch, "dimension_mismatch"},
	{ErrEmbed, "embed"},
	{ErrGeneration, "generation"},
	{ErrPersist, "persist"},
	{ErrClosed, "closed"},
}

// ErrorKind returns a short name for the kind of err, or "internal" when it has none.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
