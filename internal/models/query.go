package models

import (
	"fmt"
	"strings"
)

// Question is a chat or diagnosis request.
type Question struct {
	Question string `json:"question"`
}

// Validate trims the question and rejects empty input.
func (q *Question) Validate() error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidInput)
	}
	return nil
}
