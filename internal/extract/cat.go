package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// catPages handles OpenDocument text and RTF, which have no page structure we can recover.
func catPages(content []byte) ([]string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return []string{text}, nil
}
