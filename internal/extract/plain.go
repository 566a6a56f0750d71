package extract

import "strings"

// plainPages treats form feeds as page breaks; text without one is a single page.
func plainPages(content []byte) ([]string, error) {
	return strings.Split(string(content), "\f"), nil
}
