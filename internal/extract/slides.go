package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	pptxSlideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	// pptxTokenRe finds text runs and paragraph ends of a slide in document order.
	pptxTokenRe = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>|</a:p>`)

	// odfPageRe splits OpenDocument content into slides (draw:page) or sheets (table:table).
	odfPageRe = regexp.MustCompile(`(?s)<(draw:page|table:table)[\s>].*?</(?:draw:page|table:table)>`)
	// odfTokenRe finds text in text:p, text:h and text:span elements plus paragraph ends.
	odfTokenRe = regexp.MustCompile(`<text:(?:p|h|span)(?:\s[^>]*)?>([^<]*)|</text:(?:p|h)>`)
)

// pptxPages returns one page per slide, ordered by slide number.
func pptxPages(content []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readZipFile(zr, s.name)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, m := range pptxTokenRe.FindAllStringSubmatch(string(data), -1) {
			if m[0] == "</a:p>" {
				b.WriteByte('\n')
				continue
			}
			b.WriteString(unescapeXML(m[1]))
		}
		pages = append(pages, strings.TrimSpace(b.String()))
	}
	return pages, nil
}

// odfPages returns one page per slide of an .odp file or per sheet of an .ods file.
func odfPages(content []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	data, err := readZipFile(zr, "content.xml")
	if err != nil {
		return nil, err
	}
	blocks := odfPageRe.FindAllString(string(data), -1)
	if len(blocks) == 0 {
		blocks = []string{string(data)}
	}
	pages := make([]string, 0, len(blocks))
	for _, block := range blocks {
		var b strings.Builder
		for _, m := range odfTokenRe.FindAllStringSubmatch(block, -1) {
			if strings.HasPrefix(m[0], "</") {
				b.WriteByte('\n')
				continue
			}
			b.WriteString(unescapeXML(m[1]))
		}
		pages = append(pages, strings.TrimSpace(b.String()))
	}
	return pages, nil
}
