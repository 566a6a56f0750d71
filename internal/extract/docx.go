package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody     = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// overrideRe matches <Override .../> elements of [Content_Types].xml; attribute order varies.
	overrideRe   = regexp.MustCompile(`<Override[^>]*>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
	// docxTokenRe finds, in document order, text runs, explicit page breaks and paragraph ends.
	docxTokenRe = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|<w:br[^>]*w:type="page"[^>]*/>|</w:p>|<w:tab/>`)
)

// docxPages returns the body text of a .docx file. Paragraphs become lines and
// explicit page breaks start a new page.
func docxPages(content []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	bodyPath := docxBodyPath(zr)
	body, err := readZipFile(zr, bodyPath)
	if err != nil {
		return nil, err
	}

	var pages []string
	var cur strings.Builder
	for _, m := range docxTokenRe.FindAllStringSubmatch(string(body), -1) {
		tok := m[0]
		switch {
		case strings.HasPrefix(tok, "<w:t"):
			cur.WriteString(unescapeXML(m[1]))
		case tok == "<w:tab/>":
			cur.WriteByte('\t')
		case tok == "</w:p>":
			cur.WriteByte('\n')
		default:
			pages = append(pages, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
	}
	pages = append(pages, strings.TrimSpace(cur.String()))
	return pages, nil
}

// docxBodyPath finds the main document part from [Content_Types].xml, falling back to the default.
func docxBodyPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return docxDefaultBody
	}
	for _, o := range overrideRe.FindAllString(string(data), -1) {
		if !strings.Contains(o, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameAttr.FindStringSubmatch(o); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultBody
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
