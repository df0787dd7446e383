// Package docxtest builds small DOCX packages for tests and reads their text back.
package docxtest

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zip"
)

const (
	contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

	rels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

	documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`
	documentTail = `</w:body></w:document>`
)

// Modified is the timestamp written on every entry built here.
var Modified = time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)

// Document wraps body XML in a w:document part.
func Document(body string) string {
	return documentHead + body + documentTail
}

// P builds a paragraph with one run per argument.
func P(runs ...string) string {
	var sb strings.Builder
	sb.WriteString("<w:p>")
	for _, r := range runs {
		sb.WriteString(R(r))
	}
	sb.WriteString("</w:p>")
	return sb.String()
}

// R builds a run holding text.
func R(text string) string {
	var sb strings.Builder
	sb.WriteString(`<w:r><w:t xml:space="preserve">`)
	_ = xmlEscape(&sb, text)
	sb.WriteString(`</w:t></w:r>`)
	return sb.String()
}

// BoldR builds a bold run holding text.
func BoldR(text string) string {
	return strings.Replace(R(text), "<w:r>", "<w:r><w:rPr><w:b/></w:rPr>", 1)
}

// Row builds a table row with one single-paragraph cell per argument.
func Row(cells ...string) string {
	var sb strings.Builder
	sb.WriteString("<w:tr>")
	for _, c := range cells {
		sb.WriteString("<w:tc>" + P(c) + "</w:tc>")
	}
	sb.WriteString("</w:tr>")
	return sb.String()
}

// Table wraps rows in a w:tbl.
func Table(rows ...string) string {
	return "<w:tbl>" + strings.Join(rows, "") + "</w:tbl>"
}

// Build returns a DOCX package whose main document has the given body.
func Build(t testing.TB, body string) []byte {
	t.Helper()
	return BuildParts(t, map[string]string{"word/document.xml": Document(body)})
}

// BuildParts returns a DOCX package with the given parts plus the package
// boilerplate. Parts are written in name order.
func BuildParts(t testing.TB, parts map[string]string) []byte {
	t.Helper()

	all := map[string]string{
		"[Content_Types].xml": contentTypes,
		"_rels/.rels":         rels,
	}
	for k, v := range parts {
		all[k] = v
	}
	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: Modified})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := io.WriteString(w, all[name]); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// PartXML returns the content of a part from a DOCX package.
func PartXML(t testing.TB, docx []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatalf("open docx: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if f.Method != zip.Deflate {
			t.Fatalf("%s: expected deflate compression, got method %d", name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(b)
	}
	t.Fatalf("part %s not found", name)
	return ""
}

// Text returns the visible text of a part: one line per paragraph, with line
// breaks inside a paragraph rendered as "\n" too.
func Text(t testing.TB, docx []byte, name string) string {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(PartXML(t, docx, name)); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}

	var lines []string
	var walk func(el *etree.Element, sb *strings.Builder)
	walk = func(el *etree.Element, sb *strings.Builder) {
		for _, child := range el.ChildElements() {
			switch child.FullTag() {
			case "w:p":
				var line strings.Builder
				walk(child, &line)
				lines = append(lines, line.String())
			case "w:t":
				if sb != nil {
					sb.WriteString(child.Text())
				}
			case "w:br":
				if sb != nil {
					sb.WriteString("\n")
				}
			default:
				walk(child, sb)
			}
		}
	}
	walk(doc.Root(), nil)
	return strings.Join(lines, "\n")
}

// DocumentText is Text for the main document part.
func DocumentText(t testing.TB, docx []byte) string {
	t.Helper()
	return Text(t, docx, "word/document.xml")
}

func xmlEscape(w io.Writer, s string) error {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	_, err := fmt.Fprint(w, r.Replace(s))
	return err
}
