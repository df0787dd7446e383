package docx

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

const (
	mainDocumentPart = "word/document.xml"

	// DefaultMaxUncompressedBytes caps the total uncompressed size of a package.
	DefaultMaxUncompressedBytes int64 = 256 << 20
)

type entry struct {
	name     string
	modified time.Time
	data     []byte
}

// Package is an OOXML package held in memory.
type Package struct {
	entries []*entry
}

// Load reads a DOCX archive of at most DefaultMaxUncompressedBytes once
// uncompressed. It fails on empty input, on anything that is not a zip archive
// and on archives without a main document part.
func Load(b []byte) (*Package, error) {
	return LoadLimit(b, DefaultMaxUncompressedBytes)
}

// LoadLimit is Load with an explicit cap on the total uncompressed size of
// all entries. A non-positive limit uses DefaultMaxUncompressedBytes.
func LoadLimit(b []byte, limit int64) (*Package, error) {
	if limit <= 0 {
		limit = DefaultMaxUncompressedBytes
	}
	if len(b) == 0 {
		return nil, ErrEmptyTemplate
	}

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("cannot open template archive: %w", err)
	}

	pkg := &Package{entries: make([]*entry, 0, len(zr.File))}
	hasMain := false
	remaining := limit
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f, remaining)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", f.Name, err)
		}
		remaining -= int64(len(data))
		if f.Name == mainDocumentPart {
			hasMain = true
		}
		pkg.entries = append(pkg.entries, &entry{name: f.Name, modified: f.Modified, data: data})
	}
	if !hasMain {
		return nil, ErrNotWordDocument
	}
	return pkg, nil
}

// readEntry reads at most max bytes of f. The header sizes are not trusted.
func readEntry(f *zip.File, max int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(max) {
		return nil, ErrArchiveTooLarge
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrArchiveTooLarge
	}
	return data, nil
}

// Part returns the raw bytes of a package part.
func (p *Package) Part(name string) ([]byte, bool) {
	for _, e := range p.entries {
		if e.name == name {
			return e.data, true
		}
	}
	return nil, false
}

// Render applies data to every templated part of the package.
func (p *Package) Render(data map[string]any, opts Options) error {
	if data == nil {
		data = map[string]any{}
	}
	for _, e := range p.entries {
		if !isTemplatedPart(e.name) {
			continue
		}
		out, err := renderPart(e.name, e.data, data, opts)
		if err != nil {
			return err
		}
		e.data = out
	}
	return nil
}

// Bytes writes the package as a DEFLATE-compressed zip archive. Entries keep
// their order and modification times so equal inputs give equal output.
func (p *Package) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range p.entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: e.modified,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isTemplatedPart(name string) bool {
	dir, file := path.Split(name)
	if dir != "word/" || !strings.HasSuffix(file, ".xml") {
		return false
	}
	switch {
	case file == "document.xml", file == "footnotes.xml", file == "endnotes.xml":
		return true
	case strings.HasPrefix(file, "header"), strings.HasPrefix(file, "footer"):
		return true
	}
	return false
}
