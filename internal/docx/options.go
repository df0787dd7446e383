// Package docx renders DOCX templates: it opens the OOXML zip package,
// substitutes placeholder tags in the word-processing parts with values from a
// data mapping and writes the package back out with DEFLATE compression.
package docx

// Delimiters are the strings that open and close a template tag.
type Delimiters struct {
	Start string
	End   string
}

// Options configures how templates are parsed and rendered.
type Options struct {
	// ErrorOnMissingTags fails the render when a value tag has no data.
	// When false the tag renders as empty text.
	ErrorOnMissingTags bool
	// ParagraphLoop drops paragraphs that hold nothing but a section tag
	// instead of repeating them with the section body.
	ParagraphLoop bool
	// Linebreaks turns "\n" in values into line breaks.
	Linebreaks bool
	// AllowUnopenedTag keeps a lone end delimiter as literal text.
	AllowUnopenedTag bool
	// AllowUnclosedTag keeps a start delimiter without a matching end
	// delimiter in the same paragraph as literal text.
	AllowUnclosedTag bool
	Delimiters       Delimiters
	// MaxUncompressedBytes caps the total uncompressed size of the package.
	// Zero means DefaultMaxUncompressedBytes.
	MaxUncompressedBytes int64
}

// DefaultOptions is the configuration the renderer service uses for every request.
func DefaultOptions() Options {
	return Options{
		ErrorOnMissingTags: false,
		ParagraphLoop:      true,
		Linebreaks:         true,
		AllowUnopenedTag:   true,
		AllowUnclosedTag:   true,
		Delimiters:         Delimiters{Start: "{", End: "}"},

		MaxUncompressedBytes: DefaultMaxUncompressedBytes,
	}
}

func (o Options) delimiters() Delimiters {
	d := o.Delimiters
	if d.Start == "" {
		d.Start = "{"
	}
	if d.End == "" {
		d.End = "}"
	}
	return d
}
