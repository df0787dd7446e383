package docx

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTemplate is returned when the template has no bytes.
	ErrEmptyTemplate = errors.New("template is empty")
	// ErrNotWordDocument is returned when the archive has no main document part.
	ErrNotWordDocument = errors.New("template is not a word document: missing " + mainDocumentPart)
	// ErrArchiveTooLarge is returned when the package expands beyond the size limit.
	ErrArchiveTooLarge = errors.New("template expands beyond the uncompressed size limit")
)

// TemplateError reports a problem with the tags of a template part.
type TemplateError struct {
	Part   string
	Tag    string
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("%s: %s", e.Part, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q", e.Part, e.Reason, e.Tag)
}

// Stage names the step of a render that failed.
type Stage string

const (
	StageLoad      Stage = "load"
	StageRender    Stage = "render"
	StageSerialize Stage = "serialize"
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }
