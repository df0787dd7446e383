package domain

import (
	"errors"
	"net/http"
)

// ErrorKind classifies why a render request failed.
type ErrorKind int

const (
	// MissingTemplate means no template file was uploaded or it was empty.
	MissingTemplate ErrorKind = iota + 1
	// InvalidPayload means the data field could not be decoded.
	InvalidPayload
	// RenderFailure covers loading, rendering and serializing the document.
	RenderFailure
	// TemplateTooLarge means the template exceeds the configured size limit.
	TemplateTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case MissingTemplate:
		return "missing_template"
	case InvalidPayload:
		return "invalid_payload"
	case RenderFailure:
		return "render_failure"
	case TemplateTooLarge:
		return "template_too_large"
	}
	return "unknown"
}

// Status is the HTTP status code reported for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case MissingTemplate, InvalidPayload:
		return http.StatusBadRequest
	case TemplateTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Title is the short category sent as "error" in responses.
func (k ErrorKind) Title() string {
	switch k {
	case MissingTemplate:
		return "No template file received"
	case InvalidPayload:
		return "Invalid JSON data"
	case TemplateTooLarge:
		return "Template too large"
	}
	return "Failed to render document"
}

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	// Stage is the render step that failed. Only set for RenderFailure and
	// only used for logging; responses do not tell the stages apart.
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Title()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Response builds the JSON body for e.
func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: e.Kind.Title(), Details: e.Error()}
}

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// AsError classifies err. Anything that is not already an *Error is a
// RenderFailure.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: RenderFailure, Err: err}
}

// ErrTemplateFieldMissing is the detail sent with MissingTemplate.
var ErrTemplateFieldMissing = errors.New(`upload the DOCX template in the "` + TemplateField + `" form field`)
