package domain

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	// ServiceName identifies the service in health responses and logs.
	ServiceName = "docx-renderer"

	// TemplateField is the multipart field carrying the template file.
	TemplateField = "template"
	// DataField is the field carrying the JSON data.
	DataField = "data"

	// DocxContentType is the MIME type of rendered documents.
	DocxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	// RenderedFilename is the attachment name of rendered documents.
	RenderedFilename = "rendered-document.docx"
)

var (
	// ErrPayloadNotObject is returned when data decodes to something other than an object.
	ErrPayloadNotObject = errors.New("data must be a JSON object")
	// ErrTrailingData is returned when data holds more than one JSON value.
	ErrTrailingData = errors.New("unexpected data after the JSON value")
)

// DecodeJSON decodes exactly one JSON value from raw into v. Numbers are kept
// as json.Number so they render exactly as sent.
func DecodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return nil
}

// PayloadKind tells how the data field arrived.
type PayloadKind int

const (
	// PayloadAbsent means the request had no data field.
	PayloadAbsent PayloadKind = iota
	// PayloadRawJSON means data arrived as JSON text.
	PayloadRawJSON
	// PayloadStructured means data arrived already decoded.
	PayloadStructured
)

// Payload is the data field before it is normalized to a mapping.
type Payload struct {
	Kind       PayloadKind
	Raw        string
	Structured map[string]any
}

// Absent is the payload of a request without a data field.
func Absent() Payload { return Payload{Kind: PayloadAbsent} }

// RawJSONText is a payload carried as JSON-encoded text.
func RawJSONText(s string) Payload { return Payload{Kind: PayloadRawJSON, Raw: s} }

// StructuredPayload is a payload that was already decoded.
func StructuredPayload(m map[string]any) Payload {
	return Payload{Kind: PayloadStructured, Structured: m}
}

// Resolve normalizes the payload to a mapping. Absent and null payloads give
// an empty mapping. Invalid JSON and non-object values are InvalidPayload
// errors.
func (p Payload) Resolve() (map[string]any, error) {
	switch p.Kind {
	case PayloadStructured:
		if p.Structured == nil {
			return map[string]any{}, nil
		}
		return p.Structured, nil
	case PayloadRawJSON:
		var v any
		if err := DecodeJSON([]byte(p.Raw), &v); err != nil {
			return nil, NewError(InvalidPayload, err)
		}
		switch m := v.(type) {
		case nil:
			return map[string]any{}, nil
		case map[string]any:
			return m, nil
		default:
			return nil, NewError(InvalidPayload, fmt.Errorf("%w, got %T", ErrPayloadNotObject, v))
		}
	}
	return map[string]any{}, nil
}

// RenderRequest is a validated request ready for rendering.
type RenderRequest struct {
	Template []byte
	Data     map[string]any
}

// RenderResult is a rendered document with its response metadata.
type RenderResult struct {
	Document    []byte
	ContentType string
	Filename    string
}

// NewRenderResult wraps a rendered document with the fixed response metadata.
func NewRenderResult(doc []byte) RenderResult {
	return RenderResult{Document: doc, ContentType: DocxContentType, Filename: RenderedFilename}
}

// ContentDisposition is the Content-Disposition header value for the result.
func (r RenderResult) ContentDisposition() string {
	return `attachment; filename="` + r.Filename + `"`
}
