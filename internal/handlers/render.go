package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"docx-renderer/internal/config"
	"docx-renderer/internal/docx"
	"docx-renderer/internal/domain"
	"docx-renderer/internal/infra/cache"
	"docx-renderer/internal/infra/logging"
	"docx-renderer/internal/infra/metrics"
)

// RenderService bundles configuration and dependencies for document rendering.
type RenderService struct {
	Config   *config.Config
	Renderer docx.Renderer
	// Cache is optional. When nil every request is rendered.
	Cache   *cache.RenderCache
	Metrics *metrics.Metrics
}

// NewRenderService creates a new RenderService instance.
func NewRenderService(cfg config.Config, r docx.Renderer, rc *cache.RenderCache, m *metrics.Metrics) *RenderService {
	return &RenderService{
		Config:   &cfg,
		Renderer: r,
		Cache:    rc,
		Metrics:  m,
	}
}

// jsonRenderBody is the body accepted when the request is sent as JSON.
// Template is base64 encoded.
type jsonRenderBody struct {
	Template []byte          `json:"template"`
	Data     json.RawMessage `json:"data"`
}

// HandleRender renders the uploaded template with the request data and
// returns the document as an attachment.
func (svc *RenderService) HandleRender(c *fiber.Ctx) error {
	req, err := svc.validateInput(c)
	if err != nil {
		return svc.fail(c, err)
	}

	result, err := svc.render(c, req)
	if err != nil {
		return svc.fail(c, err)
	}
	return respondBinary(c, result)
}

// validateInput extracts the template and the data mapping from either a
// multipart form or a JSON body.
func (svc *RenderService) validateInput(c *fiber.Ctx) (domain.RenderRequest, error) {
	var (
		template []byte
		payload  domain.Payload
		err      error
	)
	if c.Is("json") {
		template, payload, err = readJSONBody(c.Body())
	} else {
		template, payload, err = svc.readMultipart(c)
	}
	if err != nil {
		return domain.RenderRequest{}, err
	}

	if len(template) == 0 {
		return domain.RenderRequest{}, domain.NewError(domain.MissingTemplate, domain.ErrTemplateFieldMissing)
	}
	if err := svc.checkSize(int64(len(template))); err != nil {
		return domain.RenderRequest{}, err
	}

	data, err := payload.Resolve()
	if err != nil {
		return domain.RenderRequest{}, err
	}
	return domain.RenderRequest{Template: template, Data: data}, nil
}

func (svc *RenderService) checkSize(n int64) error {
	limit := svc.Config.Limits.MaxTemplateBytes
	if limit > 0 && n > int64(limit) {
		return domain.NewError(domain.TemplateTooLarge,
			fmt.Errorf("template is %d bytes, the limit is %d", n, limit))
	}
	return nil
}

func (svc *RenderService) readMultipart(c *fiber.Ctx) ([]byte, domain.Payload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// Not a multipart request at all, so there is no file either.
		return nil, domain.Absent(), domain.NewError(domain.MissingTemplate, domain.ErrTemplateFieldMissing)
	}

	payload := domain.Absent()
	if values, ok := form.Value[domain.DataField]; ok && len(values) > 0 {
		payload = domain.RawJSONText(values[0])
	}

	files := form.File[domain.TemplateField]
	if len(files) == 0 || files[0].Size == 0 {
		return nil, payload, domain.NewError(domain.MissingTemplate, domain.ErrTemplateFieldMissing)
	}
	if err := svc.checkSize(files[0].Size); err != nil {
		return nil, payload, err
	}

	template, err := readFile(files[0])
	if err != nil {
		return nil, payload, &domain.Error{Kind: domain.RenderFailure, Stage: string(docx.StageLoad), Err: err}
	}
	return template, payload, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func readJSONBody(body []byte) ([]byte, domain.Payload, error) {
	var in jsonRenderBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, domain.Absent(), domain.NewError(domain.InvalidPayload, err)
	}
	payload, err := payloadFromJSON(in.Data)
	if err != nil {
		return nil, domain.Absent(), err
	}
	return in.Template, payload, nil
}

// payloadFromJSON accepts data either as an object or as a string holding
// JSON text.
func payloadFromJSON(raw json.RawMessage) (domain.Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.Absent(), nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return domain.Payload{}, domain.NewError(domain.InvalidPayload, err)
		}
		return domain.RawJSONText(s), nil
	case '{':
		var m map[string]any
		if err := domain.DecodeJSON(trimmed, &m); err != nil {
			return domain.Payload{}, domain.NewError(domain.InvalidPayload, err)
		}
		return domain.StructuredPayload(m), nil
	}
	return domain.Payload{}, domain.NewError(domain.InvalidPayload, domain.ErrPayloadNotObject)
}

// render serves the document from the cache when possible and renders it otherwise.
func (svc *RenderService) render(c *fiber.Ctx, req domain.RenderRequest) (domain.RenderResult, error) {
	var key string
	if svc.Cache != nil {
		k, err := cache.Key(req.Template, req.Data)
		if err != nil {
			logging.Warn("Render cache key failed", "error", err)
		} else {
			key = k
			if doc, ok := svc.Cache.Get(c.UserContext(), key); ok {
				svc.Metrics.ObserveRender(metrics.OutcomeCached, 0)
				return domain.NewRenderResult(doc), nil
			}
		}
	}

	start := time.Now()
	doc, err := svc.Renderer.Render(req.Template, req.Data)
	if err != nil {
		svc.Metrics.ObserveRender(metrics.OutcomeFailed, time.Since(start))
		return domain.RenderResult{}, classify(err)
	}
	svc.Metrics.ObserveRender(metrics.OutcomeRendered, time.Since(start))

	if key != "" {
		svc.Cache.Set(c.UserContext(), key, doc)
	}
	return domain.NewRenderResult(doc), nil
}

// classify turns an engine failure into a RenderFailure carrying its stage.
// Packages that expand beyond the size limit are TemplateTooLarge.
func classify(err error) *domain.Error {
	var se *docx.StageError
	if errors.As(err, &se) {
		kind := domain.RenderFailure
		if errors.Is(se.Err, docx.ErrArchiveTooLarge) {
			kind = domain.TemplateTooLarge
		}
		return &domain.Error{Kind: kind, Stage: string(se.Stage), Err: se.Err}
	}
	return domain.AsError(err)
}

func respondBinary(c *fiber.Ctx, result domain.RenderResult) error {
	logging.Info("Document rendered", "bytes", len(result.Document), "request_id", requestID(c))

	c.Set(fiber.HeaderContentType, result.ContentType)
	c.Set(fiber.HeaderContentDisposition, result.ContentDisposition())
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(result.Document)))
	return c.Status(fiber.StatusOK).Send(result.Document)
}

// fail logs err with its classification and writes the JSON error response.
func (svc *RenderService) fail(c *fiber.Ctx, err error) error {
	de := domain.AsError(err)
	kv := []any{"kind", de.Kind.String(), "request_id", requestID(c), "error", de.Err}
	if de.Stage != "" {
		kv = append(kv, "stage", de.Stage)
	}
	if de.Kind.Status() >= fiber.StatusInternalServerError {
		logging.Error("Render request failed", kv...)
	} else {
		logging.Warn("Render request rejected", kv...)
	}
	return writeError(c, de)
}

func requestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
