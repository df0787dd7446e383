package docx

import "fmt"

// Renderer turns template bytes and a data mapping into a rendered document.
type Renderer interface {
	Render(template []byte, data map[string]any) ([]byte, error)
}

// Engine is the Renderer backed by this package. Errors are *StageError
// values naming the failed step.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine using opts for every render.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Render loads, renders and serializes one template. A panic inside the
// engine is reported as a render stage error.
func (e *Engine) Render(template []byte, data map[string]any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &StageError{Stage: StageRender, Err: fmt.Errorf("internal render error: %v", r)}
		}
	}()

	pkg, err := LoadLimit(template, e.opts.MaxUncompressedBytes)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}
	if err := pkg.Render(data, e.opts); err != nil {
		return nil, &StageError{Stage: StageRender, Err: err}
	}
	out, err = pkg.Bytes()
	if err != nil {
		return nil, &StageError{Stage: StageSerialize, Err: err}
	}
	return out, nil
}
