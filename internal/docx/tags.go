package docx

import (
	"errors"
	"strings"

	"github.com/beevik/etree"
)

// tagAttr marks a run that holds exactly one template tag. Its value is the
// tag content without delimiters. Rendering removes every marked run.
const tagAttr = "docx-renderer-tag"

type tagKind int

const (
	tagValue tagKind = iota
	tagSection
	tagInverted
	tagClose
)

type tag struct {
	kind tagKind
	name string
	raw  string
	run  *etree.Element
}

func parseTag(raw string, run *etree.Element) tag {
	t := tag{raw: raw, run: run}
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "#"):
		t.kind = tagSection
		s = s[1:]
	case strings.HasPrefix(s, "^"):
		t.kind = tagInverted
		s = s[1:]
	case strings.HasPrefix(s, "/"):
		t.kind = tagClose
		s = s[1:]
	}
	t.name = strings.TrimSpace(s)
	return t
}

func (t tag) opens() bool { return t.kind == tagSection || t.kind == tagInverted }

type span struct {
	start, end int
}

// scanTags finds the tags in the text of one paragraph. Offsets include the
// delimiters.
func scanTags(text string, opts Options) ([]span, error) {
	d := opts.delimiters()
	var spans []span

	for i := 0; i < len(text); {
		open := indexFrom(text, d.Start, i)
		closing := indexFrom(text, d.End, i)

		if closing >= 0 && (open < 0 || closing < open) {
			if !opts.AllowUnopenedTag {
				return nil, &TemplateError{Tag: excerpt(text, closing), Reason: "unopened tag"}
			}
			i = closing + len(d.End)
			continue
		}
		if open < 0 {
			break
		}

		end := indexFrom(text, d.End, open+len(d.Start))
		if end < 0 {
			if !opts.AllowUnclosedTag {
				return nil, &TemplateError{Tag: excerpt(text, open), Reason: "unclosed tag"}
			}
			break
		}
		if next := indexFrom(text, d.Start, open+len(d.Start)); next >= 0 && next < end {
			if !opts.AllowUnclosedTag {
				return nil, &TemplateError{Tag: excerpt(text, open), Reason: "unclosed tag"}
			}
			i = next
			continue
		}

		if strings.TrimSpace(text[open+len(d.Start):end]) != "" {
			spans = append(spans, span{start: open, end: end + len(d.End)})
		}
		i = end + len(d.End)
	}
	return spans, nil
}

func indexFrom(s, sub string, from int) int {
	if from >= len(s) {
		return -1
	}
	idx := strings.Index(s[from:], sub)
	if idx < 0 {
		return -1
	}
	return idx + from
}

func excerpt(s string, at int) string {
	const max = 20
	end := at + max
	if end > len(s) {
		end = len(s)
	}
	return s[at:end]
}

type segment struct {
	text  string
	isTag bool
}

// isolateTags rewrites the runs of a paragraph so that each tag lives alone in
// its own run, marked with tagAttr. Tags split over several runs are merged
// into the run where they start; the run properties of that run are kept.
func (r *partRenderer) isolateTags(para *etree.Element) error {
	texts := r.paragraphTexts(para)
	if len(texts) == 0 {
		return nil
	}

	var sb strings.Builder
	offsets := make([]int, len(texts)+1)
	for i, t := range texts {
		offsets[i] = sb.Len()
		sb.WriteString(t.Text())
	}
	offsets[len(texts)] = sb.Len()
	full := sb.String()

	spans, err := scanTags(full, r.opts)
	if err != nil {
		var te *TemplateError
		if errors.As(err, &te) {
			te.Part = r.name
		}
		return err
	}
	if len(spans) == 0 {
		return nil
	}

	affected := make(map[*etree.Element][]segment)
	for i, t := range texts {
		ns, ne := offsets[i], offsets[i+1]
		var segs []segment
		cursor := ns
		touched := false
		for _, s := range spans {
			if s.end <= ns || s.start >= ne {
				continue
			}
			touched = true
			if s.start > cursor {
				segs = append(segs, segment{text: full[cursor:s.start]})
			}
			if s.start >= ns {
				segs = append(segs, segment{text: full[s.start:s.end], isTag: true})
			}
			if s.end > cursor {
				cursor = min(s.end, ne)
			}
		}
		if !touched {
			continue
		}
		if cursor < ne {
			segs = append(segs, segment{text: full[cursor:ne]})
		}
		affected[t] = segs
	}

	runs := make([]*etree.Element, 0)
	seen := make(map[*etree.Element]bool)
	for _, t := range texts {
		if _, ok := affected[t]; !ok {
			continue
		}
		run := t.Parent()
		if !seen[run] {
			seen[run] = true
			runs = append(runs, run)
		}
	}
	for _, run := range runs {
		r.splitRun(run, affected)
	}
	return nil
}

// paragraphTexts returns the w:t elements of the runs that belong to para,
// without descending into nested paragraphs such as text boxes.
func (r *partRenderer) paragraphTexts(para *etree.Element) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			switch {
			case r.is(child, "p"):
				continue
			case r.is(child, "t") && r.is(el, "r"):
				out = append(out, child)
			default:
				walk(child)
			}
		}
	}
	walk(para)
	return out
}

func (r *partRenderer) splitRun(run *etree.Element, affected map[*etree.Element][]segment) {
	parent := run.Parent()
	if parent == nil {
		return
	}
	rPr := run.SelectElement(r.w + ":rPr")

	var pieces []*etree.Element
	pending, pendingUsed := r.newRun(rPr), false
	flush := func() {
		if pendingUsed {
			pieces = append(pieces, pending)
		}
		pending, pendingUsed = r.newRun(rPr), false
	}

	children := append([]etree.Token(nil), run.Child...)
	for _, tok := range children {
		el, ok := tok.(*etree.Element)
		if ok && el == rPr {
			continue
		}
		segs, hit := affected[el]
		if !ok || !hit {
			pending.AddChild(tok)
			pendingUsed = pendingUsed || ok
			continue
		}
		flush()
		for _, seg := range segs {
			if seg.text == "" {
				continue
			}
			piece := r.newRun(rPr)
			piece.AddChild(r.newText(seg.text))
			if seg.isTag {
				d := r.opts.delimiters()
				inner := strings.TrimSuffix(strings.TrimPrefix(seg.text, d.Start), d.End)
				piece.CreateAttr(tagAttr, inner)
			}
			pieces = append(pieces, piece)
		}
	}
	flush()

	idx := run.Index()
	parent.RemoveChildAt(idx)
	for i, piece := range pieces {
		parent.InsertChildAt(idx+i, piece)
	}
}

func (r *partRenderer) newRun(rPr *etree.Element) *etree.Element {
	run := etree.NewElement(r.w + ":r")
	if rPr != nil {
		run.AddChild(rPr.Copy())
	}
	return run
}

func (r *partRenderer) newText(s string) *etree.Element {
	t := etree.NewElement(r.w + ":t")
	t.CreateAttr("xml:space", "preserve")
	t.SetText(s)
	return t
}
