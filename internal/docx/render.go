package docx

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

type partRenderer struct {
	name string
	opts Options
	// w is the prefix bound to the WordprocessingML namespace in this part.
	w string
}

func renderPart(name string, src []byte, data map[string]any, opts Options) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(src); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%s: no root element", name)
	}

	r := &partRenderer{name: name, opts: opts, w: wordPrefix(root)}
	for _, para := range r.paragraphs(root) {
		if err := r.isolateTags(para); err != nil {
			return nil, err
		}
	}
	if err := r.renderTree(root, &scope{value: data}); err != nil {
		return nil, err
	}
	r.stripMarkers(root)

	return doc.WriteToBytes()
}

func wordPrefix(root *etree.Element) string {
	for _, a := range root.Attr {
		if a.Space == "xmlns" && a.Value == wordNamespace {
			return a.Key
		}
	}
	if root.Space != "" {
		return root.Space
	}
	return "w"
}

func (r *partRenderer) is(el *etree.Element, local string) bool {
	return el != nil && el.Space == r.w && el.Tag == local
}

func (r *partRenderer) paragraphs(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if r.is(el, "p") {
			out = append(out, el)
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(root)
	return out
}

// collectTags returns the tag runs below root in document order.
func (r *partRenderer) collectTags(root *etree.Element) []tag {
	var out []tag
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			if a := child.SelectAttr(tagAttr); a != nil && r.is(child, "r") {
				out = append(out, parseTag(a.Value, child))
				continue
			}
			walk(child)
		}
	}
	walk(root)
	return out
}

// renderTree resolves the tags below root one at a time, always starting with
// the first remaining one. Every step removes at least one tag run.
func (r *partRenderer) renderTree(root *etree.Element, sc *scope) error {
	for {
		tags := r.collectTags(root)
		if len(tags) == 0 {
			return nil
		}

		first := tags[0]
		switch first.kind {
		case tagValue:
			if err := r.fillValue(first, sc); err != nil {
				return err
			}
		case tagClose:
			return &TemplateError{Part: r.name, Tag: first.raw, Reason: "unopened section"}
		default:
			end, err := r.matchClose(tags)
			if err != nil {
				return err
			}
			if err := r.expandSection(root, first, tags[end], sc); err != nil {
				return err
			}
		}
	}
}

func (r *partRenderer) matchClose(tags []tag) (int, error) {
	depth := 0
	for i, t := range tags {
		switch {
		case t.opens():
			depth++
		case t.kind == tagClose:
			depth--
			if depth == 0 {
				if t.name != "" && t.name != tags[0].name {
					return 0, &TemplateError{
						Part:   r.name,
						Tag:    t.raw,
						Reason: fmt.Sprintf("section %q closed by", tags[0].name),
					}
				}
				return i, nil
			}
		}
	}
	return 0, &TemplateError{Part: r.name, Tag: tags[0].raw, Reason: "unclosed section"}
}

func (r *partRenderer) fillValue(t tag, sc *scope) error {
	v, ok := sc.lookup(t.name)
	if !ok && r.opts.ErrorOnMissingTags {
		return &TemplateError{Part: r.name, Tag: t.raw, Reason: "no data for tag"}
	}

	run := t.run
	text := formatValue(v)
	if text == "" {
		removeElement(run)
		return nil
	}

	run.RemoveAttr(tagAttr)
	for _, old := range run.SelectElements(r.w + ":t") {
		run.RemoveChild(old)
	}

	lines := []string{text}
	if r.opts.Linebreaks {
		lines = strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	}
	for i, line := range lines {
		if i > 0 {
			run.CreateElement(r.w + ":br")
		}
		if line != "" {
			run.AddChild(r.newText(line))
		}
	}
	return nil
}

// expandSection replaces the content between two matching section tags with
// one rendered copy per iteration. The repeated unit depends on where the tags
// sit: runs inside one paragraph, the table row holding both tags, or the
// block elements from the opening to the closing paragraph.
func (r *partRenderer) expandSection(root *etree.Element, open, closing tag, sc *scope) error {
	lca := commonAncestor(open.run, closing.run, root)
	if lca == nil {
		return &TemplateError{Part: r.name, Tag: open.raw, Reason: "section crosses part boundary"}
	}

	openPara := r.enclosing(open.run, "p", root)
	closePara := r.enclosing(closing.run, "p", root)

	var (
		container *etree.Element
		unit      []etree.Token
		anchor    int
	)

	switch {
	case openPara == closePara:
		// Both tags in one paragraph, or both directly below root when root
		// holds a copy of an inline section body.
		a := childContaining(lca, open.run)
		b := childContaining(lca, closing.run)
		if a != open.run {
			splitAfter(a, open.run)
		}
		if b != closing.run {
			splitBefore(b, closing.run)
		}
		ia, ib := a.Index(), b.Index()
		unit = detach(lca, ia+1, ib)
		removeElement(open.run)
		removeElement(closing.run)
		container, anchor = lca, ia
		if a != open.run {
			if len(a.ChildElements()) == 0 {
				removeElement(a)
			} else {
				anchor = ia + 1
			}
		}
		if b != closing.run && len(b.ChildElements()) == 0 {
			removeElement(b)
		}

	case r.sameRow(open.run, closing.run, root) != nil:
		row := r.sameRow(open.run, closing.run, root)
		removeElement(open.run)
		removeElement(closing.run)
		container, anchor = row.Parent(), row.Index()
		unit = detach(container, anchor, anchor+1)

	default:
		a := childContaining(lca, open.run)
		b := childContaining(lca, closing.run)
		from, to := a.Index(), b.Index()+1
		removeElement(open.run)
		removeElement(closing.run)
		if a == open.run {
			to--
		}
		if b == closing.run {
			to--
		}
		dropA := r.opts.ParagraphLoop && a == openPara && r.isBlank(a)
		dropB := r.opts.ParagraphLoop && b == closePara && r.isBlank(b)

		container, anchor = lca, from
		for _, tok := range detach(lca, from, to) {
			if (dropA && tok == etree.Token(a)) || (dropB && tok == etree.Token(b)) {
				continue
			}
			unit = append(unit, tok)
		}
	}

	scopes := sectionScopes(open, sc)
	rendered := make([]etree.Token, 0, len(unit)*len(scopes))
	for _, s := range scopes {
		holder := etree.NewElement("holder")
		for _, tok := range unit {
			if c := copyToken(tok); c != nil {
				holder.AddChild(c)
			}
		}
		if err := r.renderTree(holder, s); err != nil {
			return err
		}
		rendered = append(rendered, holder.Child...)
	}

	for i, tok := range rendered {
		container.InsertChildAt(anchor+i, tok)
	}
	return nil
}

func sectionScopes(open tag, sc *scope) []*scope {
	v, _ := sc.lookup(open.name)

	if open.kind == tagInverted {
		if truthy(v) {
			return nil
		}
		return []*scope{sc}
	}

	switch c := v.(type) {
	case []any:
		out := make([]*scope, 0, len(c))
		for _, item := range c {
			out = append(out, sc.push(item))
		}
		return out
	case map[string]any:
		return []*scope{sc.push(c)}
	case bool:
		if c {
			return []*scope{sc}
		}
		return nil
	}
	if !truthy(v) {
		return nil
	}
	return []*scope{sc.push(v)}
}

// isBlank reports whether a paragraph has no visible content left.
func (r *partRenderer) isBlank(p *etree.Element) bool {
	blank := true
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			switch {
			case r.is(child, "t") && child.Text() != "":
				blank = false
			case r.is(child, "drawing"), r.is(child, "pict"), r.is(child, "object"):
				blank = false
			case child.SelectAttr(tagAttr) != nil:
				blank = false
			}
			if !blank {
				return
			}
			walk(child)
		}
	}
	walk(p)
	return blank
}

func (r *partRenderer) enclosing(el *etree.Element, local string, root *etree.Element) *etree.Element {
	for cur := el; cur != nil && cur != root; cur = cur.Parent() {
		if r.is(cur, local) {
			return cur
		}
	}
	return nil
}

// sameRow returns the table row holding both runs when they sit in different
// paragraphs of that row.
func (r *partRenderer) sameRow(a, b, root *etree.Element) *etree.Element {
	row := r.enclosing(a, "tr", root)
	if row == nil || row != r.enclosing(b, "tr", root) {
		return nil
	}
	if r.enclosing(a, "p", root) == r.enclosing(b, "p", root) {
		return nil
	}
	// Tags in a nested table belong to the inner row.
	if inner := r.enclosing(commonAncestor(a, b, root), "tr", root); inner != row {
		return nil
	}
	return row
}

func (r *partRenderer) stripMarkers(root *etree.Element) {
	for _, t := range r.collectTags(root) {
		removeElement(t.run)
	}
}

func commonAncestor(a, b, root *etree.Element) *etree.Element {
	seen := make(map[*etree.Element]bool)
	for cur := a; cur != nil; cur = cur.Parent() {
		seen[cur] = true
		if cur == root {
			break
		}
	}
	for cur := b; cur != nil; cur = cur.Parent() {
		if seen[cur] {
			return cur
		}
		if cur == root {
			break
		}
	}
	return nil
}

// childContaining returns the direct child of ancestor on the path to el.
func childContaining(ancestor, el *etree.Element) *etree.Element {
	cur := el
	for cur != nil && cur.Parent() != ancestor {
		cur = cur.Parent()
	}
	return cur
}

// detach removes parent.Child[from:to] and returns the removed tokens.
func detach(parent *etree.Element, from, to int) []etree.Token {
	if from >= to {
		return nil
	}
	out := append([]etree.Token(nil), parent.Child[from:to]...)
	for range out {
		parent.RemoveChildAt(from)
	}
	return out
}

// splitAfter moves the children of wrapper that follow el into an empty copy
// of wrapper placed right after it. Wrappers are elements such as w:hyperlink
// that hold runs inside a paragraph.
func splitAfter(wrapper, el *etree.Element) {
	i := childContaining(wrapper, el).Index()
	if i+1 >= len(wrapper.Child) {
		return
	}
	tail := emptyCopy(wrapper)
	for _, tok := range detach(wrapper, i+1, len(wrapper.Child)) {
		tail.AddChild(tok)
	}
	wrapper.Parent().InsertChildAt(wrapper.Index()+1, tail)
}

// splitBefore moves the children of wrapper that precede el into an empty
// copy of wrapper placed right before it.
func splitBefore(wrapper, el *etree.Element) {
	i := childContaining(wrapper, el).Index()
	if i == 0 {
		return
	}
	head := emptyCopy(wrapper)
	for _, tok := range detach(wrapper, 0, i) {
		head.AddChild(tok)
	}
	wrapper.Parent().InsertChildAt(wrapper.Index(), head)
}

func emptyCopy(el *etree.Element) *etree.Element {
	cp := el.Copy()
	for len(cp.Child) > 0 {
		cp.RemoveChildAt(0)
	}
	return cp
}

func removeElement(el *etree.Element) {
	if p := el.Parent(); p != nil {
		p.RemoveChild(el)
	}
}

func copyToken(tok etree.Token) etree.Token {
	switch t := tok.(type) {
	case *etree.Element:
		return t.Copy()
	case *etree.CharData:
		return etree.NewCharData(t.Data)
	case *etree.Comment:
		return etree.NewComment(t.Data)
	}
	return nil
}
