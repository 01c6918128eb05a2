// Package htmlnorm converts rich-text HTML into the markup subset a social
// platform accepts, repairing unbalanced and misnested tags on the way.
package htmlnorm

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"smm-publisher/infrastructure/logger"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	schemeRe     = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.\-]*):`)
	textEscaper  = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	strictPolicy = bluemonday.StrictPolicy()
)

var linkSchemes = tagSet("http", "https", "mailto", "tel", "tg")

type openTag struct {
	name string
	href string
	emit bool
	// start of the anchor text in the output, for plain-text link rendering
	textStart int
}

type blockCtx struct {
	name  string
	depth int
}

type listCtx struct {
	ordered bool
	n       int
}

type normalizer struct {
	d      Dialect
	out    strings.Builder
	last   byte
	open   []openTag
	blocks []blockCtx
	lists  []listCtx
	hidden int
	// whitespace held back until the next inline content
	pending string
}

// Normalize rewrites src into dialect d. It never fails: when the input
// cannot be tokenized the result is src with every tag removed.
func Normalize(src string, d Dialect) (result string) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithField("dialect", d.Name).WithField("panic", fmt.Sprint(r)).Error("HTML normalization panicked, stripping all tags")
			result = stripAll(src, d)
		}
	}()

	n := &normalizer{d: d}
	out, err := n.run(src)
	if err != nil {
		logger.GetLogger().WithField("dialect", d.Name).WithField("error", err).Warn("HTML tokenizer failed, stripping all tags")
		return stripAll(src, d)
	}
	return out
}

// VisibleText returns s with every tag removed and entities decoded.
func VisibleText(s string) string {
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

func stripAll(src string, d Dialect) string {
	s := VisibleText(src)
	if d.markup {
		s = textEscaper.Replace(s)
	}
	return s
}

func (n *normalizer) run(src string) (string, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return n.finish(), nil
			}
			return "", z.Err()
		case html.TextToken:
			n.text(z.Token().Data)
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			n.start(tok, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			n.end(z.Token().Data)
		}
	}
}

func (n *normalizer) write(s string) {
	if s == "" {
		return
	}
	n.out.WriteString(s)
	n.last = s[len(s)-1]
}

func (n *normalizer) atLineStart() bool {
	return n.out.Len() == 0 || n.last == '\n'
}

func (n *normalizer) lineBreak() {
	n.pending = ""
	if !n.atLineStart() {
		n.write("\n")
	}
}

func (n *normalizer) inPre() bool {
	for _, t := range n.open {
		if t.name == "pre" {
			return true
		}
	}
	return false
}

func (n *normalizer) text(s string) {
	if n.hidden > 0 {
		return
	}
	if strings.TrimSpace(s) == "" && !n.inPre() {
		n.hold(s)
		return
	}
	n.flush()
	if n.d.markup {
		s = textEscaper.Replace(s)
	}
	n.write(s)
}

// hold keeps whitespace-only text until it is known whether inline content
// follows it. A source newline between inline elements stays a line break;
// whitespace next to a block boundary is dropped.
func (n *normalizer) hold(s string) {
	if n.atLineStart() {
		return
	}
	if strings.Contains(s, "\n") {
		n.pending = "\n"
	} else if n.pending == "" {
		n.pending = " "
	}
}

func (n *normalizer) flush() {
	if n.pending != "" {
		n.write(n.pending)
		n.pending = ""
	}
}

func (n *normalizer) start(tok html.Token, selfClosing bool) {
	name := canonical(tok.Data)
	if hiddenTags[name] {
		if !selfClosing {
			n.hidden++
		}
		return
	}
	switch {
	case name == "br":
		n.pending = ""
		n.write("\n")
	case blockSuffix[name] != "":
		if selfClosing {
			n.lineBreak()
			return
		}
		n.openBlock(name)
	case inlineTags[name]:
		if !selfClosing {
			n.openInline(name, tok.Attr)
		}
	}
}

func (n *normalizer) end(tag string) {
	name := canonical(tag)
	if hiddenTags[name] {
		if n.hidden > 0 {
			n.hidden--
		}
		return
	}
	switch {
	case name == "br":
		n.pending = ""
		n.write("\n")
	case blockSuffix[name] != "":
		n.closeBlock(name)
	case inlineTags[name]:
		idx := -1
		for i := len(n.open) - 1; i >= 0; i-- {
			if n.open[i].name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			logger.GetLogger().WithField("tag", name).Warn("Dropping closing tag without matching open tag")
			return
		}
		n.closeTo(idx)
	}
}

func (n *normalizer) openBlock(name string) {
	n.lineBreak()
	n.blocks = append(n.blocks, blockCtx{name: name, depth: len(n.open)})
	switch {
	case name == "ul":
		n.lists = append(n.lists, listCtx{})
	case name == "ol":
		n.lists = append(n.lists, listCtx{ordered: true})
	case name == "li":
		n.write(n.bullet())
	case isHeading(name) && n.d.Allows("b"):
		n.openInline("b", nil)
	}
}

func (n *normalizer) closeBlock(name string) {
	n.pending = ""
	idx := -1
	for i := len(n.blocks) - 1; i >= 0; i-- {
		if n.blocks[i].name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		logger.GetLogger().WithField("tag", name).Warn("Dropping closing tag without matching open tag")
		return
	}
	for len(n.blocks) > idx {
		ctx := n.blocks[len(n.blocks)-1]
		n.blocks = n.blocks[:len(n.blocks)-1]
		n.closeTo(ctx.depth)
		if (ctx.name == "ul" || ctx.name == "ol") && len(n.lists) > 0 {
			n.lists = n.lists[:len(n.lists)-1]
		}
		n.write(blockSuffix[ctx.name])
	}
}

func (n *normalizer) bullet() string {
	if len(n.lists) == 0 {
		return "• "
	}
	l := &n.lists[len(n.lists)-1]
	if !l.ordered {
		return "• "
	}
	l.n++
	return strconv.Itoa(l.n) + ". "
}

func (n *normalizer) openInline(name string, attrs []html.Attribute) {
	n.flush()
	t := openTag{name: name, emit: n.d.Allows(name) && n.nestable(name)}
	if name == "a" {
		t.href = coerceHref(attr(attrs, "href"))
		if t.href == "" {
			t.emit = false
		}
		t.textStart = n.out.Len()
	}
	n.open = append(n.open, t)
	if !t.emit {
		return
	}
	if name == "a" {
		n.write(`<a href="` + html.EscapeString(t.href) + `">`)
		return
	}
	n.write("<" + name + ">")
}

// nestable reports whether name may be emitted inside the tags emitted so
// far: links do not nest, code holds no tags, pre holds only code.
func (n *normalizer) nestable(name string) bool {
	for i := len(n.open) - 1; i >= 0; i-- {
		t := n.open[i]
		if !t.emit {
			continue
		}
		switch t.name {
		case "code":
			return false
		case "pre":
			return name == "code"
		case "a":
			if name == "a" {
				return false
			}
		}
	}
	return true
}

// closeTo closes open inline tags innermost-first until depth remain.
func (n *normalizer) closeTo(depth int) {
	for len(n.open) > depth {
		t := n.open[len(n.open)-1]
		n.open = n.open[:len(n.open)-1]
		if t.emit {
			n.write("</" + t.name + ">")
			continue
		}
		if t.name == "a" && t.href != "" && !n.d.markup {
			n.writeLinkTarget(t)
		}
	}
}

func (n *normalizer) writeLinkTarget(t openTag) {
	text := strings.TrimSpace(n.out.String()[t.textStart:])
	if text == "" {
		n.write(t.href)
		return
	}
	if text == t.href || "https://"+text == t.href || "http://"+text == t.href {
		return
	}
	n.write(" (" + t.href + ")")
}

func (n *normalizer) finish() string {
	n.pending = ""
	n.closeTo(0)
	s := multiNewline.ReplaceAllString(n.out.String(), "\n\n")
	return strings.TrimLeft(s, "\n")
}

func attr(attrs []html.Attribute, key string) string {
	for _, a := range attrs {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// coerceHref returns an absolute link target, or "" when the href cannot be
// used as one (relative paths, script schemes).
func coerceHref(h string) string {
	h = strings.TrimSpace(h)
	if h == "" || strings.HasPrefix(h, "#") {
		return ""
	}
	if strings.HasPrefix(h, "//") {
		return "https:" + h
	}
	if strings.HasPrefix(h, "/") {
		return ""
	}
	if m := schemeRe.FindStringSubmatch(h); m != nil {
		scheme := strings.ToLower(m[1])
		if linkSchemes[scheme] {
			return h
		}
		// host:port without a scheme
		if !strings.Contains(scheme, ".") {
			return ""
		}
	}
	return "https://" + h
}
