package htmlnorm

import "smm-publisher/domain/model"

// Dialect is the markup subset one platform accepts.
type Dialect struct {
	Name    string
	allowed map[string]bool
	// markup dialects emit allowed tags and escape text; the others emit plain text.
	markup bool
}

var (
	// Telegram is the Bot API parse_mode=HTML subset.
	Telegram = Dialect{
		Name:    "telegram",
		markup:  true,
		allowed: tagSet("b", "i", "u", "s", "code", "pre", "a"),
	}
	// PlainText renders no tags; anchors become "text (href)".
	PlainText = Dialect{Name: "plain", allowed: map[string]bool{}}
)

func (d Dialect) Allows(tag string) bool {
	return d.allowed[tag]
}

func (d Dialect) Markup() bool { return d.markup }

// ForPlatform returns the dialect used for a platform's text or caption.
func ForPlatform(p model.Platform) Dialect {
	if p == model.PlatformTelegram {
		return Telegram
	}
	return PlainText
}

var canonicalTags = map[string]string{
	"strong": "b",
	"em":     "i",
	"ins":    "u",
	"strike": "s",
	"del":    "s",
}

func canonical(tag string) string {
	if c, ok := canonicalTags[tag]; ok {
		return c
	}
	return tag
}

// block elements and the separator written when they close
var blockSuffix = map[string]string{
	"p":          "\n\n",
	"h1":         "\n\n",
	"h2":         "\n\n",
	"h3":         "\n\n",
	"h4":         "\n\n",
	"h5":         "\n\n",
	"h6":         "\n\n",
	"div":        "\n",
	"section":    "\n",
	"article":    "\n",
	"header":     "\n",
	"footer":     "\n",
	"nav":        "\n",
	"aside":      "\n",
	"blockquote": "\n",
	"tr":         "\n",
	"ul":         "\n",
	"ol":         "\n",
	"li":         "\n",
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

// inline tags the normalizer understands; anything else is stripped with its text kept
var inlineTags = tagSet("b", "i", "u", "s", "code", "pre", "a")

// raw-text elements whose content is not visible
var hiddenTags = tagSet("script", "style", "head", "title", "template")

func tagSet(tags ...string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}
