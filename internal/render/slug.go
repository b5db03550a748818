package render

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/yuin/goldmark/ast"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes accented characters and removes the combining marks,
// so "Résumé" slugs to "resume" instead of being dropped.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a heading title to a URL-safe anchor. Letters and digits
// of any script are kept, everything else collapses to single hyphens.
func Slugify(title string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "section"
	}
	return slug
}

// slugIDs implements parser.IDs with Unicode-aware slugs and per-document
// deduplication.
type slugIDs struct {
	used map[string]bool
}

func newSlugIDs() *slugIDs {
	return &slugIDs{used: make(map[string]bool)}
}

func (s *slugIDs) Generate(value []byte, kind ast.NodeKind) []byte {
	slug := Slugify(string(value))
	if s.used[slug] {
		base := slug
		for i := 1; ; i++ {
			slug = base + "-" + strconv.Itoa(i)
			if !s.used[slug] {
				break
			}
		}
	}
	s.used[slug] = true
	return []byte(slug)
}

func (s *slugIDs) Put(value []byte) {}
