// Package redact is the boundary every piece of text crosses before it
// reaches logs, caches, or persistence. Detected personal-data spans are
// replaced with category-tagged stable hashes; the reversible token map
// never leaves the current turn.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Category tags a redacted span with the kind of data it replaced.
type Category string

const (
	CategoryName  Category = "NAME"
	CategoryPhone Category = "PHONE"
	CategoryDate  Category = "DATE"
	CategoryEmail Category = "EMAIL"
	CategoryID    Category = "ID"
)

// Result carries the sanitized text and the turn-scoped reversible map
// from token to original span. Callers must not persist the map.
type Result struct {
	Text   string
	Tokens map[string]string
}

var (
	// tokenRe matches already-redacted spans so re-redaction is a no-op.
	tokenRe = regexp.MustCompile(`\[(?:NAME|PHONE|DATE|EMAIL|ID):[0-9a-f]{8}\]`)

	phoneRe = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b|\b\d{10}\b`)
	emailRe = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)
	dateRe  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`)
	nameRe  = regexp.MustCompile(`(?i:\b(?:my name is|the name is|this is|i am|i'm|name's)\s+)((?-i:[A-Z][a-zA-Z'-]+)(?:\s+(?-i:[A-Z][a-zA-Z'-]+))*)`)

	// idRe catches bare digit runs the other detectors cannot classify.
	// Fail closed: an unclassifiable identifier is masked, not passed on.
	idRe = regexp.MustCompile(`\b\d{5,}\b`)
)

type span struct {
	start, end int
	category   Category
}

// Redactor sanitizes text. It is stateless and safe for concurrent use.
type Redactor struct{}

func New() *Redactor { return &Redactor{} }

// Sanitize replaces personal-data spans with stable tokens. Idempotent:
// sanitizing already-sanitized text changes nothing.
func (r *Redactor) Sanitize(text string) Result {
	protected := spansOf(tokenRe, text, "")

	var spans []span
	spans = append(spans, spansOf(nameRe, text, CategoryName)...)
	spans = append(spans, spansOf(phoneRe, text, CategoryPhone)...)
	spans = append(spans, spansOf(dateRe, text, CategoryDate)...)
	spans = append(spans, spansOf(emailRe, text, CategoryEmail)...)
	spans = append(spans, spansOf(idRe, text, CategoryID)...)

	spans = dropOverlaps(spans, protected)

	tokens := make(map[string]string)
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.start])
		original := text[sp.start:sp.end]
		token := tokenFor(sp.category, original)
		tokens[token] = original
		b.WriteString(token)
		last = sp.end
	}
	b.WriteString(text[last:])

	return Result{Text: b.String(), Tokens: tokens}
}

// spansOf collects match spans. For the name detector only the capture
// group (the name itself) is redacted, not the introducing phrase.
func spansOf(re *regexp.Regexp, text string, c Category) []span {
	var out []span
	if c == CategoryName {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if m[2] >= 0 {
				out = append(out, span{start: m[2], end: m[3], category: c})
			}
		}
		return out
	}
	for _, m := range re.FindAllStringIndex(text, -1) {
		out = append(out, span{start: m[0], end: m[1], category: c})
	}
	return out
}

// dropOverlaps sorts spans and removes any that overlap an earlier span
// or a protected (already-tokenized) region. The sort is stable so that
// when two detectors claim the same span, detector order decides.
func dropOverlaps(spans, protected []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	var out []span
	lastEnd := -1
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue
		}
		if overlapsAny(sp, protected) {
			continue
		}
		out = append(out, sp)
		lastEnd = sp.end
	}
	return out
}

func overlapsAny(sp span, protected []span) bool {
	for _, p := range protected {
		if sp.start < p.end && p.start < sp.end {
			return true
		}
	}
	return false
}

// tokenFor builds the stable, non-reversible token for a span. The hash
// is keyed on the normalized value so the same datum always yields the
// same token across turns and calls.
func tokenFor(c Category, original string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(original), " "))
	sum := sha256.Sum256([]byte(string(c) + "|" + norm))
	return "[" + string(c) + ":" + hex.EncodeToString(sum[:4]) + "]"
}

// Fingerprint hashes redacted text into a cache key. Input must already
// be sanitized; fingerprints of raw text would leak into cache keys.
func Fingerprint(redacted string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(redacted), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// ContextHash hashes an ordered slice of redacted history lines into a
// single context key for cache sharding.
func ContextHash(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
