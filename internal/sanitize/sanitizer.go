// Package sanitize neutralizes untrusted scrape payloads before they are
// persisted. It never rejects input: markup is stripped, SQL-like fragments
// are removed, strings are bounded, and missing identity fields are
// synthesized so later stages always find an id, a title and a company.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// Canonical identity keys guaranteed on every sanitized payload.
const (
	KeyID      = "id"
	KeyTitle   = "positionName"
	KeyCompany = "company"
)

// Fallback values substituted for missing identity fields.
const (
	UnknownTitle   = "Unknown Position"
	UnknownCompany = "Unknown Company"
)

// Identity key aliases, in lookup order. The first alias is the canonical key.
var (
	IDKeys      = []string{KeyID, "jobId", "externalId", "job_id"}
	TitleKeys   = []string{KeyTitle, "title", "jobTitle", "job_title"}
	CompanyKeys = []string{KeyCompany, "companyName", "company_name"}
)

// Options bounds the sanitizer against resource exhaustion.
type Options struct {
	MaxLength    int // maximum runes kept per string value
	MaxKeyLength int // maximum runes kept per map key
	MaxDepth     int // nested maps/arrays deeper than this are dropped
	MaxItems     int // maximum elements kept per array
}

// DefaultOptions returns the default bounds
func DefaultOptions() Options {
	return Options{
		MaxLength:    20000,
		MaxKeyLength: 128,
		MaxDepth:     6,
		MaxItems:     200,
	}
}

// Result is a sanitized payload plus the identity keys that had to be invented.
type Result struct {
	Payload     map[string]any
	Synthesized []string
}

// Sanitizer cleans payloads. It is safe for concurrent use.
type Sanitizer struct {
	opts  Options
	newID func() string
}

// New creates a sanitizer; zero option fields fall back to defaults.
func New(opts Options) *Sanitizer {
	def := DefaultOptions()
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	if opts.MaxKeyLength <= 0 {
		opts.MaxKeyLength = def.MaxKeyLength
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = def.MaxItems
	}
	return &Sanitizer{
		opts:  opts,
		newID: func() string { return uuid.NewString() },
	}
}

// markup elements whose content is dropped entirely, not just unwrapped
const droppedElements = "script, style, noscript, iframe, object, embed, applet, template, svg, form"

var (
	sqlPatterns = []*regexp.Regexp{
		// statement chaining: "; DROP TABLE", "'; delete from"
		regexp.MustCompile(`(?i)['"]?\s*;\s*(drop|delete|insert|update|select|alter|create|truncate|exec(ute)?|union|grant|revoke|shutdown)\b`),
		// tautologies: ' OR 1=1, " or 'a'='a'
		regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+['"]?`),
		regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
		regexp.MustCompile(`--+`),
		regexp.MustCompile(`/\*|\*/`),
		regexp.MustCompile(`(?i)\b(xp_|sp_)cmdshell\b`),
	}
	schemePattern = regexp.MustCompile(`(?i)\b(javascript|vbscript|data)\s*:`)
)

// Sanitize returns a cleaned copy of raw. It never fails: the worst case is
// a payload holding only the synthesized identity fields.
func (s *Sanitizer) Sanitize(raw map[string]any) Result {
	out := s.cleanMap(raw, 0)
	if out == nil {
		out = make(map[string]any)
	}

	var synthesized []string
	if !hasAny(out, IDKeys) {
		out[KeyID] = s.newID()
		synthesized = append(synthesized, KeyID)
	}
	if !hasAny(out, TitleKeys) {
		out[KeyTitle] = UnknownTitle
		synthesized = append(synthesized, KeyTitle)
	}
	if !hasAny(out, CompanyKeys) {
		out[KeyCompany] = UnknownCompany
		synthesized = append(synthesized, KeyCompany)
	}

	return Result{Payload: out, Synthesized: synthesized}
}

// String cleans one untrusted string value.
func (s *Sanitizer) String(v string) string {
	if !utf8.ValidString(v) {
		v = strings.ToValidUTF8(v, "")
	}

	// Decode, then strip markup, twice: entity-encoded tags become tags after one decode.
	for i := 0; i < 2; i++ {
		if strings.ContainsRune(v, '<') {
			v = stripMarkup(v)
		} else if strings.ContainsRune(v, '&') {
			v = html.UnescapeString(v)
		} else {
			break
		}
	}

	for _, re := range sqlPatterns {
		v = re.ReplaceAllString(v, " ")
	}
	v = schemePattern.ReplaceAllString(v, " ")
	v = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)
	v = strings.Join(strings.Fields(v), " ")

	return truncate(v, s.opts.MaxLength)
}

func (s *Sanitizer) cleanMap(m map[string]any, depth int) map[string]any {
	if depth > s.opts.MaxDepth || len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := truncate(strings.Join(strings.Fields(s.stripKey(k)), "_"), s.opts.MaxKeyLength)
		if key == "" {
			continue
		}
		if cleaned, ok := s.cleanValue(v, depth); ok {
			out[key] = cleaned
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// cleanValue returns the sanitized value and false when it sanitizes to empty.
func (s *Sanitizer) cleanValue(v any, depth int) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		cleaned := s.String(val)
		return cleaned, cleaned != ""
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val, true
	case json.Number:
		// kept as a number literal so large integer ids survive storage exactly
		if _, err := strconv.ParseFloat(val.String(), 64); err != nil {
			cleaned := s.String(val.String())
			return cleaned, cleaned != ""
		}
		return val, true
	case map[string]any:
		cleaned := s.cleanMap(val, depth+1)
		return cleaned, cleaned != nil
	case []any:
		if depth+1 > s.opts.MaxDepth {
			return nil, false
		}
		items := make([]any, 0, len(val))
		for _, item := range val {
			if len(items) >= s.opts.MaxItems {
				break
			}
			if cleaned, ok := s.cleanValue(item, depth+1); ok {
				items = append(items, cleaned)
			}
		}
		return items, len(items) > 0
	case []string:
		items := make([]any, 0, len(val))
		for _, item := range val {
			items = append(items, item)
		}
		return s.cleanValue(items, depth)
	default:
		cleaned := s.String(fmt.Sprint(val))
		return cleaned, cleaned != ""
	}
}

func (s *Sanitizer) stripKey(k string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' || r == ' ' {
			return r
		}
		return -1
	}, k)
}

// stripMarkup parses v as an HTML fragment, drops active content and returns the text.
func stripMarkup(v string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(v))
	if err != nil {
		// The HTML parser is lenient; fall back to removing angle brackets.
		return strings.NewReplacer("<", " ", ">", " ").Replace(v)
	}
	doc.Find(droppedElements).Remove()
	// block boundaries would otherwise glue words together
	doc.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return doc.Text()
}

func hasAny(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if str, isStr := v.(string); !isStr || str != "" {
				return true
			}
		}
	}
	return false
}

func truncate(v string, max int) string {
	if max <= 0 || utf8.RuneCountInString(v) <= max {
		return v
	}
	runes := []rune(v)
	return strings.TrimSpace(string(runes[:max]))
}
