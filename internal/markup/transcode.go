// Package markup rewrites generic lightweight markdown into Slack mrkdwn.
package markup

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// codeSpan matches fenced blocks and single-line inline code.
var codeSpan = regexp.MustCompile("(?s)```.+?```|`[^`\\n]+?`")

// rule rewrites one delimiter pair. RE2 has no look-around, so the boundary
// conditions live in accept and a rejected candidate is retried one byte later.
type rule struct {
	re          *regexp.Regexp
	open, close string
	isolated    bool // delimiter must not touch '*' or '_' on the outside
}

var rules = []rule{
	{re: regexp.MustCompile(`\*\*\*([^*\n]+?)\*\*\*`), open: "_*", close: "*_"},
	{re: regexp.MustCompile(`\*([^*\n]+?)\*`), open: "_", close: "_", isolated: true},
	{re: regexp.MustCompile(`\*\*([^*\n]+?)\*\*`), open: "*", close: "*"},
	{re: regexp.MustCompile(`__([^_\n]+?)__`), open: "*", close: "*"},
	{re: regexp.MustCompile(`~~([^~\n]+?)~~`), open: "~", close: "~"},
}

// Transcode converts text to Slack markup. Code spans pass through untouched,
// and so does any segment that begins with a backtick (an unterminated span
// split across stream chunks). Platform references like <@U123> are not
// markup and are never touched.
//
// Each call is independent: a delimiter pair split across two calls is left
// as-is.
func Transcode(text string) string {
	if text == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range codeSpan.FindAllStringIndex(text, -1) {
		b.WriteString(rewrite(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(rewrite(text[last:]))
	return b.String()
}

func rewrite(segment string) string {
	if segment == "" || strings.HasPrefix(segment, "`") {
		return segment
	}
	for _, r := range rules {
		segment = r.apply(segment)
	}
	return segment
}

func (r rule) apply(s string) string {
	var b strings.Builder
	last, pos := 0, 0
	replaced := false
	for pos < len(s) {
		loc := r.re.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		inner := s[pos+loc[2] : pos+loc[3]]
		if !r.accept(s, start, end, inner) {
			pos = start + 1
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(r.open)
		b.WriteString(inner)
		b.WriteString(r.close)
		last, pos = end, end
		replaced = true
	}
	if !replaced {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func (r rule) accept(s string, start, end int, inner string) bool {
	first, _ := utf8.DecodeRuneInString(inner)
	final, _ := utf8.DecodeLastRuneInString(inner)
	if unicode.IsSpace(first) || unicode.IsSpace(final) {
		return false
	}
	if r.isolated {
		if start > 0 && isEmphasis(s[start-1]) {
			return false
		}
		if end < len(s) && isEmphasis(s[end]) {
			return false
		}
	}
	return true
}

func isEmphasis(c byte) bool { return c == '*' || c == '_' }
