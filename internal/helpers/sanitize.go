// Package helpers holds small text utilities shared by the HTTP surface.
package helpers

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	blankRuns = regexp.MustCompile(`[ \t]+`)
	lineRuns  = regexp.MustCompile(`\n{3,}`)
)

// StrictHTMLPolicy returns a shared policy that strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText reduces an HTML fragment to readable text. Block boundaries
// become line breaks, entities are decoded and runs of blanks collapse.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, tag := range []string{"</p>", "<br>", "<br/>", "<br />", "</li>", "</h1>", "</h2>", "</h3>", "</div>"} {
		s = strings.ReplaceAll(s, tag, tag+"\n")
	}
	out := html.UnescapeString(StrictHTMLPolicy().Sanitize(s))
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = blankRuns.ReplaceAllString(out, " ")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	out = lineRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
