package scrape

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
)

// Extract applies the field selectors to a parsed document. A missing
// required field is a terminal error: the page structure does not match
// the recipe and no amount of retrying fixes that.
func Extract(doc *goquery.Document, fields []FieldSelector) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		val, err := extractField(doc, f)
		if err != nil {
			return nil, err
		}
		if val == "" {
			if f.Required {
				return nil, sched.Terminal(fmt.Errorf("required field %q not found (selector %q)", f.Name, f.Selector))
			}
			continue
		}
		out[f.Name] = val
	}
	return out, nil
}

func extractField(doc *goquery.Document, f FieldSelector) (string, error) {
	sel := doc.Find(f.Selector).First()
	var val string
	if f.Attr != "" {
		val, _ = sel.Attr(f.Attr)
	} else {
		val = sel.Text()
	}
	val = strings.TrimSpace(val)
	if val == "" || f.Pattern == "" {
		return val, nil
	}

	re, err := regexp.Compile(f.Pattern)
	if err != nil {
		return "", sched.Terminal(fmt.Errorf("field %q: bad pattern %q: %w", f.Name, f.Pattern, err))
	}
	m := re.FindStringSubmatch(val)
	if m == nil {
		return "", nil
	}
	if len(m) > 1 {
		return m[1], nil
	}
	return m[0], nil
}
