package scrape

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/sched"
)

const productPage = `<html><body>
<h1 class="title">  Widget Deluxe  </h1>
<span class="price">Price: $19.99</span>
<img id="photo" src="/img/widget.jpg">
<div class="sku"></div>
</body></html>`

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestExtractFields(t *testing.T) {
	doc := parseDoc(t, productPage)

	fields := []FieldSelector{
		{Name: "title", Selector: "h1.title", Required: true},
		{Name: "price", Selector: ".price", Pattern: `\$([0-9.]+)`},
		{Name: "image", Selector: "#photo", Attr: "src"},
	}

	got, err := Extract(doc, fields)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got["title"] != "Widget Deluxe" {
		t.Fatalf("title = %q, want trimmed text", got["title"])
	}
	if got["price"] != "19.99" {
		t.Fatalf("price = %q, want capture group", got["price"])
	}
	if got["image"] != "/img/widget.jpg" {
		t.Fatalf("image = %q, want attribute value", got["image"])
	}
}

func TestExtractMissingRequiredIsTerminal(t *testing.T) {
	doc := parseDoc(t, productPage)

	_, err := Extract(doc, []FieldSelector{
		{Name: "rating", Selector: ".rating", Required: true},
	})
	if err == nil {
		t.Fatal("expected an error for a missing required field")
	}
	if sched.Retryable(err) {
		t.Fatalf("missing required field must be terminal, got retryable %v", err)
	}
}

func TestExtractMissingOptionalIsSkipped(t *testing.T) {
	doc := parseDoc(t, productPage)

	got, err := Extract(doc, []FieldSelector{
		{Name: "title", Selector: "h1.title"},
		{Name: "rating", Selector: ".rating"},
		{Name: "sku", Selector: ".sku"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := got["rating"]; ok {
		t.Fatal("optional missing field must be omitted, not empty")
	}
	if _, ok := got["sku"]; ok {
		t.Fatal("empty text counts as missing")
	}
}

func TestExtractBadPatternIsTerminal(t *testing.T) {
	doc := parseDoc(t, productPage)

	_, err := Extract(doc, []FieldSelector{
		{Name: "price", Selector: ".price", Pattern: `[`},
	})
	if err == nil || sched.Retryable(err) {
		t.Fatalf("bad pattern must fail terminally, got %v", err)
	}
}

func TestExtractPatternWithoutGroupUsesFullMatch(t *testing.T) {
	doc := parseDoc(t, productPage)

	got, err := Extract(doc, []FieldSelector{
		{Name: "price", Selector: ".price", Pattern: `\$[0-9.]+`},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got["price"] != "$19.99" {
		t.Fatalf("price = %q, want the full match", got["price"])
	}
}
