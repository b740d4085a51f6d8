package parse

import (
	"encoding/xml"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
)

// DocumentKind tags a classified sitemap document
type DocumentKind int

const (
	KindUnparseable DocumentKind = iota // Nothing usable recovered; traversed as an index with no entries
	KindIndex                           // No urlset element: entries may point at further sitemaps
	KindTerminal                        // urlset element present: entries are page URLs
)

func (k DocumentKind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindIndex:
		return "index"
	default:
		return "unparseable"
	}
}

// Document is the classified form of fetched sitemap content
type Document struct {
	Kind    DocumentKind
	Entries []string // Trimmed <loc> text in document order, empty values dropped
	Parser  string   // "xml" or "html", the parser that produced the result
}

// XPath expressions match on local-name() so any namespace prefix is accepted
const (
	urlsetExpr = "//*[local-name()='urlset']"
	locExpr    = "//*[local-name()='loc']"
)

// Classify parses sitemap content and reports whether it is a terminal urlset
// or an index, along with every <loc> entry. It never fails: content neither
// parser can make sense of comes back as KindUnparseable.
func Classify(content string) Document {
	if strings.TrimSpace(content) == "" {
		return Document{Kind: KindUnparseable}
	}
	if doc, ok := classifyXML(content); ok {
		return doc
	}
	return classifyHTML(content)
}

// classifyXML runs a non-strict XML decode that tolerates unclosed HTML void
// elements and HTML entities, which covers browser-rendered sitemap markup.
func classifyXML(content string) (Document, bool) {
	root, err := xmlquery.ParseWithOptions(strings.NewReader(content), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict:    false,
			AutoClose: xml.HTMLAutoClose,
			Entity:    xml.HTMLEntity,
		},
	})
	if err != nil || root == nil || !hasElement(root) {
		return Document{}, false
	}

	doc := Document{Kind: KindIndex, Parser: "xml"}
	if xmlquery.FindOne(root, urlsetExpr) != nil {
		doc.Kind = KindTerminal
	}
	for _, n := range xmlquery.Find(root, locExpr) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			doc.Entries = append(doc.Entries, loc)
		}
	}
	return doc, true
}

func hasElement(root *xmlquery.Node) bool {
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}

// classifyHTML recovers urlset/loc elements from markup the XML decoder rejects.
// The HTML tokenizer keeps prefixed names such as "image:loc" as the tag name.
func classifyHTML(content string) Document {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return Document{Kind: KindUnparseable}
	}

	doc := Document{Kind: KindIndex, Parser: "html"}
	sawSitemapElement := false
	root.Find("*").Each(func(_ int, s *goquery.Selection) {
		switch localName(goquery.NodeName(s)) {
		case "urlset":
			doc.Kind = KindTerminal
			sawSitemapElement = true
		case "sitemapindex":
			sawSitemapElement = true
		case "loc":
			sawSitemapElement = true
			if loc := strings.TrimSpace(s.Text()); loc != "" {
				doc.Entries = append(doc.Entries, loc)
			}
		}
	})
	if !sawSitemapElement {
		return Document{Kind: KindUnparseable}
	}
	return doc
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return strings.ToLower(name[i+1:])
	}
	return strings.ToLower(name)
}
