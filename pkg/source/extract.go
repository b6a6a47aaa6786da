package source

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// OwnText returns the cleaned text of sel's direct text children, ignoring nested elements.
func OwnText(sel *goquery.Selection) string {
	return utils.CleanText(sel.Contents().Not("*").Text())
}

// Extractor reads fields from a detail page. Missing markup yields an empty
// value and a warning naming the field, never an error.
type Extractor struct {
	doc *goquery.Document
	log *logrus.Entry
}

// NewExtractor creates an Extractor for doc.
func NewExtractor(doc *goquery.Document, log *logrus.Entry) *Extractor {
	return &Extractor{doc: doc, log: log}
}

// Doc returns the underlying document.
func (x *Extractor) Doc() *goquery.Document { return x.doc }

func (x *Extractor) first(field, selector string) *goquery.Selection {
	sel := x.doc.Find(selector).First()
	if sel.Length() == 0 {
		x.log.WithFields(logrus.Fields{"field": field, "selector": selector}).Warn("Cannot find field using css query")
	}
	return sel
}

// OwnText returns the own text of the first match of selector.
func (x *Extractor) OwnText(field, selector string) string {
	return OwnText(x.first(field, selector))
}

// Text returns the full text of the first match of selector.
func (x *Extractor) Text(field, selector string) string {
	return utils.CleanText(x.first(field, selector).Text())
}

// Attr returns attribute attr of the first match of selector.
func (x *Extractor) Attr(field, selector, attr string) string {
	sel := x.first(field, selector)
	v, ok := sel.Attr(attr)
	if !ok && sel.Length() > 0 {
		x.log.WithFields(logrus.Fields{"field": field, "attr": attr}).Warn("Element found without attribute")
	}
	return strings.TrimSpace(v)
}

// OwnTexts returns the non-empty own texts of every match of selector.
func (x *Extractor) OwnTexts(selector string) []string {
	var out []string
	x.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := OwnText(s); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// Attrs returns the non-empty values of attr on every match of selector, resolved against the page URL.
func (x *Extractor) Attrs(selector, attr string) []string {
	var out []string
	x.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		v := strings.TrimSpace(s.AttrOr(attr, ""))
		if v == "" {
			return
		}
		if x.doc.Url != nil {
			if ref, err := x.doc.Url.Parse(v); err == nil {
				v = ref.String()
			}
		}
		out = append(out, v)
	})
	return out
}

// Description converts every match of selector to Markdown, keeping paragraph
// breaks, and joins the blocks with a blank line.
func (x *Extractor) Description(selector string) string {
	sel := x.doc.Find(selector)
	if sel.Length() == 0 {
		x.log.WithField("selector", selector).Warn("Cannot find description or it has no content")
		return ""
	}

	converter := md.NewConverter("", true, nil)
	var blocks []string
	sel.Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		text, err := converter.ConvertString(html)
		if err != nil {
			x.log.Debugf("Markdown conversion failed, using plain text: %v", err)
			text = s.Text()
		}
		if text = strings.TrimSpace(text); text != "" {
			blocks = append(blocks, text)
		}
	})
	return strings.Join(blocks, "\n\n")
}
