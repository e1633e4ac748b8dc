// CLAUDE:SUMMARY Structural HTML checks for block pages and CAPTCHA walls, plus per-dump forensic analysis.
// Package htmlscan inspects page HTML for the structures the resilience layer
// reacts to (CAPTCHA widgets, bare "Too Many Requests" bodies) and analyzes
// saved dumps after a run.
package htmlscan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page.
type Document struct {
	root *html.Node
}

// Parse parses HTML content. The x/net parser is lenient; errors only come
// from the underlying reader.
func Parse(content string) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("htmlscan: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// HasCaptcha reports a CAPTCHA widget: an iframe whose src mentions captcha,
// .g-recaptcha, or any element whose id or class contains "captcha".
func (d *Document) HasCaptcha() bool {
	for _, n := range htmlquery.Find(d.root, "//iframe[@src]") {
		if strings.Contains(strings.ToLower(htmlquery.SelectAttr(n, "src")), "captcha") {
			return true
		}
	}
	for _, n := range htmlquery.Find(d.root, "//*[@id or @class]") {
		id := strings.ToLower(htmlquery.SelectAttr(n, "id"))
		class := strings.ToLower(htmlquery.SelectAttr(n, "class"))
		if strings.Contains(id, "captcha") || strings.Contains(class, "captcha") {
			return true
		}
	}
	return false
}

// BodyIs reports whether the body holds nothing but the given text.
// Servers answer rate limits with e.g. <body>Too Many Requests</body>.
func (d *Document) BodyIs(text string) bool {
	body := htmlquery.FindOne(d.root, "//body")
	if body == nil {
		return false
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return false
		}
	}
	return strings.TrimSpace(htmlquery.InnerText(body)) == text
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	if n := htmlquery.FindOne(d.root, "//title"); n != nil {
		return strings.TrimSpace(htmlquery.InnerText(n))
	}
	return ""
}

// textNodes walks visible text, skipping script and style.
func (d *Document) textNodes(fn func(text string) bool) {
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return true
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" && !fn(t) {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(d.root)
}

// Text returns the lower-cased visible text, one space between nodes.
func (d *Document) Text() string {
	var parts []string
	d.textNodes(func(t string) bool {
		parts = append(parts, strings.ToLower(t))
		return true
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// findText returns the first visible text node containing any needle.
func (d *Document) findText(needles ...string) (string, bool) {
	var found string
	d.textNodes(func(t string) bool {
		lower := strings.ToLower(t)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				found = t
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// Report is the analysis of one page or dump.
type Report struct {
	HasError      bool   `json:"has_error"`
	ErrorText     string `json:"error_text,omitempty"`
	HasCaptcha    bool   `json:"has_captcha"`
	RateLimited   bool   `json:"rate_limited"`
	LoggedIn      bool   `json:"logged_in"`
	OnRewardsPage bool   `json:"on_rewards_page"`
	Points        int    `json:"points"`
	HasPoints     bool   `json:"has_points"`
}

var pointsRe = regexp.MustCompile(`(?i)(\d[\d,.]*)\s*points`)

// Analyze reports what a page shows.
func Analyze(content string) (Report, error) {
	d, err := Parse(content)
	if err != nil {
		return Report{}, err
	}
	return d.Analyze(), nil
}

// Analyze reports what the document shows.
func (d *Document) Analyze() Report {
	var r Report

	if n := htmlquery.FindOne(d.root, "//div[contains(concat(' ', normalize-space(@class), ' '), ' error-message ')]"); n != nil {
		r.HasError = true
		r.ErrorText = strings.TrimSpace(htmlquery.InnerText(n))
	} else if t, ok := d.findText("error"); ok {
		r.HasError = true
		r.ErrorText = t
	}

	r.HasCaptcha = d.HasCaptcha()
	if !r.HasCaptcha {
		_, r.HasCaptcha = d.findText("captcha")
	}

	_, r.RateLimited = d.findText("rate limit", "too many requests")

	for _, a := range htmlquery.Find(d.root, "//a[@href]") {
		if strings.Contains(strings.ToLower(htmlquery.SelectAttr(a, "href")), "logout") {
			r.LoggedIn = true
			break
		}
	}
	if !r.LoggedIn {
		_, r.LoggedIn = d.findText("sign out")
	}

	for _, n := range htmlquery.Find(d.root, "//div[@id]") {
		if strings.Contains(strings.ToLower(htmlquery.SelectAttr(n, "id")), "rewards") {
			r.OnRewardsPage = true
			break
		}
	}
	if !r.OnRewardsPage {
		_, r.OnRewardsPage = d.findText("microsoft rewards")
	}

	d.textNodes(func(t string) bool {
		m := pointsRe.FindStringSubmatch(t)
		if m == nil {
			return true
		}
		digits := strings.NewReplacer(",", "", ".", "").Replace(m[1])
		if v, err := strconv.Atoi(digits); err == nil {
			r.Points, r.HasPoints = v, true
			return false
		}
		return true
	})

	return r
}
