// Package render turns the anchor post's rich-text markup into Markdown and
// a list of outbound links.
package render

import (
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Renderer is safe for concurrent use.
type Renderer struct {
	conv   *converter.Converter
	policy *bluemonday.Policy
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Markdown sanitizes raw and converts it. Relative links resolve against
// pageURL. An empty or failed conversion returns fallback.
func (r *Renderer) Markdown(raw, pageURL, fallback string) string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	clean := r.policy.Sanitize(raw)
	var (
		md  string
		err error
	)
	if origin := originOf(pageURL); origin != "" {
		md, err = r.conv.ConvertString(clean, converter.WithDomain(origin))
	} else {
		md, err = r.conv.ConvertString(clean)
	}
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}

// Links returns the distinct absolute http(s) targets of <a href> in raw,
// in document order. Relative targets resolve against pageURL.
func Links(raw, pageURL string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	nodes, err := html.ParseFragment(strings.NewReader(raw), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	var out []string
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if link := absolute(base, a.Val); link != "" && !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		if base == nil || !base.IsAbs() {
			return ""
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
