// Package htmlscan pulls the handful of signals the initial-hints
// extractor and the engine's referenced-asset step need out of an HTML
// document: the generator meta tag, every meta tag, and the href/src
// attributes of the elements that can reference a static asset.
package htmlscan

import (
	"strings"

	"golang.org/x/net/html"
)

// Reference is one href/src URL found on an a, link, script or style
// element, along with the tag it came from (script src carries different
// weight than a stylesheet link in the signature rule table).
type Reference struct {
	Tag string
	URL string
}

// Scan walks an HTML document once and returns every meta tag's
// name->content, plus every href/src reference on a/link/script/style
// elements.
func Scan(body []byte) (meta map[string]string, refs []Reference) {
	meta = make(map[string]string)
	z := html.NewTokenizer(strings.NewReader(string(body)))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return meta, refs
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tok := z.Token()
		switch tok.Data {
		case "meta":
			name, content := "", ""
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "name", "property":
					name = strings.ToLower(a.Val)
				case "content":
					content = a.Val
				}
			}
			if name != "" {
				meta[name] = content
			}
		case "a", "link", "script", "style":
			for _, a := range tok.Attr {
				key := strings.ToLower(a.Key)
				if key == "href" || key == "src" {
					refs = append(refs, Reference{Tag: tok.Data, URL: a.Val})
				}
			}
		}
	}
}

// GeneratorTag returns the content of <meta name="generator"> if present.
func GeneratorTag(body []byte) (string, bool) {
	meta, _ := Scan(body)
	content, ok := meta["generator"]
	return content, ok
}
