package fetcher

import (
	"io"
	"mime"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"
)

// ParseHTML parses an HTML document into a node tree. When contentType names a
// charset other than UTF-8, the body is decoded through that charset first.
func ParseHTML(r io.Reader, contentType string) (*html.Node, error) {
	decoded, err := charsetReader(r, contentType)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(decoded)
	if err != nil {
		return nil, eris.Wrap(err, "html: parse document")
	}

	return root, nil
}

// charsetReader wraps r with a decoder when contentType names a non-UTF-8
// encoding. An unparseable Content-Type is treated as UTF-8.
func charsetReader(r io.Reader, contentType string) (io.Reader, error) {
	if contentType == "" {
		return r, nil
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r, nil
	}

	charset, ok := params["charset"]
	if !ok || strings.EqualFold(charset, "utf-8") {
		return r, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "html: unsupported charset %q", charset)
	}

	return enc.NewDecoder().Reader(r), nil
}

// FindByID returns the first element under root whose id attribute equals id,
// or nil when no element matches.
func FindByID(root *html.Node, id string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && Attr(root, "id") == id {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns all descendant elements of root with the given tag name, in
// document order. The root itself is included when it matches.
func FindAll(root *html.Node, tag string) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	if root.Type == html.ElementNode && root.Data == tag {
		out = append(out, root)
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, FindAll(c, tag)...)
	}
	return out
}

// Attr returns the value of the named attribute on n, or "" when absent.
func Attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// TextContent returns the concatenated text of n and its descendants with
// surrounding whitespace trimmed.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return strings.TrimSpace(sb.String())
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
