package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DecodeError reports a response body that is not guarded JSON.
type DecodeError struct {
	// Title is the <title> of an HTML error page, when the body is one.
	Title   string
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Title != "":
		return fmt.Sprintf("unexpected html response %q", e.Title)
	case e.Err != nil:
		return fmt.Sprintf("decode response: %v (body %q)", e.Err, e.Snippet)
	default:
		return fmt.Sprintf("decode response: unexpected body %q", e.Snippet)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode strips the XSSI guard from body and decodes the remaining JSON into v.
func Decode(body []byte, prefixLen int, v interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if looksLikeHTML(trimmed) {
		return &DecodeError{Title: htmlTitle(trimmed), Snippet: snippet(trimmed)}
	}
	if prefixLen > len(body) {
		return &DecodeError{Snippet: snippet(body)}
	}
	data := bytes.TrimSpace(body[prefixLen:])
	if len(data) == 0 {
		return &DecodeError{Snippet: snippet(body)}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Snippet: snippet(body), Err: err}
	}
	return nil
}

func looksLikeHTML(body []byte) bool {
	if len(body) == 0 || body[0] != '<' {
		return false
	}
	head := strings.ToLower(string(body[:min(len(body), 64)]))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func htmlTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return title
}

func snippet(body []byte) string {
	const limit = 120
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
