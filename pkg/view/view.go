// Package view maps decrypted sessions to view models. All decrypted text is untrusted and
// is escaped before it becomes markup.
package view

import (
	"html"
	"strings"
	"time"

	"zerobin/pkg/session"
)

const (
	AnonymousLabel   = "(Anonymous)"
	UndecryptableMsg = "Could not decrypt this comment."
)

type Paste struct {
	ID        string
	HTML      string
	Highlight bool
	Burn      bool
	PostDate  time.Time
	Expire    time.Time
	ShareURL  string
	DeleteURL string
	Comments  []Comment
}

// Comment is a rendered discussion node. Exactly one of Failed or a body is meaningful.
type Comment struct {
	ID         string
	Depth      int
	HTML       string
	AuthorHTML string
	Anonymous  bool
	Failed     bool
	PostDate   time.Time
	AvatarURI  string
	Children   []Comment
}

// Body escapes text and shapes it as a code block or as newline-preserving prose.
func Body(text string, highlight bool) string {
	escaped := Escape(text)
	if highlight {
		return `<pre class="prettyprint"><code>` + escaped + `</code></pre>`
	}
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

// Escape escapes <, >, &, ' and ". The text is otherwise left as decrypted.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Render returns nil unless the session is displaying a paste.
func Render(st session.State) *Paste {
	if st.Phase != session.Displayed {
		return nil
	}
	p := &Paste{
		ID:        st.PasteID,
		HTML:      Body(st.Plaintext, st.Highlight),
		Highlight: st.Highlight,
		Burn:      st.Burn,
		PostDate:  epoch(st.PostDate),
		Expire:    epoch(st.Expire),
		ShareURL:  st.ShareURL,
		DeleteURL: st.DeleteURL,
	}
	if st.Comments != nil {
		p.Comments = comments(st.Comments.Roots, 1)
	}
	return p
}

func comments(nodes []*session.Node, depth int) []Comment {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Comment, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, RenderComment(n, depth))
	}
	return out
}

// RenderComment renders n and its replies. A failed node becomes a placeholder but its
// replies still render.
func RenderComment(n *session.Node, depth int) Comment {
	c := Comment{
		ID:        n.Comment.ID,
		Depth:     depth,
		Anonymous: n.Anonymous(),
		Failed:    n.Failed(),
		PostDate:  epoch(n.Comment.PostDate),
		AvatarURI: avatarURI(n.Comment.Avatar),
		Children:  comments(n.Children, depth+1),
	}
	switch {
	case c.Failed:
		c.HTML = `<span class="error">` + Escape(UndecryptableMsg) + `</span>`
	default:
		c.HTML = Body(n.Body, n.Comment.Highlight)
	}
	switch {
	case c.Anonymous:
		c.AuthorHTML = `<span class="anonymous">` + AnonymousLabel + `</span>`
	case !c.Failed:
		c.AuthorHTML = Escape(n.Author)
	}
	return c
}

func avatarURI(b64 string) string {
	if b64 == "" {
		return ""
	}
	for _, r := range b64 {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/' || r == '=') {
			return ""
		}
	}
	return "data:image/png;base64," + b64
}

func epoch(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}
