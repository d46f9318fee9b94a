package view

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"zerobin/pkg/session"
)

// WriteText prints a displayed session for a terminal. Control characters other than
// newline and tab are replaced so decrypted text cannot drive the terminal.
func WriteText(w io.Writer, st session.State) error {
	if st.Phase != session.Displayed {
		_, err := fmt.Fprintln(w, Sanitize(st.Notice))
		return err
	}
	ew := &errWriter{w: w}
	ew.printf("%s\n", Sanitize(st.Plaintext))
	if st.Comments.Len() > 0 {
		ew.printf("\n--- %d comment(s) ---\n", st.Comments.Len())
		st.Comments.Walk(func(n *session.Node, depth int) bool {
			indent := strings.Repeat("  ", depth-1)
			author := AnonymousLabel
			if !n.Anonymous() {
				author = Sanitize(n.Author)
			}
			if n.Failed() {
				author = "?"
			}
			ew.printf("%s[%s] %s", indent, n.Comment.ID, author)
			if t := epoch(n.Comment.PostDate); !t.IsZero() {
				ew.printf(" @ %s", t.Format("2006-01-02 15:04:05"))
			}
			ew.printf("\n")
			body := UndecryptableMsg
			if !n.Failed() {
				body = Sanitize(n.Body)
			}
			for _, line := range strings.Split(body, "\n") {
				ew.printf("%s  %s\n", indent, line)
			}
			return ew.err == nil
		})
	}
	return ew.err
}

// WriteRaw prints only the paste plaintext, sanitized like WriteText.
func WriteRaw(w io.Writer, st session.State) error {
	if st.Phase != session.Displayed {
		_, err := fmt.Fprintln(w, Sanitize(st.Notice))
		return err
	}
	_, err := io.WriteString(w, Sanitize(st.Plaintext))
	return err
}

// Sanitize normalizes to NFC for the terminal and replaces control characters other than
// newline and tab with U+FFFD.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return unicode.ReplacementChar
		}
		return r
	}, norm.NFC.String(strings.ReplaceAll(text, "\r\n", "\n")))
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
