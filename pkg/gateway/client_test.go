package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"zerobin/pkg/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, srv
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		origin  string
		wantErr bool
	}{
		{"https://zb.example", false},
		{"http://localhost:8080/", false},
		{"ftp://zb.example", true},
		{"zb.example", true},
		{"https://zb.example/#key", true},
		{"https://zb.example/?q=1", true},
		{"https://zb.example/paste", true},
		{"https://zb.example/paste/", true},
	}
	for _, tt := range tests {
		_, err := New(tt.origin)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) error = %v, wantErr %v", tt.origin, err, tt.wantErr)
		}
	}
	c, _ := New("http://localhost:8080/")
	if c.Origin() != "http://localhost:8080" {
		t.Errorf("Origin() = %q", c.Origin())
	}
}

func TestSubmitPaste(t *testing.T) {
	var body map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"abc123","delete":"tok1","postdate":1000}`)
	})

	got, err := c.SubmitPaste(context.Background(), domain.PasteSubmit{Data: "{env}", Expire: 60, Burn: true, Discussion: true})
	if err != nil {
		t.Fatalf("SubmitPaste() error = %v", err)
	}
	if got.ID != "abc123" || got.Delete != "tok1" || got.PostDate != 1000 || got.Expire != 0 {
		t.Errorf("SubmitPaste() = %+v", got)
	}
	for _, k := range []string{"data", "expire", "burn", "discussion", "highlight"} {
		if _, ok := body[k]; !ok {
			t.Errorf("request body missing %q: %v", k, body)
		}
	}
	if len(body) != 5 {
		t.Errorf("request body has unexpected fields: %v", body)
	}
}

func TestSubmitComment(t *testing.T) {
	var body map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, `{"id":"c1","postdate":1001,"avatar":"iVBOR"}`)
	})
	got, err := c.SubmitComment(context.Background(), domain.CommentSubmit{Data: "{env}", Parent: "", Paste: "abc123"})
	if err != nil {
		t.Fatalf("SubmitComment() error = %v", err)
	}
	if got.ID != "c1" || got.Avatar != "iVBOR" {
		t.Errorf("SubmitComment() = %+v", got)
	}
	if body["comment"] != true {
		t.Errorf("comment flag = %v, want true", body["comment"])
	}
	author, ok := body["author"]
	if !ok || author != "" {
		t.Errorf("author = %v (present %v), want empty marker", author, ok)
	}
	if body["paste"] != "abc123" {
		t.Errorf("paste = %v", body["paste"])
	}
}

func TestFetchPasteAndDelete(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		switch r.URL.Path {
		case "/abc123":
			io.WriteString(w, `{"id":"abc123","data":"{env}","postdate":1000,"discussion":true,
				"comments":[{"id":"c1","parent":"","data":"{c}","author":"","postdate":1001}]}`)
		case "/delete/abc123/tok1":
			io.WriteString(w, `{"id":"abc123","deleted":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"code":404,"error":"Paste not found"}`)
		}
	})
	ctx := context.Background()
	p, err := c.FetchPaste(ctx, "abc123")
	if err != nil {
		t.Fatalf("FetchPaste() error = %v", err)
	}
	if p.Data != "{env}" || len(p.Comments) != 1 || !p.Comments[0].Anonymous() {
		t.Errorf("FetchPaste() = %+v", p)
	}
	if err := c.Delete(ctx, "abc123", "tok1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	_, err = c.FetchPaste(ctx, "missing")
	var se *ServerError
	if !errors.As(err, &se) || se.StatusCode != 404 || se.UserMessage() != "Paste not found" {
		t.Errorf("FetchPaste(missing) error = %v", err)
	}
}

func TestServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"structured", http.StatusForbidden, `{"code":403,"error":"Please wait before posting again"}`, "Please wait before posting again"},
		{"no error field", http.StatusInternalServerError, `{"code":500}`, GenericFailure},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, GenericFailure},
		{"empty body", http.StatusServiceUnavailable, ``, GenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.SubmitPaste(context.Background(), domain.PasteSubmit{Data: "x"})
			var se *ServerError
			if !errors.As(err, &se) {
				t.Fatalf("error = %T %v, want *ServerError", err, err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.status)
			}
			if got := UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTransportErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			<-release
		})
		defer close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.SubmitPaste(ctx, domain.PasteSubmit{Data: "x"})
		var te *TransportError
		if !errors.As(err, &te) || !te.Timeout() {
			t.Fatalf("error = %v, want timeout TransportError", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Error("timeout should unwrap to context.DeadlineExceeded")
		}
		if te.Error() != "request timed out" {
			t.Errorf("Error() = %q", te.Error())
		}
	})
	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		c, err := New(addr)
		if err != nil {
			t.Fatal(err)
		}
		_, err = c.FetchPaste(context.Background(), "abc")
		var te *TransportError
		if !errors.As(err, &te) || te.Timeout() {
			t.Fatalf("error = %v, want non-timeout TransportError", err)
		}
		if !strings.Contains(UserMessage(err), "Could not reach") {
			t.Errorf("UserMessage() = %q", UserMessage(err))
		}
	})
}

func TestNoRetries(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.SubmitPaste(context.Background(), domain.PasteSubmit{Data: "x"})
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestProtocolError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"delete":"tok"}`)
	})
	_, err := c.SubmitPaste(context.Background(), domain.PasteSubmit{Data: "x"})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
}
