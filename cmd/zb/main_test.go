package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"zerobin/pkg/domain"
)

// fakeServer keeps pastes in memory and speaks just enough of the wire format.
type fakeServer struct {
	mu     sync.Mutex
	next   int
	pastes map[string]*domain.Paste
	posted []domain.PostData
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{pastes: make(map[string]*domain.Paste)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", f.post)
	mux.HandleFunc("GET /{id}", f.get)
	mux.HandleFunc("GET /delete/{id}/{token}", f.delete)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeServer) post(w http.ResponseWriter, r *http.Request) {
	var req domain.PostData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, req)
	f.next++
	id := fmt.Sprintf("id%d", f.next)
	if req.Comment {
		p, ok := f.pastes[req.Paste]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(domain.ErrResp{Code: 404, Error: "Paste not found"})
			return
		}
		p.Comments = append(p.Comments, domain.Comment{ID: id, Parent: req.Parent, Data: req.Data, Author: req.Author, PostDate: 2000})
		json.NewEncoder(w).Encode(domain.CommentCreated{ID: id, PostDate: 2000})
		return
	}
	f.pastes[id] = &domain.Paste{ID: id, Data: req.Data, PostDate: 1000, Discussion: req.Discussion, Burn: req.Burn}
	json.NewEncoder(w).Encode(domain.PasteCreated{ID: id, Delete: "tok" + id, PostDate: 1000})
}

func (f *fakeServer) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pastes[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(domain.ErrResp{Code: 404, Error: "Paste not found"})
		return
	}
	json.NewEncoder(w).Encode(p)
}

func (f *fakeServer) delete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := f.pastes[id]; !ok || r.PathValue("token") != "tok"+id {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(domain.ErrResp{Code: 403, Error: "Wrong delete token"})
		return
	}
	delete(f.pastes, id)
}

func run(t *testing.T, origin, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ZEROBIN_ORIGIN", origin)
	t.Setenv("KDF_ITERATIONS", "1000")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func urls(t *testing.T, out string) (share, del string) {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "share:  "); ok {
			share = v
		}
		if v, ok := strings.CutPrefix(line, "delete: "); ok {
			del = v
		}
	}
	if share == "" || del == "" {
		t.Fatalf("post output missing urls: %q", out)
	}
	return share, del
}

func TestPostGetCommentDelete(t *testing.T) {
	f, ts := newFakeServer(t)

	out, err := run(t, ts.URL, "hello from stdin\n", "post", "--discussion", "--expire", "1h")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	share, del := urls(t, out)
	if !strings.HasPrefix(share, ts.URL+"/id1#") || del != ts.URL+"/delete/id1/tokid1" {
		t.Errorf("urls = %s %s", share, del)
	}
	sent := f.posted[0]
	if strings.Contains(sent.Data, "hello") || sent.Expire != 3600 || !sent.Discussion {
		t.Errorf("submitted %+v", sent)
	}

	if _, err := run(t, ts.URL, "nice paste", "comment", share, "--author", "carol"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c := f.posted[1]; !c.Comment || c.Parent != "id1" || c.Author == "" || c.Author == "carol" {
		t.Errorf("comment submitted as %+v", c)
	}

	out, err = run(t, ts.URL, "", "get", share)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, want := range []string{"hello from stdin", "1 comment(s)", "carol", "nice paste"} {
		if !strings.Contains(out, want) {
			t.Errorf("get output missing %q:\n%s", want, out)
		}
	}

	if out, err := run(t, ts.URL, "", "delete", del); err != nil || !strings.Contains(out, "id1 deleted") {
		t.Fatalf("delete: %q %v", out, err)
	}
	if _, err := run(t, ts.URL, "", "get", share); err == nil || err.Error() != "Paste not found" {
		t.Errorf("get after delete = %v", err)
	}
}

func TestPostEmptyInput(t *testing.T) {
	f, ts := newFakeServer(t)
	if _, err := run(t, ts.URL, "", "post"); err == nil {
		t.Fatal("empty paste accepted")
	}
	if len(f.posted) != 0 {
		t.Error("empty paste reached the server")
	}
}

func TestGetWithoutKey(t *testing.T) {
	_, ts := newFakeServer(t)
	if _, err := run(t, ts.URL, "", "get", ts.URL+"/id1"); err == nil {
		t.Fatal("share URL without key accepted")
	}
}

func TestDeleteWrongToken(t *testing.T) {
	_, ts := newFakeServer(t)
	out, err := run(t, ts.URL, "x", "post")
	if err != nil {
		t.Fatal(err)
	}
	_, del := urls(t, out)
	if _, err := run(t, ts.URL, "", "delete", strings.Replace(del, "tokid1", "forged", 1)); err == nil || err.Error() != "Wrong delete token" {
		t.Errorf("forged delete = %v", err)
	}
}

func TestCommentPrintsPostedID(t *testing.T) {
	_, ts := newFakeServer(t)
	out, err := run(t, ts.URL, "paste", "post", "--discussion")
	if err != nil {
		t.Fatal(err)
	}
	share, _ := urls(t, out)

	for _, want := range []string{"comment id2 posted", "comment id3 posted"} {
		out, err := run(t, ts.URL, "same text", "comment", share)
		if err != nil {
			t.Fatalf("comment: %v", err)
		}
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want %q", out, want)
		}
	}
}

func TestGetRaw(t *testing.T) {
	_, ts := newFakeServer(t)
	out, err := run(t, ts.URL, "just the text\n", "post", "--discussion")
	if err != nil {
		t.Fatal(err)
	}
	share, _ := urls(t, out)
	if _, err := run(t, ts.URL, "hi", "comment", share); err != nil {
		t.Fatal(err)
	}

	out, err = run(t, ts.URL, "", "get", "--raw", share)
	if err != nil {
		t.Fatalf("get --raw: %v", err)
	}
	if out != "just the text\n" {
		t.Errorf("raw output = %q", out)
	}
}
