package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"zerobin/pkg/crypt"
	"zerobin/pkg/domain"
	"zerobin/pkg/gateway"
)

const testOrigin = "https://zb.example"

type fakeGateway struct {
	mu       sync.Mutex
	pastes   []domain.PasteSubmit
	comments []domain.CommentSubmit
	fetches  []string
	deletes  []string

	block      chan struct{}
	pasteErr   error
	commentErr error
	pasteResp  domain.PasteCreated
	stored     *domain.Paste
	nextID     int
}

func (f *fakeGateway) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return &gateway.TransportError{Op: "fake", Err: ctx.Err()}
	}
}

func (f *fakeGateway) SubmitPaste(ctx context.Context, req domain.PasteSubmit) (*domain.PasteCreated, error) {
	f.mu.Lock()
	f.pastes = append(f.pastes, req)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.pasteErr != nil {
		return nil, f.pasteErr
	}
	res := f.pasteResp
	return &res, nil
}

func (f *fakeGateway) SubmitComment(ctx context.Context, req domain.CommentSubmit) (*domain.CommentCreated, error) {
	f.mu.Lock()
	f.comments = append(f.comments, req)
	f.nextID++
	id := "c" + string(rune('0'+f.nextID))
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	return &domain.CommentCreated{ID: id, PostDate: 2000, Avatar: "iVBOR"}, nil
}

func (f *fakeGateway) FetchPaste(ctx context.Context, id string) (*domain.Paste, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, id)
	f.mu.Unlock()
	if f.stored == nil {
		return nil, &gateway.ServerError{StatusCode: 404, Message: "Paste not found"}
	}
	p := *f.stored
	return &p, nil
}

func (f *fakeGateway) Delete(ctx context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id+"/"+token)
	return nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pastes) + len(f.comments) + len(f.fetches) + len(f.deletes)
}

func testCodec(t *testing.T) *crypt.Codec {
	t.Helper()
	c, err := crypt.NewCodec(crypt.WithIterations(crypt.MinIterations))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newKey(t *testing.T) crypt.Key {
	t.Helper()
	k, err := crypt.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestSubmitPaste_BuildsURLs(t *testing.T) {
	codec := testCodec(t)
	gw := &fakeGateway{pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1", PostDate: 1000}}
	c := NewController(gw, codec, testOrigin)
	defer c.Close()

	c.Compose("hello world", Options{Highlight: false, ExpireSeconds: 0})
	c.Wait()

	st := c.State()
	if st.Phase != Displayed {
		t.Fatalf("phase = %s, want displayed (notice %q)", st.Phase, st.Notice)
	}
	if len(gw.pastes) != 1 {
		t.Fatalf("gateway saw %d submissions, want 1", len(gw.pastes))
	}
	got, err := codec.Decrypt(st.Key, gw.pastes[0].Data)
	if err != nil || got != "hello world" {
		t.Fatalf("submitted data decrypts to %q, %v", got, err)
	}
	if want := testOrigin + "/abc123#" + st.Key.Encode(); st.ShareURL != want {
		t.Errorf("ShareURL = %q, want %q", st.ShareURL, want)
	}
	if want := testOrigin + "/delete/abc123/tok1"; st.DeleteURL != want {
		t.Errorf("DeleteURL = %q, want %q", st.DeleteURL, want)
	}
	if st.PostDate != 1000 || st.Plaintext != "hello world" {
		t.Errorf("state = %+v", st)
	}

	raw, _ := json.Marshal(gw.pastes[0])
	if strings.Contains(string(raw), st.Key.Encode()) {
		t.Error("request body contains the key")
	}
}

func TestCompose_EmptyIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()

	c.Compose("", Options{})
	c.Wait()
	if n := gw.calls(); n != 0 {
		t.Fatalf("gateway saw %d calls, want 0", n)
	}
	st := c.State()
	if st.Phase != Composing || !errors.Is(st.Err, domain.ErrEmptyContent) || st.Notice == "" {
		t.Errorf("state = %s err=%v notice=%q", st.Phase, st.Err, st.Notice)
	}
}

func TestSubmit_DoubleInvokeIssuesOneCall(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{}), pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1"}}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()

	c.Compose("first", Options{})
	c.Compose("first", Options{})
	c.Dispatch(RetryRequested{})
	if st := c.State(); st.Phase != Submitting || !st.Pending() {
		t.Fatalf("phase = %s, want submitting", st.Phase)
	}
	close(gw.block)
	c.Wait()

	if len(gw.pastes) != 1 {
		t.Fatalf("gateway saw %d submissions, want 1", len(gw.pastes))
	}
	if st := c.State(); st.Phase != Displayed {
		t.Errorf("phase = %s, want displayed", st.Phase)
	}
}

func TestSubmit_NewPasteWhilePendingIssuesOneCall(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{}), pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1"}}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()

	c.Compose("hello", Options{})
	c.Dispatch(NewPasteRequested{})
	c.Dispatch(PasteDeleted{ID: ""})
	c.Compose("hello", Options{})
	if st := c.State(); st.Phase != Submitting {
		t.Fatalf("phase = %s, want submitting", st.Phase)
	}
	close(gw.block)
	c.Wait()

	if len(gw.pastes) != 1 {
		t.Fatalf("gateway saw %d submissions, want 1", len(gw.pastes))
	}
	if st := c.State(); st.Phase != Displayed || st.PasteID != "abc123" {
		t.Errorf("phase = %s id = %q, want displayed abc123", st.Phase, st.PasteID)
	}
}

func TestSubmit_ServerErrorVerbatimAndRetry(t *testing.T) {
	gw := &fakeGateway{
		pasteErr:  &gateway.ServerError{StatusCode: 403, Message: "Please wait before posting again"},
		pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1"},
	}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()

	c.Compose("retry me", Options{})
	c.Wait()
	st := c.State()
	if st.Phase != ErrorShown || st.Notice != "Please wait before posting again" {
		t.Fatalf("state = %s notice=%q", st.Phase, st.Notice)
	}
	if !st.CanRetry() {
		t.Fatal("session should be resubmittable")
	}
	if len(gw.pastes) != 1 {
		t.Fatalf("submissions = %d, want 1 (no automatic retry)", len(gw.pastes))
	}

	gw.pasteErr = nil
	c.Dispatch(RetryRequested{})
	c.Wait()
	if st := c.State(); st.Phase != Displayed || st.Plaintext != "retry me" {
		t.Fatalf("after retry phase = %s", st.Phase)
	}
	if len(gw.pastes) != 2 {
		t.Errorf("submissions = %d, want 2", len(gw.pastes))
	}
	if gw.pastes[0].Data == gw.pastes[1].Data {
		t.Error("retry reused the previous envelope")
	}
}

func TestSubmit_TimeoutShowsError(t *testing.T) {
	gw := &fakeGateway{block: make(chan struct{})}
	defer close(gw.block)
	c := NewController(gw, testCodec(t), testOrigin, WithRequestTimeout(30*time.Millisecond))
	defer c.Close()

	c.Compose("slow", Options{})
	c.Wait()
	st := c.State()
	if st.Phase != ErrorShown {
		t.Fatalf("phase = %s, want error", st.Phase)
	}
	if !errors.Is(st.Err, context.DeadlineExceeded) || !strings.Contains(st.Notice, "timed out") {
		t.Errorf("err = %v notice = %q", st.Err, st.Notice)
	}
}

func TestMachine_StaleResponseDropped(t *testing.T) {
	m := NewMachine(testCodec(t), testOrigin)
	s, cmds := m.Update(m.Initial(), ComposeSubmitted{Plaintext: "x"})
	first := cmds[0].(SubmitPaste)
	s, _ = m.Update(s, SubmissionFailed{Seq: first.Seq, Err: errors.New("boom")})
	s, cmds = m.Update(s, RetryRequested{})
	second := cmds[0].(SubmitPaste)
	if second.Seq == first.Seq {
		t.Fatal("retry reused the sequence number")
	}
	s, _ = m.Update(s, SubmissionSucceeded{Seq: first.Seq, Key: newKey(t), Result: domain.PasteCreated{ID: "old"}})
	if s.Phase != Submitting {
		t.Fatalf("stale success moved phase to %s", s.Phase)
	}
	s, _ = m.Update(s, SubmissionSucceeded{Seq: second.Seq, Key: newKey(t), Result: domain.PasteCreated{ID: "new"}})
	if s.Phase != Displayed || s.PasteID != "new" {
		t.Errorf("phase = %s id = %s", s.Phase, s.PasteID)
	}
}

func TestMachine_UpdateDoesNotMutateInput(t *testing.T) {
	m := NewMachine(testCodec(t), testOrigin)
	s := displayedState(t, m, newKey(t))
	before := s.Comments.Len()
	s2, cmds := m.Update(s, CommentSubmitted{Body: "hi"})
	next, _ := m.Update(s2, CommentAdded{Seq: cmds[0].(SubmitComment).Seq, Comment: domain.Comment{ID: "n1"}, Body: "hi"})
	if s.Comments.Len() != before || s2.Comments.Len() != before {
		t.Error("Update mutated the tree of an earlier state")
	}
	if next.Comments.Len() != before+1 {
		t.Errorf("new tree has %d nodes, want %d", next.Comments.Len(), before+1)
	}
	if s.ReplyPending("") {
		t.Error("Update mutated reply bookkeeping of an earlier state")
	}
}

func displayedState(t *testing.T, m *Machine, key crypt.Key) State {
	t.Helper()
	s, cmds := m.Update(m.Initial(), ComposeSubmitted{Plaintext: "paste", Options: Options{Discussion: true}})
	s, _ = m.Update(s, SubmissionSucceeded{Seq: cmds[0].(SubmitPaste).Seq, Key: key, Result: domain.PasteCreated{ID: "abc123", Delete: "tok1"}})
	if s.Phase != Displayed {
		t.Fatalf("setup phase = %s", s.Phase)
	}
	return s
}

func TestLoad_WrongKeyShowsDecryptionFailed(t *testing.T) {
	codec := testCodec(t)
	k1, k2 := newKey(t), newKey(t)
	data, err := codec.Encrypt(k1, "top secret")
	if err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{stored: &domain.Paste{ID: "abc123", Data: data, PostDate: 1000}}
	c := NewController(gw, codec, testOrigin)
	defer c.Close()

	c.Load(ShareURL(testOrigin, "abc123", k2))
	c.Wait()
	st := c.State()
	if st.Phase != DecryptFailed {
		t.Fatalf("phase = %s, want decryption_failed", st.Phase)
	}
	if !errors.Is(st.Err, crypt.ErrDecryption) {
		t.Errorf("err = %v", st.Err)
	}
	if st.Plaintext != "" || strings.Contains(st.Notice, data) || strings.Contains(st.Location, "#") {
		t.Errorf("failure state leaks content: %+v", st)
	}

	c.Dispatch(NewPasteRequested{})
	if st := c.State(); st.Phase != Composing {
		t.Errorf("new paste after failure: phase = %s", st.Phase)
	}
}

func TestLoad_MissingKey(t *testing.T) {
	gw := &fakeGateway{}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()

	c.Load(testOrigin + "/abc123")
	c.Wait()
	st := c.State()
	if st.Phase != DecryptFailed || st.Notice != MsgKeyMissing {
		t.Fatalf("state = %s notice=%q", st.Phase, st.Notice)
	}
	if len(gw.fetches) != 0 {
		t.Error("paste fetched without a key")
	}
}

func TestLoad_DecryptsPasteAndComments(t *testing.T) {
	codec := testCodec(t)
	key := newKey(t)
	enc := func(s string) string {
		out, err := codec.Encrypt(key, s)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}
	gw := &fakeGateway{stored: &domain.Paste{
		ID: "abc123", Data: enc("<b>body</b>"), PostDate: 1000, Discussion: true, Burn: true,
		Comments: []domain.Comment{
			{ID: "a", Data: enc("first"), Author: enc("alice"), PostDate: 1001},
			{ID: "b", Parent: "a", Data: enc("reply"), PostDate: 1002},
		},
	}}
	c := NewController(gw, codec, testOrigin)
	defer c.Close()
	url := ShareURL(testOrigin, "abc123", key)
	c.Load(url)
	c.Wait()

	st := c.State()
	if st.Phase != Displayed || st.Plaintext != "<b>body</b>" {
		t.Fatalf("phase = %s plaintext = %q", st.Phase, st.Plaintext)
	}
	if st.Location != url || !st.Burn || st.Notice == "" {
		t.Errorf("location=%q burn=%v notice=%q", st.Location, st.Burn, st.Notice)
	}
	a, b := st.Comments.Find("a"), st.Comments.Find("b")
	if a == nil || b == nil || a.Author != "alice" || !b.Anonymous() || b.Body != "reply" {
		t.Fatalf("comments = %+v %+v", a, b)
	}
	if len(a.Children) != 1 || a.Children[0] != b {
		t.Error("reply not nested under its parent")
	}
}

func TestComment_AnonymousMarker(t *testing.T) {
	codec := testCodec(t)
	gw := &fakeGateway{pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1"}}
	c := NewController(gw, codec, testOrigin)
	defer c.Close()
	c.Compose("paste", Options{Discussion: true})
	c.Wait()

	c.Comment("", "nice paste", "", false)
	c.Wait()
	if len(gw.comments) != 1 {
		t.Fatalf("comment submissions = %d", len(gw.comments))
	}
	req := gw.comments[0]
	if req.Author != "" || !req.Comment || req.Paste != "abc123" || req.Parent != "" {
		t.Errorf("request = %+v", req)
	}
	st := c.State()
	body, err := codec.Decrypt(st.Key, req.Data)
	if err != nil || body != "nice paste" {
		t.Errorf("comment body decrypts to %q, %v", body, err)
	}
	if st.LastComment != "c1" {
		t.Errorf("LastComment = %q, want c1", st.LastComment)
	}
	n := st.Comments.Find("c1")
	if n == nil || !n.Anonymous() || n.Body != "nice paste" {
		t.Fatalf("node = %+v", n)
	}

	c.Comment("c1", "named", "bob", true)
	c.Wait()
	req = gw.comments[1]
	author, err := codec.Decrypt(st.Key, req.Author)
	if err != nil || author != "bob" {
		t.Errorf("author decrypts to %q, %v", author, err)
	}
	st = c.State()
	if n := st.Comments.Find("c2"); n == nil || n.Anonymous() || st.Comments.Find("c1").Children[0] != n {
		t.Errorf("named reply not nested: %+v", n)
	}
}

func TestComment_Validation(t *testing.T) {
	m := NewMachine(testCodec(t), testOrigin)

	s, cmds := m.Update(m.Initial(), CommentSubmitted{Body: "orphan"})
	if len(cmds) != 0 || !errors.Is(s.Err, domain.ErrNoSession) {
		t.Errorf("comment without session: cmds=%d err=%v", len(cmds), s.Err)
	}

	s = displayedState(t, m, newKey(t))
	s, cmds = m.Update(s, CommentSubmitted{Body: ""})
	if len(cmds) != 0 || !errors.Is(s.Err, domain.ErrEmptyContent) {
		t.Errorf("empty comment: cmds=%d err=%v", len(cmds), s.Err)
	}
}

func TestComment_OnePendingPerForm(t *testing.T) {
	m := NewMachine(testCodec(t), testOrigin)
	s := displayedState(t, m, newKey(t))

	s, first := m.Update(s, CommentSubmitted{Parent: "", Body: "one"})
	s, dup := m.Update(s, CommentSubmitted{Parent: "", Body: "one"})
	s, other := m.Update(s, CommentSubmitted{Parent: "x", Body: "two"})
	if len(first) != 1 || len(dup) != 0 || len(other) != 1 {
		t.Fatalf("commands = %d/%d/%d, want 1/0/1", len(first), len(dup), len(other))
	}
	s, _ = m.Update(s, CommentFailed{Seq: first[0].(SubmitComment).Seq, Parent: "", Err: &gateway.ServerError{StatusCode: 500}})
	if s.ReplyPending("") || !s.ReplyPending("x") {
		t.Error("failure should release only its own form")
	}
	if s.Phase != Displayed || s.Notice != gateway.GenericFailure {
		t.Errorf("phase = %s notice = %q", s.Phase, s.Notice)
	}
}

func TestCloneAndNewPasteScrubKey(t *testing.T) {
	m := NewMachine(testCodec(t), testOrigin)
	key := newKey(t)
	s := displayedState(t, m, key)
	if !strings.Contains(s.Location, key.Encode()) {
		t.Fatal("displayed location should carry the key")
	}

	cl, _ := m.Update(s, CloneRequested{})
	if cl.Phase != Composing || cl.Draft != "paste" || !cl.Options.Discussion {
		t.Errorf("clone = %+v", cl)
	}
	if !cl.Key.IsZero() || strings.Contains(cl.Location, "#") {
		t.Error("clone kept the key")
	}

	np, _ := m.Update(s, NewPasteRequested{})
	if np.Phase != Composing || np.Draft != "" || !np.Key.IsZero() || strings.Contains(np.Location, "#") {
		t.Errorf("new paste = %+v", np)
	}
}

func TestController_Delete(t *testing.T) {
	gw := &fakeGateway{pasteResp: domain.PasteCreated{ID: "abc123", Delete: "tok1"}}
	c := NewController(gw, testCodec(t), testOrigin)
	defer c.Close()
	c.Compose("bye", Options{})
	c.Wait()

	if err := c.Delete(c.State().DeleteURL); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(gw.deletes) != 1 || gw.deletes[0] != "abc123/tok1" {
		t.Errorf("deletes = %v", gw.deletes)
	}
	if st := c.State(); st.Phase != Composing || st.Notice != MsgPasteDeleted {
		t.Errorf("after delete phase = %s notice = %q", st.Phase, st.Notice)
	}
	if err := c.Delete(testOrigin + "/abc123"); !errors.Is(err, ErrBadDeleteURL) {
		t.Errorf("Delete(bad url) error = %v", err)
	}
}
