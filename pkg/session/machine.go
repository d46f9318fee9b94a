package session

import (
	"errors"
	"strings"

	"zerobin/pkg/crypt"
	"zerobin/pkg/domain"
	"zerobin/pkg/gateway"
)

const (
	MsgDecryptionFailed = "Could not decrypt this paste. The link may be incomplete or the key is wrong."
	MsgKeyMissing       = "This link has no decryption key."
	MsgPasteDeleted     = "Paste deleted."
)

// Machine holds the pure transition rules. Decryption is deterministic so it happens here;
// encryption and network exchanges are returned as commands.
type Machine struct {
	codec  *crypt.Codec
	origin string
}

func NewMachine(codec *crypt.Codec, origin string) *Machine {
	return &Machine{codec: codec, origin: strings.TrimRight(origin, "/")}
}

// Initial is an empty compose form.
func (m *Machine) Initial() State {
	return State{Phase: Composing, Location: m.origin + "/"}
}

// Update applies ev to s. Events that do not apply to the current state are ignored and
// return s unchanged with no commands.
func (m *Machine) Update(s State, ev Event) (State, []Command) {
	switch ev := ev.(type) {
	case ComposeSubmitted:
		return m.compose(s, ev)
	case SubmissionSucceeded:
		return m.submitted(s, ev)
	case SubmissionFailed:
		if s.Phase != Submitting || ev.Seq != s.seq {
			return s, nil
		}
		s = s.clone()
		s.Phase = ErrorShown
		s.Err = ev.Err
		s.Notice = gateway.UserMessage(ev.Err)
		s.canRetry = true
		return s, nil
	case RetryRequested:
		if !s.CanRetry() {
			return s, nil
		}
		return m.submit(s.clone())
	case LoadRequested:
		return m.requestLoad(s, ev)
	case PasteLoaded:
		return m.loaded(s, ev)
	case LoadFailed:
		if ev.Seq != s.loadSeq {
			return s, nil
		}
		s = s.clone()
		s.loadSeq = 0
		s.Phase = ErrorShown
		s.Err = ev.Err
		s.Notice = gateway.UserMessage(ev.Err)
		s.canRetry = false
		return s, nil
	case DecryptionFailed:
		s = s.clone()
		s.clearPaste()
		s.loadSeq = 0
		s.Phase = DecryptFailed
		s.Err = ev.Err
		s.Notice = MsgDecryptionFailed
		if errors.Is(ev.Err, crypt.ErrKeyNotFound) {
			s.Notice = MsgKeyMissing
		}
		s.Location = ScrubFragment(ev.URL)
		return s, nil
	case CommentSubmitted:
		return m.comment(s, ev)
	case CommentAdded:
		return m.commentAdded(s, ev)
	case CommentFailed:
		if seq, ok := s.replies[ev.Parent]; !ok || seq != ev.Seq {
			return s, nil
		}
		s = s.clone()
		delete(s.replies, ev.Parent)
		s.Err = ev.Err
		s.Notice = gateway.UserMessage(ev.Err)
		return s, nil
	case NewPasteRequested:
		if s.Phase == Submitting {
			return s, nil
		}
		s = s.clone()
		s.clearPaste()
		s.Phase = Composing
		s.Draft = ""
		s.Options = Options{}
		s.Notice, s.Err = "", nil
		s.canRetry = false
		s.loadSeq = 0
		s.Location = m.origin + "/"
		return s, nil
	case CloneRequested:
		if s.Phase != Displayed {
			return s, nil
		}
		s = s.clone()
		draft := s.Plaintext
		opts := Options{BurnAfterRead: s.Burn, Discussion: s.Discussion, Highlight: s.Highlight}
		s.clearPaste()
		s.Phase = Composing
		s.Draft = draft
		s.Options = opts
		s.Notice, s.Err = "", nil
		s.Location = m.origin + "/"
		return s, nil
	case PasteDeleted:
		if s.Phase == Submitting {
			return s, nil
		}
		s = s.clone()
		s.Notice, s.Err = MsgPasteDeleted, nil
		if s.PasteID == ev.ID {
			s.clearPaste()
			s.Phase = Composing
			s.Location = m.origin + "/"
		}
		return s, nil
	case DeleteFailed:
		s = s.clone()
		s.Err = ev.Err
		s.Notice = gateway.UserMessage(ev.Err)
		return s, nil
	}
	return s, nil
}

func (m *Machine) compose(s State, ev ComposeSubmitted) (State, []Command) {
	if s.Phase == Submitting {
		return s, nil
	}
	s = s.clone()
	if ev.Plaintext == "" {
		s.Err = domain.ErrEmptyContent
		s.Notice = "Nothing to submit: the paste is empty."
		return s, nil
	}
	if ev.Options.ExpireSeconds < 0 {
		s.Err = domain.ErrInvalidExpire
		s.Notice = domain.ErrInvalidExpire.Msg
		return s, nil
	}
	s.Draft = ev.Plaintext
	s.Options = ev.Options
	return m.submit(s)
}

func (m *Machine) submit(s State) (State, []Command) {
	s.seq++
	s.loadSeq = 0
	s.Phase = Submitting
	s.Notice, s.Err = "", nil
	s.canRetry = false
	return s, []Command{SubmitPaste{Seq: s.seq, Plaintext: s.Draft, Options: s.Options}}
}

func (m *Machine) submitted(s State, ev SubmissionSucceeded) (State, []Command) {
	if s.Phase != Submitting || ev.Seq != s.seq {
		return s, nil
	}
	s = s.clone()
	s.clearPaste()
	s.Phase = Displayed
	s.Key = ev.Key
	s.PasteID = ev.Result.ID
	s.ShareURL = ShareURL(m.origin, ev.Result.ID, ev.Key)
	s.DeleteURL = DeleteURL(m.origin, ev.Result.ID, ev.Result.Delete)
	s.Location = s.ShareURL
	s.Plaintext = s.Draft
	s.PostDate = ev.Result.PostDate
	s.Expire = ev.Result.Expire
	s.Burn = s.Options.BurnAfterRead
	s.Discussion = s.Options.Discussion
	s.Highlight = s.Options.Highlight
	s.Comments = NewTree(ev.Result.ID)
	s.Draft = ""
	return s, nil
}

func (m *Machine) requestLoad(s State, ev LoadRequested) (State, []Command) {
	if s.Phase == Submitting {
		return s, nil
	}
	_, id, key, err := ParseShareURL(ev.URL)
	if err != nil {
		if errors.Is(err, crypt.ErrKeyNotFound) || errors.Is(err, crypt.ErrInvalidKey) {
			return m.Update(s, DecryptionFailed{URL: ev.URL, Err: err})
		}
		s = s.clone()
		s.Err = err
		s.Notice = "Not a valid paste link."
		return s, nil
	}
	s = s.clone()
	s.seq++
	s.loadSeq = s.seq
	s.Notice, s.Err = "", nil
	return s, []Command{FetchPaste{Seq: s.loadSeq, URL: ev.URL, ID: id, Key: key}}
}

func (m *Machine) loaded(s State, ev PasteLoaded) (State, []Command) {
	if ev.Seq != s.loadSeq {
		return s, nil
	}
	plaintext, err := m.codec.Decrypt(ev.Key, ev.Paste.Data)
	if err != nil {
		return m.Update(s, DecryptionFailed{URL: ev.URL, Err: err})
	}
	s = s.clone()
	s.clearPaste()
	s.loadSeq = 0
	s.Phase = Displayed
	s.Key = ev.Key
	s.PasteID = ev.Paste.ID
	s.ShareURL = ShareURL(m.origin, ev.Paste.ID, ev.Key)
	s.Location = ev.URL
	s.Plaintext = plaintext
	s.PostDate = ev.Paste.PostDate
	s.Expire = ev.Paste.Expire
	s.Burn = ev.Paste.Burn
	s.Discussion = ev.Paste.Discussion
	s.Highlight = ev.Paste.Highlight
	s.Comments = BuildTree(ev.Paste.ID, ev.Paste.Comments)
	s.Comments.Decrypt(m.codec, ev.Key)
	s.Notice, s.Err = "", nil
	if ev.Paste.Burn {
		s.Notice = "This paste was set to burn after reading and is now deleted from the server."
	}
	return s, nil
}

func (m *Machine) comment(s State, ev CommentSubmitted) (State, []Command) {
	if s.Phase != Displayed || s.Key.IsZero() || s.PasteID == "" {
		s = s.clone()
		s.Err = domain.ErrNoSession
		s.Notice = "Open a paste before commenting."
		return s, nil
	}
	if s.ReplyPending(ev.Parent) {
		return s, nil
	}
	s = s.clone()
	if ev.Body == "" {
		s.Err = domain.ErrEmptyContent
		s.Notice = "Nothing to submit: the comment is empty."
		return s, nil
	}
	if !s.Discussion {
		s.Err = domain.ErrDiscussionDisabled
		s.Notice = domain.ErrDiscussionDisabled.Msg
		return s, nil
	}
	s.seq++
	if s.replies == nil {
		s.replies = make(map[string]uint64)
	}
	s.replies[ev.Parent] = s.seq
	s.Notice, s.Err = "", nil
	return s, []Command{SubmitComment{
		Seq:       s.seq,
		PasteID:   s.PasteID,
		Parent:    ev.Parent,
		Body:      ev.Body,
		Author:    ev.Author,
		Highlight: ev.Highlight,
		Key:       s.Key,
	}}
}

func (m *Machine) commentAdded(s State, ev CommentAdded) (State, []Command) {
	parent := ev.Comment.Parent
	if seq, ok := s.replies[parent]; !ok || seq != ev.Seq {
		return s, nil
	}
	s = s.clone()
	delete(s.replies, parent)
	if s.Comments == nil {
		s.Comments = NewTree(s.PasteID)
	}
	s.Comments.Attach(&Node{Comment: ev.Comment, Body: ev.Body, Author: ev.Author})
	s.LastComment = ev.Comment.ID
	s.Notice, s.Err = "", nil
	return s, nil
}
