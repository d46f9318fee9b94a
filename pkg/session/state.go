package session

import (
	"zerobin/pkg/crypt"
)

type Phase int

const (
	Composing Phase = iota
	Submitting
	Displayed
	ErrorShown
	DecryptFailed
)

func (p Phase) String() string {
	switch p {
	case Composing:
		return "composing"
	case Submitting:
		return "submitting"
	case Displayed:
		return "displayed"
	case ErrorShown:
		return "error"
	case DecryptFailed:
		return "decryption_failed"
	}
	return "unknown"
}

// Options are the paste settings the server is asked to enforce.
type Options struct {
	ExpireSeconds int64
	BurnAfterRead bool
	Discussion    bool
	Highlight     bool
}

// State is one paste session. It is a value: Update returns a new State and never mutates
// the one passed in.
type State struct {
	Phase   Phase
	Options Options

	// Draft is the plaintext waiting to be (re)submitted.
	Draft string

	Key       crypt.Key
	PasteID   string
	ShareURL  string
	DeleteURL string
	// Location is the URL the user currently sees.
	Location string

	Plaintext  string
	PostDate   int64
	Expire     int64
	Burn       bool
	Discussion bool
	Highlight  bool
	Comments   *Tree

	// LastComment is the id of the most recent comment this session posted.
	LastComment string

	// Notice is the message shown to the user for the last failed or ignored action.
	Notice string
	Err    error

	seq      uint64
	loadSeq  uint64
	replies  map[string]uint64
	canRetry bool
}

// Pending reports whether a paste submission is in flight.
func (s State) Pending() bool {
	return s.Phase == Submitting
}

// ReplyPending reports whether the reply form for parent has a submission in flight.
func (s State) ReplyPending(parent string) bool {
	_, ok := s.replies[parent]
	return ok
}

// CanRetry reports whether RetryRequested would resubmit the draft.
func (s State) CanRetry() bool {
	return s.Phase == ErrorShown && s.canRetry
}

func (s State) clone() State {
	out := s
	if s.replies != nil {
		out.replies = make(map[string]uint64, len(s.replies))
		for k, v := range s.replies {
			out.replies[k] = v
		}
	}
	if s.Comments != nil {
		out.Comments = s.Comments.Clone()
	}
	return out
}

func (s *State) clearPaste() {
	s.Key = crypt.Key{}
	s.PasteID = ""
	s.ShareURL = ""
	s.DeleteURL = ""
	s.Plaintext = ""
	s.PostDate = 0
	s.Expire = 0
	s.Burn = false
	s.Discussion = false
	s.Highlight = false
	s.Comments = nil
	s.LastComment = ""
	s.replies = nil
}
