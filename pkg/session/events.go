package session

import (
	"zerobin/pkg/crypt"
	"zerobin/pkg/domain"
)

// Event is an input to Machine.Update: a user action or a network completion.
type Event interface {
	event()
}

type ComposeSubmitted struct {
	Plaintext string
	Options   Options
}

// SubmissionSucceeded carries the key the draft was sealed under back to the session.
type SubmissionSucceeded struct {
	Seq    uint64
	Key    crypt.Key
	Result domain.PasteCreated
}

type SubmissionFailed struct {
	Seq uint64
	Err error
}

type RetryRequested struct{}

type LoadRequested struct {
	URL string
}

type PasteLoaded struct {
	Seq   uint64
	URL   string
	Key   crypt.Key
	Paste domain.Paste
}

type LoadFailed struct {
	Seq uint64
	Err error
}

// DecryptionFailed is raised when a paste cannot be opened before any envelope is read,
// for example a share URL with no key.
type DecryptionFailed struct {
	URL string
	Err error
}

type CommentSubmitted struct {
	Parent    string
	Body      string
	Author    string
	Highlight bool
}

// CommentAdded carries the stored comment plus the plaintext the user typed.
type CommentAdded struct {
	Seq     uint64
	Comment domain.Comment
	Body    string
	Author  string
}

type CommentFailed struct {
	Seq    uint64
	Parent string
	Err    error
}

type NewPasteRequested struct{}

type CloneRequested struct{}

type PasteDeleted struct {
	ID string
}

type DeleteFailed struct {
	ID  string
	Err error
}

func (ComposeSubmitted) event()    {}
func (SubmissionSucceeded) event() {}
func (SubmissionFailed) event()    {}
func (RetryRequested) event()      {}
func (LoadRequested) event()       {}
func (PasteLoaded) event()         {}
func (LoadFailed) event()          {}
func (DecryptionFailed) event()    {}
func (CommentSubmitted) event()    {}
func (CommentAdded) event()        {}
func (CommentFailed) event()       {}
func (NewPasteRequested) event()   {}
func (CloneRequested) event()      {}
func (PasteDeleted) event()        {}
func (DeleteFailed) event()        {}

// Command is work Update asks the controller to perform outside the state lock.
type Command interface {
	command()
}

// SubmitPaste seals Plaintext under a fresh key and posts it.
type SubmitPaste struct {
	Seq       uint64
	Plaintext string
	Options   Options
}

type SubmitComment struct {
	Seq       uint64
	PasteID   string
	Parent    string
	Body      string
	Author    string
	Highlight bool
	Key       crypt.Key
}

type FetchPaste struct {
	Seq uint64
	URL string
	ID  string
	Key crypt.Key
}

func (SubmitPaste) command()   {}
func (SubmitComment) command() {}
func (FetchPaste) command()    {}
