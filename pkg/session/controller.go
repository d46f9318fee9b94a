package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zerobin/pkg/crypt"
	"zerobin/pkg/domain"
)

const DefaultRequestTimeout = 30 * time.Second

// Gateway is the network side of a session. Nothing passed to it can carry a key.
type Gateway interface {
	SubmitPaste(ctx context.Context, req domain.PasteSubmit) (*domain.PasteCreated, error)
	SubmitComment(ctx context.Context, req domain.CommentSubmit) (*domain.CommentCreated, error)
	FetchPaste(ctx context.Context, id string) (*domain.Paste, error)
	Delete(ctx context.Context, id, token string) error
}

// Controller owns one session. Every event goes through Machine.Update under mu; commands
// run in goroutines and report back through Dispatch.
type Controller struct {
	mu      sync.Mutex
	machine *Machine
	state   State

	gw      Gateway
	codec   *crypt.Codec
	timeout time.Duration
	log     zerolog.Logger
	notify  func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ControllerOption func(*Controller)

func WithRequestTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.log = l
	}
}

// WithNotify registers fn to receive every new state. It is called outside the lock.
func WithNotify(fn func(State)) ControllerOption {
	return func(c *Controller) {
		c.notify = fn
	}
}

func NewController(gw Gateway, codec *crypt.Codec, origin string, opts ...ControllerOption) *Controller {
	m := NewMachine(codec, origin)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		machine: m,
		state:   m.Initial(),
		gw:      gw,
		codec:   codec,
		timeout: DefaultRequestTimeout,
		log:     zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot the caller may keep.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) Dispatch(ev Event) {
	c.mu.Lock()
	prev := c.state.Phase
	next, cmds := c.machine.Update(c.state, ev)
	c.state = next
	snap := next.clone()
	c.mu.Unlock()

	c.log.Debug().
		Str("event", eventName(ev)).
		Str("from", prev.String()).
		Str("to", next.Phase.String()).
		Int("commands", len(cmds)).
		Msg("session update")

	if c.notify != nil {
		c.notify(snap)
	}
	for _, cmd := range cmds {
		c.run(cmd)
	}
}

// Wait blocks until every in-flight command has reported back.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight requests and waits for them.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) Compose(plaintext string, opts Options) {
	c.Dispatch(ComposeSubmitted{Plaintext: plaintext, Options: opts})
}

func (c *Controller) Load(shareURL string) {
	c.Dispatch(LoadRequested{URL: shareURL})
}

func (c *Controller) Comment(parent, body, author string, highlight bool) {
	c.Dispatch(CommentSubmitted{Parent: parent, Body: body, Author: author, Highlight: highlight})
}

// Delete removes a paste through its delete URL and blocks until the server answers.
func (c *Controller) Delete(deleteURL string) error {
	_, id, token, err := ParseDeleteURL(deleteURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	if err := c.gw.Delete(ctx, id, token); err != nil {
		c.Dispatch(DeleteFailed{ID: id, Err: err})
		return err
	}
	c.Dispatch(PasteDeleted{ID: id})
	return nil
}

func (c *Controller) run(cmd Command) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		c.Dispatch(c.execute(ctx, cmd))
	}()
}

func (c *Controller) execute(ctx context.Context, cmd Command) Event {
	switch cmd := cmd.(type) {
	case SubmitPaste:
		key, err := crypt.GenerateKey()
		if err != nil {
			return SubmissionFailed{Seq: cmd.Seq, Err: err}
		}
		data, err := c.codec.Encrypt(key, cmd.Plaintext)
		if err != nil {
			return SubmissionFailed{Seq: cmd.Seq, Err: err}
		}
		res, err := c.gw.SubmitPaste(ctx, domain.PasteSubmit{
			Data:       data,
			Expire:     cmd.Options.ExpireSeconds,
			Burn:       cmd.Options.BurnAfterRead,
			Discussion: cmd.Options.Discussion,
			Highlight:  cmd.Options.Highlight,
		})
		if err != nil {
			c.log.Warn().Err(err).Uint64("seq", cmd.Seq).Msg("paste submission failed")
			return SubmissionFailed{Seq: cmd.Seq, Err: err}
		}
		return SubmissionSucceeded{Seq: cmd.Seq, Key: key, Result: *res}

	case SubmitComment:
		body, err := c.codec.Encrypt(cmd.Key, cmd.Body)
		if err != nil {
			return CommentFailed{Seq: cmd.Seq, Parent: cmd.Parent, Err: err}
		}
		var author string
		if cmd.Author != "" {
			if author, err = c.codec.Encrypt(cmd.Key, cmd.Author); err != nil {
				return CommentFailed{Seq: cmd.Seq, Parent: cmd.Parent, Err: err}
			}
		}
		res, err := c.gw.SubmitComment(ctx, domain.CommentSubmit{
			Data:      body,
			Author:    author,
			Highlight: cmd.Highlight,
			Comment:   true,
			Parent:    cmd.Parent,
			Paste:     cmd.PasteID,
		})
		if err != nil {
			c.log.Warn().Err(err).Str("paste", cmd.PasteID).Msg("comment submission failed")
			return CommentFailed{Seq: cmd.Seq, Parent: cmd.Parent, Err: err}
		}
		return CommentAdded{
			Seq: cmd.Seq,
			Comment: domain.Comment{
				ID:        res.ID,
				Parent:    cmd.Parent,
				Data:      body,
				Author:    author,
				PostDate:  res.PostDate,
				Avatar:    res.Avatar,
				Highlight: cmd.Highlight,
			},
			Body:   cmd.Body,
			Author: cmd.Author,
		}

	case FetchPaste:
		p, err := c.gw.FetchPaste(ctx, cmd.ID)
		if err != nil {
			return LoadFailed{Seq: cmd.Seq, Err: err}
		}
		return PasteLoaded{Seq: cmd.Seq, URL: cmd.URL, Key: cmd.Key, Paste: *p}
	}
	panic(fmt.Sprintf("session: unknown command %T", cmd))
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ComposeSubmitted:
		return "compose_submitted"
	case SubmissionSucceeded:
		return "submission_succeeded"
	case SubmissionFailed:
		return "submission_failed"
	case RetryRequested:
		return "retry_requested"
	case LoadRequested:
		return "load_requested"
	case PasteLoaded:
		return "paste_loaded"
	case LoadFailed:
		return "load_failed"
	case DecryptionFailed:
		return "decryption_failed"
	case CommentSubmitted:
		return "comment_submitted"
	case CommentAdded:
		return "comment_added"
	case CommentFailed:
		return "comment_failed"
	case NewPasteRequested:
		return "new_paste_requested"
	case CloneRequested:
		return "clone_requested"
	case PasteDeleted:
		return "paste_deleted"
	case DeleteFailed:
		return "delete_failed"
	}
	return "unknown"
}
