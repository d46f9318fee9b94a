package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"zerobin/pkg/session"
	"zerobin/pkg/view"
)

func newPostCmd(a *app) *cobra.Command {
	var (
		expire time.Duration
		opts   session.Options
	)
	cmd := &cobra.Command{
		Use:   "post [file]",
		Short: "Encrypt and upload a paste from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			c, err := a.controller(a.cfg.Origin)
			if err != nil {
				return err
			}
			defer c.Close()
			opts.ExpireSeconds = int64(expire / time.Second)
			c.Compose(text, opts)
			c.Wait()
			st := c.State()
			if err := failure(st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "share:  %s\n", st.ShareURL)
			fmt.Fprintf(out, "delete: %s\n", st.DeleteURL)
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVarP(&expire, "expire", "e", 0, "lifetime of the paste (0 uses the server maximum)")
	f.BoolVarP(&opts.BurnAfterRead, "burn", "b", false, "delete the paste after its first read")
	f.BoolVarP(&opts.Discussion, "discussion", "d", false, "allow comments")
	f.BoolVar(&opts.Highlight, "highlight", false, "render as source code")
	return cmd
}

// open loads and decrypts the paste behind shareURL.
func (a *app) open(shareURL string) (*session.Controller, error) {
	origin, _, _, err := session.ParseShareURL(shareURL)
	if err != nil {
		return nil, err
	}
	c, err := a.controller(origin)
	if err != nil {
		return nil, err
	}
	c.Load(shareURL)
	c.Wait()
	if err := failure(c.State()); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newGetCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <share-url>",
		Short: "Download and decrypt a paste with its discussion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			if raw {
				return view.WriteRaw(cmd.OutOrStdout(), c.State())
			}
			return view.WriteText(cmd.OutOrStdout(), c.State())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the paste text")
	return cmd
}

func newCommentCmd(a *app) *cobra.Command {
	var (
		parent    string
		author    string
		highlight bool
	)
	cmd := &cobra.Command{
		Use:   "comment <share-url> [file]",
		Short: "Add an encrypted comment to a paste discussion",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args[1:])
			if err != nil {
				return err
			}
			body = strings.TrimRight(body, "\n")
			c, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			st := c.State()
			if parent == "" {
				parent = st.PasteID
			}
			c.Comment(parent, body, author, highlight)
			c.Wait()
			st = c.State()
			if st.Err != nil {
				return failure(st)
			}
			if st.LastComment == "" {
				return fmt.Errorf("comment was not added")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "comment %s posted\n", st.LastComment)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&parent, "parent", "p", "", "comment id to reply to (default: the paste)")
	f.StringVarP(&author, "author", "a", "", "nickname, encrypted like the body (default: anonymous)")
	f.BoolVar(&highlight, "highlight", false, "render as source code")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <delete-url>",
		Short: "Delete a paste with the link returned by post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, id, _, err := session.ParseDeleteURL(args[0])
			if err != nil {
				return err
			}
			c, err := a.controller(origin)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paste %s deleted\n", id)
			return nil
		},
	}
}
