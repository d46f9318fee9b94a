package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zerobin/cfg"
	"zerobin/pkg/crypt"
	"zerobin/pkg/gateway"
	"zerobin/pkg/session"
	"zerobin/svc/util"
)

// app carries what every subcommand needs once the root has loaded configuration.
type app struct {
	cfg     *cfg.ClientCfg
	verbose bool
	envFile string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "zb",
		Short: "Zero-knowledge pastebin client",
		Long: `zb encrypts pastes and comments locally before they are sent, so the
server only ever stores ciphertext. The key travels in the URL fragment.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log requests and state changes to stderr")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with ZEROBIN_* settings")
	root.PersistentFlags().String("origin", "", "service origin (default $ZEROBIN_ORIGIN)")

	root.AddCommand(
		newPostCmd(a),
		newGetCmd(a),
		newCommentCmd(a),
		newDeleteCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := cfg.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	c, err := cfg.LoadClient()
	if err != nil {
		return err
	}
	if origin, _ := cmd.Flags().GetString("origin"); origin != "" {
		c.Origin = strings.TrimRight(origin, "/")
	}
	if err := cfg.ValidateClient(c); err != nil {
		return err
	}
	a.cfg = c
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	util.InitLogTo(cmd.ErrOrStderr(), level, true)
	return nil
}

// controller builds a session against origin with the configured cipher settings.
func (a *app) controller(origin string) (*session.Controller, error) {
	gw, err := gateway.New(origin, gateway.WithUserAgent("zb/"+version))
	if err != nil {
		return nil, err
	}
	codec, err := crypt.NewCodec(crypt.WithCipher(a.cfg.Cipher), crypt.WithIterations(a.cfg.KDFIterations))
	if err != nil {
		return nil, err
	}
	return session.NewController(gw, codec, origin,
		session.WithRequestTimeout(a.cfg.RequestTimeout),
		session.WithLogger(util.Component("session")),
	), nil
}

// readInput returns the text of args[0] as a file path, or stdin when no
// argument or "-" is given.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// failure turns a session that did not reach Displayed into an error.
func failure(st session.State) error {
	if st.Phase == session.Displayed && st.Err == nil {
		return nil
	}
	if st.Notice != "" {
		return fmt.Errorf("%s", st.Notice)
	}
	if st.Err != nil {
		return st.Err
	}
	return fmt.Errorf("session ended in %s", st.Phase)
}
