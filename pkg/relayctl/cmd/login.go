package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/telekom/smtp-relay/pkg/relayctl/config"
)

func NewLoginCommand() *cobra.Command {
	var (
		name     string
		caFile   string
		insecure bool
		noVerify bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token for a relay",
		Long: "Stores an administrator bearer token in the OS keychain, or in a private file when " +
			"the keychain is unavailable or --token-storage=file is set. With --server the relay is " +
			"also saved as a context in the config file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if name == "" {
				name = rt.ResolveContextName()
			}
			if rt.serverOverride != "" {
				rt.cfg.UpsertContext(config.Context{
					Name:                  name,
					Server:                rt.serverOverride,
					CAFile:                caFile,
					InsecureSkipTLSVerify: insecure,
				})
				rt.cfg.CurrentContext = name
				if err := rt.cfg.Validate(); err != nil {
					return err
				}
				// The new context carries the TLS settings from here on.
				rt.serverOverride = ""
			}
			rt.contextOverride = name

			token := rt.tokenOverride
			if token == "" {
				if token, err = readToken(rt); err != nil {
					return err
				}
			}
			rt.tokenOverride = token

			if !noVerify {
				c, err := buildClient(rt)
				if err != nil {
					return err
				}
				if _, err := c.Info(cmd.Context()); err != nil {
					return fmt.Errorf("token rejected by relay: %w", err)
				}
			}

			where, err := rt.TokenStore().Save(name, token)
			if err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged in to context %q (token stored in %s)\n", name, where)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Context name to store the relay and token under")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "CA bundle for the relay's TLS certificate")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification of the relay")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Store the token without checking it against the relay")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token for the current context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := rt.ResolveContextName()
			if err := rt.TokenStore().Delete(name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Logged out of context %q\n", name)
			return nil
		},
	}
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken(rt *runtimeState) (string, error) {
	in := rt.Reader()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if rt.nonInteractive {
			return "", errors.New("token required: pass --token or pipe it on stdin")
		}
		_, _ = fmt.Fprint(os.Stderr, "Bearer token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return nonEmptyToken(string(b))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("token required: pass --token or pipe it on stdin")
	}
	return nonEmptyToken(line)
}

func nonEmptyToken(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("token is empty")
	}
	return s, nil
}
