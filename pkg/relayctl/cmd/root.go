package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/smtp-relay/pkg/relayctl/config"
	"github.com/telekom/smtp-relay/pkg/relayctl/credentials"
	"github.com/telekom/smtp-relay/pkg/relayctl/output"
)

// defaultContextName is used for tokens when relayctl runs without a config
// context, e.g. with --server only.
const defaultContextName = "default"

type Config struct {
	ConfigPath   string
	TokenPath    string
	OutputWriter io.Writer
	InputReader  io.Reader
}

type runtimeState struct {
	configPath           string
	tokenPath            string
	cfg                  *config.Config
	contextOverride      string
	outputFormat         string
	serverOverride       string
	tokenOverride        string
	tokenStorageOverride string
	colorMode            string
	nonInteractive       bool
	writer               io.Writer
	reader               io.Reader
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		TokenPath:    config.DefaultTokenPath(),
		OutputWriter: os.Stdout,
		InputReader:  os.Stdin,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, tokenPath: cfg.TokenPath, writer: cfg.OutputWriter, reader: cfg.InputReader}

	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Administer an SMTP relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.contextOverride == "" {
				rt.contextOverride = os.Getenv("RELAYCTL_CONTEXT")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("RELAYCTL_OUTPUT")
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("RELAYCTL_SERVER")
			}
			if rt.tokenOverride == "" {
				rt.tokenOverride = os.Getenv("RELAYCTL_TOKEN")
			}
			if rt.tokenStorageOverride == "" {
				rt.tokenStorageOverride = os.Getenv("RELAYCTL_TOKEN_STORAGE")
			}
			if !rt.nonInteractive {
				rt.nonInteractive = strings.EqualFold(os.Getenv("RELAYCTL_NON_INTERACTIVE"), "true")
			}

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			output.SetColor(rt.ColorMode())
			_, err := output.ParseFormat(rt.OutputFormat())
			return err
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", "", "Context name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Relay URL override (bypass config)")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().StringVar(&rt.colorMode, "color", "", "Colorize output: auto, always, never")
	root.PersistentFlags().BoolVar(&rt.nonInteractive, "non-interactive", false, "Fail instead of prompting")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewLoginCommand(),
		NewLogoutCommand(),
		NewTestCommand(),
		NewLogsCommand(),
		NewConfigCommand(),
		NewPresetsCommand(),
		NewInfoCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// EnsureConfigLoaded loads the config file. A missing file yields the
// defaults so that login can create it.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if errors.Is(err, os.ErrNotExist) {
		def := config.DefaultConfig()
		rt.cfg = &def
		return nil
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		if name := rt.cfg.CurrentContextOrDefault(); name != "" {
			return name
		}
	}
	return defaultContextName
}

// ResolveContext returns nil without error when no context is configured and
// none was requested explicitly.
func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveContextName()
	ctx, err := rt.cfg.FindContext(name)
	if err != nil && rt.contextOverride == "" && len(rt.cfg.Contexts) == 0 {
		return nil, nil
	}
	return ctx, err
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return string(output.FormatTable)
}

func (rt *runtimeState) Format() output.Format {
	f, _ := output.ParseFormat(rt.OutputFormat())
	return f
}

func (rt *runtimeState) ColorMode() string {
	if rt.colorMode != "" {
		return rt.colorMode
	}
	if rt.cfg != nil && rt.cfg.Settings.Color != "" {
		return rt.cfg.Settings.Color
	}
	return "auto"
}

func (rt *runtimeState) TokenStore() credentials.Store {
	storage := rt.tokenStorageOverride
	if storage == "" && rt.cfg != nil {
		storage = rt.cfg.Settings.TokenStorage
	}
	return credentials.Store{
		UseKeychain: storage == "" || storage == config.TokenStorageKeychain,
		FilePath:    rt.tokenPathValue(),
	}
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Reader() io.Reader {
	if rt.reader != nil {
		return rt.reader
	}
	return os.Stdin
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

func (rt *runtimeState) tokenPathValue() string {
	if rt.tokenPath == "" {
		return config.DefaultTokenPath()
	}
	return rt.tokenPath
}
