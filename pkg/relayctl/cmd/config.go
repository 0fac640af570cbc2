package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/relayctl/output"
)

// NewConfigCommand manages the relay config stored on the server, not the
// local relayctl config file.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the relay configuration",
	}
	cmd.AddCommand(newConfigGetCommand(), newConfigSetCommand())
	return cmd
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the relay configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			cfg, err := c.GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Format() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.Format(), cfg)
			}
			output.WriteConfig(rt.Writer(), cfg)
			return nil
		},
	}
}

type configFlags struct {
	preset        string
	host          string
	port          int
	encryption    string
	auth          bool
	username      string
	password      string
	fromAddress   string
	fromName      string
	logging       bool
	retentionDays int
}

func newConfigSetCommand() *cobra.Command {
	var f configFlags
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change relay settings",
		Long: "Reads the current relay configuration, applies the given flags and saves the result. " +
			"Settings without a flag keep their current value; the stored password is kept unless --password is given.",
		Example: "  relayctl config set --preset gmail --username me@example.com --password app-secret\n" +
			"  relayctl config set --host smtp.example.com --port 465 --encryption ssl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			current, err := c.GetConfig(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := f.apply(cmd, current.ToRaw())
			if err != nil {
				return err
			}
			res, err := c.SaveConfig(cmd.Context(), raw)
			if err != nil {
				return err
			}
			if rt.Format() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.Format(), res)
			}
			_, _ = fmt.Fprintln(rt.Writer(), res.Message)
			output.WriteConfig(rt.Writer(), res.Config)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.preset, "preset", "", "Start from a provider preset (see 'relayctl presets')")
	flags.StringVar(&f.host, "host", "", "SMTP host")
	flags.IntVar(&f.port, "port", 0, "SMTP port")
	flags.StringVar(&f.encryption, "encryption", "", "Encryption: none, ssl or tls")
	flags.BoolVar(&f.auth, "auth", false, "Authenticate against the SMTP host")
	flags.StringVar(&f.username, "username", "", "SMTP username")
	flags.StringVar(&f.password, "password", "", "SMTP password")
	flags.StringVar(&f.fromAddress, "from-address", "", "Sender address forced on outgoing mail")
	flags.StringVar(&f.fromName, "from-name", "", "Sender display name forced on outgoing mail")
	flags.BoolVar(&f.logging, "logging", false, "Record send attempts in the email log")
	flags.IntVar(&f.retentionDays, "retention-days", 0, "Days to keep email log entries")
	return cmd
}

// apply overlays the flags the user actually set onto raw.
func (f configFlags) apply(cmd *cobra.Command, raw relayconfig.RawInput) (relayconfig.RawInput, error) {
	if f.preset != "" {
		p, ok := relayconfig.PresetByName(f.preset)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", f.preset)
		}
		for k, v := range p.Raw() {
			raw[k] = v
		}
	}
	changed := cmd.Flags().Changed
	set := func(flag, key, value string) {
		if changed(flag) {
			raw[key] = value
		}
	}
	set("host", relayconfig.KeyHost, f.host)
	set("port", relayconfig.KeyPort, strconv.Itoa(f.port))
	set("encryption", relayconfig.KeyEncryption, f.encryption)
	set("auth", relayconfig.KeyAuth, strconv.FormatBool(f.auth))
	set("username", relayconfig.KeyUsername, f.username)
	set("password", relayconfig.KeyPassword, f.password)
	set("from-address", relayconfig.KeyFromAddress, f.fromAddress)
	set("from-name", relayconfig.KeyFromName, f.fromName)
	set("logging", relayconfig.KeyLogging, strconv.FormatBool(f.logging))
	set("retention-days", relayconfig.KeyRetentionDays, strconv.Itoa(f.retentionDays))
	return raw, nil
}
