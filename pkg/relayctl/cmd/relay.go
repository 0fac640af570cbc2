package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/smtp-relay/pkg/relayctl/client"
	"github.com/telekom/smtp-relay/pkg/relayctl/output"
)

func NewTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <email>",
		Short: "Send a test email through the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			res, err := c.SendTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeAction(rt, res)
		},
	}
}

func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the email log",
	}
	cmd.AddCommand(newLogsListCommand(), newLogsClearCommand())
	return cmd
}

func newLogsListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged send attempts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			logs, err := c.ListLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if rt.Format() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.Format(), logs.Logs)
			}
			if len(logs.Logs) == 0 {
				_, _ = fmt.Fprintln(rt.Writer(), "No emails logged yet.")
				return nil
			}
			output.WriteLogTable(rt.Writer(), logs.Logs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of entries to show (0 for all)")
	return cmd
}

func newLogsClearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every email log entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to clear the email log without --yes")
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			res, err := c.ClearLogs(cmd.Context())
			if err != nil {
				return err
			}
			return writeAction(rt, res)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func NewPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List known SMTP provider presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			presets, err := c.Presets(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Format() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.Format(), presets)
			}
			output.WritePresetTable(rt.Writer(), presets)
			return nil
		},
	}
}

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the relay's version and state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			info, err := c.Info(cmd.Context())
			if err != nil {
				return err
			}
			if rt.Format() != output.FormatTable {
				return output.WriteObject(rt.Writer(), rt.Format(), info)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s %s (commit: %s)\nRelay enabled: %t\nLogging enabled: %t\n",
				info.Service, info.Version, info.GitCommit, info.RelayEnabled, info.LoggingEnabled)
			return nil
		},
	}
}

func writeAction(rt *runtimeState, res client.ActionResult) error {
	if rt.Format() != output.FormatTable {
		return output.WriteObject(rt.Writer(), rt.Format(), res)
	}
	_, err := fmt.Fprintln(rt.Writer(), res.Message)
	return err
}
