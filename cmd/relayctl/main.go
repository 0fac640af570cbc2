package main

import (
	"fmt"
	"os"

	relayctlcmd "github.com/telekom/smtp-relay/pkg/relayctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := relayctlcmd.NewRootCommand(relayctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
