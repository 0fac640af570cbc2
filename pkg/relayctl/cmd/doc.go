// Package cmd contains the relayctl cobra commands.
package cmd
