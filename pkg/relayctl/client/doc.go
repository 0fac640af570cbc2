// Package client is the relayctl HTTP client for the relay administration API.
package client
