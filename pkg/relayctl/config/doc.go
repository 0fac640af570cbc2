// Package config reads and writes the relayctl configuration file.
package config
