// Package config loads the relay service configuration from a YAML file:
// server, authentication, storage, outbound relay, fallback mail path, test
// email templates, retention, SMTP submission, audit and rate limits.
package config
