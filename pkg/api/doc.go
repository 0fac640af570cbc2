// Package api implements the relay's HTTP surface (Gin-based): bearer token
// authentication, the administrator endpoints for relay configuration, test
// email and the delivery log, and the application send endpoints that feed
// the delivery pipeline.
package api
