// Package system holds process wide logging helpers: the daemon logger with
// optional file rotation, request scoped loggers and test loggers.
package system
