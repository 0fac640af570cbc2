// Package mail composes outgoing messages and performs single delivery
// attempts, either through the administrator configured SMTP relay or through
// a default sender (local MTA, Amazon SES or the log).
package mail
