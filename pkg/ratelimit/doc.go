// Package ratelimit limits admin API calls per caller and test email sends per
// token subject using golang.org/x/time/rate token buckets.
package ratelimit
