// Package apiresponses renders the admin API's JSON error envelope
// ({"error", "code", "details"}) and common success responses.
package apiresponses
