// Package cli defines the process flags of the relay daemon. Every flag falls
// back to an environment variable so the daemon can be configured from a
// deployment manifest without arguments.
package cli
