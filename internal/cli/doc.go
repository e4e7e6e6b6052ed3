// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the application's configuration and records
// which renderer settings were given explicitly, so that they win over the
// renderer block of a graph description.
package cli
