// Package execshell executes external commands, wrapping os/exec with
// structured logging, lifecycle events, and typed failures. Clone URLs with
// embedded credentials are redacted before anything reaches a log sink.
package execshell
