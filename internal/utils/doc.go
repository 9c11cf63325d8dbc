// Package utils exposes reusable helpers consumed by multiple commands.
//
// It currently houses the LoggerFactory abstraction that integrates zap
// logging levels, encodings, and file outputs for the CLI.
package utils
