// Package app assembles the discovery, reconciliation, and pipeline engines
// into the operations the CLI exposes: plan, run, and verify.
package app
