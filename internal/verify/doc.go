// Package verify checks credentials and workspace access for both accounts
// before a run, so operators catch configuration problems without touching a
// single repository.
package verify
