// Package archive packages mirror clones and metadata snapshots into
// self-describing tar.gz archives and enforces per-repository retention.
package archive
