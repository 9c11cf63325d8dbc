// Package metadata snapshots repository collaboration data from the source
// forge into a typed, persistable document. Individual sub-resource failures
// degrade to empty fields so one inaccessible facet never voids the snapshot.
package metadata
