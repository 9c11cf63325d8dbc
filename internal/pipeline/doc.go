// Package pipeline drives the per-repository processing sequence: metadata
// snapshot, mirror clone, destination ensure, push, collaboration restore,
// archive, retention. Repositories are processed sequentially with a courtesy
// pause between them, and each repository's failure is isolated from the rest
// of the run.
package pipeline
