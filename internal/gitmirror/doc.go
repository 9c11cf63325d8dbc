// Package gitmirror drives the external git client for mirror clones,
// shallow working copies, and mirror pushes with a branch-plus-tags fallback.
package gitmirror
