// Package filter applies include/exclude substring patterns and count caps to
// workspace and repository name lists.
package filter
