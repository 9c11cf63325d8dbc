// Package discovery enumerates workspaces and repositories visible to the
// source credentials, applies filtering, and builds the linear processing
// queue with workspace provenance attached to every repository record.
package discovery
