// Package forge provides authenticated, paginated access to a Bitbucket-style
// repository hosting API. The client is stateless with respect to identity:
// every call receives its credential pair explicitly, so source and
// destination accounts can share one client without ambient-auth swapping.
package forge
