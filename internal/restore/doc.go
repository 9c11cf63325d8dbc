// Package restore re-creates collaboration data on the destination forge:
// issues with comments, pull request history as generated documentation, wiki
// pages, webhooks, branch restrictions, and permissions. Items that cannot be
// automated safely, deploy keys in particular, become manual-action
// documentation instead of API calls.
package restore
