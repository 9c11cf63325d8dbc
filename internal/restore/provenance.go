package restore

import (
	"fmt"
	"time"

	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	provenanceTimestampLayoutConstant = "2006-01-02 15:04:05"
	unknownAuthorDisplayNameConstant  = "Unknown"
	unknownAuthorUsernameConstant     = "unknown"
	provenanceHeaderTemplateConstant  = `---
**MIGRATED CONTENT**
- **Original Author:** %s (@%s)
- **Original Date:** %s
- **Migration Date:** %s
- **Type:** %s
---

`
)

// ProvenanceHeader renders the mandatory audit block prepended to every
// restored collaboration item. Destination-side authorship cannot be
// reassigned faithfully, so the original author and date travel in the
// content itself.
func ProvenanceHeader(itemType string, originalAuthor forge.UserPayload, originalDate string, migrationTime time.Time) string {
	displayName := originalAuthor.DisplayName
	if len(displayName) == 0 {
		displayName = unknownAuthorDisplayNameConstant
	}
	username := originalAuthor.Username
	if len(username) == 0 {
		username = unknownAuthorUsernameConstant
	}

	return fmt.Sprintf(
		provenanceHeaderTemplateConstant,
		displayName,
		username,
		originalDate,
		migrationTime.Format(provenanceTimestampLayoutConstant),
		itemType,
	)
}
