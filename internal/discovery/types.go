package discovery

import "github.com/temirov/bbmigrate/internal/forge"

// PermissionLevel enumerates workspace access levels reported by the forge.
type PermissionLevel string

// Known permission levels; anything unrecognized maps to PermissionUnknown.
const (
	PermissionOwner   PermissionLevel = "owner"
	PermissionAdmin   PermissionLevel = "admin"
	PermissionWrite   PermissionLevel = "write"
	PermissionRead    PermissionLevel = "read"
	PermissionUnknown PermissionLevel = "unknown"
)

// ParsePermissionLevel normalizes a forge permission string.
func ParsePermissionLevel(rawPermission string) PermissionLevel {
	switch rawPermission {
	case string(PermissionOwner):
		return PermissionOwner
	case string(PermissionAdmin):
		return PermissionAdmin
	case string(PermissionWrite):
		return PermissionWrite
	case string(PermissionRead):
		return PermissionRead
	default:
		return PermissionUnknown
	}
}

// WorkspaceRef identifies one workspace scope for a single run.
type WorkspaceRef struct {
	Slug            string
	DisplayName     string
	PermissionLevel PermissionLevel
	IsPrivate       bool
}

// RepositoryRecord describes one repository as seen from the source, with the
// owning workspace attached. DestinationName is the only field mutated after
// discovery; the reconciliation planner sets it.
type RepositoryRecord struct {
	Name            string
	Slug            string
	WorkspaceSlug   string
	SCM             string
	Language        string
	SizeBytes       int64
	IsPrivate       bool
	HasIssues       bool
	HasWiki         bool
	CloneEndpoints  map[string]string
	CreatedOn       string
	UpdatedOn       string
	DestinationName string
}

// RecordFromPayload converts a forge repository payload into a record scoped
// to the given workspace.
func RecordFromPayload(workspaceSlug string, payload forge.RepositoryPayload) RepositoryRecord {
	cloneEndpoints := make(map[string]string, len(payload.Links.Clone))
	for _, cloneLink := range payload.Links.Clone {
		cloneEndpoints[cloneLink.Name] = cloneLink.Href
	}

	return RepositoryRecord{
		Name:           payload.Name,
		Slug:           payload.Slug,
		WorkspaceSlug:  workspaceSlug,
		SCM:            payload.SCM,
		Language:       payload.Language,
		SizeBytes:      payload.Size,
		IsPrivate:      payload.IsPrivate,
		HasIssues:      payload.HasIssues,
		HasWiki:        payload.HasWiki,
		CloneEndpoints: cloneEndpoints,
		CreatedOn:      payload.CreatedOn,
		UpdatedOn:      payload.UpdatedOn,
	}
}

// WorkspaceInventory pairs a scanned workspace with its surviving repositories.
// A workspace that yielded nothing after filtering keeps an empty entry so
// reporting can distinguish "scanned, found nothing" from "not scanned".
type WorkspaceInventory struct {
	Workspace    WorkspaceRef
	Repositories []RepositoryRecord
}
