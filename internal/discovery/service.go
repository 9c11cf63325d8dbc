package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/filter"
	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	workspaceMembershipsResourcePathConstant = "user/permissions/workspaces"
	workspaceResourcePathTemplateConstant    = "workspaces/%s"
	repositoriesResourcePathTemplateConstant = "repositories/%s"
	repositoryPageLengthParameterConstant    = "pagelen"
	repositoryPageLengthValueConstant        = "100"
	logMessageWorkspaceDetailFailedConstant  = "workspace detail fetch failed, continuing discovery"
	logMessageWorkspaceListFailedConstant    = "workspace repository listing failed, skipping workspace"
	logMessageWorkspaceFilteredConstant      = "workspace excluded by filters"
	logMessageDiscoveryCompleteConstant      = "workspace discovery complete"
	logFieldWorkspaceSlugConstant            = "workspace_slug"
	logFieldRepositoryCountConstant          = "repository_count"
	logFieldWorkspaceCountConstant           = "workspace_count"
)

// ForgeLister abstracts the forge calls discovery needs.
type ForgeLister interface {
	Get(executionContext context.Context, credentials forge.Credentials, resourcePath string) (json.RawMessage, error)
	CollectPages(executionContext context.Context, credentials forge.Credentials, resourcePath string, params url.Values) ([]json.RawMessage, error)
}

// Service discovers workspaces and repositories for the source identity.
type Service struct {
	forgeClient ForgeLister
	credentials forge.Credentials
	logger      *zap.Logger
}

// NewService constructs a discovery service bound to the source credentials.
func NewService(forgeClient ForgeLister, credentials forge.Credentials, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{forgeClient: forgeClient, credentials: credentials, logger: logger}
}

// DiscoverWorkspaces lists every workspace visible to the source credentials.
// A failed membership detail is logged and skipped; partial discovery is a
// valid outcome, never fatal for the run.
func (service *Service) DiscoverWorkspaces(executionContext context.Context) ([]WorkspaceRef, error) {
	rawMemberships, listError := service.forgeClient.CollectPages(executionContext, service.credentials, workspaceMembershipsResourcePathConstant, nil)
	if listError != nil && len(rawMemberships) == 0 {
		return nil, listError
	}

	workspaces := make([]WorkspaceRef, 0, len(rawMemberships))
	for _, rawMembership := range rawMemberships {
		var membership forge.WorkspaceMembershipPayload
		if decodeError := forge.DecodeInto(rawMembership, &membership); decodeError != nil {
			service.logger.Warn(logMessageWorkspaceDetailFailedConstant, zap.Error(decodeError))
			continue
		}
		workspaces = append(workspaces, WorkspaceRef{
			Slug:            membership.Workspace.Slug,
			DisplayName:     membership.Workspace.Name,
			PermissionLevel: ParsePermissionLevel(membership.Permission),
			IsPrivate:       membership.Workspace.IsPrivate,
		})
	}

	return workspaces, nil
}

// ResolveWorkspaces turns configured workspace slugs into refs, fetching the
// detail record for display names. A slug whose detail cannot be fetched is
// kept with unknown permission so the run can still attempt it.
func (service *Service) ResolveWorkspaces(executionContext context.Context, workspaceSlugs []string) []WorkspaceRef {
	workspaces := make([]WorkspaceRef, 0, len(workspaceSlugs))
	for _, workspaceSlug := range workspaceSlugs {
		workspaceRef := WorkspaceRef{Slug: workspaceSlug, DisplayName: workspaceSlug, PermissionLevel: PermissionUnknown}

		detailPath := fmt.Sprintf(workspaceResourcePathTemplateConstant, workspaceSlug)
		payload, detailError := service.forgeClient.Get(executionContext, service.credentials, detailPath)
		if detailError != nil {
			service.logger.Warn(
				logMessageWorkspaceDetailFailedConstant,
				zap.String(logFieldWorkspaceSlugConstant, workspaceSlug),
				zap.Error(detailError),
			)
			workspaces = append(workspaces, workspaceRef)
			continue
		}

		var workspacePayload forge.WorkspacePayload
		if decodeError := forge.DecodeInto(payload, &workspacePayload); decodeError == nil {
			workspaceRef.DisplayName = workspacePayload.Name
			workspaceRef.IsPrivate = workspacePayload.IsPrivate
		}
		workspaces = append(workspaces, workspaceRef)
	}
	return workspaces
}

// DiscoverRepositories pages through one workspace's repository listing.
// Failures are scoped to that workspace.
func (service *Service) DiscoverRepositories(executionContext context.Context, workspace WorkspaceRef) ([]RepositoryRecord, error) {
	listPath := fmt.Sprintf(repositoriesResourcePathTemplateConstant, workspace.Slug)
	params := url.Values{}
	params.Set(repositoryPageLengthParameterConstant, repositoryPageLengthValueConstant)

	rawRepositories, listError := service.forgeClient.CollectPages(executionContext, service.credentials, listPath, params)
	if listError != nil {
		return nil, listError
	}

	records := make([]RepositoryRecord, 0, len(rawRepositories))
	for _, rawRepository := range rawRepositories {
		var payload forge.RepositoryPayload
		if decodeError := forge.DecodeInto(rawRepository, &payload); decodeError != nil {
			return records, decodeError
		}
		records = append(records, RecordFromPayload(workspace.Slug, payload))
	}
	return records, nil
}

// Filters carries the workspace- and repository-level filter specs for one run.
// The repository cap applies per workspace, so one large workspace cannot
// starve the others of quota.
type Filters struct {
	WorkspaceSpec  filter.Spec
	RepositorySpec filter.Spec
}

// DiscoverAll filters the workspace list, enumerates each surviving
// workspace, filters and caps its repositories, and returns inventories in
// workspace-encounter order. A workspace whose listing fails is recorded with
// a nil repository slice and the error is logged, not propagated.
func (service *Service) DiscoverAll(executionContext context.Context, workspaces []WorkspaceRef, filters Filters) []WorkspaceInventory {
	inventories := make([]WorkspaceInventory, 0, len(workspaces))

	for _, workspace := range workspaces {
		if !filter.Matches(workspace.Slug, filters.WorkspaceSpec) {
			service.logger.Info(
				logMessageWorkspaceFilteredConstant,
				zap.String(logFieldWorkspaceSlugConstant, workspace.Slug),
			)
			continue
		}

		repositories, discoveryError := service.DiscoverRepositories(executionContext, workspace)
		if discoveryError != nil {
			service.logger.Warn(
				logMessageWorkspaceListFailedConstant,
				zap.String(logFieldWorkspaceSlugConstant, workspace.Slug),
				zap.Error(discoveryError),
			)
			inventories = append(inventories, WorkspaceInventory{Workspace: workspace})
			continue
		}

		selected := make([]RepositoryRecord, 0, len(repositories))
		for _, repository := range repositories {
			if filter.Matches(repository.Name, filters.RepositorySpec) {
				selected = append(selected, repository)
			}
		}
		selected = filter.ApplyCap(selected, filters.RepositorySpec.MaximumCount)

		inventories = append(inventories, WorkspaceInventory{Workspace: workspace, Repositories: selected})
	}

	service.logger.Info(
		logMessageDiscoveryCompleteConstant,
		zap.Int(logFieldWorkspaceCountConstant, len(inventories)),
		zap.Int(logFieldRepositoryCountConstant, len(Flatten(inventories))),
	)

	return inventories
}

// Flatten builds the linear processing queue: workspace-encounter order
// outer, within-workspace discovery order inner.
func Flatten(inventories []WorkspaceInventory) []RepositoryRecord {
	var flattened []RepositoryRecord
	for _, inventory := range inventories {
		flattened = append(flattened, inventory.Repositories...)
	}
	return flattened
}
