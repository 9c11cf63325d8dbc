package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	pullRequestsResourceTemplateConstant       = "repositories/%s/%s/pullrequests"
	pullRequestCommentsResourceTemplateConstant = "repositories/%s/%s/pullrequests/%d/comments"
	issuesResourceTemplateConstant             = "repositories/%s/%s/issues"
	issueCommentsResourceTemplateConstant      = "repositories/%s/%s/issues/%d/comments"
	branchesResourceTemplateConstant           = "repositories/%s/%s/refs/branches"
	tagsResourceTemplateConstant               = "repositories/%s/%s/refs/tags"
	wikiPagesResourceTemplateConstant          = "repositories/%s/%s/wiki/pages"
	webhooksResourceTemplateConstant           = "repositories/%s/%s/hooks"
	deployKeysResourceTemplateConstant         = "repositories/%s/%s/deploy-keys"
	branchRestrictionsResourceTemplateConstant = "repositories/%s/%s/branch-restrictions"
	userPermissionsResourceTemplateConstant    = "repositories/%s/%s/permissions-config/users"
	pullRequestStateParameterConstant          = "state"
	pullRequestStateFilterConstant             = "MERGED,OPEN,DECLINED,SUPERSEDED"
	partialFailureTemplateConstant             = "%s: %v"
	logMessageSubResourceDegradedConstant      = "metadata sub-resource unavailable, degrading to empty"
	logMessageSnapshotCollectedConstant        = "metadata snapshot collected"
	logFieldSubResourceConstant                = "sub_resource"
	logFieldRepositoryFullNameConstant         = "repository_full_name"
	logFieldItemCountConstant                  = "item_count"

	subResourcePullRequestsConstant       = "pull_requests"
	subResourceIssuesConstant             = "issues"
	subResourceBranchesConstant           = "branches"
	subResourceTagsConstant               = "tags"
	subResourceWikiPagesConstant          = "wiki_pages"
	subResourceWebhooksConstant           = "webhooks"
	subResourceDeployKeysConstant         = "deploy_keys"
	subResourceBranchRestrictionsConstant = "branch_restrictions"
	subResourcePermissionsConstant        = "permissions"
)

// ForgePager abstracts the paginated forge listing the collector needs.
type ForgePager interface {
	CollectPages(executionContext context.Context, credentials forge.Credentials, resourcePath string, params url.Values) ([]json.RawMessage, error)
}

// Collector snapshots collaboration metadata for source repositories.
type Collector struct {
	forgeClient ForgePager
	credentials forge.Credentials
	logger      *zap.Logger
}

// NewCollector constructs a Collector bound to the source credentials.
func NewCollector(forgeClient ForgePager, credentials forge.Credentials, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{forgeClient: forgeClient, credentials: credentials, logger: logger}
}

// Collect gathers every collaboration sub-resource for the repository. A
// sub-resource that cannot be fetched is recorded as a partial failure and
// left empty; only the repository record itself is required.
func (collector *Collector) Collect(executionContext context.Context, workspaceSlug string, repositoryPayload forge.RepositoryPayload, backupTimestamp string) Snapshot {
	repositorySlug := repositoryPayload.Slug
	if len(repositorySlug) == 0 {
		repositorySlug = repositoryPayload.Name
	}

	snapshot := Snapshot{
		RepositoryInfo:  repositoryPayload,
		BackupTimestamp: backupTimestamp,
	}

	pullRequestParams := url.Values{}
	pullRequestParams.Set(pullRequestStateParameterConstant, pullRequestStateFilterConstant)
	pullRequests, pullRequestError := collectTyped[forge.PullRequestPayload](
		executionContext, collector, fmt.Sprintf(pullRequestsResourceTemplateConstant, workspaceSlug, repositorySlug), pullRequestParams)
	if pullRequestError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourcePullRequestsConstant, pullRequestError)
	}
	for _, pullRequestPayload := range pullRequests {
		pullRequestRecord := PullRequestRecord{PullRequestPayload: pullRequestPayload}
		pullRequestRecord.Comments, _ = collectTyped[forge.CommentPayload](
			executionContext, collector, fmt.Sprintf(pullRequestCommentsResourceTemplateConstant, workspaceSlug, repositorySlug, pullRequestPayload.ID), nil)
		snapshot.PullRequests = append(snapshot.PullRequests, pullRequestRecord)
	}

	if repositoryPayload.HasIssues {
		issues, issueError := collectTyped[forge.IssuePayload](
			executionContext, collector, fmt.Sprintf(issuesResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
		if issueError != nil {
			snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceIssuesConstant, issueError)
		}
		for _, issuePayload := range issues {
			issueRecord := IssueRecord{IssuePayload: issuePayload}
			issueRecord.Comments, _ = collectTyped[forge.CommentPayload](
				executionContext, collector, fmt.Sprintf(issueCommentsResourceTemplateConstant, workspaceSlug, repositorySlug, issuePayload.ID), nil)
			snapshot.Issues = append(snapshot.Issues, issueRecord)
		}
	}

	var branchesError error
	snapshot.Branches, branchesError = collectTyped[forge.RefPayload](
		executionContext, collector, fmt.Sprintf(branchesResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if branchesError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceBranchesConstant, branchesError)
	}

	var tagsError error
	snapshot.Tags, tagsError = collectTyped[forge.RefPayload](
		executionContext, collector, fmt.Sprintf(tagsResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if tagsError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceTagsConstant, tagsError)
	}

	if repositoryPayload.HasWiki {
		var wikiError error
		snapshot.WikiPages, wikiError = collectTyped[forge.WikiPagePayload](
			executionContext, collector, fmt.Sprintf(wikiPagesResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
		if wikiError != nil {
			snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceWikiPagesConstant, wikiError)
		}
	}

	var webhooksError error
	snapshot.Webhooks, webhooksError = collectTyped[forge.WebhookPayload](
		executionContext, collector, fmt.Sprintf(webhooksResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if webhooksError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceWebhooksConstant, webhooksError)
	}

	var deployKeysError error
	snapshot.DeployKeys, deployKeysError = collectTyped[forge.DeployKeyPayload](
		executionContext, collector, fmt.Sprintf(deployKeysResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if deployKeysError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceDeployKeysConstant, deployKeysError)
	}

	var restrictionsError error
	snapshot.BranchRestrictions, restrictionsError = collectTyped[forge.BranchRestrictionPayload](
		executionContext, collector, fmt.Sprintf(branchRestrictionsResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if restrictionsError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourceBranchRestrictionsConstant, restrictionsError)
	}

	var permissionsError error
	snapshot.Permissions, permissionsError = collectTyped[forge.PermissionPayload](
		executionContext, collector, fmt.Sprintf(userPermissionsResourceTemplateConstant, workspaceSlug, repositorySlug), nil)
	if permissionsError != nil {
		snapshot.PartialFailures = collector.recordDegradation(snapshot.PartialFailures, subResourcePermissionsConstant, permissionsError)
	}

	collector.logger.Info(
		logMessageSnapshotCollectedConstant,
		zap.String(logFieldRepositoryFullNameConstant, repositoryPayload.FullName),
		zap.Int(logFieldItemCountConstant, snapshot.ItemCount()),
	)

	return snapshot
}

// collectTyped lists one sub-resource. A NotFound response means the facet is
// absent (no wiki, issue tracker disabled) and yields an empty result.
func collectTyped[Element any](executionContext context.Context, collector *Collector, resourcePath string, params url.Values) ([]Element, error) {
	rawElements, listError := collector.forgeClient.CollectPages(executionContext, collector.credentials, resourcePath, params)
	if listError != nil {
		if forge.IsNotFound(listError) {
			return nil, nil
		}
		return nil, listError
	}

	elements := make([]Element, 0, len(rawElements))
	for _, rawElement := range rawElements {
		var element Element
		if decodeError := forge.DecodeInto(rawElement, &element); decodeError != nil {
			return elements, decodeError
		}
		elements = append(elements, element)
	}
	return elements, nil
}

func (collector *Collector) recordDegradation(partialFailures []string, subResourceName string, cause error) []string {
	collector.logger.Warn(
		logMessageSubResourceDegradedConstant,
		zap.String(logFieldSubResourceConstant, subResourceName),
		zap.Error(cause),
	)
	return append(partialFailures, fmt.Sprintf(partialFailureTemplateConstant, subResourceName, cause))
}
