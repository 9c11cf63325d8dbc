package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/metadata"
)

const (
	issuesResourceTemplateConstant             = "repositories/%s/%s/issues"
	issueCommentsResourceTemplateConstant      = "repositories/%s/%s/issues/%d/comments"
	wikiPagesResourceTemplateConstant          = "repositories/%s/%s/wiki/pages"
	webhooksResourceTemplateConstant           = "repositories/%s/%s/hooks"
	branchRestrictionsResourceTemplateConstant = "repositories/%s/%s/branch-restrictions"
	userPermissionResourceTemplateConstant     = "repositories/%s/%s/permissions-config/users/%s"

	itemTypeIssueConstant       = "Issue"
	itemTypeCommentConstant     = "Comment"
	itemTypePullRequestConstant = "Pull Request"
	itemTypeWikiPageConstant    = "Wiki Page"

	pullRequestDocumentTitleConstant = "Migrated Pull Request History"
	pullRequestDocumentSlugConstant  = "migrated-pull-request-history"
	deployKeyDocumentTitleConstant   = "Manual Actions: Deploy Keys"
	deployKeyDocumentSlugConstant    = "manual-actions-deploy-keys"

	restoreFailureTemplateConstant        = "%s: %v"
	logMessageItemRestoreFailedConstant   = "collaboration item restore failed, continuing"
	logMessageDocumentAttachedConstant    = "generated document attached"
	logMessageDocumentFallbackConstant    = "wiki page creation failed, attaching document as issue"
	logFieldItemTypeConstant              = "item_type"
	logFieldDocumentTitleConstant         = "document_title"
	logFieldDestinationSlugConstant       = "destination_slug"
	fingerprintPreviewLengthConstant      = 16
	truncationSuffixConstant              = "..."
)

// Options selects which collaboration facets are restored.
type Options struct {
	Issues             bool
	PullRequests       bool
	Wiki               bool
	Webhooks           bool
	BranchRestrictions bool
	Permissions        bool
	DeployKeys         bool
}

// Outcome aggregates what one repository's restore accomplished. Per-item
// failures are collected here, never escalated to the caller.
type Outcome struct {
	IssuesRestored             int
	CommentsRestored           int
	WikiPagesRestored          int
	WebhooksRestored           int
	BranchRestrictionsRestored int
	PermissionsRestored        int
	PermissionsSkipped         []string
	DocumentsAttached          []string
	Failures                   []string
}

// ForgeWriter abstracts the destination forge calls the restorer makes.
type ForgeWriter interface {
	Create(executionContext context.Context, credentials forge.Credentials, resourcePath string, body any) (json.RawMessage, error)
	Put(executionContext context.Context, credentials forge.Credentials, resourcePath string, body any) (json.RawMessage, error)
}

// Restorer re-creates collaboration data on the destination repository.
type Restorer struct {
	forgeClient ForgeWriter
	credentials forge.Credentials
	userMapping UserMapping
	options     Options
	clock       func() time.Time
	logger      *zap.Logger
}

// NewRestorer constructs a Restorer bound to the destination credentials.
func NewRestorer(forgeClient ForgeWriter, credentials forge.Credentials, userMapping UserMapping, options Options, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if userMapping == nil {
		userMapping = UserMapping{}
	}
	return &Restorer{
		forgeClient: forgeClient,
		credentials: credentials,
		userMapping: userMapping,
		options:     options,
		clock:       time.Now,
		logger:      logger,
	}
}

// Restore applies every enabled facet of the snapshot to the destination
// repository. It always returns an Outcome; item-level failures are recorded
// there and never abort the remaining facets.
func (restorer *Restorer) Restore(executionContext context.Context, destinationWorkspaceSlug string, destinationRepositorySlug string, snapshot metadata.Snapshot) Outcome {
	outcome := Outcome{}

	if restorer.options.Issues {
		restorer.restoreIssues(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, snapshot.Issues, &outcome)
	}
	if restorer.options.PullRequests && len(snapshot.PullRequests) > 0 {
		document := restorer.renderPullRequestDocument(snapshot.PullRequests)
		restorer.attachDocument(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, pullRequestDocumentTitleConstant, pullRequestDocumentSlugConstant, document, &outcome)
	}
	if restorer.options.Wiki {
		restorer.restoreWikiPages(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, snapshot.WikiPages, &outcome)
	}
	if restorer.options.Webhooks {
		restorer.restoreWebhooks(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, snapshot.Webhooks, &outcome)
	}
	if restorer.options.BranchRestrictions {
		restorer.restoreBranchRestrictions(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, snapshot.BranchRestrictions, &outcome)
	}
	if restorer.options.Permissions {
		restorer.restorePermissions(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, snapshot.Permissions, &outcome)
	}
	if restorer.options.DeployKeys && len(snapshot.DeployKeys) > 0 {
		document := RenderDeployKeyDocument(snapshot.DeployKeys, restorer.clock())
		restorer.attachDocument(executionContext, destinationWorkspaceSlug, destinationRepositorySlug, deployKeyDocumentTitleConstant, deployKeyDocumentSlugConstant, document, &outcome)
	}

	return outcome
}

func (restorer *Restorer) restoreIssues(executionContext context.Context, workspaceSlug string, repositorySlug string, issues []metadata.IssueRecord, outcome *Outcome) {
	issuesResource := fmt.Sprintf(issuesResourceTemplateConstant, workspaceSlug, repositorySlug)

	for _, issueRecord := range issues {
		header := ProvenanceHeader(itemTypeIssueConstant, issueRecord.Reporter, issueRecord.CreatedOn, restorer.clock())
		requestBody := map[string]any{
			"title":    issueRecord.Title,
			"content":  map[string]string{"raw": header + issueRecord.Content.Raw},
			"kind":     issueRecord.Kind,
			"priority": issueRecord.Priority,
		}
		if issueRecord.Assignee != nil {
			if destinationUsername, mappingOutcome := restorer.userMapping.Resolve(issueRecord.Assignee.Username); mappingOutcome == MappingOutcomeMapped {
				requestBody["assignee"] = map[string]string{"username": destinationUsername}
			}
		}

		rawCreated, createError := restorer.forgeClient.Create(executionContext, restorer.credentials, issuesResource, requestBody)
		if createError != nil {
			restorer.recordFailure(outcome, itemTypeIssueConstant, createError)
			continue
		}
		outcome.IssuesRestored++

		var createdIssue forge.IssuePayload
		if decodeError := forge.DecodeInto(rawCreated, &createdIssue); decodeError != nil || createdIssue.ID == 0 {
			continue
		}

		commentsResource := fmt.Sprintf(issueCommentsResourceTemplateConstant, workspaceSlug, repositorySlug, createdIssue.ID)
		for _, comment := range issueRecord.Comments {
			commentHeader := ProvenanceHeader(itemTypeCommentConstant, comment.User, comment.CreatedOn, restorer.clock())
			commentBody := map[string]any{
				"content": map[string]string{"raw": commentHeader + comment.Content.Raw},
			}
			if _, commentError := restorer.forgeClient.Create(executionContext, restorer.credentials, commentsResource, commentBody); commentError != nil {
				restorer.recordFailure(outcome, itemTypeCommentConstant, commentError)
				continue
			}
			outcome.CommentsRestored++
		}
	}
}

func (restorer *Restorer) restoreWikiPages(executionContext context.Context, workspaceSlug string, repositorySlug string, wikiPages []forge.WikiPagePayload, outcome *Outcome) {
	for _, wikiPage := range wikiPages {
		header := ProvenanceHeader(itemTypeWikiPageConstant, wikiPage.Author, wikiPage.CreatedOn, restorer.clock())
		requestBody := map[string]any{
			"title":   wikiPage.Title,
			"slug":    wikiPage.Slug,
			"content": header + wikiPage.Content,
		}
		wikiResource := fmt.Sprintf(wikiPagesResourceTemplateConstant, workspaceSlug, repositorySlug)
		if _, createError := restorer.forgeClient.Create(executionContext, restorer.credentials, wikiResource, requestBody); createError != nil {
			restorer.recordFailure(outcome, itemTypeWikiPageConstant, createError)
			continue
		}
		outcome.WikiPagesRestored++
	}
}

func (restorer *Restorer) restoreWebhooks(executionContext context.Context, workspaceSlug string, repositorySlug string, webhooks []forge.WebhookPayload, outcome *Outcome) {
	webhooksResource := fmt.Sprintf(webhooksResourceTemplateConstant, workspaceSlug, repositorySlug)
	for _, webhook := range webhooks {
		requestBody := map[string]any{
			"description": webhook.Description,
			"url":         webhook.URL,
			"active":      webhook.Active,
			"events":      webhook.Events,
		}
		if _, createError := restorer.forgeClient.Create(executionContext, restorer.credentials, webhooksResource, requestBody); createError != nil {
			restorer.recordFailure(outcome, "webhook", createError)
			continue
		}
		outcome.WebhooksRestored++
	}
}

func (restorer *Restorer) restoreBranchRestrictions(executionContext context.Context, workspaceSlug string, repositorySlug string, restrictions []forge.BranchRestrictionPayload, outcome *Outcome) {
	restrictionsResource := fmt.Sprintf(branchRestrictionsResourceTemplateConstant, workspaceSlug, repositorySlug)
	for _, restriction := range restrictions {
		requestBody := map[string]any{
			"kind":    restriction.Kind,
			"pattern": restriction.Pattern,
		}
		if restriction.Value != nil {
			requestBody["value"] = *restriction.Value
		}
		if _, createError := restorer.forgeClient.Create(executionContext, restorer.credentials, restrictionsResource, requestBody); createError != nil {
			restorer.recordFailure(outcome, "branch_restriction", createError)
			continue
		}
		outcome.BranchRestrictionsRestored++
	}
}

// restorePermissions grants destination permissions only for users with an
// explicit mapping. Unmapped users are recorded as skipped, never guessed.
func (restorer *Restorer) restorePermissions(executionContext context.Context, workspaceSlug string, repositorySlug string, permissions []forge.PermissionPayload, outcome *Outcome) {
	for _, permission := range permissions {
		destinationUsername, mappingOutcome := restorer.userMapping.Resolve(permission.User.Username)
		if mappingOutcome != MappingOutcomeMapped {
			outcome.PermissionsSkipped = append(outcome.PermissionsSkipped, permission.User.Username)
			continue
		}

		permissionResource := fmt.Sprintf(userPermissionResourceTemplateConstant, workspaceSlug, repositorySlug, destinationUsername)
		requestBody := map[string]string{"permission": permission.Permission}
		if _, putError := restorer.forgeClient.Put(executionContext, restorer.credentials, permissionResource, requestBody); putError != nil {
			restorer.recordFailure(outcome, "permission", putError)
			continue
		}
		outcome.PermissionsRestored++
	}
}

// attachDocument stores a generated markdown document as a wiki page, falling
// back to an issue when the destination has no wiki.
func (restorer *Restorer) attachDocument(executionContext context.Context, workspaceSlug string, repositorySlug string, documentTitle string, documentSlug string, documentBody string, outcome *Outcome) {
	wikiResource := fmt.Sprintf(wikiPagesResourceTemplateConstant, workspaceSlug, repositorySlug)
	wikiBody := map[string]any{"title": documentTitle, "slug": documentSlug, "content": documentBody}
	if _, wikiError := restorer.forgeClient.Create(executionContext, restorer.credentials, wikiResource, wikiBody); wikiError == nil {
		outcome.DocumentsAttached = append(outcome.DocumentsAttached, documentTitle)
		restorer.logger.Info(
			logMessageDocumentAttachedConstant,
			zap.String(logFieldDocumentTitleConstant, documentTitle),
			zap.String(logFieldDestinationSlugConstant, repositorySlug),
		)
		return
	}

	restorer.logger.Warn(
		logMessageDocumentFallbackConstant,
		zap.String(logFieldDocumentTitleConstant, documentTitle),
		zap.String(logFieldDestinationSlugConstant, repositorySlug),
	)

	issuesResource := fmt.Sprintf(issuesResourceTemplateConstant, workspaceSlug, repositorySlug)
	issueBody := map[string]any{
		"title":   documentTitle,
		"content": map[string]string{"raw": documentBody},
		"kind":    "task",
	}
	if _, issueError := restorer.forgeClient.Create(executionContext, restorer.credentials, issuesResource, issueBody); issueError != nil {
		restorer.recordFailure(outcome, documentTitle, issueError)
		return
	}
	outcome.DocumentsAttached = append(outcome.DocumentsAttached, documentTitle)
}

func (restorer *Restorer) renderPullRequestDocument(pullRequests []metadata.PullRequestRecord) string {
	var documentBuilder strings.Builder
	documentBuilder.WriteString("# " + pullRequestDocumentTitleConstant + "\n\n")
	documentBuilder.WriteString("Pull requests cannot be recreated with their original branch topology. The history below preserves their content for reference.\n\n")

	for _, pullRequest := range pullRequests {
		header := ProvenanceHeader(itemTypePullRequestConstant, pullRequest.Author, pullRequest.CreatedOn, restorer.clock())
		documentBuilder.WriteString(fmt.Sprintf("## #%d %s\n\n", pullRequest.ID, pullRequest.Title))
		documentBuilder.WriteString(header)
		documentBuilder.WriteString(fmt.Sprintf("- **State:** %s\n", pullRequest.State))
		documentBuilder.WriteString(fmt.Sprintf("- **Source:** `%s`\n", pullRequest.Source.Branch.Name))
		documentBuilder.WriteString(fmt.Sprintf("- **Destination:** `%s`\n\n", pullRequest.Destination.Branch.Name))
		if len(pullRequest.Description) > 0 {
			documentBuilder.WriteString(pullRequest.Description + "\n\n")
		}
		for _, comment := range pullRequest.Comments {
			documentBuilder.WriteString(fmt.Sprintf("> %s (%s): %s\n", comment.User.DisplayName, comment.CreatedOn, comment.Content.Raw))
		}
		documentBuilder.WriteString("\n")
	}
	return documentBuilder.String()
}

// RenderDeployKeyDocument lists deploy keys as manual follow-up work. Only a
// truncated public fingerprint and the label appear; key material is never
// transmitted to the destination.
func RenderDeployKeyDocument(deployKeys []forge.DeployKeyPayload, migrationTime time.Time) string {
	var documentBuilder strings.Builder
	documentBuilder.WriteString("# " + deployKeyDocumentTitleConstant + "\n\n")
	documentBuilder.WriteString(fmt.Sprintf("Generated %s. Deploy keys must be re-created manually on the destination; key material is never copied by the migration.\n\n", migrationTime.Format(provenanceTimestampLayoutConstant)))

	for _, deployKey := range deployKeys {
		documentBuilder.WriteString(fmt.Sprintf("- **%s** (fingerprint %s): generate a new key pair and register the public half on the destination repository.\n", deployKey.Label, TruncatedFingerprint(deployKey.Key)))
	}
	return documentBuilder.String()
}

// TruncatedFingerprint shortens a public key to an identifiable prefix.
func TruncatedFingerprint(publicKey string) string {
	keyFields := strings.Fields(publicKey)
	keyBlob := publicKey
	if len(keyFields) >= 2 {
		keyBlob = keyFields[1]
	}
	if len(keyBlob) <= fingerprintPreviewLengthConstant {
		return keyBlob
	}
	return keyBlob[:fingerprintPreviewLengthConstant] + truncationSuffixConstant
}

func (restorer *Restorer) recordFailure(outcome *Outcome, itemType string, cause error) {
	restorer.logger.Warn(
		logMessageItemRestoreFailedConstant,
		zap.String(logFieldItemTypeConstant, itemType),
		zap.Error(cause),
	)
	outcome.Failures = append(outcome.Failures, fmt.Sprintf(restoreFailureTemplateConstant, itemType, cause))
}
