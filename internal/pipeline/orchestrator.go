package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/archive"
	"github.com/temirov/bbmigrate/internal/discovery"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/gitmirror"
	"github.com/temirov/bbmigrate/internal/metadata"
	"github.com/temirov/bbmigrate/internal/reconcile"
	"github.com/temirov/bbmigrate/internal/restore"
)

const (
	backupTimestampLayoutConstant            = "20060102_150405"
	repositoriesDirectoryNameConstant        = "repositories"
	mirrorDirectoryNameConstant              = "repo.git"
	workingCopyDirectoryNameConstant         = "working"
	destinationRemoteNameConstant            = "destination"
	httpsCloneProtocolConstant               = "https"
	repositoryResourceTemplateConstant       = "repositories/%s/%s"
	workspaceResourceTemplateConstant        = "workspaces/%s"
	defaultCourtesyPauseConstant             = time.Second
	stepErrorTemplateConstant                = "%s: %v"
	missingCloneURLMessageConstant           = "no HTTPS clone endpoint published"
	logMessageRepositoryStartedConstant      = "processing repository"
	logMessageRepositoryFinishedConstant     = "repository processing finished"
	logMessageStepFailedConstant             = "pipeline step failed"
	logMessagePauseInterruptedConstant       = "courtesy pause interrupted, stopping run"
	logFieldRepositoryNameConstant           = "repository_name"
	logFieldWorkspaceSlugConstant            = "workspace_slug"
	logFieldStepNameConstant                 = "step_name"
	logFieldSuccessConstant                  = "success"
	logFieldPlannedActionConstant            = "planned_action"

	stepNameSnapshotMetadataConstant     = "snapshot_metadata"
	stepNameCloneConstant                = "clone"
	stepNameEnsureDestinationConstant    = "ensure_destination"
	stepNamePushConstant                 = "push"
	stepNameRestoreCollaborationConstant = "restore_collaboration"
	stepNameArchiveConstant              = "archive"
	stepNameRetainConstant               = "retain"
)

// MetadataCollector snapshots one repository's collaboration data.
type MetadataCollector interface {
	Collect(executionContext context.Context, workspaceSlug string, repositoryPayload forge.RepositoryPayload, backupTimestamp string) metadata.Snapshot
}

// MirrorManager drives git for clone and push operations.
type MirrorManager interface {
	CloneMirror(executionContext context.Context, authenticatedURL string, targetPath string) error
	CloneWorkingCopy(executionContext context.Context, authenticatedURL string, targetPath string) error
	EnsureRemote(executionContext context.Context, repositoryPath string, remoteName string, remoteURL string) error
	PushMirror(executionContext context.Context, repositoryPath string, remoteName string) error
}

// CollaborationRestorer re-creates collaboration data on the destination.
type CollaborationRestorer interface {
	Restore(executionContext context.Context, destinationWorkspaceSlug string, destinationRepositorySlug string, snapshot metadata.Snapshot) restore.Outcome
}

// ArchivePackager produces one archive per processed repository.
type ArchivePackager interface {
	Package(request archive.PackageRequest) (string, error)
}

// RetentionPruner enforces the per-repository retention policy.
type RetentionPruner interface {
	PruneRepository(repositoryDirectory string) int
}

// DestinationForge abstracts the destination API calls the orchestrator makes.
type DestinationForge interface {
	Get(executionContext context.Context, credentials forge.Credentials, resourcePath string) (json.RawMessage, error)
	Create(executionContext context.Context, credentials forge.Credentials, resourcePath string, body any) (json.RawMessage, error)
}

// Pacer spaces repository iterations.
type Pacer interface {
	Wait(executionContext context.Context) error
}

// Options carries the run-level policies the orchestrator applies.
type Options struct {
	BackupBaseDirectory     string
	MigrationEnabled        bool
	RestoreEnabled          bool
	CreateMissingWorkspaces bool
	CourtesyPause           time.Duration
}

// Dependencies names every collaborator of the orchestrator.
type Dependencies struct {
	Collector              MetadataCollector
	Mirror                 MirrorManager
	Restorer               CollaborationRestorer
	Packager               ArchivePackager
	Pruner                 RetentionPruner
	DestinationClient      DestinationForge
	SourceCredentials      forge.Credentials
	DestinationCredentials forge.Credentials
	Pacer                  Pacer
	Clock                  func() time.Time
	Logger                 *zap.Logger
}

// Orchestrator iterates the migration plan and accumulates run statistics.
type Orchestrator struct {
	options      Options
	dependencies Dependencies
}

// NewOrchestrator constructs an Orchestrator. A nil pacer defaults to a one
// second courtesy pause between repositories.
func NewOrchestrator(options Options, dependencies Dependencies) *Orchestrator {
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	if dependencies.Clock == nil {
		dependencies.Clock = time.Now
	}
	if dependencies.Pacer == nil {
		pauseDuration := options.CourtesyPause
		if pauseDuration <= 0 {
			pauseDuration = defaultCourtesyPauseConstant
		}
		dependencies.Pacer = sleepPacer{pauseDuration: pauseDuration}
	}
	return &Orchestrator{options: options, dependencies: dependencies}
}

// sleepPacer enforces the entire pause after every completed repository, no
// matter how long the repository itself took to process.
type sleepPacer struct {
	pauseDuration time.Duration
}

// Wait sleeps for the configured pause or until the context is cancelled.
func (pacer sleepPacer) Wait(executionContext context.Context) error {
	pauseTimer := time.NewTimer(pacer.pauseDuration)
	defer pauseTimer.Stop()
	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-pauseTimer.C:
		return nil
	}
}

// Run processes every plan entry sequentially. One repository's failure never
// blocks the next; the aggregate is returned even when everything failed.
func (orchestrator *Orchestrator) Run(executionContext context.Context, planEntries []reconcile.PlanEntry) RunStatistics {
	statistics := RunStatistics{StartedAt: orchestrator.dependencies.Clock()}

	for entryIndex, planEntry := range planEntries {
		if planEntry.Action == reconcile.ActionSkipFiltered {
			continue
		}

		orchestrator.dependencies.Logger.Info(
			logMessageRepositoryStartedConstant,
			zap.String(logFieldRepositoryNameConstant, planEntry.Record.Name),
			zap.String(logFieldWorkspaceSlugConstant, planEntry.Record.WorkspaceSlug),
			zap.String(logFieldPlannedActionConstant, string(planEntry.Action)),
		)

		repositoryResult := orchestrator.processRepository(executionContext, planEntry)

		statistics.TotalCount++
		if repositoryResult.Success {
			statistics.SuccessCount++
		} else {
			statistics.FailureCount++
		}
		statistics.TotalArchiveBytes += repositoryResult.ArchiveSizeBytes
		statistics.RepositoryResults = append(statistics.RepositoryResults, repositoryResult)

		orchestrator.dependencies.Logger.Info(
			logMessageRepositoryFinishedConstant,
			zap.String(logFieldRepositoryNameConstant, planEntry.Record.Name),
			zap.Bool(logFieldSuccessConstant, repositoryResult.Success),
		)

		if entryIndex < len(planEntries)-1 {
			if pauseError := orchestrator.dependencies.Pacer.Wait(executionContext); pauseError != nil {
				orchestrator.dependencies.Logger.Warn(logMessagePauseInterruptedConstant, zap.Error(pauseError))
				statistics.RunErrors = append(statistics.RunErrors, pauseError.Error())
				break
			}
		}
	}

	statistics.FinishedAt = orchestrator.dependencies.Clock()
	return statistics
}

func (orchestrator *Orchestrator) processRepository(executionContext context.Context, planEntry reconcile.PlanEntry) RepoRunResult {
	repositoryResult := RepoRunResult{
		RepositoryName:  planEntry.Record.Name,
		WorkspaceSlug:   planEntry.Record.WorkspaceSlug,
		DestinationName: planEntry.DestinationName,
		SkippedExisting: planEntry.Action == reconcile.ActionSkipExists,
	}

	backupTimestamp := orchestrator.dependencies.Clock().Format(backupTimestampLayoutConstant)
	repositoryPayload := payloadFromRecord(planEntry.Record)

	snapshot := orchestrator.dependencies.Collector.Collect(executionContext, planEntry.Record.WorkspaceSlug, repositoryPayload, backupTimestamp)
	repositoryResult.MetadataItemCount = snapshot.ItemCount()

	metadataFilePath, snapshotWriteError := snapshot.Write(orchestrator.options.BackupBaseDirectory, planEntry.Record.Name, backupTimestamp)
	if snapshotWriteError != nil {
		orchestrator.recordStepFailure(&repositoryResult, stepNameSnapshotMetadataConstant, snapshotWriteError)
		metadataFilePath = ""
	}

	sourceCloneURL, cloneURLError := orchestrator.sourceCloneURL(planEntry.Record)
	if cloneURLError != nil {
		orchestrator.recordStepFailure(&repositoryResult, stepNameCloneConstant, cloneURLError)
		return repositoryResult
	}

	repositoryDirectory := filepath.Join(orchestrator.options.BackupBaseDirectory, repositoriesDirectoryNameConstant, planEntry.Record.Name)
	timestampDirectory := filepath.Join(repositoryDirectory, backupTimestamp)
	mirrorPath := filepath.Join(timestampDirectory, mirrorDirectoryNameConstant)

	if cloneError := orchestrator.dependencies.Mirror.CloneMirror(executionContext, sourceCloneURL, mirrorPath); cloneError != nil {
		orchestrator.recordStepFailure(&repositoryResult, stepNameCloneConstant, cloneError)
		return repositoryResult
	}

	workingCopyPath := filepath.Join(timestampDirectory, workingCopyDirectoryNameConstant)
	// A failed working copy leaves the mirror fully usable; not recorded as a
	// repository failure.
	_ = orchestrator.dependencies.Mirror.CloneWorkingCopy(executionContext, sourceCloneURL, workingCopyPath)

	// An entry without a destination workspace is a pure local backup even
	// when the run as a whole pushes elsewhere.
	if orchestrator.options.MigrationEnabled && len(planEntry.DestinationWorkspaceSlug) > 0 {
		if ensureError := orchestrator.ensureDestination(executionContext, planEntry); ensureError != nil {
			orchestrator.recordStepFailure(&repositoryResult, stepNameEnsureDestinationConstant, ensureError)
			return repositoryResult
		}

		destinationCloneURL, destinationURLError := orchestrator.destinationCloneURL(planEntry)
		if destinationURLError != nil {
			orchestrator.recordStepFailure(&repositoryResult, stepNamePushConstant, destinationURLError)
			return repositoryResult
		}
		if remoteError := orchestrator.dependencies.Mirror.EnsureRemote(executionContext, mirrorPath, destinationRemoteNameConstant, destinationCloneURL); remoteError != nil {
			orchestrator.recordStepFailure(&repositoryResult, stepNamePushConstant, remoteError)
			return repositoryResult
		}
		if pushError := orchestrator.dependencies.Mirror.PushMirror(executionContext, mirrorPath, destinationRemoteNameConstant); pushError != nil {
			orchestrator.recordStepFailure(&repositoryResult, stepNamePushConstant, pushError)
			return repositoryResult
		}

		if orchestrator.options.RestoreEnabled && orchestrator.dependencies.Restorer != nil {
			restoreOutcome := orchestrator.dependencies.Restorer.Restore(executionContext, planEntry.DestinationWorkspaceSlug, planEntry.DestinationName, snapshot)
			// Item-level restore failures degrade, they do not fail the repository.
			for _, restoreFailure := range restoreOutcome.Failures {
				repositoryResult.Errors = append(repositoryResult.Errors, fmt.Sprintf(stepErrorTemplateConstant, stepNameRestoreCollaborationConstant, restoreFailure))
			}
		}
	}

	archivePath, packageError := orchestrator.dependencies.Packager.Package(archive.PackageRequest{
		WorkspaceSlug:     planEntry.Record.WorkspaceSlug,
		RepositoryName:    planEntry.Record.Name,
		Timestamp:         orchestrator.dependencies.Clock(),
		MirrorPath:        mirrorPath,
		MetadataFilePath:  metadataFilePath,
		MetadataItemCount: snapshot.ItemCount(),
		OutputDirectory:   repositoryDirectory,
	})
	if packageError != nil {
		orchestrator.recordStepFailure(&repositoryResult, stepNameArchiveConstant, packageError)
		return repositoryResult
	}
	repositoryResult.ArchivePath = archivePath
	if archiveInfo, statError := os.Stat(archivePath); statError == nil {
		repositoryResult.ArchiveSizeBytes = archiveInfo.Size()
	}

	// Retention never fails a repository; deletion problems are logged inside
	// the pruner.
	orchestrator.dependencies.Pruner.PruneRepository(repositoryDirectory)

	repositoryResult.Success = true
	return repositoryResult
}

// ensureDestination applies the planned action. A creation conflict means
// another actor created the repository first; the push still proceeds.
func (orchestrator *Orchestrator) ensureDestination(executionContext context.Context, planEntry reconcile.PlanEntry) error {
	if planEntry.Action == reconcile.ActionSkipExists {
		return nil
	}

	if orchestrator.options.CreateMissingWorkspaces {
		workspaceResource := fmt.Sprintf(workspaceResourceTemplateConstant, planEntry.DestinationWorkspaceSlug)
		if _, workspaceError := orchestrator.dependencies.DestinationClient.Get(executionContext, orchestrator.dependencies.DestinationCredentials, workspaceResource); forge.IsNotFound(workspaceError) {
			workspaceBody := map[string]string{"name": planEntry.DestinationWorkspaceSlug}
			if _, createWorkspaceError := orchestrator.dependencies.DestinationClient.Create(executionContext, orchestrator.dependencies.DestinationCredentials, workspaceResource, workspaceBody); createWorkspaceError != nil && !forge.IsConflict(createWorkspaceError) {
				return createWorkspaceError
			}
		}
	}

	repositoryResource := fmt.Sprintf(repositoryResourceTemplateConstant, planEntry.DestinationWorkspaceSlug, planEntry.DestinationName)
	repositoryBody := map[string]any{
		"scm":        "git",
		"name":       planEntry.DestinationName,
		"is_private": planEntry.Record.IsPrivate,
	}
	if _, createError := orchestrator.dependencies.DestinationClient.Create(executionContext, orchestrator.dependencies.DestinationCredentials, repositoryResource, repositoryBody); createError != nil && !forge.IsConflict(createError) {
		return createError
	}
	return nil
}

func (orchestrator *Orchestrator) sourceCloneURL(record discovery.RepositoryRecord) (string, error) {
	cloneEndpoint := record.CloneEndpoints[httpsCloneProtocolConstant]
	if len(cloneEndpoint) == 0 {
		return "", fmt.Errorf(missingCloneURLMessageConstant)
	}
	return authenticatedURL(cloneEndpoint, orchestrator.dependencies.SourceCredentials)
}

func (orchestrator *Orchestrator) destinationCloneURL(planEntry reconcile.PlanEntry) (string, error) {
	if planEntry.ExistingDestination != nil {
		if cloneEndpoint := planEntry.ExistingDestination.CloneEndpoint(httpsCloneProtocolConstant); len(cloneEndpoint) > 0 {
			return authenticatedURL(cloneEndpoint, orchestrator.dependencies.DestinationCredentials)
		}
	}
	syntheticEndpoint := fmt.Sprintf("https://bitbucket.org/%s/%s.git", planEntry.DestinationWorkspaceSlug, planEntry.DestinationName)
	return authenticatedURL(syntheticEndpoint, orchestrator.dependencies.DestinationCredentials)
}

func (orchestrator *Orchestrator) recordStepFailure(repositoryResult *RepoRunResult, stepName string, cause error) {
	orchestrator.dependencies.Logger.Warn(
		logMessageStepFailedConstant,
		zap.String(logFieldRepositoryNameConstant, repositoryResult.RepositoryName),
		zap.String(logFieldStepNameConstant, stepName),
		zap.Error(cause),
	)
	repositoryResult.Errors = append(repositoryResult.Errors, fmt.Sprintf(stepErrorTemplateConstant, stepName, cause))
}

func authenticatedURL(cloneEndpoint string, credentials forge.Credentials) (string, error) {
	return gitmirror.AuthenticatedCloneURL(cloneEndpoint, credentials.Email, credentials.APIToken)
}

func payloadFromRecord(record discovery.RepositoryRecord) forge.RepositoryPayload {
	payload := forge.RepositoryPayload{
		Name:      record.Name,
		Slug:      record.Slug,
		FullName:  record.WorkspaceSlug + "/" + record.Name,
		SCM:       record.SCM,
		Language:  record.Language,
		Size:      record.SizeBytes,
		IsPrivate: record.IsPrivate,
		HasIssues: record.HasIssues,
		HasWiki:   record.HasWiki,
		CreatedOn: record.CreatedOn,
		UpdatedOn: record.UpdatedOn,
	}
	for protocolName, cloneEndpoint := range record.CloneEndpoints {
		payload.Links.Clone = append(payload.Links.Clone, forge.CloneLinkPayload{Name: protocolName, Href: cloneEndpoint})
	}
	return payload
}
