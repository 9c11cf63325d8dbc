package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/archive"
	"github.com/temirov/bbmigrate/internal/discovery"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/metadata"
	"github.com/temirov/bbmigrate/internal/pipeline"
	"github.com/temirov/bbmigrate/internal/reconcile"
	"github.com/temirov/bbmigrate/internal/restore"
)

const (
	testSourceWorkspaceConstant      = "acme"
	testDestinationWorkspaceConstant = "backup-workspace"
)

type stubCollector struct{}

func (stubCollector) Collect(_ context.Context, _ string, repositoryPayload forge.RepositoryPayload, backupTimestamp string) metadata.Snapshot {
	return metadata.Snapshot{
		RepositoryInfo:  repositoryPayload,
		BackupTimestamp: backupTimestamp,
		Branches:        []forge.RefPayload{{Name: "main"}},
	}
}

type stubMirror struct {
	failingCloneSubstring string
	cloneDelay            time.Duration
	cloneTargets          []string
	remoteURLs            []string
	pushedPaths           []string
}

func (mirror *stubMirror) CloneMirror(_ context.Context, _ string, targetPath string) error {
	mirror.cloneTargets = append(mirror.cloneTargets, targetPath)
	if mirror.cloneDelay > 0 {
		time.Sleep(mirror.cloneDelay)
	}
	if len(mirror.failingCloneSubstring) > 0 && strings.Contains(targetPath, mirror.failingCloneSubstring) {
		return errors.New("clone exited with code 128")
	}
	return os.MkdirAll(targetPath, 0o755)
}

func (mirror *stubMirror) CloneWorkingCopy(_ context.Context, _ string, _ string) error {
	return nil
}

func (mirror *stubMirror) EnsureRemote(_ context.Context, _ string, _ string, remoteURL string) error {
	mirror.remoteURLs = append(mirror.remoteURLs, remoteURL)
	return nil
}

func (mirror *stubMirror) PushMirror(_ context.Context, repositoryPath string, _ string) error {
	mirror.pushedPaths = append(mirror.pushedPaths, repositoryPath)
	return nil
}

type stubRestorer struct {
	restoredSlugs []string
	outcome       restore.Outcome
}

func (restorer *stubRestorer) Restore(_ context.Context, _ string, destinationRepositorySlug string, _ metadata.Snapshot) restore.Outcome {
	restorer.restoredSlugs = append(restorer.restoredSlugs, destinationRepositorySlug)
	return restorer.outcome
}

type stubPackager struct {
	packagedRepositories []string
}

func (packager *stubPackager) Package(request archive.PackageRequest) (string, error) {
	packager.packagedRepositories = append(packager.packagedRepositories, request.RepositoryName)
	if directoryError := os.MkdirAll(request.OutputDirectory, 0o755); directoryError != nil {
		return "", directoryError
	}
	archivePath := filepath.Join(request.OutputDirectory, request.RepositoryName+".tar.gz")
	return archivePath, os.WriteFile(archivePath, []byte("archive-bytes"), 0o644)
}

type stubPruner struct {
	prunedDirectories []string
}

func (pruner *stubPruner) PruneRepository(repositoryDirectory string) int {
	pruner.prunedDirectories = append(pruner.prunedDirectories, repositoryDirectory)
	return 0
}

type stubDestinationForge struct {
	createFailures map[string]error
	createdPaths   []string
}

func (destination *stubDestinationForge) Get(_ context.Context, _ forge.Credentials, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (destination *stubDestinationForge) Create(_ context.Context, _ forge.Credentials, resourcePath string, _ any) (json.RawMessage, error) {
	destination.createdPaths = append(destination.createdPaths, resourcePath)
	if failure, failureConfigured := destination.createFailures[resourcePath]; failureConfigured {
		return nil, failure
	}
	return json.RawMessage(`{}`), nil
}

type countingPacer struct {
	waitCount int
}

func (pacer *countingPacer) Wait(_ context.Context) error {
	pacer.waitCount++
	return nil
}

func planEntryForRepository(repositoryName string, action reconcile.Action) reconcile.PlanEntry {
	return reconcile.PlanEntry{
		Record: discovery.RepositoryRecord{
			Name:          repositoryName,
			Slug:          repositoryName,
			WorkspaceSlug: testSourceWorkspaceConstant,
			IsPrivate:     true,
			CloneEndpoints: map[string]string{
				"https": "https://bitbucket.org/" + testSourceWorkspaceConstant + "/" + repositoryName + ".git",
			},
		},
		Action:                   action,
		DestinationWorkspaceSlug: testDestinationWorkspaceConstant,
		DestinationName:          repositoryName,
	}
}

func newTestOrchestrator(testInstance *testing.T, options pipeline.Options, mirror *stubMirror, destination *stubDestinationForge, pacer pipeline.Pacer) (*pipeline.Orchestrator, *stubPackager, *stubPruner) {
	if options.BackupBaseDirectory == "" {
		options.BackupBaseDirectory = testInstance.TempDir()
	}
	packager := &stubPackager{}
	pruner := &stubPruner{}
	orchestrator := pipeline.NewOrchestrator(options, pipeline.Dependencies{
		Collector:              stubCollector{},
		Mirror:                 mirror,
		Restorer:               &stubRestorer{},
		Packager:               packager,
		Pruner:                 pruner,
		DestinationClient:      destination,
		SourceCredentials:      forge.Credentials{Email: "source@example.com", APIToken: "source-token"},
		DestinationCredentials: forge.Credentials{Email: "destination@example.com", APIToken: "destination-token"},
		Pacer:                  pacer,
		Clock:                  func() time.Time { return time.Date(2024, time.January, 15, 14, 30, 22, 0, time.UTC) },
		Logger:                 zap.NewNop(),
	})
	return orchestrator, packager, pruner
}

func TestRunIsolatesCloneFailure(testInstance *testing.T) {
	mirror := &stubMirror{failingCloneSubstring: string(filepath.Separator) + "lib" + string(filepath.Separator)}
	destination := &stubDestinationForge{}
	orchestrator, packager, pruner := newTestOrchestrator(testInstance, pipeline.Options{}, mirror, destination, &countingPacer{})

	planEntries := []reconcile.PlanEntry{
		planEntryForRepository("app", reconcile.ActionCreate),
		planEntryForRepository("lib", reconcile.ActionCreate),
		planEntryForRepository("web", reconcile.ActionCreate),
	}

	statistics := orchestrator.Run(context.Background(), planEntries)

	require.Equal(testInstance, 3, statistics.TotalCount)
	require.Equal(testInstance, 2, statistics.SuccessCount)
	require.Equal(testInstance, 1, statistics.FailureCount)
	require.False(testInstance, statistics.FullySuccessful())
	require.Len(testInstance, statistics.RepositoryResults, 3)

	libResult := statistics.RepositoryResults[1]
	require.Equal(testInstance, "lib", libResult.RepositoryName)
	require.False(testInstance, libResult.Success)
	require.NotEmpty(testInstance, libResult.Errors)
	require.Contains(testInstance, libResult.Errors[0], "clone")

	require.Equal(testInstance, []string{"app", "web"}, packager.packagedRepositories)
	require.Len(testInstance, pruner.prunedDirectories, 2)
}

func TestRunSkipExistingNeverCreatesDestination(testInstance *testing.T) {
	mirror := &stubMirror{}
	destination := &stubDestinationForge{}
	options := pipeline.Options{MigrationEnabled: true}
	orchestrator, _, _ := newTestOrchestrator(testInstance, options, mirror, destination, &countingPacer{})

	skipEntry := planEntryForRepository("app", reconcile.ActionSkipExists)
	skipEntry.ExistingDestination = &forge.RepositoryPayload{
		Name: "app",
		Slug: "app",
		Links: forge.RepositoryLinksPayload{
			Clone: []forge.CloneLinkPayload{{Name: "https", Href: "https://bitbucket.org/backup-workspace/app.git"}},
		},
	}

	statistics := orchestrator.Run(context.Background(), []reconcile.PlanEntry{skipEntry})

	require.Equal(testInstance, 1, statistics.SuccessCount)
	require.Empty(testInstance, destination.createdPaths)
	require.Len(testInstance, mirror.remoteURLs, 1)
	require.Contains(testInstance, mirror.remoteURLs[0], "destination@example.com:destination-token@bitbucket.org/backup-workspace/app.git")
	require.Len(testInstance, mirror.pushedPaths, 1)
	require.True(testInstance, statistics.RepositoryResults[0].SkippedExisting)
}

func TestRunTreatsCreationConflictAsNonFatal(testInstance *testing.T) {
	mirror := &stubMirror{}
	destination := &stubDestinationForge{
		createFailures: map[string]error{
			"repositories/backup-workspace/app": &forge.APIError{Kind: forge.ErrorKindConflict, StatusCode: 409},
		},
	}
	options := pipeline.Options{MigrationEnabled: true}
	orchestrator, _, _ := newTestOrchestrator(testInstance, options, mirror, destination, &countingPacer{})

	statistics := orchestrator.Run(context.Background(), []reconcile.PlanEntry{planEntryForRepository("app", reconcile.ActionCreate)})

	require.Equal(testInstance, 1, statistics.SuccessCount)
	require.True(testInstance, statistics.FullySuccessful())
}

func TestRunPausesBetweenRepositoriesOnly(testInstance *testing.T) {
	mirror := &stubMirror{}
	pacer := &countingPacer{}
	orchestrator, _, _ := newTestOrchestrator(testInstance, pipeline.Options{}, mirror, &stubDestinationForge{}, pacer)

	planEntries := []reconcile.PlanEntry{
		planEntryForRepository("app", reconcile.ActionCreate),
		planEntryForRepository("lib", reconcile.ActionCreate),
		planEntryForRepository("web", reconcile.ActionCreate),
	}
	orchestrator.Run(context.Background(), planEntries)

	require.Equal(testInstance, 2, pacer.waitCount)
}

func TestRunEnforcesPauseWhenProcessingOutlastsIt(testInstance *testing.T) {
	processingDelay := 60 * time.Millisecond
	pauseDuration := 40 * time.Millisecond
	mirror := &stubMirror{cloneDelay: processingDelay}
	options := pipeline.Options{CourtesyPause: pauseDuration}

	// Nil pacer selects the default; the pause must elapse in full after each
	// repository even when processing alone already exceeds it.
	orchestrator, _, _ := newTestOrchestrator(testInstance, options, mirror, &stubDestinationForge{}, nil)

	planEntries := []reconcile.PlanEntry{
		planEntryForRepository("app", reconcile.ActionCreate),
		planEntryForRepository("lib", reconcile.ActionCreate),
	}

	runStart := time.Now()
	statistics := orchestrator.Run(context.Background(), planEntries)
	elapsed := time.Since(runStart)

	require.Equal(testInstance, 2, statistics.SuccessCount)
	require.GreaterOrEqual(testInstance, elapsed, 2*processingDelay+pauseDuration)
}

func TestRunSkipsDestinationForEntriesWithoutWorkspace(testInstance *testing.T) {
	mirror := &stubMirror{}
	destination := &stubDestinationForge{}
	options := pipeline.Options{MigrationEnabled: true}
	orchestrator, _, _ := newTestOrchestrator(testInstance, options, mirror, destination, &countingPacer{})

	localEntry := planEntryForRepository("app", reconcile.ActionCreate)
	localEntry.DestinationWorkspaceSlug = ""

	statistics := orchestrator.Run(context.Background(), []reconcile.PlanEntry{localEntry})

	require.Equal(testInstance, 1, statistics.SuccessCount)
	require.Empty(testInstance, destination.createdPaths)
	require.Empty(testInstance, mirror.pushedPaths)
}

func TestRunStatisticsEmptyRunIsNotSuccessful(testInstance *testing.T) {
	mirror := &stubMirror{}
	orchestrator, _, _ := newTestOrchestrator(testInstance, pipeline.Options{}, mirror, &stubDestinationForge{}, &countingPacer{})

	statistics := orchestrator.Run(context.Background(), nil)

	require.Zero(testInstance, statistics.TotalCount)
	require.False(testInstance, statistics.FullySuccessful())
}

func TestRunRecordsArchiveBytes(testInstance *testing.T) {
	mirror := &stubMirror{}
	orchestrator, _, _ := newTestOrchestrator(testInstance, pipeline.Options{}, mirror, &stubDestinationForge{}, &countingPacer{})

	statistics := orchestrator.Run(context.Background(), []reconcile.PlanEntry{planEntryForRepository("app", reconcile.ActionCreate)})

	require.Equal(testInstance, int64(len("archive-bytes")), statistics.TotalArchiveBytes)
	require.NotEmpty(testInstance, statistics.RepositoryResults[0].ArchivePath)
}
