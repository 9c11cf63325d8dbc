package reconcile_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/discovery"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/reconcile"
)

const (
	testDestinationWorkspaceConstant = "backup-space"
	testSkipPolicyCaseNameConstant   = "skip_existing_enabled"
	testCreatePolicyCaseNameConstant = "skip_existing_disabled"
)

type stubDestinationLister struct {
	repositoryNames []string
	listError       error
	requestCount    int
}

func (lister *stubDestinationLister) CollectPages(_ context.Context, _ forge.Credentials, _ string, _ url.Values) ([]json.RawMessage, error) {
	lister.requestCount++
	if lister.listError != nil {
		return nil, lister.listError
	}
	items := make([]json.RawMessage, 0, len(lister.repositoryNames))
	for _, repositoryName := range lister.repositoryNames {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"name":%q,"slug":%q}`, repositoryName, repositoryName)))
	}
	return items, nil
}

func sourceRecord(repositoryName string) discovery.RepositoryRecord {
	return discovery.RepositoryRecord{Name: repositoryName, WorkspaceSlug: "acme"}
}

func TestRenameRulesDestinationName(testInstance *testing.T) {
	testCases := []struct {
		name         string
		rules        reconcile.RenameRules
		sourceName   string
		expectedName string
	}{
		{name: "plain", rules: reconcile.RenameRules{PreserveNames: true}, sourceName: "app", expectedName: "app"},
		{name: "prefix", rules: reconcile.RenameRules{NamePrefix: "legacy-"}, sourceName: "app", expectedName: "legacy-app"},
		{
			name:         "map_wins_over_prefix",
			rules:        reconcile.RenameRules{NamePrefix: "legacy-", NameMap: map[string]string{"app": "application"}},
			sourceName:   "app",
			expectedName: "application",
		},
		{
			name:         "preserve_names_suppresses_prefix",
			rules:        reconcile.RenameRules{PreserveNames: true, NamePrefix: "legacy-"},
			sourceName:   "app",
			expectedName: "app",
		},
		{
			name:         "mirror_suffix_for_backup_runs",
			rules:        reconcile.RenameRules{PreserveNames: true, AppendMirrorSuffix: true},
			sourceName:   "app",
			expectedName: "app-backup-mirror",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedName, testCase.rules.DestinationName(testCase.sourceName))
		})
	}
}

func TestPlanMigrationSkipPolicy(testInstance *testing.T) {
	testCases := []struct {
		name            string
		skipExisting    bool
		expectedActions []reconcile.Action
	}{
		{
			name:            testSkipPolicyCaseNameConstant,
			skipExisting:    true,
			expectedActions: []reconcile.Action{reconcile.ActionSkipExists, reconcile.ActionCreate},
		},
		{
			name:            testCreatePolicyCaseNameConstant,
			skipExisting:    false,
			expectedActions: []reconcile.Action{reconcile.ActionCreate, reconcile.ActionCreate},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			lister := &stubDestinationLister{repositoryNames: []string{"app"}}
			planner := reconcile.NewPlanner(lister, forge.Credentials{}, reconcile.RenameRules{PreserveNames: true}, testCase.skipExisting, zap.NewNop())

			planEntries, planError := planner.PlanMigration(context.Background(), []discovery.RepositoryRecord{
				sourceRecord("app"),
				sourceRecord("lib"),
			}, testDestinationWorkspaceConstant)

			require.NoError(testInstance, planError)
			require.Len(testInstance, planEntries, 2)
			for entryIndex, planEntry := range planEntries {
				require.Equal(testInstance, testCase.expectedActions[entryIndex], planEntry.Action)
			}
			// The destination set is fetched exactly once, not per candidate.
			require.Equal(testInstance, 1, lister.requestCount)
		})
	}
}

func TestPlanMigrationCarriesExistingDestinationForward(testInstance *testing.T) {
	lister := &stubDestinationLister{repositoryNames: []string{"app"}}
	planner := reconcile.NewPlanner(lister, forge.Credentials{}, reconcile.RenameRules{PreserveNames: true}, true, zap.NewNop())

	planEntries, planError := planner.PlanMigration(context.Background(), []discovery.RepositoryRecord{sourceRecord("app")}, testDestinationWorkspaceConstant)

	require.NoError(testInstance, planError)
	require.Len(testInstance, planEntries, 1)
	require.Equal(testInstance, reconcile.ActionSkipExists, planEntries[0].Action)
	require.NotNil(testInstance, planEntries[0].ExistingDestination)
	require.Equal(testInstance, "app", planEntries[0].ExistingDestination.Name)
	require.Equal(testInstance, "app", planEntries[0].Record.DestinationName)
}

func TestPlanMigrationAppliesRenameBeforeLookup(testInstance *testing.T) {
	lister := &stubDestinationLister{repositoryNames: []string{"legacy-app"}}
	planner := reconcile.NewPlanner(lister, forge.Credentials{}, reconcile.RenameRules{NamePrefix: "legacy-"}, true, zap.NewNop())

	planEntries, planError := planner.PlanMigration(context.Background(), []discovery.RepositoryRecord{sourceRecord("app")}, testDestinationWorkspaceConstant)

	require.NoError(testInstance, planError)
	require.Equal(testInstance, reconcile.ActionSkipExists, planEntries[0].Action)
	require.Equal(testInstance, "legacy-app", planEntries[0].DestinationName)
}

func TestPlanMigrationPropagatesDestinationListingFailure(testInstance *testing.T) {
	lister := &stubDestinationLister{listError: &forge.APIError{Kind: forge.ErrorKindUnauthorized}}
	planner := reconcile.NewPlanner(lister, forge.Credentials{}, reconcile.RenameRules{}, true, zap.NewNop())

	_, planError := planner.PlanMigration(context.Background(), []discovery.RepositoryRecord{sourceRecord("app")}, testDestinationWorkspaceConstant)

	require.Error(testInstance, planError)
}

func TestLoadNameMap(testInstance *testing.T) {
	temporaryDirectory := testInstance.TempDir()
	nameMapFilePath := filepath.Join(temporaryDirectory, "rename-rules.yaml")
	require.NoError(testInstance, os.WriteFile(nameMapFilePath, []byte("repositories:\n  app: application\n  \"\": dropped\n  lib: \"\"\n"), 0o600))

	nameMap, loadError := reconcile.LoadNameMap(nameMapFilePath)

	require.NoError(testInstance, loadError)
	require.Equal(testInstance, map[string]string{"app": "application"}, nameMap)
}

func TestLoadNameMapMissingFile(testInstance *testing.T) {
	_, loadError := reconcile.LoadNameMap(filepath.Join(testInstance.TempDir(), "absent.yaml"))
	require.Error(testInstance, loadError)
}
