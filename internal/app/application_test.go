package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/app"
	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/reconcile"
)

const (
	sourceWorkspaceSlugConstant      = "acme"
	destinationWorkspaceSlugConstant = "backup-workspace"
)

func newForgeServer(testInstance *testing.T, destinationRepositoryNames []string) *httptest.Server {
	testInstance.Helper()

	handler := http.NewServeMux()
	handler.HandleFunc("/workspaces/"+sourceWorkspaceSlugConstant, func(writer http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(writer, `{"slug":"acme","name":"Acme","is_private":true}`)
	})
	handler.HandleFunc("/repositories/"+sourceWorkspaceSlugConstant, func(writer http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(writer, `{"values":[`+
			`{"name":"app","slug":"app","scm":"git","is_private":true,"links":{"clone":[{"name":"https","href":"https://bitbucket.org/acme/app.git"}]}},`+
			`{"name":"library","slug":"library","scm":"git","is_private":true,"links":{"clone":[{"name":"https","href":"https://bitbucket.org/acme/library.git"}]}}`+
			`]}`)
	})
	handler.HandleFunc("/repositories/"+destinationWorkspaceSlugConstant, func(writer http.ResponseWriter, _ *http.Request) {
		listing := `{"values":[`
		for index, repositoryName := range destinationRepositoryNames {
			if index > 0 {
				listing += ","
			}
			listing += fmt.Sprintf(`{"name":%q,"slug":%q,"scm":"git","links":{"clone":[{"name":"https","href":"https://bitbucket.org/%s/%s.git"}]}}`,
				repositoryName, repositoryName, destinationWorkspaceSlugConstant, repositoryName)
		}
		listing += `]}`
		fmt.Fprint(writer, listing)
	})

	server := httptest.NewServer(handler)
	testInstance.Cleanup(server.Close)
	return server
}

func migrationSettings() config.Settings {
	return config.Settings{
		MigrationMode: true,
		Source: config.AccountSettings{
			Email:     "source@example.com",
			APIToken:  "source-token",
			Workspace: sourceWorkspaceSlugConstant,
		},
		Destination: config.AccountSettings{
			Email:     "destination@example.com",
			APIToken:  "destination-token",
			Workspace: destinationWorkspaceSlugConstant,
		},
		SkipExistingRepositories: true,
		PreserveRepositoryNames:  true,
	}
}

func TestBuildPlanReconcilesAgainstDestination(testInstance *testing.T) {
	server := newForgeServer(testInstance, []string{"library"})
	application := app.NewApplicationWithBaseURL(zap.NewNop(), server.URL)

	plan, planError := application.BuildPlan(context.Background(), migrationSettings())
	require.NoError(testInstance, planError)
	require.Len(testInstance, plan.Inventories, 1)
	require.Len(testInstance, plan.Entries, 2)

	actionsByName := map[string]reconcile.Action{}
	for _, entry := range plan.Entries {
		actionsByName[entry.Record.Name] = entry.Action
		require.Equal(testInstance, destinationWorkspaceSlugConstant, entry.DestinationWorkspaceSlug)
	}
	require.Equal(testInstance, reconcile.ActionCreate, actionsByName["app"])
	require.Equal(testInstance, reconcile.ActionSkipExists, actionsByName["library"])
}

func TestBuildPlanFailsWhenNothingSurvivesFiltering(testInstance *testing.T) {
	server := newForgeServer(testInstance, nil)
	application := app.NewApplicationWithBaseURL(zap.NewNop(), server.URL)

	settings := migrationSettings()
	settings.RepositoryExcludePatterns = []string{"app", "library"}

	_, planError := application.BuildPlan(context.Background(), settings)
	require.ErrorContains(testInstance, planError, "no repositories discovered after filtering")
}

func TestBuildPlanLocalBackupAppendsMirrorSuffix(testInstance *testing.T) {
	server := newForgeServer(testInstance, nil)
	application := app.NewApplicationWithBaseURL(zap.NewNop(), server.URL)

	settings := migrationSettings()
	settings.MigrationMode = false
	settings.Destination = config.AccountSettings{}

	plan, planError := application.BuildPlan(context.Background(), settings)
	require.NoError(testInstance, planError)
	require.Len(testInstance, plan.Entries, 2)

	for _, entry := range plan.Entries {
		require.Equal(testInstance, reconcile.ActionCreate, entry.Action)
		require.Empty(testInstance, entry.DestinationWorkspaceSlug)
	}
	require.Equal(testInstance, "app-backup-mirror", plan.Entries[0].DestinationName)
}

func TestBuildPlanRejectsInvalidConfiguration(testInstance *testing.T) {
	application := app.NewApplicationWithBaseURL(zap.NewNop(), "http://127.0.0.1:0")

	settings := migrationSettings()
	settings.Source.APIToken = ""

	_, planError := application.BuildPlan(context.Background(), settings)
	require.Error(testInstance, planError)
}
