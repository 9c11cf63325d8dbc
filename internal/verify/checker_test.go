package verify_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/verify"
)

type scriptedForgeReader struct {
	responses      map[string]json.RawMessage
	failures       map[string]error
	requestedPaths []string
	usedEmails     []string
}

func (reader *scriptedForgeReader) Get(_ context.Context, credentials forge.Credentials, resourcePath string) (json.RawMessage, error) {
	reader.requestedPaths = append(reader.requestedPaths, resourcePath)
	reader.usedEmails = append(reader.usedEmails, credentials.Email)
	if failure, failureConfigured := reader.failures[resourcePath]; failureConfigured {
		return nil, failure
	}
	if response, responseConfigured := reader.responses[resourcePath]; responseConfigured {
		return response, nil
	}
	return json.RawMessage(`{}`), nil
}

func migrationSettings() config.Settings {
	return config.Settings{
		MigrationMode: true,
		Source: config.AccountSettings{
			Email:     "source@example.com",
			APIToken:  "source-token",
			Workspace: "acme",
		},
		Destination: config.AccountSettings{
			Email:     "destination@example.com",
			APIToken:  "destination-token",
			Workspace: "backup-workspace",
		},
	}
}

func TestCheckPassesForValidAccounts(testInstance *testing.T) {
	reader := &scriptedForgeReader{
		responses: map[string]json.RawMessage{
			"user": json.RawMessage(`{"display_name":"Operator"}`),
		},
	}

	checker := verify.NewChecker(reader, zap.NewNop())
	report := checker.Check(context.Background(), migrationSettings())

	require.True(testInstance, report.Passed())
	require.True(testInstance, report.Source.Authenticated)
	require.Equal(testInstance, "Operator", report.Source.UserDisplayName)
	require.True(testInstance, report.Source.WorkspaceAccessible)
	require.NotNil(testInstance, report.Destination)
	require.True(testInstance, report.Destination.WorkspaceAccessible)

	require.Contains(testInstance, reader.requestedPaths, "repositories/acme")
	require.Contains(testInstance, reader.requestedPaths, "repositories/backup-workspace")
	require.Contains(testInstance, reader.usedEmails, "source@example.com")
	require.Contains(testInstance, reader.usedEmails, "destination@example.com")
}

func TestCheckFailsOnBadDestinationCredentials(testInstance *testing.T) {
	reader := &scriptedForgeReader{
		responses: map[string]json.RawMessage{
			"user": json.RawMessage(`{"display_name":"Operator"}`),
		},
	}

	checker := verify.NewChecker(reader, zap.NewNop())
	settings := migrationSettings()
	report := checker.Check(context.Background(), settings)
	require.True(testInstance, report.Passed())

	reader.failures = map[string]error{
		"repositories/backup-workspace": &forge.APIError{Kind: forge.ErrorKindForbidden, StatusCode: 403},
	}
	report = checker.Check(context.Background(), settings)

	require.False(testInstance, report.Passed())
	require.NotEmpty(testInstance, report.Destination.Problems)
}

func TestCheckReportsConfigurationErrorWithoutAPICalls(testInstance *testing.T) {
	reader := &scriptedForgeReader{}
	settings := migrationSettings()
	settings.Source.APIToken = ""

	checker := verify.NewChecker(reader, zap.NewNop())
	report := checker.Check(context.Background(), settings)

	require.False(testInstance, report.Passed())
	require.Error(testInstance, report.ConfigurationError)
	require.Empty(testInstance, reader.requestedPaths)
}

func TestCheckSamplesFirstWorkspaceInMultiMode(testInstance *testing.T) {
	reader := &scriptedForgeReader{
		responses: map[string]json.RawMessage{
			"user": json.RawMessage(`{"display_name":"Operator"}`),
		},
	}
	settings := migrationSettings()
	settings.MultiWorkspaceMode = true
	settings.Source.Workspaces = []string{"acme", "partners"}

	checker := verify.NewChecker(reader, zap.NewNop())
	report := checker.Check(context.Background(), settings)

	require.True(testInstance, report.Passed())
	require.Equal(testInstance, "acme", report.Source.CheckedWorkspace)
	require.Contains(testInstance, reader.requestedPaths, "repositories/acme")
	require.NotContains(testInstance, reader.requestedPaths, "repositories/partners")
	require.Empty(testInstance, report.Destination.CheckedWorkspace)
}
