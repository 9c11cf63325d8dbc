package restore_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/metadata"
	"github.com/temirov/bbmigrate/internal/restore"
)

const (
	testDestinationWorkspaceConstant  = "backup-workspace"
	testDestinationRepositoryConstant = "app"
)

type recordedWrite struct {
	resourcePath string
	body         any
}

type stubForgeWriter struct {
	createResponses map[string]json.RawMessage
	failingPaths    map[string]error
	failureBudget   map[string]int
	createdWrites   []recordedWrite
	putWrites       []recordedWrite
}

func newStubForgeWriter() *stubForgeWriter {
	return &stubForgeWriter{
		createResponses: map[string]json.RawMessage{},
		failingPaths:    map[string]error{},
		failureBudget:   map[string]int{},
	}
}

func (writer *stubForgeWriter) Create(_ context.Context, _ forge.Credentials, resourcePath string, body any) (json.RawMessage, error) {
	writer.createdWrites = append(writer.createdWrites, recordedWrite{resourcePath: resourcePath, body: body})
	if failure, failureConfigured := writer.failingPaths[resourcePath]; failureConfigured {
		if budget, budgetConfigured := writer.failureBudget[resourcePath]; budgetConfigured {
			if budget <= 0 {
				return writer.createResponses[resourcePath], nil
			}
			writer.failureBudget[resourcePath] = budget - 1
		}
		return nil, failure
	}
	return writer.createResponses[resourcePath], nil
}

func (writer *stubForgeWriter) Put(_ context.Context, _ forge.Credentials, resourcePath string, body any) (json.RawMessage, error) {
	writer.putWrites = append(writer.putWrites, recordedWrite{resourcePath: resourcePath, body: body})
	if failure, failureConfigured := writer.failingPaths[resourcePath]; failureConfigured {
		return nil, failure
	}
	return json.RawMessage(`{}`), nil
}

func requestBodyText(testInstance *testing.T, body any) string {
	encodedBody, encodeError := json.Marshal(body)
	require.NoError(testInstance, encodeError)
	return string(encodedBody)
}

func TestParseUserMappingAndResolve(testInstance *testing.T) {
	mapping, parseError := restore.ParseUserMapping(`{"john.doe": "j.doe", "old.user": "new.user"}`)
	require.NoError(testInstance, parseError)

	testCases := []struct {
		name             string
		sourceUsername   string
		expectedUsername string
		expectedOutcome  restore.MappingOutcome
	}{
		{name: "mapped_user", sourceUsername: "john.doe", expectedUsername: "j.doe", expectedOutcome: restore.MappingOutcomeMapped},
		{name: "unmapped_user", sourceUsername: "unknown.user", expectedOutcome: restore.MappingOutcomeUnmapped},
		{name: "empty_input", sourceUsername: "  ", expectedOutcome: restore.MappingOutcomeEmptyInput},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			destinationUsername, mappingOutcome := mapping.Resolve(testCase.sourceUsername)
			require.Equal(testInstance, testCase.expectedOutcome, mappingOutcome)
			require.Equal(testInstance, testCase.expectedUsername, destinationUsername)
		})
	}
}

func TestParseUserMappingRejectsMalformedJSON(testInstance *testing.T) {
	_, parseError := restore.ParseUserMapping(`{"john.doe": `)
	require.Error(testInstance, parseError)
}

func TestProvenanceHeaderContents(testInstance *testing.T) {
	author := forge.UserPayload{Username: "john.doe", DisplayName: "John Doe"}
	migrationTime := time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)

	header := restore.ProvenanceHeader("Issue", author, "2024-01-15T10:30:00+00:00", migrationTime)

	require.Contains(testInstance, header, "MIGRATED CONTENT")
	require.Contains(testInstance, header, "John Doe (@john.doe)")
	require.Contains(testInstance, header, "2024-01-15T10:30:00+00:00")
	require.Contains(testInstance, header, "2024-02-01 12:00:00")
	require.Contains(testInstance, header, "**Type:** Issue")
}

func TestProvenanceHeaderUnknownAuthor(testInstance *testing.T) {
	header := restore.ProvenanceHeader("Issue", forge.UserPayload{}, "2024-01-15", time.Now())

	require.Contains(testInstance, header, "Unknown (@unknown)")
}

func issueSnapshot() metadata.Snapshot {
	return metadata.Snapshot{
		Issues: []metadata.IssueRecord{
			{
				IssuePayload: forge.IssuePayload{
					ID:        1,
					Title:     "Sample Bug Report",
					Content:   forge.RenderedContentPayload{Raw: "Original description."},
					Kind:      "bug",
					Priority:  "major",
					Reporter:  forge.UserPayload{Username: "john.doe", DisplayName: "John Doe"},
					CreatedOn: "2024-01-15T10:30:00+00:00",
				},
				Comments: []forge.CommentPayload{
					{
						Content:   forge.RenderedContentPayload{Raw: "Reproduced here."},
						User:      forge.UserPayload{Username: "test.user", DisplayName: "Test User"},
						CreatedOn: "2024-01-15T14:20:00+00:00",
					},
				},
			},
		},
	}
}

func TestRestoreIssuesWithCommentsAndProvenance(testInstance *testing.T) {
	writer := newStubForgeWriter()
	writer.createResponses["repositories/backup-workspace/app/issues"] = json.RawMessage(`{"id":7}`)

	restorer := restore.NewRestorer(writer, forge.Credentials{}, nil, restore.Options{Issues: true}, zap.NewNop())
	outcome := restorer.Restore(context.Background(), testDestinationWorkspaceConstant, testDestinationRepositoryConstant, issueSnapshot())

	require.Equal(testInstance, 1, outcome.IssuesRestored)
	require.Equal(testInstance, 1, outcome.CommentsRestored)
	require.Empty(testInstance, outcome.Failures)

	require.Len(testInstance, writer.createdWrites, 2)
	issueBody := requestBodyText(testInstance, writer.createdWrites[0].body)
	require.Contains(testInstance, issueBody, "MIGRATED CONTENT")
	require.Contains(testInstance, issueBody, "Original description.")
	require.Equal(testInstance, "repositories/backup-workspace/app/issues/7/comments", writer.createdWrites[1].resourcePath)
}

func TestRestoreIsolatesItemFailures(testInstance *testing.T) {
	snapshot := issueSnapshot()
	snapshot.Issues = append(snapshot.Issues, snapshot.Issues[0])
	snapshot.Issues[1].Title = "Second Issue"
	snapshot.Issues[1].Comments = nil

	writer := newStubForgeWriter()
	writer.createResponses["repositories/backup-workspace/app/issues"] = json.RawMessage(`{"id":8}`)
	writer.failingPaths["repositories/backup-workspace/app/issues"] = errors.New("rate limited")
	writer.failureBudget["repositories/backup-workspace/app/issues"] = 1

	restorer := restore.NewRestorer(writer, forge.Credentials{}, nil, restore.Options{Issues: true}, zap.NewNop())
	outcome := restorer.Restore(context.Background(), testDestinationWorkspaceConstant, testDestinationRepositoryConstant, snapshot)

	require.Equal(testInstance, 1, outcome.IssuesRestored)
	require.Len(testInstance, outcome.Failures, 1)
}

func TestRestorePermissionsRequiresExplicitMapping(testInstance *testing.T) {
	writer := newStubForgeWriter()
	mapping := restore.UserMapping{"john.doe": "j.doe"}
	snapshot := metadata.Snapshot{
		Permissions: []forge.PermissionPayload{
			{Permission: "admin", User: forge.UserPayload{Username: "john.doe"}},
			{Permission: "write", User: forge.UserPayload{Username: "unknown.user"}},
		},
	}

	restorer := restore.NewRestorer(writer, forge.Credentials{}, mapping, restore.Options{Permissions: true}, zap.NewNop())
	outcome := restorer.Restore(context.Background(), testDestinationWorkspaceConstant, testDestinationRepositoryConstant, snapshot)

	require.Equal(testInstance, 1, outcome.PermissionsRestored)
	require.Equal(testInstance, []string{"unknown.user"}, outcome.PermissionsSkipped)
	require.Len(testInstance, writer.putWrites, 1)
	require.Equal(testInstance, "repositories/backup-workspace/app/permissions-config/users/j.doe", writer.putWrites[0].resourcePath)
}

func TestRestoreDeployKeysProducesManualActionsOnly(testInstance *testing.T) {
	writer := newStubForgeWriter()
	snapshot := metadata.Snapshot{
		DeployKeys: []forge.DeployKeyPayload{
			{Label: "ci-deploy", Key: "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABgQDexamplekeymaterial build@ci"},
		},
	}

	restorer := restore.NewRestorer(writer, forge.Credentials{}, nil, restore.Options{DeployKeys: true}, zap.NewNop())
	outcome := restorer.Restore(context.Background(), testDestinationWorkspaceConstant, testDestinationRepositoryConstant, snapshot)

	require.Equal(testInstance, []string{"Manual Actions: Deploy Keys"}, outcome.DocumentsAttached)
	for _, write := range writer.createdWrites {
		require.NotContains(testInstance, write.resourcePath, "deploy-keys")
		require.NotContains(testInstance, requestBodyText(testInstance, write.body), "AAAAB3NzaC1yc2EAAAADAQABAAABgQDexamplekeymaterial")
	}

	documentBody := requestBodyText(testInstance, writer.createdWrites[0].body)
	require.Contains(testInstance, documentBody, restore.TruncatedFingerprint(snapshot.DeployKeys[0].Key))
}

func TestTruncatedFingerprint(testInstance *testing.T) {
	fingerprint := restore.TruncatedFingerprint("ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABgQDexample build@ci")

	require.True(testInstance, strings.HasSuffix(fingerprint, "..."))
	require.Len(testInstance, fingerprint, 19)
	require.Equal(testInstance, "short", restore.TruncatedFingerprint("short"))
}

func TestPullRequestDocumentFallsBackToIssue(testInstance *testing.T) {
	writer := newStubForgeWriter()
	writer.failingPaths["repositories/backup-workspace/app/wiki/pages"] = errors.New("wiki disabled")
	snapshot := metadata.Snapshot{
		PullRequests: []metadata.PullRequestRecord{
			{
				PullRequestPayload: forge.PullRequestPayload{
					ID:        42,
					Title:     "Fix login validation",
					State:     "MERGED",
					Author:    forge.UserPayload{Username: "john.doe", DisplayName: "John Doe"},
					CreatedOn: "2024-01-16T09:00:00+00:00",
				},
			},
		},
	}

	restorer := restore.NewRestorer(writer, forge.Credentials{}, nil, restore.Options{PullRequests: true}, zap.NewNop())
	outcome := restorer.Restore(context.Background(), testDestinationWorkspaceConstant, testDestinationRepositoryConstant, snapshot)

	require.Equal(testInstance, []string{"Migrated Pull Request History"}, outcome.DocumentsAttached)
	require.Len(testInstance, writer.createdWrites, 2)
	require.Equal(testInstance, "repositories/backup-workspace/app/issues", writer.createdWrites[1].resourcePath)

	issueBody := requestBodyText(testInstance, writer.createdWrites[1].body)
	require.Contains(testInstance, issueBody, "Fix login validation")
	require.Contains(testInstance, issueBody, "MIGRATED CONTENT")
}
