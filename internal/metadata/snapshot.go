package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	metadataFileNameConstant             = "metadata.json"
	metadataDirectoryPermissionsConstant = 0o755
	metadataFilePermissionsConstant      = 0o644
	snapshotWriteErrorTemplateConstant   = "unable to persist metadata snapshot for %s: %w"
)

// IssueRecord pairs an issue with its comment thread.
type IssueRecord struct {
	forge.IssuePayload
	Comments []forge.CommentPayload `json:"comments,omitempty"`
}

// PullRequestRecord pairs a pull request with its comment thread.
type PullRequestRecord struct {
	forge.PullRequestPayload
	Comments []forge.CommentPayload `json:"comments,omitempty"`
}

// Snapshot is the typed collaboration snapshot of one repository at one
// backup timestamp.
type Snapshot struct {
	RepositoryInfo     forge.RepositoryPayload         `json:"repository_info"`
	BackupTimestamp    string                          `json:"backup_timestamp"`
	PullRequests       []PullRequestRecord             `json:"pull_requests"`
	Issues             []IssueRecord                   `json:"issues"`
	Branches           []forge.RefPayload              `json:"branches"`
	Tags               []forge.RefPayload              `json:"tags"`
	WikiPages          []forge.WikiPagePayload         `json:"wiki_pages"`
	Webhooks           []forge.WebhookPayload          `json:"webhooks"`
	DeployKeys         []forge.DeployKeyPayload        `json:"deploy_keys"`
	BranchRestrictions []forge.BranchRestrictionPayload `json:"branch_restrictions"`
	Permissions        []forge.PermissionPayload       `json:"permissions"`
	PartialFailures    []string                        `json:"partial_failures,omitempty"`
}

// ItemCount totals every collected collaboration item. The count feeds the
// archive filename and the run report.
func (snapshot Snapshot) ItemCount() int {
	return len(snapshot.PullRequests) +
		len(snapshot.Issues) +
		len(snapshot.Branches) +
		len(snapshot.Tags) +
		len(snapshot.WikiPages) +
		len(snapshot.Webhooks) +
		len(snapshot.DeployKeys) +
		len(snapshot.BranchRestrictions) +
		len(snapshot.Permissions)
}

// Write persists the snapshot under
// {baseDirectory}/metadata/{repository}/{timestamp}/metadata.json and returns
// the file path.
func (snapshot Snapshot) Write(baseDirectory string, repositoryName string, timestamp string) (string, error) {
	snapshotDirectory := filepath.Join(baseDirectory, "metadata", repositoryName, timestamp)
	if directoryError := os.MkdirAll(snapshotDirectory, metadataDirectoryPermissionsConstant); directoryError != nil {
		return "", fmt.Errorf(snapshotWriteErrorTemplateConstant, repositoryName, directoryError)
	}

	encodedSnapshot, encodeError := json.MarshalIndent(snapshot, "", "  ")
	if encodeError != nil {
		return "", fmt.Errorf(snapshotWriteErrorTemplateConstant, repositoryName, encodeError)
	}

	snapshotPath := filepath.Join(snapshotDirectory, metadataFileNameConstant)
	if writeError := os.WriteFile(snapshotPath, encodedSnapshot, metadataFilePermissionsConstant); writeError != nil {
		return "", fmt.Errorf(snapshotWriteErrorTemplateConstant, repositoryName, writeError)
	}
	return snapshotPath, nil
}

// Load reads a previously persisted snapshot.
func Load(snapshotPath string) (Snapshot, error) {
	encodedSnapshot, readError := os.ReadFile(snapshotPath)
	if readError != nil {
		return Snapshot{}, readError
	}
	var snapshot Snapshot
	if decodeError := json.Unmarshal(encodedSnapshot, &snapshot); decodeError != nil {
		return Snapshot{}, decodeError
	}
	return snapshot, nil
}
